package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/relay"
)

// ControlHandler serves the relay control endpoints: status, start, pause,
// stop and manual close.
type ControlHandler struct {
	commands *relay.Commands
	logger   *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(commands *relay.Commands, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		commands: commands,
		logger:   logger.With(slog.String("handler", "control")),
	}
}

// Status reports the master switches and every account's runtime state.
// GET /api/status
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.commands.Status())
}

// Start arms the relay.
// POST /api/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.commands.Start(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trading_enabled": true})
}

// Pause suspends execution without tearing the stream down.
// POST /api/pause
func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.commands.Pause(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trading_enabled": false})
}

// Stop requests a full teardown. The first call returns 202 with a pending
// flag; repeating it within the confirmation window executes the stop.
// POST /api/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	err := h.commands.Stop(r.Context())
	if errors.Is(err, domain.ErrStopPending) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"stopped": false,
			"pending": true,
			"message": "repeat the request to confirm the stop",
		})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

// Close market-closes every open position of the given followers.
// POST /api/close
func (h *ControlHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.commands.ManualClose(r.Context(), req.IDs); err != nil {
		h.logger.WarnContext(r.Context(), "manual close rejected",
			slog.Any("ids", req.IDs), slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}
