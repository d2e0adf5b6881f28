package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/relay"
)

// AccountsHandler serves the follower-account endpoints.
type AccountsHandler struct {
	accounts *relay.Accounts
	commands *relay.Commands
	logger   *slog.Logger
}

// NewAccountsHandler creates an AccountsHandler.
func NewAccountsHandler(accounts *relay.Accounts, commands *relay.Commands, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{
		accounts: accounts,
		commands: commands,
		logger:   logger.With(slog.String("handler", "accounts")),
	}
}

// accountView is the API shape of one account record. Secrets stay out.
type accountView struct {
	ID            int        `json:"id"`
	Name          string     `json:"name,omitempty"`
	Role          string     `json:"role"`
	Enabled       bool       `json:"enabled"`
	HasCreds      bool       `json:"has_creds"`
	Coef          float64    `json:"coef,omitempty"`
	Leverage      int        `json:"leverage,omitempty"`
	MarginMode    int        `json:"margin_mode,omitempty"`
	MaxMargin     float64    `json:"max_margin,omitempty"`
	RandomSizePct [2]float64 `json:"random_size_pct,omitempty"`
	DelayMs       [2]float64 `json:"delay_ms,omitempty"`
}

func viewOf(cfg domain.FollowerConfig) accountView {
	return accountView{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Role:          cfg.Role,
		Enabled:       cfg.Enabled,
		HasCreds:      cfg.Exchange.HasCreds(),
		Coef:          cfg.Coef,
		Leverage:      cfg.Leverage,
		MarginMode:    cfg.MarginMode,
		MaxMargin:     cfg.MaxMargin,
		RandomSizePct: cfg.RandomSizePct,
		DelayMs:       cfg.DelayMs,
	}
}

// List returns every account record.
// GET /api/accounts
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshot := h.accounts.Snapshot()
	views := make([]accountView, 0, len(snapshot))
	if master, ok := snapshot[0]; ok {
		views = append(views, viewOf(master))
	}
	for _, cid := range h.accounts.FollowerIDs() {
		views = append(views, viewOf(snapshot[cid]))
	}
	writeJSON(w, http.StatusOK, views)
}

// Activate enables one follower and brings its runtime up.
// POST /api/accounts/{id}/activate
func (h *AccountsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	cid, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := h.commands.Activate(r.Context(), cid); err != nil {
		h.logger.WarnContext(r.Context(), "activate failed",
			slog.Int("cid", cid), slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": cid, "enabled": true})
}

// Deactivate disables one follower and tears its runtime down.
// POST /api/accounts/{id}/deactivate
func (h *AccountsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	cid, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := h.commands.Deactivate(r.Context(), cid); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": cid, "enabled": false})
}

// UpdateConfig patches one follower's sizing overrides.
// PUT /api/accounts/{id}/config
func (h *AccountsHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	cid, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var patch relay.FollowerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.commands.UpdateFollower(r.Context(), cid, patch); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	cfg, _ := h.accounts.Get(cid)
	writeJSON(w, http.StatusOK, viewOf(cfg))
}

// UpdateCredentials replaces one account's exchange credentials.
// PUT /api/accounts/{id}/credentials
func (h *AccountsHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	cid, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var creds domain.ExchangeCreds
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.commands.SetCredentials(r.Context(), cid, creds); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": cid, "has_creds": true})
}

// statusFor maps command errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoCredentials),
		errors.Is(err, domain.ErrMasterClose),
		errors.Is(err, domain.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
