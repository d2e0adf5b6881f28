package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// Notifier delivers operator-facing text blocks. Plain text only, one call
// per block.
type Notifier interface {
	SendBlock(ctx context.Context, lines []string) error
}

// uiEntry is one pending operator log line: either free text or a master
// event to be formatted at flush time.
type uiEntry struct {
	cid   int
	text  string
	event *domain.MasterEvent
}

// UILog accumulates operator-facing log lines and realized-PnL reports and
// flushes them to the notifier at most once per TTL. Appends never block the
// copy path.
type UILog struct {
	notifier Notifier
	ttl      time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	entries   []uiEntry
	reports   []domain.PnLReport
	lastFlush int64
}

// NewUILog builds a log flushing to notifier every ttl at most.
func NewUILog(notifier Notifier, ttl time.Duration, logger *slog.Logger) *UILog {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UILog{
		notifier: notifier,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "uilog")),
	}
}

// Append records one free-text line for an account.
func (u *UILog) Append(cid int, text string) {
	u.mu.Lock()
	u.entries = append(u.entries, uiEntry{cid: cid, text: text})
	u.mu.Unlock()
}

// AppendEvent records a master event for UI display.
func (u *UILog) AppendEvent(cid int, ev domain.MasterEvent) {
	u.mu.Lock()
	u.entries = append(u.entries, uiEntry{cid: cid, event: &ev})
	u.mu.Unlock()
}

// AppendReports queues realized-PnL reports for the next flush.
func (u *UILog) AppendReports(reports []domain.PnLReport) {
	if len(reports) == 0 {
		return
	}
	u.mu.Lock()
	u.reports = append(u.reports, reports...)
	u.mu.Unlock()
}

// MaybeFlush sends the pending blocks when the TTL allows it. Failures are
// logged and the batch is dropped; the UI log is best-effort.
func (u *UILog) MaybeFlush(ctx context.Context) {
	u.mu.Lock()
	if len(u.entries) == 0 && len(u.reports) == 0 {
		u.mu.Unlock()
		return
	}
	now := domain.NowMillis()
	if u.lastFlush != 0 && now-u.lastFlush < u.ttl.Milliseconds() {
		u.mu.Unlock()
		return
	}
	u.lastFlush = now
	entries := u.entries
	reports := u.reports
	u.entries = nil
	u.reports = nil
	u.mu.Unlock()

	if u.notifier == nil {
		return
	}

	if texts := formatEntries(entries); len(texts) > 0 {
		if err := u.notifier.SendBlock(ctx, texts); err != nil {
			u.logger.WarnContext(ctx, "ui log flush failed", slog.String("error", err.Error()))
		}
	}
	if len(reports) > 0 {
		texts := formatReports(reports)
		texts = append(texts, formatSummary(reports))
		if err := u.notifier.SendBlock(ctx, texts); err != nil {
			u.logger.WarnContext(ctx, "pnl report flush failed", slog.String("error", err.Error()))
		}
	}
}

// --------------------------------------------------------------------------
// Formatting (plain text, no markup)
// --------------------------------------------------------------------------

func formatEntries(entries []uiEntry) []string {
	texts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.event != nil {
			texts = append(texts, formatEvent(e.cid, *e.event))
			continue
		}
		texts = append(texts, accountHeader(e.cid)+"\n"+e.text)
	}
	return texts
}

func accountHeader(cid int) string {
	if cid == 0 {
		return "🧾 MASTER"
	}
	return fmt.Sprintf("🧾 COPY #%d", cid)
}

func formatEvent(cid int, ev domain.MasterEvent) string {
	lines := []string{
		accountHeader(cid),
		fmt.Sprintf("%s %s", ev.Symbol, ev.PosSide),
		fmt.Sprintf("event: %s", strings.ToUpper(string(ev.Event))),
		fmt.Sprintf("method: %s", ev.Method),
		fmt.Sprintf("type: %s", ev.SigType),
	}
	if ev.Closed {
		lines = append(lines, "position CLOSED")
	}
	if ev.Payload.Price != 0 {
		lines = append(lines, "price: "+humanFloat(ev.Payload.Price))
	}
	if ev.Payload.TakeProfit != nil {
		lines = append(lines, "tp_price: "+humanFloat(*ev.Payload.TakeProfit))
	}
	if ev.Payload.StopLoss != nil {
		lines = append(lines, "sl_price: "+humanFloat(*ev.Payload.StopLoss))
	}
	return strings.Join(lines, "\n")
}

func formatReports(reports []domain.PnLReport) []string {
	texts := make([]string, 0, len(reports))
	for i, r := range reports {
		pnlText := "PNL: N/A"
		if r.PnlUSDT != nil {
			sign := ""
			if *r.PnlUSDT > 0 {
				sign = "+"
			}
			pnlText = fmt.Sprintf("PNL: %s%s $", sign, humanFloat(*r.PnlUSDT))
		}

		duration := "N/A"
		closedAt := "N/A"
		if r.EntryTS > 0 && r.ExitTS > 0 {
			d := r.ExitTS - r.EntryTS
			if d < 0 {
				d = 0
			}
			duration = formatDuration(d)
			closedAt = time.UnixMilli(r.ExitTS).Format("2006-01-02 15:04:05")
		}

		block := fmt.Sprintf(
			"🆔 Copy ID: %d\n📌 %s %s\n💰 %s\n⏱ Duration: %s\n🔒 Closed at: %s",
			r.CID, r.Symbol, r.PosSide, pnlText, duration, closedAt,
		)
		if i < len(reports)-1 {
			block += "\n" + strings.Repeat("—", 16)
		}
		texts = append(texts, block)
	}
	return texts
}

func formatSummary(reports []domain.PnLReport) string {
	var total float64
	count := 0
	for _, r := range reports {
		if r.PnlUSDT == nil {
			continue
		}
		total += *r.PnlUSDT
		count++
	}
	sign := ""
	if total > 0 {
		sign = "+"
	}
	return fmt.Sprintf("📊 GENERAL SUMMARY\n\nClosed positions: %d\nPNL: %s%s $",
		count, sign, humanFloat(total))
}

// formatDuration renders a millisecond span as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(ms int64) string {
	total := ms / 1000
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0 && seconds > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// humanFloat renders a float without trailing zeros or exponent notation.
func humanFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}
