package relay

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

// minValidEntryTS rejects entry stamps that cannot be unix milliseconds.
const minValidEntryTS = int64(1e10)

// Reporter assembles realized-PnL reports for follower positions that just
// closed. One batched history fetch covers the whole burst; slots the batch
// misses fall back to a per-position fetch.
type Reporter struct {
	registry *Registry
	accounts *Accounts
	logger   *slog.Logger
}

// NewReporter builds a reporter over the follower registry.
func NewReporter(registry *Registry, accounts *Accounts, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		registry: registry,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "pnl")),
	}
}

type pendingClose struct {
	cid      int
	symbol   string
	side     domain.PosSide
	entryTS  int64
	follower *Follower
}

// CollectClosed gathers reports for every CLOSED_PENDING slot of the given
// followers. Slots are unparked as they are picked up so a report is built
// exactly once per close.
func (r *Reporter) CollectClosed(ctx context.Context, ids []int) []domain.PnLReport {
	items := r.takePending(ids)
	if len(items) == 0 {
		return nil
	}

	start := int64(0)
	for _, it := range items {
		if it.entryTS >= minValidEntryTS && (start == 0 || it.entryTS < start) {
			start = it.entryTS
		}
	}
	end := domain.NowMillis()

	var batch map[mexc.PnLKey]mexc.PnLAgg
	if start > 0 {
		var err error
		batch, err = items[0].follower.Client.RealizedPnLBatch(ctx, start, end)
		if err != nil {
			r.logger.WarnContext(ctx, "batch pnl fetch failed", slog.String("error", err.Error()))
		}
	} else {
		r.logger.WarnContext(ctx, "no valid entry timestamps for batch pnl")
	}

	reports := make([]domain.PnLReport, 0, len(items))
	for _, it := range items {
		direction := 1
		if it.side == domain.PosSideShort {
			direction = 2
		}

		if agg, ok := batch[mexc.PnLKey{Symbol: it.symbol, Direction: direction}]; ok {
			usdt, pct := agg.PnlUSDT, agg.PnlPct
			reports = append(reports, domain.PnLReport{
				ID:      uuid.NewString(),
				CID:     it.cid,
				Symbol:  it.symbol,
				PosSide: it.side,
				PnlUSDT: &usdt,
				PnlPct:  &pct,
				EntryTS: it.entryTS,
				ExitTS:  end,
			})
			r.clearEntry(it)
			continue
		}

		if rep := r.fallback(ctx, it, end, direction); rep != nil {
			reports = append(reports, *rep)
			r.clearEntry(it)
		}
	}
	return reports
}

// takePending collects and unparks every CLOSED_PENDING slot of the given
// followers.
func (r *Reporter) takePending(ids []int) []pendingClose {
	var items []pendingClose
	for _, cid := range ids {
		if cid == 0 {
			continue
		}
		cfg, ok := r.accounts.Get(cid)
		if !ok || !cfg.Enabled {
			continue
		}
		f := r.registry.Ready(cid)
		if f == nil {
			continue
		}

		f.Table.MutateAll(func(symbol string, side domain.PosSide, st *domain.PositionState) {
			if st.Pending != domain.PendingClosed {
				return
			}
			st.Pending = ""
			items = append(items, pendingClose{
				cid:      cid,
				symbol:   symbol,
				side:     side,
				entryTS:  st.EntryTS,
				follower: f,
			})
		})
	}
	return items
}

// fallback fetches one position's realized PnL directly.
func (r *Reporter) fallback(ctx context.Context, it pendingClose, end int64, direction int) *domain.PnLReport {
	if it.entryTS < minValidEntryTS {
		r.logger.Warn("invalid entry timestamp",
			slog.Int64("entry_ts", it.entryTS),
			slog.String("symbol", it.symbol),
			slog.String("side", string(it.side)))
		return nil
	}

	agg, err := it.follower.Client.RealizedPnL(ctx, it.symbol, it.entryTS, end, direction)
	if err != nil || agg == nil {
		return &domain.PnLReport{
			ID:      uuid.NewString(),
			CID:     it.cid,
			Symbol:  it.symbol,
			PosSide: it.side,
			EntryTS: it.entryTS,
			ExitTS:  end,
			Err:     "PNL_FETCH_FAILED",
		}
	}

	usdt, pct := agg.PnlUSDT, agg.PnlPct
	return &domain.PnLReport{
		ID:      uuid.NewString(),
		CID:     it.cid,
		Symbol:  it.symbol,
		PosSide: it.side,
		PnlUSDT: &usdt,
		PnlPct:  &pct,
		EntryTS: it.entryTS,
		ExitTS:  end,
	}
}

func (r *Reporter) clearEntry(it pendingClose) {
	it.follower.Table.Mutate(it.symbol, it.side, func(st *domain.PositionState) {
		st.EntryTS = 0
	})
}
