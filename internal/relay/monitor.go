package relay

import (
	"context"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

// PositionFetcher fetches the open positions of one account. A nil slice
// with nil error means "no open positions"; an error means the exchange
// could not be reached and the local book must not be touched.
type PositionFetcher func(ctx context.Context) ([]mexc.PositionEntry, error)

// PositionMonitor reconciles one follower's position table against the
// exchange. Only slots the executor has already touched are tracked; a slot
// that disappears on the exchange is reset and parked for PnL reporting.
type PositionMonitor struct {
	table      *PositionTable
	fetch      PositionFetcher
	quoteAsset string
}

// NewPositionMonitor builds a monitor over an account's table.
func NewPositionMonitor(table *PositionTable, fetch PositionFetcher, quoteAsset string) *PositionMonitor {
	return &PositionMonitor{
		table:      table,
		fetch:      fetch,
		quoteAsset: quoteAsset,
	}
}

// Table exposes the monitored table.
func (m *PositionMonitor) Table() *PositionTable {
	return m.table
}

// Refresh synchronizes the table with the exchange. Fetch failures leave
// the book untouched (fail open).
func (m *PositionMonitor) Refresh(ctx context.Context) error {
	positions, err := m.fetch(ctx)
	if err != nil {
		return err
	}

	active := make(map[PositionKey]domain.Snapshot)
	for _, raw := range positions {
		snap, ok := m.normalize(raw)
		if !ok {
			continue
		}
		active[PositionKey{Symbol: snap.Symbol, Side: snap.PosSide}] = snap
	}

	now := domain.NowMillis()
	m.table.MutateAll(func(symbol string, side domain.PosSide, st *domain.PositionState) {
		info, found := active[PositionKey{Symbol: symbol, Side: side}]
		wasIn := st.InPosition

		if found && info.Qty > 0 {
			if !wasIn {
				// New entry: stamp the entry once.
				st.InPosition = true
				st.Qty = info.Qty
				st.EntryPrice = info.EntryPrice
				st.AvgPrice = info.AvgPrice
				st.Leverage = info.Leverage
				st.MarginMode = info.MarginMode
				st.EntryTS = now
				return
			}
			// Ongoing position: entry price stays fixed.
			st.Qty = info.Qty
			st.AvgPrice = info.AvgPrice
			st.Leverage = info.Leverage
			st.MarginMode = info.MarginMode
			return
		}

		if wasIn {
			// Position gone on the exchange: reset, keep the entry stamp and
			// park the slot for realized-PnL reporting.
			st.Reset()
			st.Pending = domain.PendingClosed
		}
	})
	return nil
}

// normalize converts one exchange position row into a snapshot. Rows that
// are not actively held, or hold nothing, are dropped.
func (m *PositionMonitor) normalize(p mexc.PositionEntry) (domain.Snapshot, bool) {
	if p.State != 1 {
		return domain.Snapshot{}, false
	}
	side, ok := mexc.SideFromPositionType(p.PositionType)
	if !ok {
		return domain.Snapshot{}, false
	}
	qty := p.HoldVol
	if qty < 0 {
		qty = -qty
	}
	if p.Symbol == "" || qty <= 0 {
		return domain.Snapshot{}, false
	}

	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	marginMode := p.OpenType
	if marginMode <= 0 {
		marginMode = 1
	}
	return domain.Snapshot{
		Symbol:     mexc.NormalizeSymbol(p.Symbol, m.quoteAsset),
		PosSide:    side,
		Qty:        qty,
		EntryPrice: p.OpenAvgPrice,
		AvgPrice:   p.HoldAvgPrice,
		Leverage:   leverage,
		MarginMode: marginMode,
	}, true
}
