package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

func trackedTable(symbol string, side domain.PosSide) *PositionTable {
	table := NewPositionTable()
	// The executor creates the slot when it first touches the pair; the
	// monitor only reconciles slots that already exist.
	table.Mutate(symbol, side, func(st *domain.PositionState) {})
	return table
}

func TestMonitorRefreshStampsNewEntry(t *testing.T) {
	table := trackedTable("BTC_USDT", domain.PosSideLong)
	m := NewPositionMonitor(table, func(ctx context.Context) ([]mexc.PositionEntry, error) {
		return []mexc.PositionEntry{{
			Symbol:       "BTC_USDT",
			PositionType: 1,
			State:        1,
			HoldVol:      3,
			OpenAvgPrice: 50000,
			HoldAvgPrice: 50010,
			Leverage:     10,
			OpenType:     2,
		}}, nil
	}, "USDT")

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	st, _ := table.Get("BTC_USDT", domain.PosSideLong)
	if !st.InPosition || st.Qty != 3 {
		t.Fatalf("slot not opened: %+v", st)
	}
	if st.EntryPrice != 50000 || st.AvgPrice != 50010 {
		t.Fatalf("prices wrong: %+v", st)
	}
	if st.EntryTS == 0 {
		t.Fatal("new entry must stamp EntryTS")
	}
}

func TestMonitorRefreshKeepsEntryOnOngoing(t *testing.T) {
	table := trackedTable("BTC_USDT", domain.PosSideLong)
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 3
		st.EntryPrice = 50000
		st.EntryTS = 1700000000000
	})

	m := NewPositionMonitor(table, func(ctx context.Context) ([]mexc.PositionEntry, error) {
		return []mexc.PositionEntry{{
			Symbol:       "BTC_USDT",
			PositionType: 1,
			State:        1,
			HoldVol:      5,
			OpenAvgPrice: 50100, // exchange moves the open average on add
			HoldAvgPrice: 50200,
			Leverage:     10,
			OpenType:     1,
		}}, nil
	}, "USDT")

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	st, _ := table.Get("BTC_USDT", domain.PosSideLong)
	if st.Qty != 5 || st.AvgPrice != 50200 {
		t.Fatalf("ongoing position not updated: %+v", st)
	}
	if st.EntryPrice != 50000 {
		t.Fatalf("entry price must stay fixed, got %v", st.EntryPrice)
	}
	if st.EntryTS != 1700000000000 {
		t.Fatalf("entry ts must stay fixed, got %d", st.EntryTS)
	}
}

func TestMonitorRefreshParksDisappearedPosition(t *testing.T) {
	table := trackedTable("BTC_USDT", domain.PosSideLong)
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 3
		st.EntryTS = 1700000000000
	})

	m := NewPositionMonitor(table, func(ctx context.Context) ([]mexc.PositionEntry, error) {
		return nil, nil
	}, "USDT")

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	st, _ := table.Get("BTC_USDT", domain.PosSideLong)
	if st.InPosition || st.Qty != 0 {
		t.Fatalf("slot not reset: %+v", st)
	}
	if st.Pending != domain.PendingClosed {
		t.Fatalf("slot not parked for reporting: %+v", st)
	}
	if st.EntryTS != 1700000000000 {
		t.Fatalf("entry ts must survive the reset, got %d", st.EntryTS)
	}
}

func TestMonitorRefreshFailsOpen(t *testing.T) {
	table := trackedTable("BTC_USDT", domain.PosSideLong)
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 3
	})

	m := NewPositionMonitor(table, func(ctx context.Context) ([]mexc.PositionEntry, error) {
		return nil, errors.New("exchange unreachable")
	}, "USDT")

	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}

	st, _ := table.Get("BTC_USDT", domain.PosSideLong)
	if !st.InPosition || st.Qty != 3 {
		t.Fatalf("fetch failure must leave the book untouched: %+v", st)
	}
}

func TestMonitorRefreshIgnoresUntrackedSymbols(t *testing.T) {
	table := trackedTable("BTC_USDT", domain.PosSideLong)

	m := NewPositionMonitor(table, func(ctx context.Context) ([]mexc.PositionEntry, error) {
		return []mexc.PositionEntry{{
			Symbol:       "DOGE_USDT",
			PositionType: 2,
			State:        1,
			HoldVol:      100,
		}}, nil
	}, "USDT")

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := table.Get("DOGE_USDT", domain.PosSideShort); ok {
		t.Fatal("monitor must not start tracking untouched pairs")
	}
}

func TestMonitorNormalizeFilters(t *testing.T) {
	m := NewPositionMonitor(NewPositionTable(), nil, "USDT")

	if _, ok := m.normalize(mexc.PositionEntry{Symbol: "BTC_USDT", PositionType: 1, State: 3, HoldVol: 1}); ok {
		t.Fatal("closed rows must be dropped")
	}
	if _, ok := m.normalize(mexc.PositionEntry{Symbol: "BTC_USDT", PositionType: 1, State: 1, HoldVol: 0}); ok {
		t.Fatal("empty rows must be dropped")
	}

	snap, ok := m.normalize(mexc.PositionEntry{Symbol: "btcusdt", PositionType: 2, State: 1, HoldVol: -4})
	if !ok {
		t.Fatal("valid row dropped")
	}
	if snap.Symbol != "BTC_USDT" || snap.PosSide != domain.PosSideShort {
		t.Fatalf("row not normalized: %+v", snap)
	}
	if snap.Qty != 4 {
		t.Fatalf("qty must be absolute, got %v", snap.Qty)
	}
	if snap.Leverage != 1 || snap.MarginMode != 1 {
		t.Fatalf("missing leverage/mode must default to 1: %+v", snap)
	}
}
