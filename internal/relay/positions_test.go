package relay

import (
	"testing"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

func TestPositionTableMutateCreatesSlot(t *testing.T) {
	table := NewPositionTable()
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 3
	})

	st, ok := table.Get("BTC_USDT", domain.PosSideLong)
	if !ok || !st.InPosition || st.Qty != 3 {
		t.Fatalf("unexpected slot: %+v ok=%v", st, ok)
	}

	// Get returns a copy; writing through it must not leak back.
	st.Qty = 99
	again, _ := table.Get("BTC_USDT", domain.PosSideLong)
	if again.Qty != 3 {
		t.Fatalf("table mutated through a copy: %+v", again)
	}
}

func TestPositionTableMutateAllNeverCreates(t *testing.T) {
	table := NewPositionTable()
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
	})

	visited := 0
	table.MutateAll(func(symbol string, side domain.PosSide, st *domain.PositionState) {
		visited++
	})
	if visited != 1 {
		t.Fatalf("visited %d slots, want 1", visited)
	}

	if _, ok := table.Get("ETH_USDT", domain.PosSideShort); ok {
		t.Fatal("MutateAll must not create slots")
	}
}

func TestPositionTableOpenFiltersFlat(t *testing.T) {
	table := NewPositionTable()
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 1
	})
	table.Mutate("ETH_USDT", domain.PosSideShort, func(st *domain.PositionState) {
		st.InPosition = false
	})

	open := table.Open()
	if len(open) != 1 || open[0] != (PositionKey{Symbol: "BTC_USDT", Side: domain.PosSideLong}) {
		t.Fatalf("unexpected open slots: %v", open)
	}
}

func TestPositionTableHashOrderIndependent(t *testing.T) {
	a := NewPositionTable()
	a.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 2
	})
	a.Mutate("ETH_USDT", domain.PosSideShort, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 5
	})

	b := NewPositionTable()
	b.Mutate("ETH_USDT", domain.PosSideShort, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 5
	})
	b.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 2
	})

	if a.Hash() != b.Hash() {
		t.Fatal("hash must not depend on insertion order")
	}
}

func TestPositionTableHashTracksQty(t *testing.T) {
	table := NewPositionTable()
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 2
	})
	before := table.Hash()

	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.Qty = 3
	})
	if table.Hash() == before {
		t.Fatal("hash must change with the quantity")
	}
}

func TestPositionTableHashIgnoresFlatSlots(t *testing.T) {
	empty := NewPositionTable()

	table := NewPositionTable()
	table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = false
		st.Qty = 2
	})
	table.Mutate("ETH_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 0
	})

	if table.Hash() != empty.Hash() {
		t.Fatal("flat and empty slots must not contribute to the hash")
	}
}

func TestPositionStateResetKeepsEntryTS(t *testing.T) {
	st := domain.PositionState{
		InPosition: true,
		Qty:        4,
		EntryPrice: 100,
		EntryTS:    1700000000000,
		Leverage:   10,
	}
	st.Reset()
	if st.InPosition || st.Qty != 0 || st.Leverage != 0 {
		t.Fatalf("reset left state behind: %+v", st)
	}
	if st.EntryTS != 1700000000000 {
		t.Fatalf("entry ts lost on reset: %d", st.EntryTS)
	}
}
