package relay

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// PositionKey addresses one slot of a position table.
type PositionKey struct {
	Symbol string
	Side   domain.PosSide
}

// PositionTable is the per-account position book, one slot per
// (symbol, side). The master's table drives translation; follower tables
// drive close sizing and PnL reporting. All access goes through the table's
// lock so the monitor and the executor can share it.
type PositionTable struct {
	mu    sync.RWMutex
	slots map[string]map[domain.PosSide]*domain.PositionState
}

// NewPositionTable builds an empty table.
func NewPositionTable() *PositionTable {
	return &PositionTable{
		slots: make(map[string]map[domain.PosSide]*domain.PositionState),
	}
}

// Mutate runs fn on the slot, creating it when absent.
func (t *PositionTable) Mutate(symbol string, side domain.PosSide, fn func(*domain.PositionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.slotLocked(symbol, side))
}

// Get returns a copy of the slot.
func (t *PositionTable) Get(symbol string, side domain.PosSide) (domain.PositionState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bySide, ok := t.slots[symbol]
	if !ok {
		return domain.PositionState{}, false
	}
	st, ok := bySide[side]
	if !ok {
		return domain.PositionState{}, false
	}
	return *st, true
}

// Open returns the keys of every slot currently in position.
func (t *PositionTable) Open() []PositionKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []PositionKey
	for symbol, bySide := range t.slots {
		for side, st := range bySide {
			if st.InPosition {
				out = append(out, PositionKey{Symbol: symbol, Side: side})
			}
		}
	}
	return out
}

// MutateAll runs fn on every existing slot under the table lock. Slots are
// never created here.
func (t *PositionTable) MutateAll(fn func(symbol string, side domain.PosSide, st *domain.PositionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for symbol, bySide := range t.slots {
		for side, st := range bySide {
			fn(symbol, side, st)
		}
	}
}

// Each visits a copy of every slot.
func (t *PositionTable) Each(fn func(symbol string, side domain.PosSide, st domain.PositionState)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for symbol, bySide := range t.slots {
		for side, st := range bySide {
			fn(symbol, side, *st)
		}
	}
}

// Hash folds every open slot into one order-independent digest. Two tables
// hash equal when they hold the same (symbol, side, qty) triples, which is
// what position refresh uses to detect convergence.
func (t *PositionTable) Hash() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var acc uint64
	for symbol, bySide := range t.slots {
		for side, st := range bySide {
			if !st.InPosition || st.Qty <= 0 {
				continue
			}
			h := fnv.New64a()
			h.Write([]byte(symbol))
			h.Write([]byte{0})
			h.Write([]byte(side))
			h.Write([]byte{0})
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(st.Qty))
			h.Write(buf[:])
			acc ^= h.Sum64()
		}
	}
	return acc
}

func (t *PositionTable) slotLocked(symbol string, side domain.PosSide) *domain.PositionState {
	bySide, ok := t.slots[symbol]
	if !ok {
		bySide = make(map[domain.PosSide]*domain.PositionState)
		t.slots[symbol] = bySide
	}
	st, ok := bySide[side]
	if !ok {
		st = &domain.PositionState{}
		bySide[side] = st
	}
	return st
}
