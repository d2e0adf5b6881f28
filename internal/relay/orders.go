package relay

import (
	"sync"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// OrderRecord links a master order id to the follower order derived from it.
type OrderRecord struct {
	CopyOrderID  string
	Price        string
	TriggerPrice string
	Qty          float64
	Status       domain.CopyOrderStatus
}

// SideOrders tracks the open derived orders of one (symbol, side) slot. Its
// mutex also serializes execution for that slot, so a cancel can never race
// the placement it refers to.
type SideOrders struct {
	mu      sync.Mutex
	limit   map[string]*OrderRecord
	trigger map[string]*OrderRecord
}

// Lock serializes execution on this slot.
func (s *SideOrders) Lock() { s.mu.Lock() }

// Unlock releases the slot.
func (s *SideOrders) Unlock() { s.mu.Unlock() }

// RecordLimit stores a derived limit order under the master order id.
// Callers hold the slot lock.
func (s *SideOrders) RecordLimit(masterOID string, rec *OrderRecord) {
	s.limit[masterOID] = rec
}

// RecordTrigger stores a derived trigger order under the master order id.
func (s *SideOrders) RecordTrigger(masterOID string, rec *OrderRecord) {
	s.trigger[masterOID] = rec
}

// TakeLimit removes and returns the limit record of a master order id.
func (s *SideOrders) TakeLimit(masterOID string) *OrderRecord {
	rec := s.limit[masterOID]
	delete(s.limit, masterOID)
	return rec
}

// TakeTrigger removes and returns the trigger record of a master order id.
func (s *SideOrders) TakeTrigger(masterOID string) *OrderRecord {
	rec := s.trigger[masterOID]
	delete(s.trigger, masterOID)
	return rec
}

// OpenIDs returns the copy order ids of every recorded limit and trigger
// order. Callers hold the slot lock.
func (s *SideOrders) OpenIDs() (limitIDs, triggerIDs []string) {
	for _, rec := range s.limit {
		if rec.CopyOrderID != "" {
			limitIDs = append(limitIDs, rec.CopyOrderID)
		}
	}
	for _, rec := range s.trigger {
		if rec.CopyOrderID != "" {
			triggerIDs = append(triggerIDs, rec.CopyOrderID)
		}
	}
	return limitIDs, triggerIDs
}

// Clear drops every recorded order.
func (s *SideOrders) Clear() {
	s.limit = make(map[string]*OrderRecord)
	s.trigger = make(map[string]*OrderRecord)
}

// OrderBook is the per-account order-tracking table, one SideOrders per
// (symbol, side).
type OrderBook struct {
	mu    sync.Mutex
	slots map[PositionKey]*SideOrders
}

// NewOrderBook builds an empty book.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		slots: make(map[PositionKey]*SideOrders),
	}
}

// Slot returns the slot, creating it when absent.
func (b *OrderBook) Slot(symbol string, side domain.PosSide) *SideOrders {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := PositionKey{Symbol: symbol, Side: side}
	slot, ok := b.slots[key]
	if !ok {
		slot = &SideOrders{
			limit:   make(map[string]*OrderRecord),
			trigger: make(map[string]*OrderRecord),
		}
		b.slots[key] = slot
	}
	return slot
}
