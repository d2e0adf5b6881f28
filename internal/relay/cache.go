// Package relay implements the copy path: translating the master account's
// stream into master events, sizing them per follower, executing the derived
// orders, and reconciling follower positions afterwards.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// SignalCache buffers classified stream events between the websocket reader
// and the translator. Push never blocks; PopEvents blocks until at least one
// event is available and drains the buffer.
type SignalCache struct {
	mu     sync.Mutex
	events []domain.SignalEvent
	notify chan struct{}
}

// NewSignalCache builds an empty cache.
func NewSignalCache() *SignalCache {
	return &SignalCache{
		notify: make(chan struct{}, 1),
	}
}

// Push appends one event and wakes the consumer.
func (c *SignalCache) Push(ev domain.SignalEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// PopEvents returns every buffered event, blocking until at least one exists
// or ctx is done.
func (c *SignalCache) PopEvents(ctx context.Context) ([]domain.SignalEvent, error) {
	for {
		c.mu.Lock()
		if len(c.events) > 0 {
			out := c.events
			c.events = nil
			c.mu.Unlock()
			return out, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.notify:
		}
	}
}

// Len reports the number of buffered events.
func (c *SignalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// IntentSet is a TTL-bounded set of master order ids whose limit placements
// the relay has already copied. It suppresses the fill echo the stream pushes
// when such an order later executes.
type IntentSet struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[string]time.Time
}

// NewIntentSet builds a set whose entries expire after ttl.
func NewIntentSet(ttl time.Duration) *IntentSet {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IntentSet{
		ttl: ttl,
		ids: make(map[string]time.Time),
	}
}

// Add records one master order id.
func (s *IntentSet) Add(orderID string) {
	if orderID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	s.ids[orderID] = time.Now().Add(s.ttl)
}

// Consume reports whether the id was recorded and removes it.
func (s *IntentSet) Consume(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	exp, ok := s.ids[orderID]
	if !ok || time.Now().After(exp) {
		delete(s.ids, orderID)
		return false
	}
	delete(s.ids, orderID)
	return true
}

// Discard drops the id without reporting membership.
func (s *IntentSet) Discard(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, orderID)
}

// Len reports the number of live entries.
func (s *IntentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	return len(s.ids)
}

func (s *IntentSet) evictLocked() {
	now := time.Now()
	for id, exp := range s.ids {
		if now.After(exp) {
			delete(s.ids, id)
		}
	}
}
