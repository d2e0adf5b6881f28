package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	refreshTTL        = 5 * time.Second
	refreshTimeout    = 2 * time.Second
	refreshBaseDelay  = 50 * time.Millisecond
	refreshMaxDelay   = 500 * time.Millisecond
	refreshDelayScale = 1.25
)

// RefreshCoordinator drives hash-based position convergence. Before a
// fan-out the dispatcher snapshots each follower's position hash; after the
// orders are issued, Trigger polls the exchange until every follower's hash
// moves away from its snapshot (the order landed) or a TTL expires. Stable
// followers are handed to the on-stable callback for PnL reporting.
type RefreshCoordinator struct {
	logger *slog.Logger

	mu   sync.Mutex
	prev map[int]uint64

	running atomic.Bool

	// OnStable receives follower ids whose position book just converged.
	OnStable func(ctx context.Context, ids []int)
}

// NewRefreshCoordinator builds an idle coordinator.
func NewRefreshCoordinator(logger *slog.Logger) *RefreshCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshCoordinator{
		logger: logger.With(slog.String("component", "refresh")),
		prev:   make(map[int]uint64),
	}
}

// Snapshot records the pre-execution position hash of one follower.
func (r *RefreshCoordinator) Snapshot(cid int, table *PositionTable) {
	h := table.Hash()
	r.mu.Lock()
	r.prev[cid] = h
	r.mu.Unlock()
}

// Trigger starts a background convergence run over the given monitors. A
// run already in flight absorbs the request.
func (r *RefreshCoordinator) Trigger(ctx context.Context, monitors map[int]*PositionMonitor) {
	if len(monitors) == 0 {
		return
	}
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.running.Store(false)
		r.run(ctx, monitors)
	}()
}

func (r *RefreshCoordinator) run(ctx context.Context, monitors map[int]*PositionMonitor) {
	start := time.Now()
	delay := refreshBaseDelay

	pending := make(map[int]*PositionMonitor, len(monitors))
	for cid, m := range monitors {
		pending[cid] = m
	}

	for len(pending) > 0 && time.Since(start) < refreshTTL {
		if ctx.Err() != nil {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, m := range pending {
			m := m
			g.Go(func() error {
				rctx, cancel := context.WithTimeout(gctx, refreshTimeout)
				defer cancel()
				// Individual refresh failures just mean another cycle.
				_ = m.Refresh(rctx)
				return nil
			})
		}
		_ = g.Wait()

		var stable []int
		r.mu.Lock()
		for cid, m := range pending {
			cur := m.Table().Hash()
			prev, ok := r.prev[cid]
			if ok && cur != prev {
				delete(pending, cid)
				r.prev[cid] = cur
				stable = append(stable, cid)
			}
		}
		r.mu.Unlock()

		if len(stable) > 0 && r.OnStable != nil {
			ids := stable
			go r.OnStable(ctx, ids)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * refreshDelayScale)
		if delay > refreshMaxDelay {
			delay = refreshMaxDelay
		}
	}
}
