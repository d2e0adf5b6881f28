package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

// Dispatcher fans translated master events out to every ready follower.
// The queue is owned here and survives master stream reloads, so events
// buffered during a credential swap are not lost.
type Dispatcher struct {
	accounts   *Accounts
	registry   *Registry
	executor   *Executor
	refresh    *RefreshCoordinator
	reporter   *Reporter
	uilog      *UILog
	logger     *slog.Logger
	quoteAsset string
	report     bool

	queue chan domain.MasterEvent

	// Best-effort sinks; failures never touch the copy path.
	bus         domain.SignalBus
	sinks       []domain.EventSink
	reportStore domain.ReportStore

	mu            sync.Mutex
	manualTargets []int
}

// DispatcherOptions wires a Dispatcher.
type DispatcherOptions struct {
	Accounts    *Accounts
	Registry    *Registry
	Executor    *Executor
	Reporter    *Reporter
	UILog       *UILog
	QuoteAsset  string
	QueueSize   int
	Report      bool
	Bus         domain.SignalBus
	Sinks       []domain.EventSink
	ReportStore domain.ReportStore
	Logger      *slog.Logger
}

// NewDispatcher builds a dispatcher and its persistent event queue.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.QueueSize
	if size < 1 {
		size = 1000
	}
	d := &Dispatcher{
		accounts:    opts.Accounts,
		registry:    opts.Registry,
		executor:    opts.Executor,
		refresh:     NewRefreshCoordinator(logger),
		reporter:    opts.Reporter,
		uilog:       opts.UILog,
		logger:      logger.With(slog.String("component", "dispatcher")),
		quoteAsset:  opts.QuoteAsset,
		report:      opts.Report,
		queue:       make(chan domain.MasterEvent, size),
		bus:         opts.Bus,
		sinks:       opts.Sinks,
		reportStore: opts.ReportStore,
	}
	d.refresh.OnStable = d.onRefreshStable
	return d
}

// Queue is the inbound event channel, written by the translator and the
// command bus.
func (d *Dispatcher) Queue() chan<- domain.MasterEvent {
	return d.queue
}

// QueueLen reports the number of buffered events.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// Enqueue offers one event without blocking.
func (d *Dispatcher) Enqueue(ev domain.MasterEvent) error {
	select {
	case d.queue <- ev:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// SetManualTargets records the follower ids the next manual close expands
// over.
func (d *Dispatcher) SetManualTargets(ids []int) {
	d.mu.Lock()
	d.manualTargets = append([]int(nil), ids...)
	d.mu.Unlock()
}

func (d *Dispatcher) takeManualTargets() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := d.manualTargets
	d.manualTargets = nil
	return ids
}

// Run consumes the queue until ctx is done. It first waits for the master
// account to be armed (trading enabled, no stop flag).
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.InfoContext(ctx, "dispatcher started")

	for {
		master, _ := d.accounts.Master()
		if master.TradingEnabled && !master.StopFlag {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	d.logger.InfoContext(ctx, "dispatcher ready")

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "dispatcher stopped")
			return
		case mev := <-d.queue:
			if mev.SigType == domain.SigManual {
				for _, sub := range d.expandManualClose(mev) {
					sub := sub
					go d.executeOne(ctx, sub)
				}
				continue
			}
			go d.broadcast(ctx, mev)
		}
	}
}

// broadcast executes one copy event on every enabled, ready follower.
func (d *Dispatcher) broadcast(ctx context.Context, mev domain.MasterEvent) {
	d.uilog.AppendEvent(0, mev)
	d.observe(ctx, mev)

	monitors := make(map[int]*PositionMonitor)
	var wg sync.WaitGroup

	for cid, cfg := range d.accounts.Snapshot() {
		if cid == 0 || !cfg.Enabled {
			continue
		}
		f := d.registry.Ready(cid)
		if f == nil {
			continue
		}

		d.refresh.Snapshot(cid, f.Table)
		monitors[cid] = d.monitorFor(f)

		wg.Add(1)
		go func(cfg domain.FollowerConfig, f *Follower) {
			defer wg.Done()
			d.executor.HandleCopyEvent(ctx, cfg, f, mev)
		}(cfg, f)
	}
	wg.Wait()

	d.refresh.Trigger(ctx, monitors)
	d.uilog.MaybeFlush(ctx)
}

// executeOne runs a manual sub-event on its bound follower.
func (d *Dispatcher) executeOne(ctx context.Context, mev domain.MasterEvent) {
	cid := mev.CID
	if cid == 0 {
		return
	}
	cfg, ok := d.accounts.Get(cid)
	if !ok || !cfg.Enabled {
		return
	}
	f := d.registry.Ready(cid)
	if f == nil {
		return
	}

	d.refresh.Snapshot(cid, f.Table)
	d.executor.HandleCopyEvent(ctx, cfg, f, mev)

	d.refresh.Trigger(ctx, map[int]*PositionMonitor{cid: d.monitorFor(f)})
	d.uilog.MaybeFlush(ctx)
}

// expandManualClose turns one manual close intent into per-position close
// events, each hard-bound to its follower.
func (d *Dispatcher) expandManualClose(mev domain.MasterEvent) []domain.MasterEvent {
	var events []domain.MasterEvent

	for _, cid := range d.takeManualTargets() {
		f := d.registry.Ready(cid)
		if f == nil {
			continue
		}

		f.Table.Each(func(symbol string, side domain.PosSide, st domain.PositionState) {
			if !st.InPosition || st.Qty <= 0 {
				return
			}
			events = append(events, domain.MasterEvent{
				Event:   domain.EventSell,
				Method:  domain.MethodMarket,
				Symbol:  symbol,
				PosSide: side,
				Closed:  true,
				SigType: domain.SigManual,
				Payload: domain.OrderPayload{
					Qty:        st.Qty,
					ReduceOnly: true,
					Leverage:   st.Leverage,
					OpenType:   st.MarginMode,
				},
				TS:  mev.TS,
				CID: cid,
			})
		})
	}
	return events
}

// onRefreshStable reports realized PnL for followers whose books just
// converged.
func (d *Dispatcher) onRefreshStable(ctx context.Context, ids []int) {
	if !d.report {
		return
	}
	reports := d.reporter.CollectClosed(ctx, ids)
	if len(reports) == 0 {
		return
	}

	d.uilog.AppendReports(reports)

	if d.bus != nil {
		if err := d.bus.PublishReports(ctx, reports); err != nil {
			d.logger.WarnContext(ctx, "report publish failed", slog.String("error", err.Error()))
		}
	}
	if d.reportStore != nil {
		if err := d.reportStore.InsertReports(ctx, reports); err != nil {
			d.logger.WarnContext(ctx, "report journal failed", slog.String("error", err.Error()))
		}
	}
}

// observe hands a copy event to the optional sinks.
func (d *Dispatcher) observe(ctx context.Context, mev domain.MasterEvent) {
	if d.bus != nil {
		if err := d.bus.PublishEvent(ctx, mev); err != nil {
			d.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
		}
	}
	for _, sink := range d.sinks {
		sink.ObserveEvent(ctx, mev)
	}
}

func (d *Dispatcher) monitorFor(f *Follower) *PositionMonitor {
	return NewPositionMonitor(f.Table, func(ctx context.Context) ([]mexc.PositionEntry, error) {
		return f.Client.OpenPositions(ctx)
	}, d.quoteAsset)
}
