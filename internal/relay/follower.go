package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/copyrelay/internal/config"
	"github.com/alanyoungcy/copyrelay/internal/crypto"
	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/network"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

// OrderClient is the slice of the exchange client the copy path needs.
// *mexc.Client satisfies it; tests substitute fakes.
type OrderClient interface {
	PlaceOrder(ctx context.Context, p mexc.OrderParams) (domain.OrderResult, error)
	PlaceTriggerOrder(ctx context.Context, p mexc.TriggerParams) (domain.OrderResult, error)
	CancelOrders(ctx context.Context, orderIDs []string) (domain.OrderResult, error)
	CancelTriggerOrders(ctx context.Context, orderIDs []string, symbol string) (domain.OrderResult, error)
	CancelBulk(ctx context.Context, limitIDs, triggerIDs []string, symbol string) (domain.OrderResult, error)
	OpenPositions(ctx context.Context) ([]mexc.PositionEntry, error)
	RealizedPnLBatch(ctx context.Context, start, end int64) (map[mexc.PnLKey]mexc.PnLAgg, error)
	RealizedPnL(ctx context.Context, symbol string, start, end int64, direction int) (*mexc.PnLAgg, error)
}

// InitState is the lifecycle state of a follower runtime.
type InitState string

const (
	InitStateInit   InitState = "INIT"
	InitStateReady  InitState = "READY"
	InitStateFailed InitState = "FAILED"
)

// Follower is the live runtime of one activated copy account.
type Follower struct {
	ID      int
	Session *network.Session
	Client  OrderClient
	Table   *PositionTable
	Orders  *OrderBook

	mu           sync.Mutex
	state        InitState
	networkReady bool
	lastError    string
	lastErrorTS  int64

	cancel context.CancelFunc // stops the session ping loop
}

// State reports the runtime lifecycle state.
func (f *Follower) State() InitState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Ready reports whether the runtime can execute orders.
func (f *Follower) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == InitStateReady && f.networkReady
}

// SetError records the last execution failure for status surfaces.
func (f *Follower) SetError(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastError = reason
	f.lastErrorTS = domain.NowMillis()
}

// LastError returns the last recorded failure.
func (f *Follower) LastError() (string, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError, f.lastErrorTS
}

// ClientFactory builds an exchange client for one account's credentials on
// top of its supervised session.
type ClientFactory func(creds domain.ExchangeCreds, session *network.Session) OrderClient

// Registry owns the follower runtimes. Activation and deactivation are
// atomic per account; the hot path only ever sees READY runtimes.
type Registry struct {
	exchange config.Exchange
	factory  ClientFactory
	logger   *slog.Logger

	mu        sync.Mutex
	initLocks map[int]*sync.Mutex
	followers map[int]*Follower
	active    map[int]bool
}

// NewRegistry builds an empty registry. The factory defaults to the real
// exchange client.
func NewRegistry(exchange config.Exchange, factory ClientFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		exchange:  exchange,
		factory:   factory,
		logger:    logger.With(slog.String("component", "registry")),
		initLocks: make(map[int]*sync.Mutex),
		followers: make(map[int]*Follower),
		active:    make(map[int]bool),
	}
	if r.factory == nil {
		r.factory = func(creds domain.ExchangeCreds, session *network.Session) OrderClient {
			auth := &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret}
			return mexc.NewClient(exchange.BaseURL, auth, session, logger)
		}
	}
	return r
}

// Activate brings one follower runtime up: session, ping loop, client.
// Re-activating a READY runtime is a no-op.
func (r *Registry) Activate(ctx context.Context, cfg domain.FollowerConfig) error {
	cid := cfg.ID
	lock := r.initLock(cid)
	lock.Lock()
	defer lock.Unlock()

	if f := r.get(cid); f != nil && f.Ready() {
		r.logger.InfoContext(ctx, "follower already ready", slog.Int("cid", cid))
		r.setActive(cid, true)
		return nil
	}

	if !cfg.Enabled {
		return fmt.Errorf("relay: follower %d not enabled", cid)
	}
	if !cfg.Exchange.HasCreds() {
		return fmt.Errorf("relay: follower %d: %w", cid, domain.ErrNoCredentials)
	}

	f, err := r.initRuntime(ctx, cfg)
	if err != nil {
		r.logger.ErrorContext(ctx, "follower activation failed",
			slog.Int("cid", cid), slog.String("error", err.Error()))
		return err
	}

	r.mu.Lock()
	r.followers[cid] = f
	r.active[cid] = true
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "follower ready", slog.Int("cid", cid))
	return nil
}

// Deactivate tears one follower runtime down.
func (r *Registry) Deactivate(ctx context.Context, cid int) {
	lock := r.initLock(cid)
	lock.Lock()
	defer lock.Unlock()

	r.setActive(cid, false)
	r.shutdownRuntime(ctx, cid)
}

// Ready returns the runtime when it is active and READY, nil otherwise.
// Nothing is created or repaired here.
func (r *Registry) Ready(cid int) *Follower {
	r.mu.Lock()
	f := r.followers[cid]
	active := r.active[cid]
	r.mu.Unlock()

	if f == nil || !active || !f.Ready() {
		return nil
	}
	return f
}

// ActiveReady returns every runtime currently able to execute, keyed by id.
func (r *Registry) ActiveReady() map[int]*Follower {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]*Follower)
	for cid, f := range r.followers {
		if r.active[cid] && f.Ready() {
			out[cid] = f
		}
	}
	return out
}

// ShutdownAll tears every runtime down.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.followers))
	for cid := range r.followers {
		ids = append(ids, cid)
	}
	r.mu.Unlock()

	for _, cid := range ids {
		r.Deactivate(ctx, cid)
	}
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

func (r *Registry) initRuntime(ctx context.Context, cfg domain.FollowerConfig) (*Follower, error) {
	cid := cfg.ID

	session := network.New(network.Options{
		PingURL:       r.exchange.BaseURL + r.exchange.PingPath,
		Proxy:         cfg.Exchange.Proxy,
		PingInterval:  r.exchange.PingInterval.Duration,
		PingRetry:     r.exchange.PingRetry.Duration,
		PingFailLimit: r.exchange.PingFailLimit,
		SessionTTL:    r.exchange.SessionTTL.Duration,
		Logger:        r.logger.With(slog.Int("cid", cid)),
	})
	if err := session.Initialize(); err != nil {
		return nil, fmt.Errorf("relay: follower %d session: %w", cid, err)
	}

	pingCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go session.RunPingLoop(pingCtx)

	if !session.WaitReady(ctx) {
		cancel()
		return nil, fmt.Errorf("relay: follower %d: %w", cid, domain.ErrSessionNotUp)
	}

	f := &Follower{
		ID:      cid,
		Session: session,
		Client:  r.factory(cfg.Exchange, session),
		Table:   NewPositionTable(),
		Orders:  NewOrderBook(),
		state:   InitStateReady,
		cancel:  cancel,
	}
	f.networkReady = true
	return f, nil
}

func (r *Registry) shutdownRuntime(ctx context.Context, cid int) {
	r.mu.Lock()
	f := r.followers[cid]
	delete(r.followers, cid)
	r.mu.Unlock()

	if f == nil {
		return
	}
	if f.cancel != nil {
		f.cancel()
	}
	r.logger.InfoContext(ctx, "follower runtime destroyed", slog.Int("cid", cid))
}

func (r *Registry) initLock(cid int) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.initLocks[cid]
	if !ok {
		lock = &sync.Mutex{}
		r.initLocks[cid] = lock
	}
	return lock
}

func (r *Registry) get(cid int) *Follower {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.followers[cid]
}

func (r *Registry) setActive(cid int, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v {
		r.active[cid] = true
	} else {
		delete(r.active, cid)
	}
}
