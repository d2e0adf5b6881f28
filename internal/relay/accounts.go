package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// Accounts is the in-memory view of the persisted account records. Every
// mutation goes through Update so the backing store always matches what the
// relay is acting on.
type Accounts struct {
	store  domain.ConfigStore
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[int]*domain.FollowerConfig
}

// NewAccounts builds an empty registry over a config store.
func NewAccounts(store domain.ConfigStore, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{
		store:    store,
		logger:   logger.With(slog.String("component", "accounts")),
		accounts: make(map[int]*domain.FollowerConfig),
	}
}

// Load replaces the in-memory set from the store.
func (a *Accounts) Load(ctx context.Context) error {
	accounts, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("relay: load accounts: %w", err)
	}

	a.mu.Lock()
	a.accounts = accounts
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "accounts loaded", slog.Int("count", len(accounts)))
	return nil
}

// Get returns a copy of one account record.
func (a *Accounts) Get(cid int) (domain.FollowerConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg, ok := a.accounts[cid]
	if !ok {
		return domain.FollowerConfig{}, false
	}
	return *cfg, true
}

// Master returns a copy of the master record (id 0).
func (a *Accounts) Master() (domain.FollowerConfig, bool) {
	return a.Get(0)
}

// FollowerIDs returns the ids of every follower record, sorted.
func (a *Accounts) FollowerIDs() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]int, 0, len(a.accounts))
	for cid := range a.accounts {
		if cid != 0 {
			ids = append(ids, cid)
		}
	}
	sort.Ints(ids)
	return ids
}

// Snapshot returns copies of every record keyed by id.
func (a *Accounts) Snapshot() map[int]domain.FollowerConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int]domain.FollowerConfig, len(a.accounts))
	for cid, cfg := range a.accounts {
		out[cid] = *cfg
	}
	return out
}

// Update mutates one record under the registry lock and persists the whole
// set. The record is created when fn accepts a zero-ID template.
func (a *Accounts) Update(ctx context.Context, cid int, fn func(*domain.FollowerConfig) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, ok := a.accounts[cid]
	if !ok {
		return fmt.Errorf("relay: account %d: %w", cid, domain.ErrNotFound)
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := a.store.Save(ctx, a.accounts); err != nil {
		return fmt.Errorf("relay: persist accounts: %w", err)
	}
	return nil
}

// SetCredentials replaces one account's exchange credentials.
func (a *Accounts) SetCredentials(ctx context.Context, cid int, creds domain.ExchangeCreds) error {
	return a.Update(ctx, cid, func(cfg *domain.FollowerConfig) error {
		cfg.Exchange = creds
		return nil
	})
}
