package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// stopConfirmWindow is how long a stop request stays armed before it must be
// issued again.
const stopConfirmWindow = 60 * time.Second

// Commands is the operator-facing control surface. Every command goes
// through the persisted account set so a restart resumes the last intent.
type Commands struct {
	accounts   *Accounts
	registry   *Registry
	dispatcher *Dispatcher
	uilog      *UILog
	logger     *slog.Logger

	mu        sync.Mutex
	stopArmed time.Time
}

// NewCommands builds the command surface.
func NewCommands(accounts *Accounts, registry *Registry, dispatcher *Dispatcher, uilog *UILog, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		accounts:   accounts,
		registry:   registry,
		dispatcher: dispatcher,
		uilog:      uilog,
		logger:     logger.With(slog.String("component", "commands")),
	}
}

// Start arms the master account: trading on, stop flag cleared.
func (c *Commands) Start(ctx context.Context) error {
	c.mu.Lock()
	c.stopArmed = time.Time{}
	c.mu.Unlock()

	return c.accounts.Update(ctx, 0, func(cfg *domain.FollowerConfig) error {
		cfg.TradingEnabled = true
		cfg.StopFlag = false
		return nil
	})
}

// Pause suspends execution while keeping the master stream alive.
func (c *Commands) Pause(ctx context.Context) error {
	return c.accounts.Update(ctx, 0, func(cfg *domain.FollowerConfig) error {
		cfg.TradingEnabled = false
		return nil
	})
}

// Stop requests a full teardown. The first call arms the stop and returns
// ErrStopPending; a second call within the confirmation window executes it.
func (c *Commands) Stop(ctx context.Context) error {
	c.mu.Lock()
	armed := c.stopArmed
	now := time.Now()
	if armed.IsZero() || now.Sub(armed) > stopConfirmWindow {
		c.stopArmed = now
		c.mu.Unlock()
		return domain.ErrStopPending
	}
	c.stopArmed = time.Time{}
	c.mu.Unlock()

	return c.accounts.Update(ctx, 0, func(cfg *domain.FollowerConfig) error {
		cfg.StopFlag = true
		cfg.TradingEnabled = false
		return nil
	})
}

// Activate enables a follower and brings its runtime up.
func (c *Commands) Activate(ctx context.Context, cid int) error {
	if cid == 0 {
		return fmt.Errorf("relay: activate: account 0 is the master")
	}
	if err := c.accounts.Update(ctx, cid, func(cfg *domain.FollowerConfig) error {
		if !cfg.Exchange.HasCreds() {
			return domain.ErrNoCredentials
		}
		cfg.Enabled = true
		return nil
	}); err != nil {
		return err
	}

	cfg, _ := c.accounts.Get(cid)
	if err := c.registry.Activate(ctx, cfg); err != nil {
		return fmt.Errorf("relay: activate %d: %w", cid, err)
	}
	c.logger.InfoContext(ctx, "follower activated", slog.Int("cid", cid))
	return nil
}

// Deactivate disables a follower and tears its runtime down.
func (c *Commands) Deactivate(ctx context.Context, cid int) error {
	if cid == 0 {
		return fmt.Errorf("relay: deactivate: account 0 is the master")
	}
	if err := c.accounts.Update(ctx, cid, func(cfg *domain.FollowerConfig) error {
		cfg.Enabled = false
		return nil
	}); err != nil {
		return err
	}
	c.registry.Deactivate(ctx, cid)
	c.logger.InfoContext(ctx, "follower deactivated", slog.Int("cid", cid))
	return nil
}

// ManualClose market-closes every open position of the given followers and
// sweeps their recorded working orders. Id 0 is rejected; closing the master
// is never relayed.
func (c *Commands) ManualClose(ctx context.Context, ids []int) error {
	targets := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return domain.ErrMasterClose
	}
	sort.Ints(targets)

	master, _ := c.accounts.Master()
	if !master.TradingEnabled || master.StopFlag {
		return domain.ErrNotRunning
	}

	c.uilog.Append(0, fmt.Sprintf("🔴 CLOSE INTENT: manual button → copies %v", targets))

	c.dispatcher.SetManualTargets(targets)
	return c.dispatcher.Enqueue(domain.MasterEvent{
		Event:   domain.EventSell,
		Method:  domain.MethodMarket,
		Symbol:  "ALL OPENED SYMBOLS",
		Closed:  true,
		SigType: domain.SigManual,
		TS:      domain.NowMillis(),
	})
}

// SetCredentials replaces one account's exchange credentials. An active
// follower is torn down so the next activation picks the new keys up; the
// master supervisor reloads on its own when the hash changes.
func (c *Commands) SetCredentials(ctx context.Context, cid int, creds domain.ExchangeCreds) error {
	if !creds.HasCreds() {
		return domain.ErrNoCredentials
	}
	if err := c.accounts.SetCredentials(ctx, cid, creds); err != nil {
		return err
	}
	if cid != 0 {
		c.registry.Deactivate(ctx, cid)
	}
	c.logger.InfoContext(ctx, "credentials updated", slog.Int("cid", cid))
	return nil
}

// FollowerPatch carries the mutable sizing fields of one follower. Nil
// fields are left untouched.
type FollowerPatch struct {
	Name          *string     `json:"name,omitempty"`
	Coef          *float64    `json:"coef,omitempty"`
	Leverage      *int        `json:"leverage,omitempty"`
	MarginMode    *int        `json:"margin_mode,omitempty"`
	MaxMargin     *float64    `json:"max_margin,omitempty"`
	RandomSizePct *[2]float64 `json:"random_size_pct,omitempty"`
	DelayMs       *[2]float64 `json:"delay_ms,omitempty"`
}

// UpdateFollower applies a patch to one follower record.
func (c *Commands) UpdateFollower(ctx context.Context, cid int, patch FollowerPatch) error {
	if cid == 0 {
		return fmt.Errorf("relay: update: account 0 is the master")
	}
	return c.accounts.Update(ctx, cid, func(cfg *domain.FollowerConfig) error {
		if patch.Name != nil {
			cfg.Name = *patch.Name
		}
		if patch.Coef != nil {
			cfg.Coef = *patch.Coef
		}
		if patch.Leverage != nil {
			cfg.Leverage = *patch.Leverage
		}
		if patch.MarginMode != nil {
			cfg.MarginMode = *patch.MarginMode
		}
		if patch.MaxMargin != nil {
			cfg.MaxMargin = *patch.MaxMargin
		}
		if patch.RandomSizePct != nil {
			cfg.RandomSizePct = *patch.RandomSizePct
		}
		if patch.DelayMs != nil {
			cfg.DelayMs = *patch.DelayMs
		}
		return nil
	})
}

// AccountStatus is one account's runtime view.
type AccountStatus struct {
	ID        int    `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	Enabled   bool   `json:"enabled"`
	Ready     bool   `json:"ready"`
	State     string `json:"state,omitempty"`
	LastError string `json:"last_error,omitempty"`
	ErrorTS   int64  `json:"error_ts,omitempty"`
}

// RelayStatus is the full control-plane snapshot.
type RelayStatus struct {
	TradingEnabled bool            `json:"trading_enabled"`
	StopFlag       bool            `json:"stop_flag"`
	QueueDepth     int             `json:"queue_depth"`
	Accounts       []AccountStatus `json:"accounts"`
}

// Status reports the master switches and every account's runtime state.
func (c *Commands) Status() RelayStatus {
	master, _ := c.accounts.Master()
	st := RelayStatus{
		TradingEnabled: master.TradingEnabled,
		StopFlag:       master.StopFlag,
		QueueDepth:     c.dispatcher.QueueLen(),
	}

	st.Accounts = append(st.Accounts, AccountStatus{
		ID:      0,
		Name:    master.Name,
		Role:    "master",
		Enabled: master.TradingEnabled,
		Ready:   master.Exchange.HasCreds(),
	})

	for _, cid := range c.accounts.FollowerIDs() {
		cfg, _ := c.accounts.Get(cid)
		as := AccountStatus{
			ID:      cid,
			Name:    cfg.Name,
			Role:    "copy",
			Enabled: cfg.Enabled,
		}
		if f := c.registry.Ready(cid); f != nil {
			as.Ready = true
			as.State = string(f.State())
			as.LastError, as.ErrorTS = f.LastError()
		}
		st.Accounts = append(st.Accounts, as)
	}
	return st
}
