package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

func newTestCommands(t *testing.T, cfgs ...domain.FollowerConfig) (*Commands, *Accounts, *Dispatcher) {
	t.Helper()
	accounts, _ := newTestAccounts(t, cfgs...)
	registry := registryWith(nil)
	d := newTestDispatcher(t, accounts, registry, 10)
	return NewCommands(accounts, registry, d, NewUILog(nil, time.Hour, nil), nil), accounts, d
}

func masterRecord(armed bool) domain.FollowerConfig {
	return domain.FollowerConfig{
		ID:             0,
		Role:           "master",
		TradingEnabled: armed,
		Exchange:       domain.ExchangeCreds{APIKey: "k", APISecret: "s"},
	}
}

func TestStartArmsMaster(t *testing.T) {
	c, accounts, _ := newTestCommands(t, masterRecord(false))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	master, _ := accounts.Master()
	if !master.TradingEnabled || master.StopFlag {
		t.Fatalf("master not armed: %+v", master)
	}
}

func TestPauseKeepsStopFlagClear(t *testing.T) {
	c, accounts, _ := newTestCommands(t, masterRecord(true))

	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	master, _ := accounts.Master()
	if master.TradingEnabled || master.StopFlag {
		t.Fatalf("pause must only drop trading: %+v", master)
	}
}

func TestStopRequiresConfirmation(t *testing.T) {
	c, accounts, _ := newTestCommands(t, masterRecord(true))

	if err := c.Stop(context.Background()); !errors.Is(err, domain.ErrStopPending) {
		t.Fatalf("first stop: got %v, want ErrStopPending", err)
	}
	master, _ := accounts.Master()
	if master.StopFlag || !master.TradingEnabled {
		t.Fatalf("first stop must not change the master: %+v", master)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("confirmed stop: %v", err)
	}
	master, _ = accounts.Master()
	if !master.StopFlag || master.TradingEnabled {
		t.Fatalf("confirmed stop not applied: %+v", master)
	}
}

func TestStopConfirmationWindowExpires(t *testing.T) {
	c, _, _ := newTestCommands(t, masterRecord(true))

	c.mu.Lock()
	c.stopArmed = time.Now().Add(-2 * stopConfirmWindow)
	c.mu.Unlock()

	if err := c.Stop(context.Background()); !errors.Is(err, domain.ErrStopPending) {
		t.Fatalf("stale confirmation accepted: %v", err)
	}
}

func TestStartClearsArmedStop(t *testing.T) {
	c, _, _ := newTestCommands(t, masterRecord(true))

	if err := c.Stop(context.Background()); !errors.Is(err, domain.ErrStopPending) {
		t.Fatal("expected pending stop")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The earlier request was discarded; stopping again re-arms.
	if err := c.Stop(context.Background()); !errors.Is(err, domain.ErrStopPending) {
		t.Fatalf("stop executed from a discarded confirmation: %v", err)
	}
}

func TestActivateValidations(t *testing.T) {
	c, _, _ := newTestCommands(t,
		masterRecord(true),
		domain.FollowerConfig{ID: 1, Role: "copy"},
	)

	if err := c.Activate(context.Background(), 0); err == nil {
		t.Fatal("activating the master must fail")
	}
	if err := c.Activate(context.Background(), 1); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("got %v, want ErrNoCredentials", err)
	}
	if err := c.Activate(context.Background(), 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestManualCloseValidations(t *testing.T) {
	c, _, d := newTestCommands(t,
		masterRecord(false),
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)

	if err := c.ManualClose(context.Background(), []int{0}); !errors.Is(err, domain.ErrMasterClose) {
		t.Fatalf("got %v, want ErrMasterClose", err)
	}
	if err := c.ManualClose(context.Background(), nil); !errors.Is(err, domain.ErrMasterClose) {
		t.Fatalf("got %v, want ErrMasterClose", err)
	}
	if err := c.ManualClose(context.Background(), []int{1}); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
	if d.QueueLen() != 0 {
		t.Fatal("rejected close reached the queue")
	}
}

func TestManualCloseEnqueuesSyntheticEvent(t *testing.T) {
	c, _, d := newTestCommands(t,
		masterRecord(true),
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
		domain.FollowerConfig{ID: 2, Role: "copy", Enabled: true},
	)

	if err := c.ManualClose(context.Background(), []int{2, 0, 1}); err != nil {
		t.Fatalf("ManualClose: %v", err)
	}
	if d.QueueLen() != 1 {
		t.Fatalf("queue len=%d, want 1", d.QueueLen())
	}

	targets := d.takeManualTargets()
	if len(targets) != 2 || targets[0] != 1 || targets[1] != 2 {
		t.Fatalf("targets=%v, want sorted followers without the master", targets)
	}

	ev := <-d.queue
	if ev.SigType != domain.SigManual || !ev.Closed || ev.Event != domain.EventSell {
		t.Fatalf("unexpected synthetic event: %+v", ev)
	}
}

func TestSetCredentialsValidates(t *testing.T) {
	c, accounts, _ := newTestCommands(t,
		masterRecord(true),
		domain.FollowerConfig{ID: 1, Role: "copy"},
	)

	if err := c.SetCredentials(context.Background(), 1, domain.ExchangeCreds{APIKey: "only-key"}); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("got %v, want ErrNoCredentials", err)
	}

	creds := domain.ExchangeCreds{APIKey: "k2", APISecret: "s2", Proxy: "http://127.0.0.1:8080"}
	if err := c.SetCredentials(context.Background(), 1, creds); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	cfg, _ := accounts.Get(1)
	if cfg.Exchange != creds {
		t.Fatalf("credentials not stored: %+v", cfg.Exchange)
	}
}

func TestUpdateFollowerPatch(t *testing.T) {
	c, accounts, _ := newTestCommands(t,
		masterRecord(true),
		domain.FollowerConfig{ID: 1, Role: "copy", Name: "old", Coef: 1, Leverage: 10},
	)

	coef := 0.5
	name := "scaled"
	window := [2]float64{20, 60}
	if err := c.UpdateFollower(context.Background(), 1, FollowerPatch{
		Name:          &name,
		Coef:          &coef,
		RandomSizePct: &window,
	}); err != nil {
		t.Fatalf("UpdateFollower: %v", err)
	}

	cfg, _ := accounts.Get(1)
	if cfg.Name != "scaled" || cfg.Coef != 0.5 || cfg.RandomSizePct != window {
		t.Fatalf("patch not applied: %+v", cfg)
	}
	if cfg.Leverage != 10 {
		t.Fatalf("untouched field changed: %+v", cfg)
	}

	if err := c.UpdateFollower(context.Background(), 0, FollowerPatch{}); err == nil {
		t.Fatal("patching the master must fail")
	}
}

func TestStatusSnapshot(t *testing.T) {
	c, _, d := newTestCommands(t,
		masterRecord(true),
		domain.FollowerConfig{ID: 2, Role: "copy", Name: "f2", Enabled: true},
		domain.FollowerConfig{ID: 1, Role: "copy", Name: "f1"},
	)
	_ = d.Enqueue(marketBuy(1))

	st := c.Status()
	if !st.TradingEnabled || st.StopFlag {
		t.Fatalf("master switches wrong: %+v", st)
	}
	if st.QueueDepth != 1 {
		t.Fatalf("queue depth=%d, want 1", st.QueueDepth)
	}
	if len(st.Accounts) != 3 {
		t.Fatalf("got %d accounts, want 3", len(st.Accounts))
	}
	if st.Accounts[0].Role != "master" || !st.Accounts[0].Ready {
		t.Fatalf("master row wrong: %+v", st.Accounts[0])
	}
	// Followers come back sorted by id, with no live runtime attached.
	if st.Accounts[1].ID != 1 || st.Accounts[2].ID != 2 {
		t.Fatalf("followers not sorted: %+v", st.Accounts)
	}
	if st.Accounts[1].Ready || st.Accounts[2].Ready {
		t.Fatal("followers without runtimes must not report ready")
	}
}
