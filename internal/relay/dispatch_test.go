package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

func newTestDispatcher(t *testing.T, accounts *Accounts, registry *Registry, queueSize int) *Dispatcher {
	t.Helper()
	return NewDispatcher(DispatcherOptions{
		Accounts:   accounts,
		Registry:   registry,
		Executor:   newTestExecutor(),
		Reporter:   NewReporter(registry, accounts, nil),
		UILog:      NewUILog(nil, time.Hour, nil),
		QuoteAsset: "USDT",
		QueueSize:  queueSize,
	})
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	accounts, _ := newTestAccounts(t, domain.FollowerConfig{ID: 0, Role: "master"})
	d := newTestDispatcher(t, accounts, registryWith(nil), 1)

	if err := d.Enqueue(marketBuy(1)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.Enqueue(marketBuy(1)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
	if d.QueueLen() != 1 {
		t.Fatalf("queue len=%d, want 1", d.QueueLen())
	}
}

func TestBroadcastFansOutToReadyFollowers(t *testing.T) {
	ready := newFakeOrderClient()
	offline := newFakeOrderClient()
	f1 := newReadyFollower(t, 1, ready)
	f2 := newReadyFollower(t, 2, offline)
	f2.networkReady = false

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master", TradingEnabled: true},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
		domain.FollowerConfig{ID: 2, Role: "copy", Enabled: true},
		domain.FollowerConfig{ID: 3, Role: "copy", Enabled: false},
	)
	registry := registryWith(map[int]*Follower{1: f1, 2: f2})

	d := newTestDispatcher(t, accounts, registry, 10)
	d.broadcast(context.Background(), marketBuy(2))

	if ready.placedCount() != 1 {
		t.Fatalf("ready follower placed %d orders, want 1", ready.placedCount())
	}
	if offline.placedCount() != 0 {
		t.Fatal("offline follower must not receive events")
	}
}

func TestExpandManualClosePerOpenSlot(t *testing.T) {
	client := newFakeOrderClient()
	f := newReadyFollower(t, 1, client)
	f.Table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 2
		st.Leverage = 10
		st.MarginMode = 1
	})
	f.Table.Mutate("ETH_USDT", domain.PosSideShort, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 7
	})
	f.Table.Mutate("DOGE_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = false
	})

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master", TradingEnabled: true},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	d := newTestDispatcher(t, accounts, registryWith(map[int]*Follower{1: f}), 10)

	d.SetManualTargets([]int{1, 2}) // id 2 has no runtime
	events := d.expandManualClose(domain.MasterEvent{SigType: domain.SigManual, TS: 123})

	if len(events) != 2 {
		t.Fatalf("got %d sub-events, want one per open slot", len(events))
	}
	for _, ev := range events {
		if ev.CID != 1 || !ev.Closed || ev.SigType != domain.SigManual {
			t.Fatalf("sub-event not bound to the follower: %+v", ev)
		}
		if ev.Event != domain.EventSell || ev.Method != domain.MethodMarket {
			t.Fatalf("sub-event must market close: %+v", ev)
		}
		if !ev.Payload.ReduceOnly || ev.Payload.Qty <= 0 {
			t.Fatalf("sub-event payload wrong: %+v", ev.Payload)
		}
	}

	// Targets are consumed by the expansion.
	if again := d.expandManualClose(domain.MasterEvent{SigType: domain.SigManual}); len(again) != 0 {
		t.Fatalf("targets not consumed: %v", again)
	}
}

func TestExecuteOneOnlyRunsBoundFollower(t *testing.T) {
	client := newFakeOrderClient()
	f := newReadyFollower(t, 1, client)
	f.Table.Mutate("BTC_USDT", domain.PosSideLong, func(st *domain.PositionState) {
		st.InPosition = true
		st.Qty = 2
	})

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master", TradingEnabled: true},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	d := newTestDispatcher(t, accounts, registryWith(map[int]*Follower{1: f}), 10)

	sub := domain.MasterEvent{
		Event:   domain.EventSell,
		Method:  domain.MethodMarket,
		Symbol:  "BTC_USDT",
		PosSide: domain.PosSideLong,
		Closed:  true,
		SigType: domain.SigManual,
		Payload: domain.OrderPayload{Qty: 2, ReduceOnly: true},
		CID:     1,
	}
	d.executeOne(context.Background(), sub)
	if client.placedCount() != 1 {
		t.Fatalf("bound follower placed %d orders, want 1", client.placedCount())
	}

	unbound := sub
	unbound.CID = 9
	d.executeOne(context.Background(), unbound)
	if client.placedCount() != 1 {
		t.Fatal("event for another follower must not execute here")
	}
}

func TestDispatcherRunWaitsForArmedMaster(t *testing.T) {
	client := newFakeOrderClient()
	f := newReadyFollower(t, 1, client)

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master", TradingEnabled: false},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	d := newTestDispatcher(t, accounts, registryWith(map[int]*Follower{1: f}), 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if err := d.Enqueue(marketBuy(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if client.placedCount() != 0 {
		t.Fatal("dispatcher executed while the master was disarmed")
	}

	// Arming the master releases the queue.
	if err := accounts.Update(ctx, 0, func(cfg *domain.FollowerConfig) error {
		cfg.TradingEnabled = true
		return nil
	}); err != nil {
		t.Fatalf("arm master: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for client.placedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("queued event never executed after arming")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
