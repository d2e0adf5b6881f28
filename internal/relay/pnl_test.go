package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alanyoungcy/copyrelay/internal/config"
	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

// memStore is an in-memory config store counting saves.
type memStore struct {
	mu       sync.Mutex
	accounts map[int]*domain.FollowerConfig
	saves    int
	saveErr  error
}

func (s *memStore) Load(ctx context.Context) (map[int]*domain.FollowerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*domain.FollowerConfig, len(s.accounts))
	for cid, cfg := range s.accounts {
		c := *cfg
		out[cid] = &c
	}
	return out, nil
}

func (s *memStore) Save(ctx context.Context, accounts map[int]*domain.FollowerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.accounts = make(map[int]*domain.FollowerConfig, len(accounts))
	for cid, cfg := range accounts {
		c := *cfg
		s.accounts[cid] = &c
	}
	return nil
}

func newTestAccounts(t *testing.T, cfgs ...domain.FollowerConfig) (*Accounts, *memStore) {
	t.Helper()
	store := &memStore{accounts: make(map[int]*domain.FollowerConfig)}
	for i := range cfgs {
		c := cfgs[i]
		store.accounts[c.ID] = &c
	}
	a := NewAccounts(store, nil)
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	return a, store
}

func registryWith(followers map[int]*Follower) *Registry {
	r := NewRegistry(config.Exchange{}, nil, nil)
	for cid, f := range followers {
		r.followers[cid] = f
		r.active[cid] = true
	}
	return r
}

func parkClosed(f *Follower, symbol string, side domain.PosSide, entryTS int64) {
	f.Table.Mutate(symbol, side, func(st *domain.PositionState) {
		st.EntryTS = entryTS
		st.Pending = domain.PendingClosed
	})
}

func TestCollectClosedUsesBatch(t *testing.T) {
	client := newFakeOrderClient()
	client.batch = map[mexc.PnLKey]mexc.PnLAgg{
		{Symbol: "BTC_USDT", Direction: 2}: {PnlUSDT: 12.5, PnlPct: 3.1},
	}
	f := newReadyFollower(t, 1, client)
	parkClosed(f, "BTC_USDT", domain.PosSideShort, 1700000000000)

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master"},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	r := NewReporter(registryWith(map[int]*Follower{1: f}), accounts, nil)

	reports := r.CollectClosed(context.Background(), []int{1})
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	rep := reports[0]
	if rep.CID != 1 || rep.Symbol != "BTC_USDT" || rep.PosSide != domain.PosSideShort {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.PnlUSDT == nil || *rep.PnlUSDT != 12.5 {
		t.Fatalf("pnl not taken from batch: %+v", rep)
	}
	if client.singleCalls != 0 {
		t.Fatalf("fallback used despite batch hit: %d calls", client.singleCalls)
	}

	// The slot is unparked and the entry stamp cleared; a second collection
	// finds nothing.
	st, _ := f.Table.Get("BTC_USDT", domain.PosSideShort)
	if st.Pending != "" || st.EntryTS != 0 {
		t.Fatalf("slot not cleared: %+v", st)
	}
	if again := r.CollectClosed(context.Background(), []int{1}); len(again) != 0 {
		t.Fatalf("close reported twice: %v", again)
	}
}

func TestCollectClosedFallsBackPerPosition(t *testing.T) {
	client := newFakeOrderClient()
	client.batch = map[mexc.PnLKey]mexc.PnLAgg{} // batch misses the symbol
	client.single = &mexc.PnLAgg{PnlUSDT: -4, PnlPct: -1.2}
	f := newReadyFollower(t, 1, client)
	parkClosed(f, "ETH_USDT", domain.PosSideLong, 1700000000000)

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master"},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	r := NewReporter(registryWith(map[int]*Follower{1: f}), accounts, nil)

	reports := r.CollectClosed(context.Background(), []int{1})
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].PnlUSDT == nil || *reports[0].PnlUSDT != -4 {
		t.Fatalf("fallback pnl wrong: %+v", reports[0])
	}
	if client.singleCalls != 1 {
		t.Fatalf("fallback calls=%d, want 1", client.singleCalls)
	}
}

func TestCollectClosedReportsFetchFailure(t *testing.T) {
	client := newFakeOrderClient()
	client.batchErr = errors.New("exchange down")
	client.singleErr = errors.New("exchange down")
	f := newReadyFollower(t, 1, client)
	parkClosed(f, "BTC_USDT", domain.PosSideLong, 1700000000000)

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master"},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	r := NewReporter(registryWith(map[int]*Follower{1: f}), accounts, nil)

	reports := r.CollectClosed(context.Background(), []int{1})
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].Err != "PNL_FETCH_FAILED" || reports[0].PnlUSDT != nil {
		t.Fatalf("failure not reported: %+v", reports[0])
	}
}

func TestCollectClosedSkipsInvalidEntryStamp(t *testing.T) {
	client := newFakeOrderClient()
	f := newReadyFollower(t, 1, client)
	parkClosed(f, "BTC_USDT", domain.PosSideLong, 0)

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master"},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: true},
	)
	r := NewReporter(registryWith(map[int]*Follower{1: f}), accounts, nil)

	if reports := r.CollectClosed(context.Background(), []int{1}); len(reports) != 0 {
		t.Fatalf("reported without an entry stamp: %v", reports)
	}
	if client.batchCalls != 0 {
		t.Fatal("batch fetched without any valid window")
	}
}

func TestCollectClosedSkipsDisabledFollowers(t *testing.T) {
	client := newFakeOrderClient()
	client.batch = map[mexc.PnLKey]mexc.PnLAgg{
		{Symbol: "BTC_USDT", Direction: 1}: {PnlUSDT: 1},
	}
	f := newReadyFollower(t, 1, client)
	parkClosed(f, "BTC_USDT", domain.PosSideLong, 1700000000000)

	accounts, _ := newTestAccounts(t,
		domain.FollowerConfig{ID: 0, Role: "master"},
		domain.FollowerConfig{ID: 1, Role: "copy", Enabled: false},
	)
	r := NewReporter(registryWith(map[int]*Follower{1: f}), accounts, nil)

	if reports := r.CollectClosed(context.Background(), []int{1}); len(reports) != 0 {
		t.Fatalf("disabled follower reported: %v", reports)
	}
}
