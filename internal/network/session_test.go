package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestInitializeMakesReady(t *testing.T) {
	s := New(Options{SessionTTL: time.Second})

	if s.Ready() || s.Client() != nil {
		t.Fatal("session ready before Initialize")
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !s.Ready() || s.Client() == nil {
		t.Fatal("session not ready after Initialize")
	}
	if !s.WaitReady(context.Background()) {
		t.Fatal("WaitReady must return immediately on a ready session")
	}
}

func TestInitializeRejectsBadProxy(t *testing.T) {
	s := New(Options{Proxy: "http://[::1"})
	if err := s.Initialize(); err == nil {
		t.Fatal("unparsable proxy url accepted")
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	s := New(Options{SessionTTL: 50 * time.Millisecond})
	if s.WaitReady(context.Background()) {
		t.Fatal("WaitReady succeeded without Initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s2 := New(Options{SessionTTL: time.Minute})
	if s2.WaitReady(ctx) {
		t.Fatal("WaitReady ignored the cancelled context")
	}
}

func TestPingAgainstEndpoint(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	s := New(Options{PingURL: srv.URL, SessionTTL: time.Second})
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("healthy ping failed: %v", err)
	}
	status.Store(http.StatusBadGateway)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("failing endpoint must error")
	}
}

func TestNotifyFailureRecreatesClient(t *testing.T) {
	s := New(Options{SessionTTL: time.Second})
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	old := s.Client()

	s.NotifyFailure(context.Background(), "forced")

	if !s.Ready() {
		t.Fatal("session must be ready again after the recreate")
	}
	if s.Client() == nil || s.Client() == old {
		t.Fatal("client not replaced")
	}
}
