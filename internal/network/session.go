// Package network provides the self-healing HTTP session every exchange
// client runs on. A session owns one http.Client (optionally proxied),
// health-checks it against a public ping endpoint, and transparently
// recreates it after consecutive failures.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures a Session.
type Options struct {
	PingURL       string
	Proxy         string // optional http(s)/socks proxy URL
	PingInterval  time.Duration
	PingRetry     time.Duration // delay between fast retries after a failed ping
	PingFailLimit int           // consecutive failures before recreate
	SessionTTL    time.Duration // max wait for the session to become ready
	Timeout       time.Duration // per-request timeout of the owned client
	Logger        *slog.Logger
}

// Session is a supervised HTTP client. Ready flips to true once the client
// is built and stays true across recreates; callers that need a live client
// must go through WaitReady and Client.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	client *http.Client

	ready    atomic.Bool
	degraded atomic.Bool

	recreate singleflight.Group
}

// New builds a Session. The HTTP client is not created until Initialize.
func New(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PingFailLimit < 1 {
		opts.PingFailLimit = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		logger: logger.With(slog.String("component", "network_session")),
	}
}

// Initialize builds the owned HTTP client and marks the session ready.
func (s *Session) Initialize() error {
	client, err := s.build()
	if err != nil {
		return fmt.Errorf("network: initialize: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.degraded.Store(false)
	s.ready.Store(true)
	return nil
}

// Client returns the current HTTP client, or nil before Initialize.
func (s *Session) Client() *http.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Ready reports whether the session holds a usable client.
func (s *Session) Ready() bool {
	return s.ready.Load() && !s.degraded.Load()
}

// WaitReady blocks until the session is ready, polling every 10ms, for at
// most SessionTTL. Returns false on timeout or context cancellation.
func (s *Session) WaitReady(ctx context.Context) bool {
	deadline := time.Now().Add(s.opts.SessionTTL)
	for {
		if s.Ready() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// NotifyFailure marks the session degraded and recreates the client.
// Concurrent callers share one recreate via singleflight.
func (s *Session) NotifyFailure(ctx context.Context, reason string) {
	s.degraded.Store(true)
	_, _, _ = s.recreate.Do("recreate", func() (any, error) {
		s.logger.WarnContext(ctx, "recreating http session", slog.String("reason", reason))

		old := s.Client()
		client, err := s.build()
		if err != nil {
			s.logger.ErrorContext(ctx, "session recreate failed", slog.String("error", err.Error()))
			return nil, err
		}

		s.mu.Lock()
		s.client = client
		s.mu.Unlock()

		s.degraded.Store(false)
		s.ready.Store(true)

		// Close the old client's idle connections off the hot path, bounded
		// so a wedged transport cannot stall the recreate.
		if old != nil {
			done := make(chan struct{})
			go func() {
				old.CloseIdleConnections()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
			}
		}
		return nil, nil
	})
}

// RunPingLoop health-checks the session until ctx is done. Each cycle waits
// PingInterval, then pings; a failed ping is retried after PingRetry up to
// PingFailLimit times before the session is recreated.
func (s *Session) RunPingLoop(ctx context.Context) {
	if !s.WaitReady(ctx) {
		s.logger.Warn("ping loop: session never became ready")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.PingInterval):
		}

		if err := s.pingOnce(ctx); err == nil {
			continue
		}

		failed := true
		for i := 1; i < s.opts.PingFailLimit; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.PingRetry):
			}
			if err := s.pingOnce(ctx); err == nil {
				failed = false
				break
			}
		}
		if failed {
			s.NotifyFailure(ctx, "ping failures exceeded limit")
		}
	}
}

// Ping performs a single health check against the ping endpoint.
func (s *Session) Ping(ctx context.Context) error {
	return s.pingOnce(ctx)
}

func (s *Session) pingOnce(ctx context.Context) error {
	client := s.Client()
	if client == nil {
		return fmt.Errorf("network: ping: no client")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.PingURL, nil)
	if err != nil {
		return fmt.Errorf("network: ping request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("network: ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("network: ping: status %d", resp.StatusCode)
	}
	return nil
}

// build constructs a fresh HTTP client honoring the proxy option.
func (s *Session) build() (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if s.opts.Proxy != "" {
		proxyURL, err := url.Parse(s.opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("network: parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Timeout:   s.opts.Timeout,
		Transport: transport,
	}, nil
}
