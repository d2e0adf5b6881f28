package relay

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/config"
	"github.com/alanyoungcy/copyrelay/internal/crypto"
	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

const (
	supervisorPoll    = 50 * time.Millisecond
	streamReadyLimit  = 15 * time.Second
	intentSetTTL      = 24 * time.Hour
	hardStopBackoff   = 300 * time.Millisecond
	pausedBackoff     = 200 * time.Millisecond
	noCredsBackoff    = 300 * time.Millisecond
	reloadFailBackoff = 500 * time.Millisecond
)

// MasterStream is the master account's push connection as the supervisor
// sees it.
type MasterStream interface {
	Run(ctx context.Context)
	Ready() bool
}

// StreamFactory builds a master stream feeding the given cache.
type StreamFactory func(creds domain.ExchangeCreds, cache *SignalCache) MasterStream

// Supervisor drives the master-side lifecycle: it watches the master
// account record and brings the stream, the translator and the dispatcher
// up or down as credentials and runtime switches change.
type Supervisor struct {
	exchange   config.Exchange
	accounts   *Accounts
	dispatcher *Dispatcher
	streams    StreamFactory
	logger     *slog.Logger

	// current generation
	stream       MasterStream
	cancelStream context.CancelFunc
	cancelCopy   context.CancelFunc
	lastHash     string
}

// NewSupervisor builds a supervisor. A nil factory uses the real exchange
// stream.
func NewSupervisor(exchange config.Exchange, accounts *Accounts, dispatcher *Dispatcher, streams StreamFactory, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		exchange:   exchange,
		accounts:   accounts,
		dispatcher: dispatcher,
		streams:    streams,
		logger:     logger.With(slog.String("component", "supervisor")),
	}
	if s.streams == nil {
		s.streams = func(creds domain.ExchangeCreds, cache *SignalCache) MasterStream {
			return mexc.NewStream(mexc.StreamOptions{
				WsURL:        exchange.WsURL,
				Auth:         &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret},
				Proxy:        creds.Proxy,
				QuoteAsset:   exchange.QuoteAsset,
				BlackSymbols: exchange.BlackSymbols,
				Sink:         cache,
				Logger:       logger,
			})
		}
	}
	return s
}

// Run executes the supervisor loop until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "master supervisor started")
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "master supervisor exit")
			return
		case <-time.After(supervisorPoll):
		}

		master, ok := s.accounts.Master()
		if !ok {
			continue
		}
		creds := master.Exchange

		// HARD STOP: tear the whole master side down.
		if master.StopFlag {
			if s.stream != nil {
				s.logger.InfoContext(ctx, "hard stop")
				s.teardown()
				s.lastHash = ""
			}
			sleep(ctx, hardStopBackoff)
			continue
		}

		// PAUSED: keep everything alive, execute nothing new.
		if !master.TradingEnabled {
			sleep(ctx, pausedBackoff)
			continue
		}

		if !creds.HasCreds() {
			sleep(ctx, noCredsBackoff)
			continue
		}

		// RUNNING with unchanged credentials.
		cur := credsHash(creds)
		if cur == s.lastHash && s.stream != nil {
			sleep(ctx, pausedBackoff)
			continue
		}

		// RELOAD: first start or credential change.
		s.logger.InfoContext(ctx, "reload master stream")
		s.teardown()

		if !s.startGeneration(ctx, creds) {
			sleep(ctx, reloadFailBackoff)
			continue
		}

		s.lastHash = cur
		s.logger.InfoContext(ctx, "enter running")
	}
}

// startGeneration brings up a fresh cache, stream, translator and copy
// loop. Returns false when the stream does not come up in time.
func (s *Supervisor) startGeneration(ctx context.Context, creds domain.ExchangeCreds) bool {
	cache := NewSignalCache()
	stream := s.streams(creds, cache)

	streamCtx, cancelStream := context.WithCancel(ctx)
	go stream.Run(streamCtx)

	deadline := time.Now().Add(streamReadyLimit)
	for !stream.Ready() {
		if ctx.Err() != nil || time.Now().After(deadline) {
			s.logger.ErrorContext(ctx, "stream start timeout")
			cancelStream()
			return false
		}
		sleep(ctx, supervisorPoll)
	}
	s.logger.InfoContext(ctx, "master stream ready")

	translator := NewTranslator(cache, s.dispatcher.Queue(), NewIntentSet(intentSetTTL), s.logger)
	go translator.Run(streamCtx)

	copyCtx, cancelCopy := context.WithCancel(ctx)
	go s.dispatcher.Run(copyCtx)

	s.stream = stream
	s.cancelStream = cancelStream
	s.cancelCopy = cancelCopy
	return true
}

func (s *Supervisor) teardown() {
	if s.cancelCopy != nil {
		s.cancelCopy()
		s.cancelCopy = nil
	}
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	s.stream = nil
}

// credsHash fingerprints the credential triple driving reloads.
func credsHash(creds domain.ExchangeCreds) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", creds.APIKey, creds.APISecret, creds.Proxy)))
	return hex.EncodeToString(sum[:])
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
