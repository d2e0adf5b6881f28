package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

const (
	pathContractDetail = "/api/v1/contract/detail"

	// Instrument rows occasionally omit scales; these match the exchange's
	// documented defaults.
	defaultVolScale   = 3
	defaultPriceScale = 2
)

// PublicClient talks to the unauthenticated contract endpoints. It runs on a
// plain HTTP client since public data needs neither signing nor the
// supervised session.
type PublicClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewPublicClient builds a PublicClient against the contract base URL.
func NewPublicClient(baseURL string, timeout time.Duration, logger *slog.Logger) *PublicClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "mexc_public")),
	}
}

// GetInstruments fetches the full instrument list and converts it into
// contract specs keyed by the exchange's underscore symbol form.
func (c *PublicClient) GetInstruments(ctx context.Context) ([]domain.ContractSpec, error) {
	resp, err := c.get(ctx, pathContractDetail)
	if err != nil {
		return nil, err
	}

	var entries []instrumentEntry
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		return nil, fmt.Errorf("mexc: instrument list decode: %w", err)
	}

	specs := make([]domain.ContractSpec, 0, len(entries))
	for _, e := range entries {
		if e.Symbol == "" {
			continue
		}
		spec := domain.ContractSpec{
			Symbol:            e.Symbol,
			ContractPrecision: defaultVolScale,
			PricePrecision:    defaultPriceScale,
			ContractSize:      e.ContractSize,
			PriceUnit:         e.PriceUnit,
			VolUnit:           e.VolUnit,
		}
		if e.VolScale != nil {
			spec.ContractPrecision = *e.VolScale
		}
		if e.PriceScale != nil {
			spec.PricePrecision = *e.PriceScale
		}
		if lev, err := e.MaxLeverage.Int64(); err == nil {
			spec.MaxLeverage = int(lev)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c *PublicClient) get(ctx context.Context, path string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("mexc: build public request %s: %w", path, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mexc: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("mexc: read %s response: %w", path, err)
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("mexc: decode %s response (status %d): %w", path, resp.StatusCode, err)
	}
	if !out.Success || out.Code != 0 {
		return nil, fmt.Errorf("mexc: %s: code %d: %s", path, out.Code, out.Message)
	}
	return &out, nil
}

// SpecCache keeps the instrument specs warm. It implements
// domain.SpecProvider and refreshes the full list on a fixed period so
// sizing always works from reasonably fresh contract parameters.
type SpecCache struct {
	client *PublicClient
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	specs map[string]domain.ContractSpec

	loaded chan struct{}
	once   sync.Once
}

// NewSpecCache builds an empty cache refreshing every ttl.
func NewSpecCache(client *PublicClient, ttl time.Duration, logger *slog.Logger) *SpecCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SpecCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "spec_cache")),
		specs:  make(map[string]domain.ContractSpec),
		loaded: make(chan struct{}),
	}
}

// Spec implements domain.SpecProvider.
func (s *SpecCache) Spec(symbol string) (domain.ContractSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[symbol]
	return spec, ok
}

// WaitLoaded blocks until the first successful refresh.
func (s *SpecCache) WaitLoaded(ctx context.Context) error {
	select {
	case <-s.loaded:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mexc: spec cache: %w", ctx.Err())
	}
}

// Run refreshes the cache until ctx is done. The initial load is retried
// aggressively so startup does not proceed on an empty cache.
func (s *SpecCache) Run(ctx context.Context) {
	s.refreshWithRetry(ctx)

	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshWithRetry(ctx)
		}
	}
}

// refreshWithRetry attempts one refresh cycle, retrying transient failures
// up to 10 times with a short pause.
func (s *SpecCache) refreshWithRetry(ctx context.Context) {
	for attempt := 1; attempt <= 10; attempt++ {
		err := s.refresh(ctx)
		if err == nil {
			return
		}
		s.logger.WarnContext(ctx, "spec refresh failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(800 * time.Millisecond):
		}
	}
}

func (s *SpecCache) refresh(ctx context.Context) error {
	specs, err := s.client.GetInstruments(ctx)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("mexc: empty instrument list")
	}

	next := make(map[string]domain.ContractSpec, len(specs))
	for _, spec := range specs {
		next[spec.Symbol] = spec
	}

	s.mu.Lock()
	s.specs = next
	s.mu.Unlock()

	s.once.Do(func() { close(s.loaded) })
	return nil
}
