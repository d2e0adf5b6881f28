package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

const (
	eventChannel  = "copyrelay:events"
	reportChannel = "copyrelay:reports"
	eventStream   = "copyrelay:stream:events"
	reportStream  = "copyrelay:stream:reports"
)

// SignalBus implements domain.SignalBus. Every message goes out twice:
// Pub/Sub for live consumers and an XADD-journaled stream for consumers that
// replay.
type SignalBus struct {
	rdb          *redis.Client
	streamMaxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client. maxLen bounds
// the journal streams (XADD MAXLEN ~); zero keeps the 10k default.
func NewSignalBus(c *Client, maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{rdb: c.Underlying(), streamMaxLen: int64(maxLen)}
}

// PublishEvent fans one translated master event out to the event channel and
// journal stream.
func (sb *SignalBus) PublishEvent(ctx context.Context, ev domain.MasterEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	return sb.send(ctx, eventChannel, eventStream, payload)
}

// PublishReports publishes a batch of realized-PnL reports.
func (sb *SignalBus) PublishReports(ctx context.Context, reports []domain.PnLReport) error {
	payload, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("redis: encode reports: %w", err)
	}
	return sb.send(ctx, reportChannel, reportStream, payload)
}

func (sb *SignalBus) send(ctx context.Context, channel, stream string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
