package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// Archiver journals every translated master event to object storage as
// JSONL batches, one object per flush, partitioned by day:
//
//	events/2025-01-17/1737121545-8f14e45f.jsonl
//
// It implements domain.EventSink. Observation never blocks the copy path;
// upload failures keep the batch for the next flush.
type Archiver struct {
	writer   domain.BlobWriter
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.MasterEvent
}

// NewArchiver creates an archiver flushing every interval.
func NewArchiver(writer domain.BlobWriter, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:   writer,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ObserveEvent buffers one event for the next flush.
func (a *Archiver) ObserveEvent(_ context.Context, ev domain.MasterEvent) {
	a.mu.Lock()
	a.pending = append(a.pending, ev)
	a.mu.Unlock()
}

// Run flushes on the configured interval until ctx is done, then once more
// on the way out.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Flush uploads the pending batch. On upload failure the batch is put back
// so no event is lost to a transient outage.
func (a *Archiver) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		a.logger.ErrorContext(ctx, "event batch encode failed", slog.String("error", err.Error()))
		return
	}

	key := archiveKey(time.Now().UTC())
	if err := a.writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		a.logger.WarnContext(ctx, "event archive upload failed",
			slog.String("key", key), slog.String("error", err.Error()))
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return
	}

	a.logger.DebugContext(ctx, "event batch archived",
		slog.String("key", key), slog.Int("count", len(batch)))
}

// archiveKey builds the object key for one batch, partitioned by day.
func archiveKey(now time.Time) string {
	return fmt.Sprintf("events/%s/%d-%s.jsonl",
		now.Format("2006-01-02"), now.Unix(), uuid.NewString()[:8])
}

// marshalJSONL serialises events as newline-delimited JSON.
func marshalJSONL(events []domain.MasterEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.EventSink = (*Archiver)(nil)
