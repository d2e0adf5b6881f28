package domain

import "context"

// ConfigStore persists the account records keyed by id.
type ConfigStore interface {
	Load(ctx context.Context) (map[int]*FollowerConfig, error)
	Save(ctx context.Context, accounts map[int]*FollowerConfig) error
}

// ReportStore journals realized-PnL reports and order audits.
type ReportStore interface {
	InsertReports(ctx context.Context, reports []PnLReport) error
	InsertOrderAudits(ctx context.Context, audits []OrderAudit) error
}

// SignalBus publishes translated events and reports for external consumers.
type SignalBus interface {
	PublishEvent(ctx context.Context, ev MasterEvent) error
	PublishReports(ctx context.Context, reports []PnLReport) error
}

// BlobWriter stores an object in blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// EventSink receives every translated master event after fan-out. Sinks are
// best-effort; failures are logged, never propagated to the copy path.
type EventSink interface {
	ObserveEvent(ctx context.Context, ev MasterEvent)
}
