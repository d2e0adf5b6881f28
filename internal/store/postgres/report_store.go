package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// InsertReports appends a batch of realized-PnL reports in one round trip.
func (s *ReportStore) InsertReports(ctx context.Context, reports []domain.PnLReport) error {
	if len(reports) == 0 {
		return nil
	}

	const query = `
		INSERT INTO pnl_reports (id, cid, symbol, pos_side, pnl_usdt, pnl_pct, entry_ts, exit_ts, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range reports {
		batch.Queue(query, r.ID, r.CID, r.Symbol, string(r.PosSide),
			r.PnlUSDT, r.PnlPct, r.EntryTS, r.ExitTS, r.Err)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range reports {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert pnl report: %w", err)
		}
	}
	return nil
}

// InsertOrderAudits appends a batch of order audit records.
func (s *ReportStore) InsertOrderAudits(ctx context.Context, audits []domain.OrderAudit) error {
	if len(audits) == 0 {
		return nil
	}

	const query = `
		INSERT INTO order_audits (id, cid, symbol, pos_side, method, contracts, price, success, reason, master_order, copy_order, ts)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, a := range audits {
		batch.Queue(query, a.ID, a.CID, a.Symbol, string(a.PosSide), a.Method,
			a.Contracts, a.Price, a.Success, a.Reason, a.MasterOrder, a.CopyOrder, a.TS)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range audits {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert order audit: %w", err)
		}
	}
	return nil
}
