package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// HealthStore implements storage.HealthStore using PostgreSQL.
//
// It is always bound to the pool, never to a cycle transaction: the health
// row must be written on an independent connection after the cycle's
// transaction resolves, or a rollback would erase the evidence of a failure.
type HealthStore struct {
	pool *Pool
}

// NewHealthStore creates a HealthStore bound to the pool.
func NewHealthStore(pool *Pool) *HealthStore {
	return &HealthStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HealthStore = (*HealthStore)(nil)

// Insert adds one cycle health record.
func (s *HealthStore) Insert(ctx context.Context, rec *domain.CycleHealthRecord) error {
	query := `
		INSERT INTO system_metrics (
			cycle_at, status, error_detail, ingestion_latency_ms, db_write_latency_ms,
			total_rows_processed, tickers_succeeded, tickers_failed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.CycleAt,
		string(rec.Status),
		rec.ErrorDetail,
		rec.IngestionLatencyMS,
		rec.DBWriteLatencyMS,
		rec.TotalRowsProcessed,
		rec.TickersSucceeded,
		rec.TickersFailed,
	)
	if err != nil {
		return fmt.Errorf("insert cycle health record: %w", err)
	}
	return nil
}

// scanHealthRecords scans multiple rows into a slice of CycleHealthRecord.
func scanHealthRecords(rows pgx.Rows) ([]*domain.CycleHealthRecord, error) {
	var records []*domain.CycleHealthRecord

	for rows.Next() {
		var rec domain.CycleHealthRecord

		err := rows.Scan(
			&rec.ID,
			&rec.CycleAt,
			&rec.Status,
			&rec.ErrorDetail,
			&rec.IngestionLatencyMS,
			&rec.DBWriteLatencyMS,
			&rec.TotalRowsProcessed,
			&rec.TickersSucceeded,
			&rec.TickersFailed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan system metrics row: %w", err)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system metrics rows: %w", err)
	}

	return records, nil
}
