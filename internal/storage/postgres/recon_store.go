package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// ReconStore implements storage.ReconStore using PostgreSQL.
type ReconStore struct {
	db querier
}

// NewReconStore creates a ReconStore reading committed rows from the pool.
func NewReconStore(pool *Pool) *ReconStore {
	return &ReconStore{db: pool}
}

// Compile-time interface check.
var _ storage.ReconStore = (*ReconStore)(nil)

// Insert adds one reconciliation record.
func (s *ReconStore) Insert(ctx context.Context, rec *domain.ReconRecord) error {
	query := `
		INSERT INTO recon_log (checked_at, check_type, expected_value, actual_value, delta_pct, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.Exec(ctx, query,
		rec.CheckedAt,
		string(rec.CheckType),
		rec.ExpectedValue,
		rec.ActualValue,
		rec.DeltaPct,
		string(rec.Status),
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert recon record: %w", err)
	}
	return nil
}

// scanReconRecords scans multiple rows into a slice of ReconRecord.
func scanReconRecords(rows pgx.Rows) ([]*domain.ReconRecord, error) {
	var records []*domain.ReconRecord

	for rows.Next() {
		var rec domain.ReconRecord

		err := rows.Scan(
			&rec.ID,
			&rec.CheckedAt,
			&rec.CheckType,
			&rec.ExpectedValue,
			&rec.ActualValue,
			&rec.DeltaPct,
			&rec.Status,
			&rec.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recon row: %w", err)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recon rows: %w", err)
	}

	return records, nil
}
