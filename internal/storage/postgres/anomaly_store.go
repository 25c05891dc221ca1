package postgres

import (
	"context"
	"fmt"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// AnomalyStore implements storage.AnomalyStore using PostgreSQL.
type AnomalyStore struct {
	db querier
}

// NewAnomalyStore creates an AnomalyStore reading committed rows from the pool.
func NewAnomalyStore(pool *Pool) *AnomalyStore {
	return &AnomalyStore{db: pool}
}

// Compile-time interface check.
var _ storage.AnomalyStore = (*AnomalyStore)(nil)

// InsertBulk adds the cycle's flagged anomalies. A nil or empty slice writes nothing.
func (s *AnomalyStore) InsertBulk(ctx context.Context, recs []*domain.AnomalyRecord) error {
	if len(recs) == 0 {
		return nil
	}

	query := `
		INSERT INTO anomaly_log (detected_at, ticker, asset_class, current_price, prev_close, move_pct, zscore, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, rec := range recs {
		_, err := s.db.Exec(ctx, query,
			rec.DetectedAt,
			rec.Ticker,
			rec.AssetClass,
			rec.CurrentPrice,
			rec.PrevClose,
			rec.MovePct,
			rec.ZScore,
			string(rec.Severity),
		)
		if err != nil {
			return fmt.Errorf("insert anomaly record %s: %w", rec.Ticker, err)
		}
	}
	return nil
}
