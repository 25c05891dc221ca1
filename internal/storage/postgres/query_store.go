package postgres

import (
	"context"
	"fmt"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// QueryStore implements storage.QueryStore using PostgreSQL. It is the read
// surface consumed by the external query/API layer and only ever observes
// committed rows.
type QueryStore struct {
	pool *Pool
}

// NewQueryStore creates a QueryStore bound to the pool.
func NewQueryStore(pool *Pool) *QueryStore {
	return &QueryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.QueryStore = (*QueryStore)(nil)

// LatestPrices returns the most recent committed observation per ticker.
func (s *QueryStore) LatestPrices(ctx context.Context) (map[string]*domain.PriceObservation, error) {
	return (&PriceStore{db: s.pool}).LatestPerTicker(ctx)
}

// NavHistory returns the n most recent NAV snapshots in ascending computed_at order.
func (s *QueryStore) NavHistory(ctx context.Context, n int) ([]*domain.NavSnapshot, error) {
	query := `
		SELECT id, computed_at, total_nav, total_cost, total_pnl, total_pnl_pct
		FROM nav_snapshots
		ORDER BY computed_at DESC, id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("get nav history: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanNavSnapshots(rows)
	if err != nil {
		return nil, err
	}

	// Fetched DESC for the limit; reversed to ascending for time-series consumers.
	reverseSlice(snapshots)
	return snapshots, nil
}

// AssetClassAttribution aggregates the latest snapshot's positions by asset class.
func (s *QueryStore) AssetClassAttribution(ctx context.Context) ([]*domain.AssetClassSummary, error) {
	query := `
		SELECT asset_class,
		       SUM(market_value)   AS total_market_value,
		       SUM(unrealized_pnl) AS total_pnl,
		       SUM(weight)         AS total_weight,
		       AVG(pnl_pct)        AS avg_pnl_pct
		FROM position_snapshots
		WHERE nav_snapshot_id = (
			SELECT id FROM nav_snapshots ORDER BY computed_at DESC, id DESC LIMIT 1
		)
		GROUP BY asset_class
		ORDER BY total_market_value DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get asset class attribution: %w", err)
	}
	defer rows.Close()

	var summaries []*domain.AssetClassSummary
	for rows.Next() {
		var sum domain.AssetClassSummary
		err := rows.Scan(
			&sum.AssetClass,
			&sum.TotalMarketValue,
			&sum.TotalPnl,
			&sum.TotalWeight,
			&sum.AvgPnlPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attribution row: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribution rows: %w", err)
	}

	return summaries, nil
}

// PositionDetail returns the latest snapshot's positions ordered by market value DESC.
func (s *QueryStore) PositionDetail(ctx context.Context) ([]*domain.PositionSnapshot, error) {
	query := `
		SELECT id, nav_snapshot_id, ticker, asset_class, shares, price, cost_basis,
		       market_value, unrealized_pnl, pnl_pct, weight
		FROM position_snapshots
		WHERE nav_snapshot_id = (
			SELECT id FROM nav_snapshots ORDER BY computed_at DESC, id DESC LIMIT 1
		)
		ORDER BY market_value DESC, ticker ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get position detail: %w", err)
	}
	defer rows.Close()

	return scanPositionSnapshots(rows)
}

// ReconStatus returns the most recent record per check type.
func (s *QueryStore) ReconStatus(ctx context.Context) ([]*domain.ReconRecord, error) {
	query := `
		SELECT DISTINCT ON (check_type)
		       id, checked_at, check_type, expected_value, actual_value, delta_pct, status, detail
		FROM recon_log
		ORDER BY check_type, checked_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get recon status: %w", err)
	}
	defer rows.Close()

	return scanReconRecords(rows)
}

// SystemHealth returns the n most recent health records in ascending cycle_at order.
func (s *QueryStore) SystemHealth(ctx context.Context, n int) ([]*domain.CycleHealthRecord, error) {
	query := `
		SELECT id, cycle_at, status, error_detail, ingestion_latency_ms, db_write_latency_ms,
		       total_rows_processed, tickers_succeeded, tickers_failed
		FROM system_metrics
		ORDER BY cycle_at DESC, id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("get system health: %w", err)
	}
	defer rows.Close()

	records, err := scanHealthRecords(rows)
	if err != nil {
		return nil, err
	}

	reverseSlice(records)
	return records, nil
}

// reverseSlice reverses a slice in place.
func reverseSlice[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
