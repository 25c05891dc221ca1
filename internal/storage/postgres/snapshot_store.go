package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	db querier
}

// NewSnapshotStore creates a SnapshotStore reading committed rows from the pool.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{db: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertNav adds a NAV snapshot row and returns its generated id.
func (s *SnapshotStore) InsertNav(ctx context.Context, snap *domain.NavSnapshot) (int64, error) {
	query := `
		INSERT INTO nav_snapshots (computed_at, total_nav, total_cost, total_pnl, total_pnl_pct)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRow(ctx, query,
		snap.ComputedAt,
		snap.TotalNav,
		snap.TotalCost,
		snap.TotalPnl,
		snap.TotalPnlPct,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert nav snapshot: %w", err)
	}
	return id, nil
}

// InsertPositions adds the snapshot's position children.
func (s *SnapshotStore) InsertPositions(ctx context.Context, positions []*domain.PositionSnapshot) error {
	query := `
		INSERT INTO position_snapshots (
			nav_snapshot_id, ticker, asset_class, shares, price, cost_basis,
			market_value, unrealized_pnl, pnl_pct, weight
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, pos := range positions {
		_, err := s.db.Exec(ctx, query,
			pos.NavSnapshotID,
			pos.Ticker,
			pos.AssetClass,
			pos.Shares,
			pos.Price,
			pos.CostBasis,
			pos.MarketValue,
			pos.UnrealizedPnl,
			pos.PnlPct,
			pos.Weight,
		)
		if err != nil {
			return fmt.Errorf("insert position snapshot %s: %w", pos.Ticker, err)
		}
	}
	return nil
}

// SumPositionValues sums persisted position market values for a snapshot.
func (s *SnapshotStore) SumPositionValues(ctx context.Context, navSnapshotID int64) (float64, error) {
	query := `SELECT COALESCE(SUM(market_value), 0) FROM position_snapshots WHERE nav_snapshot_id = $1`

	var sum float64
	if err := s.db.QueryRow(ctx, query, navSnapshotID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum position values: %w", err)
	}
	return sum, nil
}

// CountPositions counts distinct tickers persisted for a snapshot.
func (s *SnapshotStore) CountPositions(ctx context.Context, navSnapshotID int64) (int, error) {
	query := `SELECT COUNT(DISTINCT ticker) FROM position_snapshots WHERE nav_snapshot_id = $1`

	var count int
	if err := s.db.QueryRow(ctx, query, navSnapshotID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return count, nil
}

// scanNavSnapshots scans multiple rows into a slice of NavSnapshot.
func scanNavSnapshots(rows pgx.Rows) ([]*domain.NavSnapshot, error) {
	var snapshots []*domain.NavSnapshot

	for rows.Next() {
		var snap domain.NavSnapshot

		err := rows.Scan(
			&snap.ID,
			&snap.ComputedAt,
			&snap.TotalNav,
			&snap.TotalCost,
			&snap.TotalPnl,
			&snap.TotalPnlPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan nav snapshot row: %w", err)
		}

		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nav snapshot rows: %w", err)
	}

	return snapshots, nil
}

// scanPositionSnapshots scans multiple rows into a slice of PositionSnapshot.
func scanPositionSnapshots(rows pgx.Rows) ([]*domain.PositionSnapshot, error) {
	var positions []*domain.PositionSnapshot

	for rows.Next() {
		var pos domain.PositionSnapshot

		err := rows.Scan(
			&pos.ID,
			&pos.NavSnapshotID,
			&pos.Ticker,
			&pos.AssetClass,
			&pos.Shares,
			&pos.Price,
			&pos.CostBasis,
			&pos.MarketValue,
			&pos.UnrealizedPnl,
			&pos.PnlPct,
			&pos.Weight,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position snapshot row: %w", err)
		}

		positions = append(positions, &pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position snapshot rows: %w", err)
	}

	return positions, nil
}
