package storage

import (
	"context"

	"portfolio-ops/internal/domain"
)

// PriceStore provides access to price_snapshots storage.
type PriceStore interface {
	// Insert adds one observation row.
	Insert(ctx context.Context, obs *domain.PriceObservation) error

	// LatestPerTicker retrieves the most recent observation for every ticker,
	// keyed by ticker. Inside a cycle transaction this sees the rows written
	// by that transaction.
	LatestPerTicker(ctx context.Context) (map[string]*domain.PriceObservation, error)

	// RecentByTicker retrieves up to limit observations for one ticker,
	// ordered by fetched_at DESC (most recent first).
	RecentByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceObservation, error)
}

// SnapshotStore provides access to nav_snapshots and position_snapshots.
type SnapshotStore interface {
	// InsertNav adds a NAV snapshot row and returns its generated id.
	InsertNav(ctx context.Context, snap *domain.NavSnapshot) (int64, error)

	// InsertPositions adds the snapshot's position children.
	InsertPositions(ctx context.Context, positions []*domain.PositionSnapshot) error

	// SumPositionValues sums persisted position market values for a snapshot.
	SumPositionValues(ctx context.Context, navSnapshotID int64) (float64, error)

	// CountPositions counts distinct tickers persisted for a snapshot.
	CountPositions(ctx context.Context, navSnapshotID int64) (int, error)
}

// ReconStore provides access to recon_log storage.
type ReconStore interface {
	Insert(ctx context.Context, rec *domain.ReconRecord) error
}

// AnomalyStore provides access to anomaly_log storage.
type AnomalyStore interface {
	InsertBulk(ctx context.Context, recs []*domain.AnomalyRecord) error
}

// HealthStore provides access to system_metrics storage. Implementations
// must write outside any cycle transaction: the health row is the one record
// that survives a rolled-back cycle.
type HealthStore interface {
	Insert(ctx context.Context, rec *domain.CycleHealthRecord) error
}

// CycleTx is the atomic write scope for one cycle. Every store obtained from
// it operates inside the same pending transaction, so the reconciliation
// reads observe the cycle's own uncommitted rows. Rollback after Commit is a
// no-op, which allows the deferred-rollback idiom.
type CycleTx interface {
	Prices() PriceStore
	Snapshots() SnapshotStore
	Recon() ReconStore
	Anomalies() AnomalyStore

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens cycle transactions.
type TxBeginner interface {
	BeginCycle(ctx context.Context) (CycleTx, error)
}

// QueryStore is the read surface consumed by the external query/API layer.
// It only ever observes committed rows.
type QueryStore interface {
	// LatestPrices returns the most recent committed observation per ticker.
	LatestPrices(ctx context.Context) (map[string]*domain.PriceObservation, error)

	// NavHistory returns the n most recent NAV snapshots in ascending
	// computed_at order.
	NavHistory(ctx context.Context, n int) ([]*domain.NavSnapshot, error)

	// AssetClassAttribution aggregates the latest snapshot's positions by
	// asset class.
	AssetClassAttribution(ctx context.Context) ([]*domain.AssetClassSummary, error)

	// PositionDetail returns the latest snapshot's positions ordered by
	// market value DESC.
	PositionDetail(ctx context.Context) ([]*domain.PositionSnapshot, error)

	// ReconStatus returns the most recent record per check type.
	ReconStatus(ctx context.Context) ([]*domain.ReconRecord, error)

	// SystemHealth returns the n most recent health records in ascending
	// cycle_at order.
	SystemHealth(ctx context.Context, n int) ([]*domain.CycleHealthRecord, error)
}
