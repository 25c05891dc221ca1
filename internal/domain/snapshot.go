package domain

import "time"

// NavSnapshot is the portfolio-level valuation result for one cycle.
// Corresponds to the nav_snapshots table.
type NavSnapshot struct {
	ID          int64 // BIGSERIAL primary key
	ComputedAt  time.Time
	TotalNav    float64
	TotalCost   float64
	TotalPnl    float64
	TotalPnlPct float64
}

// PositionSnapshot is one valued position within a NavSnapshot.
// Corresponds to the position_snapshots table; rows never outlive their
// parent snapshot (FK with cascade).
type PositionSnapshot struct {
	ID            int64
	NavSnapshotID int64 // FK to nav_snapshots
	Ticker        string
	AssetClass    string
	Shares        float64
	Price         float64
	CostBasis     float64
	MarketValue   float64
	UnrealizedPnl float64
	PnlPct        float64
	Weight        float64 // share of TotalNav, weights sum to 1.0
}
