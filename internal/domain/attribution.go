package domain

// AssetClassSummary is a read-side aggregation of the latest snapshot's
// positions grouped by asset class. It is a query projection, never persisted.
type AssetClassSummary struct {
	AssetClass       string
	TotalMarketValue float64
	TotalPnl         float64
	TotalWeight      float64
	AvgPnlPct        float64
}
