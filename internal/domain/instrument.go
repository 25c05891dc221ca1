package domain

// Asset class labels used in position snapshots and attribution queries.
const (
	AssetClassEquity        = "equity"
	AssetClassFixedIncome   = "fixed_income"
	AssetClassCommodity     = "commodity"
	AssetClassInternational = "international"
	AssetClassCashEquiv     = "cash_equiv"
)

// Instrument is one position in the configured book: a ticker with a fixed,
// positive share count and cost basis. Instruments are defined once at
// process configuration time and never persisted; every snapshot row
// references them by ticker.
type Instrument struct {
	Ticker     string
	AssetClass string
	Shares     float64
	CostBasis  float64
}

// Cost returns the position's total cost (shares × cost basis).
func (i Instrument) Cost() float64 {
	return i.Shares * i.CostBasis
}
