package domain

import "time"

// Data source identifiers recorded on each observation.
const (
	SourceQuote     = "quote"
	SourceDailyBars = "daily_bars"
)

// PriceObservation is one fetch result for one instrument in one cycle.
// Corresponds to the price_snapshots table. Rows are append-only.
//
// Price is always present and finite. Every other numeric field is either a
// finite number or nil; the gate sanitizes non-finite values before an
// observation is constructed, so nothing downstream needs to re-check.
type PriceObservation struct {
	ID         int64 // BIGSERIAL primary key
	Ticker     string
	FetchedAt  time.Time  // capture time (our clock)
	MarketTime *time.Time // origin time (the source's clock), nil when unavailable
	Price      float64
	Volume     *float64
	DayOpen    *float64
	DayHigh    *float64
	DayLow     *float64
	PrevClose  *float64
	DataSource string // SourceQuote | SourceDailyBars
}

// EffectiveTime returns the observation's origin time when present, falling
// back to the capture time. Used for staleness checks.
func (o *PriceObservation) EffectiveTime() time.Time {
	if o.MarketTime != nil {
		return *o.MarketTime
	}
	return o.FetchedAt
}
