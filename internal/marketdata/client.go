// Package marketdata implements the market data gate: a per-instrument
// quote fetcher with a strict normalization boundary. Raw payloads are
// validated field by field so no non-finite or missing value ever crosses
// into the typed domain model.
package marketdata

import (
	"context"
	"time"
)

// Quote is the raw primary field set for one symbol, as delivered by the
// data source. Optional fields are nil when the source omitted them; numeric
// values are unvalidated and may be non-finite.
type Quote struct {
	Symbol     string
	Price      *float64
	PrevClose  *float64
	Volume     *float64
	DayOpen    *float64
	DayHigh    *float64
	DayLow     *float64
	MarketTime *time.Time // the source's own clock, not ours
}

// Bar is one raw daily bar from the secondary historical source.
type Bar struct {
	Time   time.Time
	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume *float64
}

// QuoteClient fetches raw market data for single symbols. Implementations
// return errors for transport and payload problems; they never sanitize
// values, that is the gate's job.
type QuoteClient interface {
	// Quote fetches the current primary field set for one symbol.
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// DailyBars fetches up to limit most recent daily bars for one symbol,
	// ordered by time ASC.
	DailyBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}
