package marketdata

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/domain"
)

// barFallbackDepth is how many daily bars the secondary source is asked for.
// The most recent usable bar wins; one earlier bar supplies prev_close.
const barFallbackDepth = 5

// Gate fetches and normalizes observations one instrument at a time.
// A single instrument's failure or malformed payload never prevents any
// other instrument's observation from being collected.
type Gate struct {
	client  QuoteClient
	timeout time.Duration // per-instrument bound; a hung fetch becomes an ordinary failure
	logger  *zap.Logger
	clock   func() time.Time
}

// NewGate creates a Gate. A nil logger disables logging.
func NewGate(client QuoteClient, timeout time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		client:  client,
		timeout: timeout,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock overrides the capture-time source. Used by tests.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// FetchAll fetches every ticker strictly one at a time. Successes land in a
// map keyed by ticker; failed tickers are returned in input order. Failures
// are logged at warning level and never abort the remaining instruments.
func (g *Gate) FetchAll(ctx context.Context, tickers []string) (map[string]*domain.PriceObservation, []string) {
	results := make(map[string]*domain.PriceObservation, len(tickers))
	var failed []string

	for _, ticker := range tickers {
		obs, err := g.FetchOne(ctx, ticker)
		if err != nil {
			g.logger.Warn("failed to fetch ticker",
				zap.String("ticker", ticker),
				zap.Error(err))
			failed = append(failed, ticker)
			continue
		}
		results[ticker] = obs
	}

	return results, failed
}

// FetchOne returns a normalized observation for one ticker, or an error.
// The primary quote source is tried first; when it cannot supply a usable
// price the most recent daily bar is used instead. Every numeric field is
// validated individually: non-finite values become absent, never NaN. A
// price of exactly zero is valid data.
func (g *Gate) FetchOne(ctx context.Context, ticker string) (*domain.PriceObservation, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	obs, primaryErr := g.fetchQuote(ctx, ticker)
	if primaryErr == nil {
		return obs, nil
	}

	obs, fallbackErr := g.fetchFromBars(ctx, ticker)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary: %v; fallback: %w", primaryErr, fallbackErr)
	}
	return obs, nil
}

// fetchQuote builds an observation from the primary quote field set.
func (g *Gate) fetchQuote(ctx context.Context, ticker string) (*domain.PriceObservation, error) {
	quote, err := g.client.Quote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	// Price is required; a missing or non-finite price fails the primary path.
	price := sanitize(quote.Price)
	if price == nil {
		return nil, fmt.Errorf("quote for %s has no usable price", ticker)
	}

	obs := &domain.PriceObservation{
		Ticker:     ticker,
		FetchedAt:  g.clock().UTC(),
		Price:      *price,
		Volume:     sanitize(quote.Volume),
		DayOpen:    sanitize(quote.DayOpen),
		DayHigh:    sanitize(quote.DayHigh),
		DayLow:     sanitize(quote.DayLow),
		PrevClose:  sanitize(quote.PrevClose),
		DataSource: domain.SourceQuote,
	}
	if quote.MarketTime != nil {
		t := quote.MarketTime.UTC()
		obs.MarketTime = &t
	}
	return obs, nil
}

// fetchFromBars builds an observation from the most recent usable daily bar.
// The bar immediately before it supplies prev_close when available.
func (g *Gate) fetchFromBars(ctx context.Context, ticker string) (*domain.PriceObservation, error) {
	bars, err := g.client.DailyBars(ctx, ticker, barFallbackDepth)
	if err != nil {
		return nil, err
	}

	for i := len(bars) - 1; i >= 0; i-- {
		bar := bars[i]
		price := sanitize(bar.Close)
		if price == nil {
			continue
		}

		barTime := bar.Time.UTC()
		obs := &domain.PriceObservation{
			Ticker:     ticker,
			FetchedAt:  g.clock().UTC(),
			MarketTime: &barTime,
			Price:      *price,
			Volume:     sanitize(bar.Volume),
			DayOpen:    sanitize(bar.Open),
			DayHigh:    sanitize(bar.High),
			DayLow:     sanitize(bar.Low),
			DataSource: domain.SourceDailyBars,
		}
		if i > 0 {
			obs.PrevClose = sanitize(bars[i-1].Close)
		}
		return obs, nil
	}

	return nil, fmt.Errorf("no usable daily bar for %s", ticker)
}

// sanitize converts a missing or non-finite value to an explicit absence.
// Zero is a valid value and passes through untouched.
func sanitize(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	value := *v
	return &value
}
