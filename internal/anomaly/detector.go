// Package anomaly flags statistically unusual instrument returns by
// z-scoring the current period return against a rolling window of
// historical returns. Detection never fails a cycle: insufficient history
// or a missing reference price is a silent skip.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
)

const (
	// stdDevFloor bounds the standard deviation away from zero before any
	// division. A flat price series has a true standard deviation of zero
	// and must not produce a division fault or an infinite score.
	stdDevFloor = 1e-6

	// criticalZScore is the severity escalation bound.
	criticalZScore = 3.0
)

// Detector scores current returns against a rolling lookback window.
type Detector struct {
	threshold float64 // |z| above which a record is emitted
	lookback  int     // number of historical returns in the window
	logger    *zap.Logger
	clock     func() time.Time
}

// NewDetector creates a Detector. A nil logger disables logging.
func NewDetector(threshold float64, lookback int, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		threshold: threshold,
		lookback:  lookback,
		logger:    logger,
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// Detect scores every booked instrument with a current observation. The
// price store must belong to the cycle's pending transaction so the window
// includes the rows written this cycle. The result is always non-nil; an
// empty slice is the normal case. An error means a store read failed, which
// is a cycle-level fault; detection itself never errors.
func (d *Detector) Detect(ctx context.Context, prices storage.PriceStore, observations map[string]*domain.PriceObservation, book []domain.Instrument) ([]*domain.AnomalyRecord, error) {
	records := make([]*domain.AnomalyRecord, 0)
	detectedAt := d.clock().UTC()

	for _, inst := range book {
		obs, ok := observations[inst.Ticker]
		if !ok {
			continue
		}

		// No reference price means no current return can be formed.
		if obs.PrevClose == nil || *obs.PrevClose == 0 {
			continue
		}

		history, err := prices.RecentByTicker(ctx, inst.Ticker, d.lookback+1)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", inst.Ticker, err)
		}

		// Insufficient history is not an error.
		if len(history) < d.lookback+1 {
			continue
		}

		returns := windowReturns(history)
		if len(returns) == 0 {
			continue
		}

		mean := sampleMean(returns)
		stdDev := math.Max(sampleStdDev(returns, mean), stdDevFloor)

		currentReturn := obs.Price / *obs.PrevClose - 1
		zScore := (currentReturn - mean) / stdDev

		if math.Abs(zScore) <= d.threshold {
			continue
		}

		severity := domain.SeverityWarning
		if math.Abs(zScore) > criticalZScore {
			severity = domain.SeverityCritical
		}

		d.logger.Info("anomalous return flagged",
			zap.String("ticker", inst.Ticker),
			zap.Float64("zscore", zScore),
			zap.String("severity", string(severity)))

		records = append(records, &domain.AnomalyRecord{
			DetectedAt:   detectedAt,
			Ticker:       inst.Ticker,
			AssetClass:   inst.AssetClass,
			CurrentPrice: obs.Price,
			PrevClose:    *obs.PrevClose,
			MovePct:      currentReturn,
			ZScore:       zScore,
			Severity:     severity,
		})
	}

	return records, nil
}

// windowReturns computes period-over-period returns across the window.
// History arrives most recent first; returns are computed in chronological
// order. Transitions from a zero price are skipped; no return is formable.
func windowReturns(history []*domain.PriceObservation) []float64 {
	returns := make([]float64, 0, len(history)-1)
	for i := len(history) - 1; i > 0; i-- {
		prev := history[i].Price
		if prev == 0 {
			continue
		}
		returns = append(returns, history[i-1].Price/prev-1)
	}
	return returns
}

func sampleMean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev computes the sample standard deviation (n-1 denominator).
// A single-element window yields zero, which the caller clamps.
func sampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
