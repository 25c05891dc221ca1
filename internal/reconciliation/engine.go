// Package reconciliation cross-checks the pipeline's own output. It runs
// inside the cycle's pending transaction, after the valuation rows are
// written: the checks are only independent because they re-read persisted
// rows instead of trusting in-memory values.
package reconciliation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/storage"
	"portfolio-ops/internal/valuation"
)

// stalenessMultiple: an observation is stale when its effective age reaches
// this many refresh intervals.
const stalenessMultiple = 3

// Engine runs the three reconciliation checks. Every cycle produces exactly
// three records, pass or break; a BREAK is data, not a fault.
type Engine struct {
	tolerance       float64 // relative NAV delta above which nav_sum breaks
	refreshInterval time.Duration
	logger          *zap.Logger
	clock           func() time.Time
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(tolerance float64, refreshInterval time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tolerance:       tolerance,
		refreshInterval: refreshInterval,
		logger:          logger,
		clock:           time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Run executes all three checks against the just-written rows and returns
// exactly three records. The stores must belong to the cycle's pending
// transaction so the reads observe the uncommitted rows. An error means a
// store read failed, which is a cycle-level fault.
func (e *Engine) Run(ctx context.Context, snapshots storage.SnapshotStore, prices storage.PriceStore, navSnapshotID int64, result *valuation.Result) ([]*domain.ReconRecord, error) {
	checkedAt := e.clock().UTC()

	navSum, err := e.checkNavSum(ctx, snapshots, navSnapshotID, result, checkedAt)
	if err != nil {
		return nil, err
	}

	posCount, err := e.checkPositionCount(ctx, snapshots, navSnapshotID, result, checkedAt)
	if err != nil {
		return nil, err
	}

	staleness, err := e.checkStaleness(ctx, prices, checkedAt)
	if err != nil {
		return nil, err
	}

	records := []*domain.ReconRecord{navSum, posCount, staleness}
	for _, rec := range records {
		if rec.Status == domain.ReconBreak {
			e.logger.Warn("reconciliation break",
				zap.String("check", string(rec.CheckType)),
				zap.Stringp("detail", rec.Detail))
		}
	}
	return records, nil
}

// checkNavSum compares the persisted position market value sum to the
// in-memory aggregate NAV.
func (e *Engine) checkNavSum(ctx context.Context, snapshots storage.SnapshotStore, navSnapshotID int64, result *valuation.Result, checkedAt time.Time) (*domain.ReconRecord, error) {
	persisted, err := snapshots.SumPositionValues(ctx, navSnapshotID)
	if err != nil {
		return nil, fmt.Errorf("nav_sum check: %w", err)
	}

	expected := result.Snapshot.TotalNav
	delta := math.Abs(persisted-expected) / expected

	rec := &domain.ReconRecord{
		CheckedAt:     checkedAt,
		CheckType:     domain.CheckNavSum,
		ExpectedValue: ptr(expected),
		ActualValue:   ptr(persisted),
		DeltaPct:      ptr(delta),
		Status:        domain.ReconPass,
	}
	if delta > e.tolerance {
		rec.Status = domain.ReconBreak
		rec.Detail = ptr(fmt.Sprintf("persisted position sum %.2f diverges from NAV %.2f by %.4f (tolerance %.4f)",
			persisted, expected, delta, e.tolerance))
	} else {
		rec.Detail = ptr("persisted position sum matches NAV within tolerance")
	}
	return rec, nil
}

// checkPositionCount compares persisted distinct instruments to the
// in-memory position count. Any mismatch is a break.
func (e *Engine) checkPositionCount(ctx context.Context, snapshots storage.SnapshotStore, navSnapshotID int64, result *valuation.Result, checkedAt time.Time) (*domain.ReconRecord, error) {
	persisted, err := snapshots.CountPositions(ctx, navSnapshotID)
	if err != nil {
		return nil, fmt.Errorf("position_count check: %w", err)
	}

	expected := len(result.Positions)
	rec := &domain.ReconRecord{
		CheckedAt:     checkedAt,
		CheckType:     domain.CheckPositionCount,
		ExpectedValue: ptr(float64(expected)),
		ActualValue:   ptr(float64(persisted)),
		Status:        domain.ReconPass,
	}
	if persisted != expected {
		rec.Status = domain.ReconBreak
		rec.Detail = ptr(fmt.Sprintf("persisted %d positions, expected %d", persisted, expected))
	} else {
		rec.Detail = ptr("persisted position count matches valuation")
	}
	return rec, nil
}

// checkStaleness flags instruments whose latest observation is too old,
// measured against the data's own origin time when present and the capture
// time otherwise.
func (e *Engine) checkStaleness(ctx context.Context, prices storage.PriceStore, checkedAt time.Time) (*domain.ReconRecord, error) {
	latest, err := prices.LatestPerTicker(ctx)
	if err != nil {
		return nil, fmt.Errorf("price_staleness check: %w", err)
	}

	threshold := time.Duration(stalenessMultiple) * e.refreshInterval
	now := e.clock().UTC()

	var staleDetails []string
	var maxAge time.Duration
	for _, obs := range latest {
		age := now.Sub(obs.EffectiveTime())
		if age > maxAge {
			maxAge = age
		}
		if age >= threshold {
			staleDetails = append(staleDetails, fmt.Sprintf("%s age %s", obs.Ticker, age.Round(time.Second)))
		}
	}
	sort.Strings(staleDetails)

	rec := &domain.ReconRecord{
		CheckedAt:     checkedAt,
		CheckType:     domain.CheckPriceStaleness,
		ExpectedValue: ptr(threshold.Seconds()),
		ActualValue:   ptr(maxAge.Seconds()),
		Status:        domain.ReconPass,
	}
	if len(staleDetails) > 0 {
		rec.Status = domain.ReconBreak
		rec.Detail = ptr("stale instruments: " + strings.Join(staleDetails, "; "))
	} else {
		rec.Detail = ptr(fmt.Sprintf("all %d instruments within %s", len(latest), threshold))
	}
	return rec, nil
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}
