// Package valuation derives portfolio NAV and per-position metrics from a
// price set and the static position book. Computation is pure: no I/O, no
// clock, deterministic output for a given input.
package valuation

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/domain"
)

// Computation errors. Zero aggregates are undefined input: failing
// explicitly beats emitting an infinite percentage or weight.
var (
	ErrNoPositionsValued = errors.New("no configured position has an observation")
	ErrZeroAggregateCost = errors.New("aggregate cost is zero")
	ErrZeroAggregateNav  = errors.New("aggregate market value is zero")
)

// Result is a valuation for one cycle: the snapshot totals plus one position
// entry per instrument that had an observation. Position rows carry no ids;
// those are assigned at persistence time.
type Result struct {
	Snapshot  domain.NavSnapshot
	Positions []*domain.PositionSnapshot
	Skipped   []string // tickers excluded for lack of an observation
}

// Engine computes valuations.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Compute values the book against the observation set.
//
// The computation is two-pass: totals first, weights second. A position's
// weight needs the final aggregate market value, so fusing the passes would
// silently produce wrong weights; the ordering is an invariant, not an
// optimization. Positions without an observation are skipped and excluded
// from every aggregate.
func (e *Engine) Compute(observations map[string]*domain.PriceObservation, book []domain.Instrument, computedAt time.Time) (*Result, error) {
	result := &Result{}

	// First pass: per-position metrics and aggregate totals.
	var totalNav, totalCost float64
	for _, inst := range book {
		obs, ok := observations[inst.Ticker]
		if !ok {
			e.logger.Info("position skipped: no observation",
				zap.String("ticker", inst.Ticker))
			result.Skipped = append(result.Skipped, inst.Ticker)
			continue
		}

		cost := inst.Cost()
		if cost == 0 {
			return nil, fmt.Errorf("position %s: %w", inst.Ticker, ErrZeroAggregateCost)
		}

		marketValue := inst.Shares * obs.Price
		pnl := marketValue - cost

		result.Positions = append(result.Positions, &domain.PositionSnapshot{
			Ticker:        inst.Ticker,
			AssetClass:    inst.AssetClass,
			Shares:        inst.Shares,
			Price:         obs.Price,
			CostBasis:     inst.CostBasis,
			MarketValue:   marketValue,
			UnrealizedPnl: pnl,
			PnlPct:        pnl / cost,
		})

		totalNav += marketValue
		totalCost += cost
	}

	if len(result.Positions) == 0 {
		return nil, ErrNoPositionsValued
	}
	if totalCost == 0 {
		return nil, ErrZeroAggregateCost
	}
	if totalNav == 0 {
		return nil, ErrZeroAggregateNav
	}

	totalPnl := totalNav - totalCost
	result.Snapshot = domain.NavSnapshot{
		ComputedAt:  computedAt,
		TotalNav:    totalNav,
		TotalCost:   totalCost,
		TotalPnl:    totalPnl,
		TotalPnlPct: totalPnl / totalCost,
	}

	// Second pass: weights, now that the aggregate is known.
	for _, pos := range result.Positions {
		pos.Weight = pos.MarketValue / totalNav
	}

	return result, nil
}
