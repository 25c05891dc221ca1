// Package orchestrator coordinates one end-to-end operations cycle.
// Flow: fetch → value → persist → reconcile → detect → commit, with one
// health record written per attempt regardless of outcome.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/anomaly"
	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/marketdata"
	"portfolio-ops/internal/observability"
	"portfolio-ops/internal/reconciliation"
	"portfolio-ops/internal/storage"
	"portfolio-ops/internal/valuation"
)

// Orchestrator runs operations cycles over a fixed instrument book.
//
// All table writes for a cycle go through a single transaction obtained from
// the TxBeginner. The health store must be bound to its own connection, never
// to the cycle transaction, so the telemetry row survives a rollback.
type Orchestrator struct {
	gate      *marketdata.Gate
	valuation *valuation.Engine
	recon     *reconciliation.Engine
	detector  *anomaly.Detector

	tx     storage.TxBeginner
	health storage.HealthStore

	book    []domain.Instrument
	metrics *observability.Metrics
	logger  *zap.Logger
	clock   func() time.Time
}

// Options for creating an Orchestrator.
type Options struct {
	Gate            *marketdata.Gate
	ValuationEngine *valuation.Engine
	ReconEngine     *reconciliation.Engine
	AnomalyDetector *anomaly.Detector

	TxBeginner  storage.TxBeginner
	HealthStore storage.HealthStore

	Book    []domain.Instrument
	Metrics *observability.Metrics // optional
	Logger  *zap.Logger            // optional
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gate:      opts.Gate,
		valuation: opts.ValuationEngine,
		recon:     opts.ReconEngine,
		detector:  opts.AnomalyDetector,
		tx:        opts.TxBeginner,
		health:    opts.HealthStore,
		book:      opts.Book,
		metrics:   opts.Metrics,
		logger:    logger,
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// CycleResult summarizes one cycle attempt.
type CycleResult struct {
	Status        domain.CycleStatus
	NavSnapshotID int64
	TotalNav      float64
	RowsWritten   int
	ReconBreaks   int
	Anomalies     int
	Succeeded     int
	Failed        []string
}

// RunCycle executes one full cycle. A non-nil error means the write phase
// aborted and every table write was rolled back; the returned result still
// carries the FAILED status that was recorded in telemetry. Per-ticker fetch
// failures are not errors; they degrade the status to PARTIAL.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	cycleAt := o.clock().UTC()
	o.logger.Info("cycle started", zap.Time("cycle_at", cycleAt))

	// Fetch phase. Runs outside the transaction: market data latency must
	// not hold database locks.
	fetchStart := o.clock()
	observations, failed := o.gate.FetchAll(ctx, tickers(o.book))
	ingestionLatency := o.clock().Sub(fetchStart)

	if o.metrics != nil {
		o.metrics.IngestionLatency.Observe(ingestionLatency.Seconds())
		for _, t := range failed {
			o.metrics.FetchFailures.WithLabelValues(t).Inc()
		}
	}

	res, err := o.runWritePhase(ctx, cycleAt, observations, failed, ingestionLatency)
	if err != nil {
		o.recordOutcome(ctx, cycleAt, domain.CycleFailed, err, ingestionLatency, 0, 0, len(failed))
		if o.metrics != nil {
			o.metrics.CyclesTotal.WithLabelValues(string(domain.CycleFailed)).Inc()
		}
		o.logger.Error("cycle failed", zap.Error(err))
		return &CycleResult{Status: domain.CycleFailed, Failed: failed}, err
	}

	status := domain.CycleSuccess
	if len(failed) > 0 {
		status = domain.CyclePartial
	}
	res.Status = status
	res.Succeeded = len(observations)
	res.Failed = failed

	o.recordOutcome(ctx, cycleAt, status, nil, ingestionLatency, res.dbLatency, res.RowsWritten, len(failed))

	if o.metrics != nil {
		o.metrics.CyclesTotal.WithLabelValues(string(status)).Inc()
		o.metrics.CycleDuration.Observe(o.clock().Sub(fetchStart).Seconds())
		o.metrics.RowsProcessed.Add(float64(res.RowsWritten))
		o.metrics.LastSuccessfulCycle.SetToCurrentTime()
		o.metrics.PortfolioNav.Set(res.TotalNav)
	}

	o.logger.Info("cycle completed",
		zap.String("status", string(status)),
		zap.Int64("nav_snapshot_id", res.NavSnapshotID),
		zap.Float64("total_nav", res.TotalNav),
		zap.Int("rows_written", res.RowsWritten),
		zap.Int("recon_breaks", res.ReconBreaks),
		zap.Int("anomalies", res.Anomalies),
		zap.Strings("failed_tickers", failed))

	return &res.CycleResult, nil
}

type writeResult struct {
	CycleResult
	dbLatency time.Duration
}

// runWritePhase performs every table write inside one transaction. Any error
// unwinds the whole cycle's writes via the deferred rollback.
func (o *Orchestrator) runWritePhase(ctx context.Context, cycleAt time.Time, observations map[string]*domain.PriceObservation, failed []string, ingestionLatency time.Duration) (*writeResult, error) {
	val, err := o.valuation.Compute(observations, o.book, cycleAt)
	if err != nil {
		return nil, fmt.Errorf("valuation: %w", err)
	}

	writeStart := o.clock()

	tx, err := o.tx.BeginCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cycle transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Rows-processed counts observation rows only; derived rows (snapshot,
	// positions, recon, anomalies) ride along but are not ingestion volume.
	rows := 0

	for _, inst := range o.book {
		obs, ok := observations[inst.Ticker]
		if !ok {
			continue
		}
		if err := tx.Prices().Insert(ctx, obs); err != nil {
			return nil, fmt.Errorf("insert price %s: %w", inst.Ticker, err)
		}
		rows++
	}

	navID, err := tx.Snapshots().InsertNav(ctx, &val.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("insert nav snapshot: %w", err)
	}

	for _, pos := range val.Positions {
		pos.NavSnapshotID = navID
	}
	if err := tx.Snapshots().InsertPositions(ctx, val.Positions); err != nil {
		return nil, fmt.Errorf("insert position snapshots: %w", err)
	}

	// Reconciliation reads back this cycle's rows through the pending
	// transaction, then records its verdicts in the same scope.
	reconRecords, err := o.recon.Run(ctx, tx.Snapshots(), tx.Prices(), navID, val)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: %w", err)
	}
	breaks := 0
	for _, rec := range reconRecords {
		if err := tx.Recon().Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("insert recon record: %w", err)
		}
		if rec.Status == domain.ReconBreak {
			breaks++
			if o.metrics != nil {
				o.metrics.ReconBreaks.WithLabelValues(string(rec.CheckType)).Inc()
			}
		}
	}

	anomalies, err := o.detector.Detect(ctx, tx.Prices(), observations, o.book)
	if err != nil {
		return nil, fmt.Errorf("anomaly detection: %w", err)
	}
	if len(anomalies) > 0 {
		if err := tx.Anomalies().InsertBulk(ctx, anomalies); err != nil {
			return nil, fmt.Errorf("insert anomaly records: %w", err)
		}
		if o.metrics != nil {
			for _, a := range anomalies {
				o.metrics.AnomaliesDetected.WithLabelValues(string(a.Severity)).Inc()
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cycle: %w", err)
	}

	dbLatency := o.clock().Sub(writeStart)
	if o.metrics != nil {
		o.metrics.DBWriteLatency.Observe(dbLatency.Seconds())
	}

	return &writeResult{
		CycleResult: CycleResult{
			NavSnapshotID: navID,
			TotalNav:      val.Snapshot.TotalNav,
			RowsWritten:   rows,
			ReconBreaks:   breaks,
			Anomalies:     len(anomalies),
		},
		dbLatency: dbLatency,
	}, nil
}

// recordOutcome writes the cycle's health record. The health store sits on
// its own connection, so this write lands even when the cycle rolled back.
// A telemetry failure is logged, never propagated: it must not turn a
// finished cycle into a failed one.
func (o *Orchestrator) recordOutcome(ctx context.Context, cycleAt time.Time, status domain.CycleStatus, cycleErr error, ingestionLatency, dbLatency time.Duration, rows, failedCount int) {
	rec := &domain.CycleHealthRecord{
		CycleAt:            cycleAt,
		Status:             status,
		IngestionLatencyMS: ptr(float64(ingestionLatency.Milliseconds())),
		TotalRowsProcessed: ptr(rows),
		TickersSucceeded:   ptr(len(o.book) - failedCount),
		TickersFailed:      ptr(failedCount),
	}
	if status != domain.CycleFailed {
		rec.DBWriteLatencyMS = ptr(float64(dbLatency.Milliseconds()))
	}
	if cycleErr != nil {
		rec.ErrorDetail = ptr(cycleErr.Error())
	}

	// The health row must land even when the cycle died of context
	// cancellation (shutdown mid-cycle), so the write gets a context that
	// outlives the cycle's.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.health.Insert(writeCtx, rec); err != nil {
		o.logger.Error("health record write failed", zap.Error(err))
	}
}

func tickers(book []domain.Instrument) []string {
	out := make([]string, 0, len(book))
	for _, inst := range book {
		out = append(out, inst.Ticker)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
