package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfolio-ops/internal/anomaly"
	"portfolio-ops/internal/domain"
	"portfolio-ops/internal/marketdata"
	"portfolio-ops/internal/reconciliation"
	"portfolio-ops/internal/storage"
	"portfolio-ops/internal/storage/memory"
	"portfolio-ops/internal/valuation"
)

// fakeQuoteClient serves fixed prices and fails the configured symbols.
type fakeQuoteClient struct {
	prices  map[string]float64
	failing map[string]bool
}

func (f *fakeQuoteClient) Quote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	if f.failing[symbol] {
		return nil, errors.New("quote source down")
	}
	price, ok := f.prices[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	prev := price * 0.99
	return &marketdata.Quote{Symbol: symbol, Price: &price, PrevClose: &prev}, nil
}

func (f *fakeQuoteClient) DailyBars(_ context.Context, symbol string, _ int) ([]marketdata.Bar, error) {
	return nil, errors.New("chart source down")
}

var testBook = []domain.Instrument{
	{Ticker: "AAA", AssetClass: domain.AssetClassEquity, Shares: 10, CostBasis: 100},
	{Ticker: "BBB", AssetClass: domain.AssetClassFixedIncome, Shares: 20, CostBasis: 50},
	{Ticker: "CCC", AssetClass: domain.AssetClassCommodity, Shares: 5, CostBasis: 200},
}

func newTestOrchestrator(store *memory.Store, client marketdata.QuoteClient) *Orchestrator {
	return New(Options{
		Gate:            marketdata.NewGate(client, time.Second, nil),
		ValuationEngine: valuation.NewEngine(nil),
		ReconEngine:     reconciliation.NewEngine(0.01, time.Minute, nil),
		AnomalyDetector: anomaly.NewDetector(2.0, 20, nil),
		TxBeginner:      store,
		HealthStore:     store,
		Book:            testBook,
	})
}

func allPrices() *fakeQuoteClient {
	return &fakeQuoteClient{
		prices: map[string]float64{"AAA": 110, "BBB": 55, "CCC": 220},
	}
}

func TestRunCycle_Success(t *testing.T) {
	store := memory.NewStore()
	orch := newTestOrchestrator(store, allPrices())
	ctx := context.Background()

	result, err := orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if result.Status != domain.CycleSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if result.TotalNav != 3300 {
		t.Errorf("expected NAV 3300, got %f", result.TotalNav)
	}
	// One observation row per fetched instrument; derived rows don't count.
	if result.RowsWritten != 3 {
		t.Errorf("expected 3 rows written, got %d", result.RowsWritten)
	}
	if result.ReconBreaks != 0 {
		t.Errorf("expected no breaks, got %d", result.ReconBreaks)
	}

	navs, err := store.NavHistory(ctx, 10)
	if err != nil {
		t.Fatalf("NavHistory: %v", err)
	}
	if len(navs) != 1 {
		t.Fatalf("expected 1 nav snapshot, got %d", len(navs))
	}
	if navs[0].TotalNav != 3300 {
		t.Errorf("expected committed NAV 3300, got %f", navs[0].TotalNav)
	}

	positions, err := store.PositionDetail(ctx)
	if err != nil {
		t.Fatalf("PositionDetail: %v", err)
	}
	if len(positions) != 3 {
		t.Errorf("expected 3 committed positions, got %d", len(positions))
	}

	recon, err := store.ReconStatus(ctx)
	if err != nil {
		t.Fatalf("ReconStatus: %v", err)
	}
	if len(recon) != 3 {
		t.Errorf("expected 3 recon records, got %d", len(recon))
	}
	for _, rec := range recon {
		if rec.Status != domain.ReconPass {
			t.Errorf("check %s: expected PASS, got %s", rec.CheckType, rec.Status)
		}
	}

	health, err := store.SystemHealth(ctx, 10)
	if err != nil {
		t.Fatalf("SystemHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("expected 1 health row, got %d", len(health))
	}
	h := health[0]
	if h.Status != domain.CycleSuccess {
		t.Errorf("expected SUCCESS health row, got %s", h.Status)
	}
	if h.TickersSucceeded == nil || *h.TickersSucceeded != 3 {
		t.Errorf("expected 3 tickers succeeded, got %v", h.TickersSucceeded)
	}
	if h.TotalRowsProcessed == nil || *h.TotalRowsProcessed != len(testBook) {
		t.Errorf("expected rows processed to equal ticker count, got %v", h.TotalRowsProcessed)
	}
	if h.ErrorDetail != nil {
		t.Errorf("expected no error detail, got %q", *h.ErrorDetail)
	}
}

func TestRunCycle_PartialOnFetchFailure(t *testing.T) {
	store := memory.NewStore()
	client := allPrices()
	client.failing = map[string]bool{"CCC": true}
	orch := newTestOrchestrator(store, client)
	ctx := context.Background()

	result, err := orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if result.Status != domain.CyclePartial {
		t.Errorf("expected PARTIAL, got %s", result.Status)
	}
	if result.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %d", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "CCC" {
		t.Errorf("expected failed [CCC], got %v", result.Failed)
	}

	// Data for the two healthy instruments is committed.
	positions, err := store.PositionDetail(ctx)
	if err != nil {
		t.Fatalf("PositionDetail: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("expected 2 committed positions, got %d", len(positions))
	}

	health, err := store.SystemHealth(ctx, 10)
	if err != nil {
		t.Fatalf("SystemHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("expected 1 health row, got %d", len(health))
	}
	h := health[0]
	if h.Status != domain.CyclePartial {
		t.Errorf("expected PARTIAL health row, got %s", h.Status)
	}
	if h.TickersSucceeded == nil || *h.TickersSucceeded != 2 {
		t.Errorf("expected 2 tickers succeeded, got %v", h.TickersSucceeded)
	}
	if h.TickersFailed == nil || *h.TickersFailed != 1 {
		t.Errorf("expected 1 ticker failed, got %v", h.TickersFailed)
	}
	if h.TotalRowsProcessed == nil || *h.TotalRowsProcessed != 2 {
		t.Errorf("expected 2 rows processed, got %v", h.TotalRowsProcessed)
	}
}

func TestRunCycle_FailedLeavesOnlyHealthRow(t *testing.T) {
	store := memory.NewStore()
	client := &fakeQuoteClient{
		failing: map[string]bool{"AAA": true, "BBB": true, "CCC": true},
	}
	orch := newTestOrchestrator(store, client)
	ctx := context.Background()

	result, err := orch.RunCycle(ctx)
	if err == nil {
		t.Fatal("expected error when no instrument can be valued")
	}
	if result.Status != domain.CycleFailed {
		t.Errorf("expected FAILED, got %s", result.Status)
	}

	// No data rows may survive the rollback.
	if prices, _ := store.LatestPrices(ctx); len(prices) != 0 {
		t.Errorf("expected no committed prices, got %d", len(prices))
	}
	if navs, _ := store.NavHistory(ctx, 10); len(navs) != 0 {
		t.Errorf("expected no committed nav snapshots, got %d", len(navs))
	}
	if recon, _ := store.ReconStatus(ctx); len(recon) != 0 {
		t.Errorf("expected no committed recon records, got %d", len(recon))
	}

	// Exactly one FAILED health row with a reason.
	health, err := store.SystemHealth(ctx, 10)
	if err != nil {
		t.Fatalf("SystemHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("expected 1 health row, got %d", len(health))
	}
	h := health[0]
	if h.Status != domain.CycleFailed {
		t.Errorf("expected FAILED health row, got %s", h.Status)
	}
	if h.ErrorDetail == nil || *h.ErrorDetail == "" {
		t.Error("expected non-empty error detail")
	}
	if h.TotalRowsProcessed == nil || *h.TotalRowsProcessed != 0 {
		t.Errorf("expected 0 rows processed, got %v", h.TotalRowsProcessed)
	}
}

// ctxTxBeginner and ctxHealthStore honor context cancellation the way the
// pgx-backed implementations do.
type ctxTxBeginner struct {
	store *memory.Store
}

func (b *ctxTxBeginner) BeginCycle(ctx context.Context) (storage.CycleTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.store.BeginCycle(ctx)
}

type ctxHealthStore struct {
	store *memory.Store
}

func (s *ctxHealthStore) Insert(ctx context.Context, rec *domain.CycleHealthRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.Insert(ctx, rec)
}

func TestRunCycle_CanceledContextStillWritesHealthRow(t *testing.T) {
	store := memory.NewStore()
	orch := New(Options{
		Gate:            marketdata.NewGate(allPrices(), time.Second, nil),
		ValuationEngine: valuation.NewEngine(nil),
		ReconEngine:     reconciliation.NewEngine(0.01, time.Minute, nil),
		AnomalyDetector: anomaly.NewDetector(2.0, 20, nil),
		TxBeginner:      &ctxTxBeginner{store: store},
		HealthStore:     &ctxHealthStore{store: store},
		Book:            testBook,
	})

	// Shutdown mid-cycle: the context is already dead when the write phase
	// begins, so the cycle fails with the cancellation error.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.RunCycle(ctx)
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if result.Status != domain.CycleFailed {
		t.Errorf("expected FAILED, got %s", result.Status)
	}

	// The telemetry write must not share the cycle's fate.
	health, err := store.SystemHealth(context.Background(), 10)
	if err != nil {
		t.Fatalf("SystemHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("expected 1 health row despite cancellation, got %d", len(health))
	}
	if health[0].Status != domain.CycleFailed {
		t.Errorf("expected FAILED health row, got %s", health[0].Status)
	}
	if health[0].ErrorDetail == nil || *health[0].ErrorDetail == "" {
		t.Error("expected non-empty error detail")
	}
}

func TestRunCycle_TwoCyclesAppend(t *testing.T) {
	store := memory.NewStore()
	orch := newTestOrchestrator(store, allPrices())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := orch.RunCycle(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
	}

	navs, err := store.NavHistory(ctx, 10)
	if err != nil {
		t.Fatalf("NavHistory: %v", err)
	}
	if len(navs) != 2 {
		t.Errorf("expected exactly 2 nav snapshots, got %d", len(navs))
	}

	health, err := store.SystemHealth(ctx, 10)
	if err != nil {
		t.Fatalf("SystemHealth: %v", err)
	}
	if len(health) != 2 {
		t.Errorf("expected exactly 2 health rows, got %d", len(health))
	}

	// Latest prices collapse to one observation per ticker.
	prices, err := store.LatestPrices(ctx)
	if err != nil {
		t.Fatalf("LatestPrices: %v", err)
	}
	if len(prices) != 3 {
		t.Errorf("expected 3 latest prices, got %d", len(prices))
	}
}
