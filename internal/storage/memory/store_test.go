package memory

import (
	"context"
	"testing"
	"time"

	"portfolio-ops/internal/domain"
)

var testNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func TestCycleTx_CommitPublishesRows(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}

	err = tx.Prices().Insert(ctx, &domain.PriceObservation{
		Ticker: "AAA", FetchedAt: testNow, Price: 110, DataSource: domain.SourceQuote,
	})
	if err != nil {
		t.Fatalf("insert price: %v", err)
	}

	// Staged rows are invisible outside the transaction before commit.
	prices, err := store.LatestPrices(ctx)
	if err != nil {
		t.Fatalf("LatestPrices: %v", err)
	}
	if len(prices) != 0 {
		t.Errorf("expected no committed prices before commit, got %d", len(prices))
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	prices, err = store.LatestPrices(ctx)
	if err != nil {
		t.Fatalf("LatestPrices: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("expected 1 committed price, got %d", len(prices))
	}
	if prices["AAA"].Price != 110 {
		t.Errorf("expected price 110, got %f", prices["AAA"].Price)
	}
}

func TestCycleTx_RollbackDiscardsRows(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}

	navID, err := tx.Snapshots().InsertNav(ctx, &domain.NavSnapshot{ComputedAt: testNow, TotalNav: 3300})
	if err != nil {
		t.Fatalf("InsertNav: %v", err)
	}
	err = tx.Snapshots().InsertPositions(ctx, []*domain.PositionSnapshot{
		{NavSnapshotID: navID, Ticker: "AAA", MarketValue: 3300},
	})
	if err != nil {
		t.Fatalf("InsertPositions: %v", err)
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	navs, err := store.NavHistory(ctx, 10)
	if err != nil {
		t.Fatalf("NavHistory: %v", err)
	}
	if len(navs) != 0 {
		t.Errorf("expected no committed snapshots after rollback, got %d", len(navs))
	}
}

func TestCycleTx_ReadsSeeOwnWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	defer tx.Rollback(ctx)

	navID, err := tx.Snapshots().InsertNav(ctx, &domain.NavSnapshot{ComputedAt: testNow, TotalNav: 3300})
	if err != nil {
		t.Fatalf("InsertNav: %v", err)
	}
	err = tx.Snapshots().InsertPositions(ctx, []*domain.PositionSnapshot{
		{NavSnapshotID: navID, Ticker: "AAA", MarketValue: 1100},
		{NavSnapshotID: navID, Ticker: "BBB", MarketValue: 2200},
	})
	if err != nil {
		t.Fatalf("InsertPositions: %v", err)
	}

	sum, err := tx.Snapshots().SumPositionValues(ctx, navID)
	if err != nil {
		t.Fatalf("SumPositionValues: %v", err)
	}
	if sum != 3300 {
		t.Errorf("expected staged sum 3300, got %f", sum)
	}

	count, err := tx.Snapshots().CountPositions(ctx, navID)
	if err != nil {
		t.Fatalf("CountPositions: %v", err)
	}
	if count != 2 {
		t.Errorf("expected staged count 2, got %d", count)
	}
}

func TestCycleTx_RollbackAfterCommitIsNoOp(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	err = tx.Prices().Insert(ctx, &domain.PriceObservation{
		Ticker: "AAA", FetchedAt: testNow, Price: 110, DataSource: domain.SourceQuote,
	})
	if err != nil {
		t.Fatalf("insert price: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback after Commit must be a no-op, got %v", err)
	}

	prices, err := store.LatestPrices(ctx)
	if err != nil {
		t.Fatalf("LatestPrices: %v", err)
	}
	if len(prices) != 1 {
		t.Errorf("expected committed row to survive, got %d", len(prices))
	}
}

func TestCycleTx_UseAfterResolveFails(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	err = tx.Prices().Insert(ctx, &domain.PriceObservation{Ticker: "AAA", FetchedAt: testNow})
	if err != ErrTxDone {
		t.Errorf("expected ErrTxDone, got %v", err)
	}
	if err := tx.Commit(ctx); err != ErrTxDone {
		t.Errorf("expected ErrTxDone on double commit, got %v", err)
	}
}

func TestHealthInsert_BypassesTransaction(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}

	// Health write lands while the cycle transaction is still pending.
	err = store.Insert(ctx, &domain.CycleHealthRecord{CycleAt: testNow, Status: domain.CycleFailed})
	if err != nil {
		t.Fatalf("health insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	health, err := store.SystemHealth(ctx, 10)
	if err != nil {
		t.Fatalf("SystemHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("expected health row to survive rollback, got %d", len(health))
	}
}

func commitCycle(t *testing.T, store *Store, computedAt time.Time, positions []*domain.PositionSnapshot) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	var totalNav float64
	for _, pos := range positions {
		totalNav += pos.MarketValue
	}
	navID, err := tx.Snapshots().InsertNav(ctx, &domain.NavSnapshot{ComputedAt: computedAt, TotalNav: totalNav})
	if err != nil {
		t.Fatalf("InsertNav: %v", err)
	}
	for _, pos := range positions {
		pos.NavSnapshotID = navID
	}
	if err := tx.Snapshots().InsertPositions(ctx, positions); err != nil {
		t.Fatalf("InsertPositions: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return navID
}

func TestPositionDetail_LatestSnapshotByValueDesc(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	commitCycle(t, store, testNow, []*domain.PositionSnapshot{
		{Ticker: "AAA", MarketValue: 100},
	})
	commitCycle(t, store, testNow.Add(time.Minute), []*domain.PositionSnapshot{
		{Ticker: "AAA", MarketValue: 1100},
		{Ticker: "BBB", MarketValue: 2200},
	})

	positions, err := store.PositionDetail(ctx)
	if err != nil {
		t.Fatalf("PositionDetail: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions from latest snapshot, got %d", len(positions))
	}
	if positions[0].Ticker != "BBB" || positions[1].Ticker != "AAA" {
		t.Errorf("expected market value DESC order, got %s, %s", positions[0].Ticker, positions[1].Ticker)
	}
}

func TestAssetClassAttribution_LatestSnapshot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	commitCycle(t, store, testNow, []*domain.PositionSnapshot{
		{Ticker: "AAA", AssetClass: domain.AssetClassEquity, MarketValue: 1000, UnrealizedPnl: 100, Weight: 0.25, PnlPct: 0.10},
		{Ticker: "BBB", AssetClass: domain.AssetClassEquity, MarketValue: 2000, UnrealizedPnl: -50, Weight: 0.50, PnlPct: -0.02},
		{Ticker: "CCC", AssetClass: domain.AssetClassCommodity, MarketValue: 1000, UnrealizedPnl: 20, Weight: 0.25, PnlPct: 0.02},
	})

	summaries, err := store.AssetClassAttribution(ctx)
	if err != nil {
		t.Fatalf("AssetClassAttribution: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(summaries))
	}

	// Ordered by market value DESC: equity first.
	eq := summaries[0]
	if eq.AssetClass != domain.AssetClassEquity {
		t.Fatalf("expected equity first, got %s", eq.AssetClass)
	}
	if eq.TotalMarketValue != 3000 {
		t.Errorf("expected equity MV 3000, got %f", eq.TotalMarketValue)
	}
	if eq.TotalPnl != 50 {
		t.Errorf("expected equity pnl 50, got %f", eq.TotalPnl)
	}
	if eq.TotalWeight != 0.75 {
		t.Errorf("expected equity weight 0.75, got %f", eq.TotalWeight)
	}
	if eq.AvgPnlPct != 0.04 {
		t.Errorf("expected avg pnl pct 0.04, got %f", eq.AvgPnlPct)
	}
}

func TestNavHistory_AscendingWithLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		commitCycle(t, store, testNow.Add(time.Duration(i)*time.Minute), []*domain.PositionSnapshot{
			{Ticker: "AAA", MarketValue: float64(1000 + i)},
		})
	}

	navs, err := store.NavHistory(ctx, 3)
	if err != nil {
		t.Fatalf("NavHistory: %v", err)
	}
	if len(navs) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(navs))
	}
	// The three most recent, oldest first.
	if navs[0].TotalNav != 1002 || navs[2].TotalNav != 1004 {
		t.Errorf("expected ascending window [1002..1004], got %f..%f", navs[0].TotalNav, navs[2].TotalNav)
	}
	if !navs[0].ComputedAt.Before(navs[1].ComputedAt) {
		t.Error("expected ascending order")
	}
}

func TestIDsNotReusedAfterRollback(t *testing.T) {
	// Like a database sequence: ids consumed by a rolled-back transaction
	// leave a gap.
	store := NewStore()
	ctx := context.Background()

	tx, err := store.BeginCycle(ctx)
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	firstID, err := tx.Snapshots().InsertNav(ctx, &domain.NavSnapshot{ComputedAt: testNow})
	if err != nil {
		t.Fatalf("InsertNav: %v", err)
	}
	tx.Rollback(ctx)

	secondID := commitCycle(t, store, testNow, []*domain.PositionSnapshot{
		{Ticker: "AAA", MarketValue: 100},
	})
	if secondID <= firstID {
		t.Errorf("expected id after rollback to advance, got %d then %d", firstID, secondID)
	}
}
