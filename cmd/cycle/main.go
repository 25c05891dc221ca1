// Package main runs a single operations cycle and prints a summary of the
// resulting portfolio state. Useful for smoke tests and cron-style runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"portfolio-ops/internal/anomaly"
	"portfolio-ops/internal/config"
	"portfolio-ops/internal/marketdata"
	"portfolio-ops/internal/orchestrator"
	"portfolio-ops/internal/reconciliation"
	"portfolio-ops/internal/storage"
	"portfolio-ops/internal/storage/memory"
	"portfolio-ops/internal/storage/migrations"
	pgstore "portfolio-ops/internal/storage/postgres"
	"portfolio-ops/internal/valuation"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (built-in defaults when empty)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	showReport := flag.Bool("report", true, "Print portfolio summary after the cycle")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("config load failed", zap.Error(err))
		}
	}
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		txBeginner  storage.TxBeginner
		healthStore storage.HealthStore
		queryStore  storage.QueryStore
	)

	if *useMemory {
		store := memory.NewStore()
		txBeginner = store
		healthStore = store
		queryStore = store
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}

		txBeginner = pool
		healthStore = pgstore.NewHealthStore(pool)
		queryStore = pgstore.NewQueryStore(pool)
	}

	client := marketdata.NewHTTPClient(cfg.QuoteEndpoint, marketdata.WithTimeout(cfg.FetchTimeout))
	gate := marketdata.NewGate(client, cfg.FetchTimeout, logger)

	orch := orchestrator.New(orchestrator.Options{
		Gate:            gate,
		ValuationEngine: valuation.NewEngine(logger),
		ReconEngine:     reconciliation.NewEngine(cfg.ReconTolerance, cfg.RefreshInterval, logger),
		AnomalyDetector: anomaly.NewDetector(cfg.ZScoreThreshold, cfg.LookbackPeriods, logger),
		TxBeginner:      txBeginner,
		HealthStore:     healthStore,
		Book:            cfg.Portfolio,
		Logger:          logger,
	})

	result, err := orch.RunCycle(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cycle failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Cycle %s: nav_snapshot=%d nav=%.2f rows=%d breaks=%d anomalies=%d\n",
		result.Status, result.NavSnapshotID, result.TotalNav,
		result.RowsWritten, result.ReconBreaks, result.Anomalies)
	if len(result.Failed) > 0 {
		fmt.Printf("Failed tickers: %v\n", result.Failed)
	}

	if *showReport {
		if err := printReport(ctx, queryStore); err != nil {
			fmt.Fprintf(os.Stderr, "report failed: %v\n", err)
			os.Exit(1)
		}
	}
}

// printReport dumps the standard read-side views.
func printReport(ctx context.Context, q storage.QueryStore) error {
	positions, err := q.PositionDetail(ctx)
	if err != nil {
		return fmt.Errorf("position detail: %w", err)
	}
	fmt.Println("\nPositions (by market value):")
	for _, p := range positions {
		fmt.Printf("  %-6s %-14s shares=%10.2f price=%10.2f mv=%12.2f pnl=%+12.2f (%+.2f%%) weight=%.4f\n",
			p.Ticker, p.AssetClass, p.Shares, p.Price, p.MarketValue, p.UnrealizedPnl, p.PnlPct*100, p.Weight)
	}

	attribution, err := q.AssetClassAttribution(ctx)
	if err != nil {
		return fmt.Errorf("attribution: %w", err)
	}
	fmt.Println("\nAsset class attribution:")
	for _, a := range attribution {
		fmt.Printf("  %-14s mv=%12.2f pnl=%+12.2f weight=%.4f avg_pnl=%+.2f%%\n",
			a.AssetClass, a.TotalMarketValue, a.TotalPnl, a.TotalWeight, a.AvgPnlPct*100)
	}

	recon, err := q.ReconStatus(ctx)
	if err != nil {
		return fmt.Errorf("recon status: %w", err)
	}
	fmt.Println("\nReconciliation:")
	for _, r := range recon {
		detail := ""
		if r.Detail != nil {
			detail = " " + *r.Detail
		}
		fmt.Printf("  %-16s %s%s\n", r.CheckType, r.Status, detail)
	}

	health, err := q.SystemHealth(ctx, 5)
	if err != nil {
		return fmt.Errorf("system health: %w", err)
	}
	fmt.Println("\nRecent cycles:")
	for _, h := range health {
		fmt.Printf("  %s %s\n", h.CycleAt.Format("2006-01-02 15:04:05"), h.Status)
	}
	return nil
}
