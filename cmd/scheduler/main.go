// Package main runs the periodic portfolio operations service: one cycle
// per refresh interval, Prometheus metrics, graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/anomaly"
	"portfolio-ops/internal/config"
	"portfolio-ops/internal/marketdata"
	"portfolio-ops/internal/observability"
	"portfolio-ops/internal/orchestrator"
	"portfolio-ops/internal/reconciliation"
	"portfolio-ops/internal/scheduler"
	"portfolio-ops/internal/storage"
	"portfolio-ops/internal/storage/memory"
	"portfolio-ops/internal/storage/migrations"
	pgstore "portfolio-ops/internal/storage/postgres"
	"portfolio-ops/internal/valuation"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (built-in defaults when empty)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config, empty keeps config value)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		select {
		case <-sigCh:
			logger.Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	var (
		txBeginner  storage.TxBeginner
		healthStore storage.HealthStore
	)

	if *useMemory {
		store := memory.NewStore()
		txBeginner = store
		healthStore = store
		logger.Info("using in-memory storage")
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
		// Health rows go straight through the pool so they survive cycle
		// rollbacks.
		healthStore = pgstore.NewHealthStore(pool)
	}

	metrics := observability.NewMetrics("")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
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
		Metrics:         metrics,
		Logger:          logger,
	})

	sched := scheduler.New(orch, cfg.RefreshInterval, metrics, logger)

	err = sched.Run(ctx)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("scheduler error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
