// Package main runs the shielded-risk service: the risk HTTP API plus the
// scheduled batch pattern detection job over a shared ledger database.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shielded-risk/internal/api"
	"shielded-risk/internal/batchdetect"
	"shielded-risk/internal/config"
	"shielded-risk/internal/correlate"
	"shielded-risk/internal/ledger"
	ledgermem "shielded-risk/internal/ledger/memory"
	ledgerpg "shielded-risk/internal/ledger/postgres"
	"shielded-risk/internal/logging"
	"shielded-risk/internal/observability"
	"shielded-risk/internal/storage"
	"shielded-risk/internal/storage/memory"
	"shielded-risk/internal/storage/migrations"
	pgstore "shielded-risk/internal/storage/postgres"
)

const shutdownGrace = 30 * time.Second

// backends groups the storage-side dependencies of the service.
type backends struct {
	accessor ledger.Accessor
	store    storage.PatternStore
	lock     storage.RunLock
	pinger   api.Pinger
	cleanup  func()
}

func main() {
	loadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	addr := flag.String("addr", envOr("API_ADDR", ":8080"), "Risk API HTTP address")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Optional YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	noDetector := flag.Bool("no-detector", false, "Serve the API without the scheduled detection job")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := createBackends(ctx, *postgresDSN, *useMemory, cfg.Store.TTL())
	if err != nil {
		logger.Fatal("create backends", zap.Error(err))
	}
	defer b.cleanup()

	metrics := observability.NewMetrics("shielded_risk")
	correlator := correlate.New(b.accessor, cfg.Correlator, logger, metrics)
	detector := batchdetect.NewDetector(b.accessor, cfg.Detector, logger, metrics)
	job := batchdetect.NewJob(detector, b.store, b.lock, cfg.Detector, logger, metrics)

	controller := api.NewController(correlator, b.store, b.pinger, cfg.API, logger, metrics)
	apiServer := &http.Server{
		Addr:              *addr,
		Handler:           controller.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              *metricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var scheduler *cron.Cron
	if !*noDetector {
		cronLog := cronLogger{logger: logger}
		scheduler = cron.New(cron.WithChain(cron.Recover(cronLog)))
		if _, err := scheduler.AddFunc(cfg.Detector.Schedule, func() {
			if _, err := job.Run(ctx); err != nil {
				logger.Error("detection run failed", zap.Error(err))
			}
		}); err != nil {
			logger.Fatal("schedule detection job", zap.Error(err))
		}
		scheduler.Start()
		logger.Info("detection job scheduled", zap.String("schedule", cfg.Detector.Schedule))
	}

	go func() {
		logger.Info("metrics listening", zap.String("addr", *metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", *addr))
		serveErr <- apiServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("api server", zap.Error(err))
		}
	}
	cancel()

	// Second signal forces immediate exit.
	go func() {
		sig := <-sigCh
		logger.Warn("forcing immediate shutdown", zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// createBackends wires either the Postgres or the in-memory storage side.
func createBackends(ctx context.Context, dsn string, useMemory bool, ttl time.Duration) (*backends, error) {
	if useMemory {
		return &backends{
			accessor: ledgermem.NewAccessor(),
			store:    memory.NewPatternStore(ttl),
			lock:     memory.NewRunLock(),
			cleanup:  func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &backends{
		accessor: ledgerpg.NewAccessor(pool),
		store:    pgstore.NewPatternStore(pool, ttl),
		lock:     pgstore.NewAdvisoryLock(pool),
		pinger:   pool,
		cleanup:  pool.Close,
	}, nil
}

// cronLogger adapts zap to the cron logger interface.
type cronLogger struct {
	logger *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Sugar().Infow(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads a local .env file without overriding existing env vars.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
