// Package main provides a one-shot batch pattern detection run. It scans the
// trailing period, prints the ranked patterns and, unless --dry-run is set,
// persists them through the same path as the scheduled job.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shielded-risk/internal/batchdetect"
	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	ledgerpg "shielded-risk/internal/ledger/postgres"
	"shielded-risk/internal/logging"
	"shielded-risk/internal/storage/migrations"
	pgstore "shielded-risk/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Optional YAML config file")
	periodDays := flag.Int("period", 0, "Days to scan (0 uses the configured period)")
	minBatch := flag.Int("min-batch", 0, "Minimum batch size (0 uses the configured minimum)")
	minAmount := flag.Float64("min-amount", 0, "Minimum per-tx ZEC (0 uses the configured minimum)")
	dryRun := flag.Bool("dry-run", false, "Detect and print without persisting")
	verbose := flag.Bool("verbose", false, "Print full txid lists")
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
	if *periodDays > 0 {
		cfg.Detector.PeriodDays = *periodDays
	}
	if *minBatch > 0 {
		cfg.Detector.MinBatchCount = *minBatch
	}
	if *minAmount > 0 {
		cfg.Detector.MinAmountZec = *minAmount
	}

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling detection...\n", sig)
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	accessor := ledgerpg.NewAccessor(pool)
	detector := batchdetect.NewDetector(accessor, cfg.Detector, logger, nil)

	if *dryRun {
		endTime := time.Now().Unix()
		startTime := endTime - int64(cfg.Detector.PeriodDays)*24*3600

		result, err := detector.Detect(ctx, startTime, endTime)
		if err != nil {
			logger.Fatal("detect patterns", zap.Error(err))
		}
		printResult(result, *verbose)
		fmt.Println("\nDry run: nothing persisted.")
		return
	}

	store := pgstore.NewPatternStore(pool, cfg.Store.TTL())
	lock := pgstore.NewAdvisoryLock(pool)
	job := batchdetect.NewJob(detector, store, lock, cfg.Detector, logger, nil)

	summary, err := job.Run(ctx)
	if err != nil {
		logger.Fatal("detection run", zap.Error(err))
	}
	if summary == nil {
		fmt.Println("Another detection run is in progress, skipped.")
		return
	}

	fmt.Printf("Detection complete:\n")
	fmt.Printf("  Scanned:  %d deshields (%d skipped)\n", summary.Scanned, summary.Skipped)
	fmt.Printf("  Stored:   %d patterns (HIGH %d, MEDIUM %d, LOW %d)\n",
		summary.Stored,
		summary.ByLevel[domain.WarningHigh],
		summary.ByLevel[domain.WarningMedium],
		summary.ByLevel[domain.WarningLow])
	fmt.Printf("  Flagged:  %.2f ZEC\n", summary.FlaggedZec)
	fmt.Printf("  Expired:  %d removed\n", summary.Expired)
	fmt.Printf("  Elapsed:  %s\n", summary.Elapsed.Round(time.Millisecond))
}

func printResult(result *batchdetect.Result, verbose bool) {
	fmt.Printf("=== Batch Pattern Detection ===\n")
	fmt.Printf("Scanned %d deshields (%d skipped), found %d patterns\n\n",
		result.Scanned, result.Skipped, len(result.Patterns))

	for i, p := range result.Patterns {
		fmt.Printf("%d. [%s %d] %s\n", i+1, p.WarningLevel, p.Score, p.Explanation)
		fmt.Printf("   breakdown: batch=%d round=%d shield=%d time=%d address=%d\n",
			p.Breakdown.BatchCount, p.Breakdown.RoundNumber, p.Breakdown.MatchingShield,
			p.Breakdown.TimeClustering, p.Breakdown.AddressAnalysis)
		if verbose {
			for _, txid := range p.Txids {
				fmt.Printf("   - %s\n", txid)
			}
		}
	}
}
