package batchdetect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	"shielded-risk/internal/observability"
	"shielded-risk/internal/storage"
)

// Job runs the detector on a schedule, persists what it finds and sweeps
// expired rows. Concurrent triggers are skipped, never queued: the next tick
// covers the same window anyway.
type Job struct {
	detector *Detector
	store    storage.PatternStore
	lock     storage.RunLock
	cfg      config.DetectorConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewJob creates a Job. metrics may be nil.
func NewJob(detector *Detector, store storage.PatternStore, lock storage.RunLock, cfg config.DetectorConfig, logger *zap.Logger, metrics *observability.Metrics) *Job {
	return &Job{detector: detector, store: store, lock: lock, cfg: cfg, logger: logger, metrics: metrics}
}

// RunSummary reports one completed detection run.
type RunSummary struct {
	Scanned    int
	Skipped    int
	Detected   int
	Stored     int
	Expired    int64
	ByLevel    map[domain.WarningLevel]int
	FlaggedZec float64
	Elapsed    time.Duration
}

// Run executes one detection pass over the trailing configured period.
// Returns (nil, nil) when another run holds the lock.
func (j *Job) Run(ctx context.Context) (*RunSummary, error) {
	locked, err := j.lock.TryLock(ctx)
	if err != nil {
		j.observeRun("error")
		return nil, fmt.Errorf("acquire detection lock: %w", err)
	}
	if !locked {
		j.logger.Info("detection already running, skipping")
		j.observeRun("skipped")
		return nil, nil
	}
	defer func() {
		if err := j.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			j.logger.Warn("release detection lock", zap.Error(err))
		}
	}()

	started := time.Now()
	endTime := started.Unix()
	startTime := endTime - int64(j.cfg.PeriodDays)*24*3600

	result, err := j.detector.Detect(ctx, startTime, endTime)
	if err != nil {
		j.observeRun("error")
		return nil, fmt.Errorf("detect patterns: %w", err)
	}

	summary := &RunSummary{
		Scanned:  result.Scanned,
		Skipped:  result.Skipped,
		Detected: len(result.Patterns),
		ByLevel:  make(map[domain.WarningLevel]int),
	}

	for i := range result.Patterns {
		p := &result.Patterns[i]
		if err := j.store.Upsert(ctx, p); err != nil {
			j.observeRun("error")
			return nil, fmt.Errorf("store pattern: %w", err)
		}
		summary.Stored++
		summary.ByLevel[p.WarningLevel]++
		summary.FlaggedZec += domain.ZatToZec(p.TotalAmountZat)
	}

	expired, err := j.store.DeleteExpired(ctx, time.Now().Unix())
	if err != nil {
		// The run itself succeeded; retention catches up next tick.
		j.logger.Warn("sweep expired patterns", zap.Error(err))
	} else {
		summary.Expired = expired
		if j.metrics != nil && expired > 0 {
			j.metrics.PatternsExpired.Add(float64(expired))
		}
	}

	summary.Elapsed = time.Since(started)
	j.observeRun("ok")
	if j.metrics != nil {
		j.metrics.PatternsStored.Add(float64(summary.Stored))
		j.metrics.LastDetectorRun.SetToCurrentTime()
		j.metrics.DetectorDuration.Observe(summary.Elapsed.Seconds())
	}

	j.logger.Info("detection run complete",
		zap.Int("scanned", summary.Scanned),
		zap.Int("skipped", summary.Skipped),
		zap.Int("detected", summary.Detected),
		zap.Int("stored", summary.Stored),
		zap.Int("high", summary.ByLevel[domain.WarningHigh]),
		zap.Int("medium", summary.ByLevel[domain.WarningMedium]),
		zap.Int("low", summary.ByLevel[domain.WarningLow]),
		zap.Float64("flaggedZec", summary.FlaggedZec),
		zap.Int64("expired", summary.Expired),
		zap.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

func (j *Job) observeRun(status string) {
	if j.metrics != nil {
		j.metrics.DetectorRuns.WithLabelValues(status).Inc()
	}
}
