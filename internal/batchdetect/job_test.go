package batchdetect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	"shielded-risk/internal/idhash"
	ledgermem "shielded-risk/internal/ledger/memory"
	"shielded-risk/internal/storage"
	"shielded-risk/internal/storage/memory"
)

func newTestJob(acc *ledgermem.Accessor, store storage.PatternStore, lock storage.RunLock) *Job {
	cfg := config.Default().Detector
	detector := NewDetector(acc, cfg, zap.NewNop(), nil)
	return NewJob(detector, store, lock, cfg, zap.NewNop(), nil)
}

func TestJob_Run_StoresPatterns(t *testing.T) {
	now := time.Now().Unix()
	acc := ledgermem.NewAccessor()
	acc.AddShield(deshield("shield-50", now-5*day, domain.ZecToZat(50), ""))

	var txids []string
	for i := 0; i < 10; i++ {
		txid := fmt.Sprintf("batch-%02d", i)
		txids = append(txids, txid)
		acc.AddDeshield(deshield(txid, now-2*day+int64(i)*20*60, domain.ZecToZat(5), ""))
	}

	store := memory.NewPatternStore(90 * 24 * time.Hour)
	job := newTestJob(acc, store, memory.NewRunLock())

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary == nil {
		t.Fatal("expected a summary, got a skip")
	}
	if summary.Stored != 1 {
		t.Fatalf("stored = %d, want 1", summary.Stored)
	}
	if summary.ByLevel[domain.WarningHigh] != 1 {
		t.Errorf("high count = %d, want 1", summary.ByLevel[domain.WarningHigh])
	}
	if summary.FlaggedZec != 50 {
		t.Errorf("flagged = %v ZEC, want 50", summary.FlaggedZec)
	}

	// The pattern is retrievable by its content hash.
	hash := idhash.ComputePatternHash(txids)
	stored, err := store.GetByHash(context.Background(), hash)
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if stored.BatchCount != 10 {
		t.Errorf("batch count = %d, want 10", stored.BatchCount)
	}
	if len(stored.Metadata) == 0 {
		t.Error("stored pattern should carry full metadata")
	}
}

func TestJob_Run_Idempotent(t *testing.T) {
	now := time.Now().Unix()
	acc := ledgermem.NewAccessor()
	for i := 0; i < 6; i++ {
		acc.AddDeshield(deshield(fmt.Sprintf("b-%02d", i), now-day+int64(i)*10*60, domain.ZecToZat(2.5), "t1-sink"))
	}

	store := memory.NewPatternStore(90 * 24 * time.Hour)
	job := newTestJob(acc, store, memory.NewRunLock())

	for run := 0; run < 3; run++ {
		if _, err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	count, err := store.Count(context.Background(), storage.PatternQuery{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("re-detection stored %d rows, want 1", count)
	}
}

func TestJob_Run_SkipsWhenLocked(t *testing.T) {
	lock := memory.NewRunLock()
	locked, err := lock.TryLock(context.Background())
	if err != nil || !locked {
		t.Fatalf("failed to pre-acquire lock: %v", err)
	}

	job := newTestJob(ledgermem.NewAccessor(), memory.NewPatternStore(time.Hour), lock)

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary != nil {
		t.Error("locked run should be skipped, not executed")
	}
}

func TestJob_Run_ReleasesLock(t *testing.T) {
	lock := memory.NewRunLock()
	job := newTestJob(ledgermem.NewAccessor(), memory.NewPatternStore(time.Hour), lock)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The lock must be free again after the run.
	locked, err := lock.TryLock(context.Background())
	if err != nil || !locked {
		t.Errorf("lock not released: locked=%v err=%v", locked, err)
	}
}
