package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/idhash"
	"shielded-risk/internal/storage"
	"shielded-risk/internal/storage/postgres"
)

func testPattern(i int, score int, level domain.WarningLevel) *domain.BatchPattern {
	txids := []string{
		fmt.Sprintf("tx-%03d-a", i),
		fmt.Sprintf("tx-%03d-b", i),
		fmt.Sprintf("tx-%03d-c", i),
	}
	return &domain.BatchPattern{
		PatternType:    domain.PatternTypeBatchDeshield,
		PerTxAmountZat: 100_000_000,
		BatchCount:     3,
		TotalAmountZat: 300_000_000,
		Txids:          txids,
		IsRoundNumber:  true,
		Score:          score,
		WarningLevel:   level,
		FirstTime:      1_700_000_000 + int64(i)*3600,
		LastTime:       1_700_000_000 + int64(i)*3600 + 1800,
		TimeSpanHours:  0.5,
		Explanation:    "test pattern",
	}
}

func TestPatternStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPatternStore(pool, 90*24*time.Hour)
	ctx := context.Background()

	p := testPattern(1, 80, domain.WarningHigh)
	p.MatchingShield = &domain.ShieldMatch{
		Txid:      "shield-001",
		AmountZat: 300_000_000,
	}
	require.NoError(t, store.Upsert(ctx, p))

	hash := idhash.ComputePatternHash(p.Txids)
	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)

	assert.Equal(t, hash, got.PatternHash)
	assert.Equal(t, domain.PatternTypeBatchDeshield, got.PatternType)
	assert.Equal(t, 80, got.Score)
	assert.Equal(t, domain.WarningHigh, got.WarningLevel)
	assert.Equal(t, p.Txids, got.Txids)
	assert.Equal(t, []string{"shield-001"}, got.ShieldTxids)
	assert.Equal(t, p.FirstTime, got.FirstTime)
	assert.NotEmpty(t, got.Metadata)
	assert.NotZero(t, got.CreatedAt)
	assert.Greater(t, got.ExpiresAt, got.CreatedAt)
}

func TestPatternStore_UpsertIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPatternStore(pool, 90*24*time.Hour)
	ctx := context.Background()

	p := testPattern(1, 60, domain.WarningMedium)
	require.NoError(t, store.Upsert(ctx, p))

	first, err := store.GetByHash(ctx, idhash.ComputePatternHash(p.Txids))
	require.NoError(t, err)

	// Re-detection with a higher score updates in place.
	p.Score = 75
	p.WarningLevel = domain.WarningHigh
	require.NoError(t, store.Upsert(ctx, p))

	count, err := store.Count(ctx, storage.PatternQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-detection must not create new rows")

	got, err := store.GetByHash(ctx, idhash.ComputePatternHash(p.Txids))
	require.NoError(t, err)
	assert.Equal(t, 75, got.Score)
	assert.Equal(t, domain.WarningHigh, got.WarningLevel)
	assert.Equal(t, first.CreatedAt, got.CreatedAt, "created_at preserved on update")
	assert.GreaterOrEqual(t, got.ExpiresAt, first.ExpiresAt, "expiry pushed forward")
}

func TestPatternStore_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPatternStore(pool, time.Hour)

	_, err := store.GetByHash(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPatternStore_UpsertInvalid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPatternStore(pool, time.Hour)

	assert.ErrorIs(t, store.Upsert(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Upsert(context.Background(), &domain.BatchPattern{}), storage.ErrInvalidInput)
}

func TestPatternStore_QueryLevelFilter(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPatternStore(pool, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testPattern(0, 80, domain.WarningHigh)))
	require.NoError(t, store.Upsert(ctx, testPattern(1, 60, domain.WarningMedium)))
	require.NoError(t, store.Upsert(ctx, testPattern(2, 40, domain.WarningLow)))

	rows, hasMore, err := store.Query(ctx, storage.PatternQuery{
		MinLevel: domain.WarningMedium,
		Sort:     storage.SortScore,
		Limit:    10,
	})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, rows, 2)
	assert.Equal(t, 80, rows[0].Score, "score ordering")
	assert.Equal(t, 60, rows[1].Score)
}

func TestPatternStore_CursorPagination(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPatternStore(pool, time.Hour)
	ctx := context.Background()

	const total = 23
	for i := 0; i < total; i++ {
		level := domain.WarningLow
		if i%2 == 0 {
			level = domain.WarningHigh
		}
		// Deliberate score collisions exercise the tie-breaks.
		require.NoError(t, store.Upsert(ctx, testPattern(i, 40+i%5, level)))
	}

	for _, sortMode := range []storage.PatternSort{storage.SortScore, storage.SortRecent} {
		var walked []*domain.StoredPattern
		var cursor *storage.PatternCursor

		for {
			rows, hasMore, err := store.Query(ctx, storage.PatternQuery{
				Sort:   sortMode,
				Cursor: cursor,
				Limit:  4,
			})
			require.NoError(t, err)
			walked = append(walked, rows...)
			if !hasMore {
				break
			}
			last := rows[len(rows)-1]
			cursor = &storage.PatternCursor{
				Score:          last.Score,
				TotalAmountZat: last.TotalAmountZat,
				FirstTime:      last.FirstTime,
				PatternHash:    last.PatternHash,
			}
		}

		assert.Len(t, walked, total, "%s walk must be complete", sortMode)
		seen := map[string]bool{}
		for _, r := range walked {
			assert.False(t, seen[r.PatternHash], "%s walk duplicated %s", sortMode, r.PatternHash)
			seen[r.PatternHash] = true
		}
	}
}

func TestPatternStore_StatsAndDeleteExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// A short TTL store writes rows the sweep below can claim.
	shortStore := postgres.NewPatternStore(pool, time.Minute)
	longStore := postgres.NewPatternStore(pool, 90*24*time.Hour)

	require.NoError(t, shortStore.Upsert(ctx, testPattern(0, 80, domain.WarningHigh)))
	require.NoError(t, longStore.Upsert(ctx, testPattern(1, 60, domain.WarningMedium)))
	require.NoError(t, longStore.Upsert(ctx, testPattern(2, 40, domain.WarningLow)))

	stats, err := longStore.Stats(ctx, 1_600_000_000, 1_800_000_000)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.HighRisk)
	assert.Equal(t, 1, stats.MediumRisk)
	assert.Equal(t, int64(3*300_000_000), stats.TotalZatFlagged)

	removed, err := longStore.DeleteExpired(ctx, time.Now().Unix()+120)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := longStore.Count(ctx, storage.PatternQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAdvisoryLock_Exclusive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	first := postgres.NewAdvisoryLock(pool)
	second := postgres.NewAdvisoryLock(pool)

	locked, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, locked)

	// A second holder contends on the same key and must be refused.
	locked, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, first.Unlock(ctx))

	locked, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, second.Unlock(ctx))
}

func TestAdvisoryLock_ReentryRefused(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	lock := postgres.NewAdvisoryLock(pool)

	locked, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, locked)

	locked, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, locked, "held lock must refuse re-entry")

	require.NoError(t, lock.Unlock(ctx))
}
