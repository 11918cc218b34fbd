package storage

import (
	"context"

	"shielded-risk/internal/domain"
)

// PatternSort selects the traversal order of pattern queries. Each mode has
// its own cursor shape; the tie-break on pattern_hash guarantees a stable,
// duplicate-free, gap-free walk across pages.
type PatternSort string

const (
	// SortScore orders by (score desc, total_amount desc, pattern_hash asc).
	SortScore PatternSort = "score"

	// SortRecent orders by (first_time desc, pattern_hash asc).
	SortRecent PatternSort = "recent"
)

// PatternCursor is a keyset cursor. Which fields are meaningful depends on
// the sort mode: SortScore reads Score/TotalAmountZat/PatternHash, SortRecent
// reads FirstTime/PatternHash.
type PatternCursor struct {
	Score          int    `json:"score,omitempty"`
	TotalAmountZat int64  `json:"totalAmountZat,omitempty"`
	FirstTime      int64  `json:"firstTime,omitempty"`
	PatternHash    string `json:"patternHash"`
}

// PatternQuery selects stored patterns. StartTime/EndTime filter on the
// pattern's first transaction time; zero values leave the bound open.
type PatternQuery struct {
	StartTime int64
	EndTime   int64
	MinLevel  domain.WarningLevel
	Sort      PatternSort
	Cursor    *PatternCursor
	Limit     int
}

// PatternStats aggregates stored patterns over a period.
type PatternStats struct {
	Total           int   `json:"total"`
	HighRisk        int   `json:"highRisk"`
	MediumRisk      int   `json:"mediumRisk"`
	TotalZatFlagged int64 `json:"totalZatFlagged"`
}

// PatternStore persists detected batch patterns keyed by content hash.
type PatternStore interface {
	// Upsert inserts the pattern or, if its hash already exists, updates
	// score, warning level and metadata in place and refreshes expiry.
	// Idempotent: re-detecting an unchanged window stores no new rows.
	Upsert(ctx context.Context, p *domain.BatchPattern) error

	// GetByHash retrieves one pattern. Returns ErrNotFound if absent.
	GetByHash(ctx context.Context, hash string) (*domain.StoredPattern, error)

	// Query returns up to q.Limit unexpired patterns in the order of q.Sort,
	// starting after q.Cursor. The second return reports whether more pages
	// follow.
	Query(ctx context.Context, q PatternQuery) ([]*domain.StoredPattern, bool, error)

	// Count returns the number of unexpired patterns matching q's filters,
	// ignoring cursor and limit.
	Count(ctx context.Context, q PatternQuery) (int, error)

	// Stats aggregates unexpired patterns with first_time in [start, end].
	Stats(ctx context.Context, startTime, endTime int64) (*PatternStats, error)

	// DeleteExpired removes rows with expires_at <= now, returning the count.
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

// RunLock serializes detection runs. Implementations must not queue: a held
// lock means the caller skips its run entirely.
type RunLock interface {
	// TryLock attempts to acquire the lock without blocking.
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases the lock acquired by TryLock.
	Unlock(ctx context.Context) error
}
