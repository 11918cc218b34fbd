package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/idhash"
	"shielded-risk/internal/storage"
)

// PatternStore implements storage.PatternStore using PostgreSQL.
// Concurrency correctness of Upsert relies on the unique index on
// pattern_hash and ON CONFLICT resolution, not external locking.
type PatternStore struct {
	pool *Pool
	ttl  time.Duration
}

// NewPatternStore creates a new PatternStore with the given retention TTL.
func NewPatternStore(pool *Pool, ttl time.Duration) *PatternStore {
	return &PatternStore{pool: pool, ttl: ttl}
}

// Compile-time interface check.
var _ storage.PatternStore = (*PatternStore)(nil)

const patternColumns = `
	pattern_hash, pattern_type, score, warning_level,
	per_tx_amount_zat, total_amount_zat, batch_count,
	deshield_txids, shield_txids,
	first_tx_time, last_tx_time, time_span_hours,
	metadata, created_at, updated_at, expires_at
`

// Upsert inserts or refreshes a pattern keyed by its content hash.
func (s *PatternStore) Upsert(ctx context.Context, p *domain.BatchPattern) error {
	if p == nil || len(p.Txids) == 0 {
		return storage.ErrInvalidInput
	}

	metadata, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern metadata: %w", err)
	}

	hash := idhash.ComputePatternHash(p.Txids)
	now := time.Now().Unix()
	expiresAt := now + int64(s.ttl.Seconds())

	var shieldTxids []string
	if p.MatchingShield != nil {
		shieldTxids = []string{p.MatchingShield.Txid}
	}

	query := `
		INSERT INTO detected_patterns (` + patternColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14, $15)
		ON CONFLICT (pattern_hash) DO UPDATE SET
			score = EXCLUDED.score,
			warning_level = EXCLUDED.warning_level,
			shield_txids = EXCLUDED.shield_txids,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err = s.pool.Exec(ctx, query,
		hash,
		p.PatternType,
		p.Score,
		string(p.WarningLevel),
		p.PerTxAmountZat,
		p.TotalAmountZat,
		p.BatchCount,
		p.Txids,
		shieldTxids,
		p.FirstTime,
		p.LastTime,
		p.TimeSpanHours,
		metadata,
		now,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// GetByHash retrieves a pattern by its content hash.
func (s *PatternStore) GetByHash(ctx context.Context, hash string) (*domain.StoredPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM detected_patterns WHERE pattern_hash = $1`

	row := s.pool.QueryRow(ctx, query, hash)
	p, err := scanPattern(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pattern by hash: %w", err)
	}
	return p, nil
}

// Query returns one page of unexpired patterns plus a has-more flag.
// Keyset pagination: the query fetches limit+1 rows and trims.
func (s *PatternStore) Query(ctx context.Context, q storage.PatternQuery) ([]*domain.StoredPattern, bool, error) {
	if q.Limit <= 0 {
		return nil, false, storage.ErrInvalidInput
	}

	where, args := patternFilters(q)
	var order string

	switch q.Sort {
	case storage.SortRecent:
		order = "first_tx_time DESC, pattern_hash ASC"
		if c := q.Cursor; c != nil {
			args = append(args, c.FirstTime, c.PatternHash)
			n := len(args)
			where += fmt.Sprintf(
				" AND (first_tx_time < $%d OR (first_tx_time = $%d AND pattern_hash > $%d))",
				n-1, n-1, n)
		}
	case storage.SortScore, "":
		order = "score DESC, total_amount_zat DESC, pattern_hash ASC"
		if c := q.Cursor; c != nil {
			args = append(args, c.Score, c.TotalAmountZat, c.PatternHash)
			n := len(args)
			where += fmt.Sprintf(
				" AND (score < $%d OR (score = $%d AND (total_amount_zat < $%d OR (total_amount_zat = $%d AND pattern_hash > $%d))))",
				n-2, n-2, n-1, n-1, n)
		}
	default:
		return nil, false, storage.ErrInvalidInput
	}

	args = append(args, q.Limit+1)
	query := fmt.Sprintf(
		`SELECT %s FROM detected_patterns WHERE %s ORDER BY %s LIMIT $%d`,
		patternColumns, where, order, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(patterns) > q.Limit
	if hasMore {
		patterns = patterns[:q.Limit]
	}
	return patterns, hasMore, nil
}

// Count returns the number of unexpired patterns matching q's filters.
func (s *PatternStore) Count(ctx context.Context, q storage.PatternQuery) (int, error) {
	where, args := patternFilters(q)
	query := `SELECT COUNT(*) FROM detected_patterns WHERE ` + where

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return count, nil
}

// Stats aggregates unexpired patterns with first_tx_time in [start, end].
func (s *PatternStore) Stats(ctx context.Context, startTime, endTime int64) (*storage.PatternStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE warning_level = 'HIGH'),
			COUNT(*) FILTER (WHERE warning_level = 'MEDIUM'),
			COALESCE(SUM(total_amount_zat), 0)
		FROM detected_patterns
		WHERE expires_at > $1 AND first_tx_time >= $2 AND first_tx_time <= $3
	`

	stats := &storage.PatternStats{}
	err := s.pool.QueryRow(ctx, query, time.Now().Unix(), startTime, endTime).Scan(
		&stats.Total,
		&stats.HighRisk,
		&stats.MediumRisk,
		&stats.TotalZatFlagged,
	)
	if err != nil {
		return nil, fmt.Errorf("pattern stats: %w", err)
	}
	return stats, nil
}

// DeleteExpired removes rows past their expiry, returning the count removed.
func (s *PatternStore) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM detected_patterns WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired patterns: %w", err)
	}
	return tag.RowsAffected(), nil
}

// patternFilters builds the shared WHERE clause of Query and Count.
func patternFilters(q storage.PatternQuery) (string, []any) {
	where := "expires_at > $1"
	args := []any{time.Now().Unix()}

	if q.StartTime > 0 {
		args = append(args, q.StartTime)
		where += fmt.Sprintf(" AND first_tx_time >= $%d", len(args))
	}
	if q.EndTime > 0 {
		args = append(args, q.EndTime)
		where += fmt.Sprintf(" AND first_tx_time <= $%d", len(args))
	}
	switch q.MinLevel {
	case domain.WarningHigh:
		where += " AND warning_level = 'HIGH'"
	case domain.WarningMedium:
		where += " AND warning_level IN ('HIGH', 'MEDIUM')"
	}
	return where, args
}

// scanPattern scans a single row into a StoredPattern.
func scanPattern(row pgx.Row) (*domain.StoredPattern, error) {
	var p domain.StoredPattern
	var level string

	err := row.Scan(
		&p.PatternHash,
		&p.PatternType,
		&p.Score,
		&level,
		&p.PerTxAmountZat,
		&p.TotalAmountZat,
		&p.BatchCount,
		&p.Txids,
		&p.ShieldTxids,
		&p.FirstTime,
		&p.LastTime,
		&p.TimeSpanHours,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	p.WarningLevel = domain.WarningLevel(level)
	return &p, nil
}

// scanPatterns scans multiple rows into a slice of StoredPattern.
func scanPatterns(rows pgx.Rows) ([]*domain.StoredPattern, error) {
	var patterns []*domain.StoredPattern

	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		patterns = append(patterns, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pattern rows: %w", err)
	}

	return patterns, nil
}
