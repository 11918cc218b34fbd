package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/idhash"
	"shielded-risk/internal/storage"
)

// PatternStore is an in-memory implementation of storage.PatternStore.
// It mirrors the Postgres upsert and keyset-pagination semantics for tests
// and single-process deployments.
type PatternStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StoredPattern // keyed by pattern_hash
	ttl  time.Duration
	now  func() int64
}

// NewPatternStore creates a new in-memory pattern store.
func NewPatternStore(ttl time.Duration) *PatternStore {
	return &PatternStore{
		data: make(map[string]*domain.StoredPattern),
		ttl:  ttl,
		now:  func() int64 { return time.Now().Unix() },
	}
}

// Compile-time interface check.
var _ storage.PatternStore = (*PatternStore)(nil)

// Upsert inserts or refreshes a pattern keyed by its content hash.
func (s *PatternStore) Upsert(_ context.Context, p *domain.BatchPattern) error {
	if p == nil || len(p.Txids) == 0 {
		return storage.ErrInvalidInput
	}

	metadata, err := json.Marshal(p)
	if err != nil {
		return err
	}

	hash := idhash.ComputePatternHash(p.Txids)
	now := s.now()

	var shieldTxids []string
	if p.MatchingShield != nil {
		shieldTxids = []string{p.MatchingShield.Txid}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[hash]; ok {
		existing.Score = p.Score
		existing.WarningLevel = p.WarningLevel
		existing.ShieldTxids = shieldTxids
		existing.Metadata = metadata
		existing.UpdatedAt = now
		existing.ExpiresAt = now + int64(s.ttl.Seconds())
		return nil
	}

	s.data[hash] = &domain.StoredPattern{
		PatternHash:    hash,
		PatternType:    p.PatternType,
		Score:          p.Score,
		WarningLevel:   p.WarningLevel,
		PerTxAmountZat: p.PerTxAmountZat,
		TotalAmountZat: p.TotalAmountZat,
		BatchCount:     p.BatchCount,
		Txids:          append([]string(nil), p.Txids...),
		ShieldTxids:    shieldTxids,
		FirstTime:      p.FirstTime,
		LastTime:       p.LastTime,
		TimeSpanHours:  p.TimeSpanHours,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now + int64(s.ttl.Seconds()),
	}
	return nil
}

// GetByHash retrieves a pattern by hash. Returns ErrNotFound if absent.
func (s *PatternStore) GetByHash(_ context.Context, hash string) (*domain.StoredPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}

	patternCopy := *p
	return &patternCopy, nil
}

// Query returns one page of unexpired patterns plus a has-more flag.
func (s *PatternStore) Query(_ context.Context, q storage.PatternQuery) ([]*domain.StoredPattern, bool, error) {
	if q.Limit <= 0 {
		return nil, false, storage.ErrInvalidInput
	}

	var less func(a, b *domain.StoredPattern) bool
	switch q.Sort {
	case storage.SortRecent:
		less = recentBefore
	case storage.SortScore, "":
		less = scoreBefore
	default:
		return nil, false, storage.ErrInvalidInput
	}

	matched := s.filtered(q)
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	if c := q.Cursor; c != nil {
		// Skip everything at or before the cursor position.
		cursorRow := &domain.StoredPattern{
			Score:          c.Score,
			TotalAmountZat: c.TotalAmountZat,
			FirstTime:      c.FirstTime,
			PatternHash:    c.PatternHash,
		}
		i := sort.Search(len(matched), func(i int) bool { return less(cursorRow, matched[i]) })
		matched = matched[i:]
	}

	hasMore := len(matched) > q.Limit
	if hasMore {
		matched = matched[:q.Limit]
	}
	return matched, hasMore, nil
}

// Count returns the number of unexpired patterns matching q's filters.
func (s *PatternStore) Count(_ context.Context, q storage.PatternQuery) (int, error) {
	return len(s.filtered(q)), nil
}

// Stats aggregates unexpired patterns with FirstTime in [start, end].
func (s *PatternStore) Stats(_ context.Context, startTime, endTime int64) (*storage.PatternStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := &storage.PatternStats{}
	for _, p := range s.data {
		if p.ExpiresAt <= now || p.FirstTime < startTime || p.FirstTime > endTime {
			continue
		}
		stats.Total++
		stats.TotalZatFlagged += p.TotalAmountZat
		switch p.WarningLevel {
		case domain.WarningHigh:
			stats.HighRisk++
		case domain.WarningMedium:
			stats.MediumRisk++
		}
	}
	return stats, nil
}

// DeleteExpired removes rows past their expiry, returning the count removed.
func (s *PatternStore) DeleteExpired(_ context.Context, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, p := range s.data {
		if p.ExpiresAt <= now {
			delete(s.data, hash)
			removed++
		}
	}
	return removed, nil
}

// filtered returns unexpired patterns matching the period and level filters.
// It copies each row while the read lock is held, so callers may sort and
// return the results while concurrent upserts mutate the live structs.
func (s *PatternStore) filtered(q storage.PatternQuery) []*domain.StoredPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var matched []*domain.StoredPattern
	for _, p := range s.data {
		if p.ExpiresAt <= now {
			continue
		}
		if q.StartTime > 0 && p.FirstTime < q.StartTime {
			continue
		}
		if q.EndTime > 0 && p.FirstTime > q.EndTime {
			continue
		}
		if !p.WarningLevel.AtLeast(q.MinLevel) {
			continue
		}
		patternCopy := *p
		matched = append(matched, &patternCopy)
	}
	return matched
}

// scoreBefore orders by (score desc, total_amount desc, pattern_hash asc).
func scoreBefore(a, b *domain.StoredPattern) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.TotalAmountZat != b.TotalAmountZat {
		return a.TotalAmountZat > b.TotalAmountZat
	}
	return a.PatternHash < b.PatternHash
}

// recentBefore orders by (first_time desc, pattern_hash asc).
func recentBefore(a, b *domain.StoredPattern) bool {
	if a.FirstTime != b.FirstTime {
		return a.FirstTime > b.FirstTime
	}
	return a.PatternHash < b.PatternHash
}
