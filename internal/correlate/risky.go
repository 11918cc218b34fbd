package correlate

import (
	"context"
	"math"
	"sort"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
)

// maxBulkEvents bounds one risky-round-trips scan regardless of the caller's
// period, protecting the ledger from unbounded reads.
const maxBulkEvents = 50_000

// RoundTripSort selects the ordering of the bulk listing.
type RoundTripSort string

const (
	RoundTripSortRecent RoundTripSort = "recent"
	RoundTripSortScore  RoundTripSort = "score"
)

// RoundTripQuery selects deshields in a period and filters their best match.
type RoundTripQuery struct {
	StartTime int64
	EndTime   int64
	MinLevel  domain.WarningLevel
	Sort      RoundTripSort
	Offset    int
	Limit     int
}

// RoundTripEntry is one deshield with its strongest shield candidate.
type RoundTripEntry struct {
	Txid         string                `json:"txid"`
	BlockHeight  int64                 `json:"blockHeight"`
	BlockTime    int64                 `json:"blockTime"`
	Pool         domain.Pool           `json:"pool"`
	AmountZat    int64                 `json:"amountZat"`
	Score        int                   `json:"score"`
	WarningLevel domain.WarningLevel   `json:"warningLevel"`
	BestMatch    domain.CandidateMatch `json:"bestMatch"`
	MatchCount   int                   `json:"matchCount"`
}

// RoundTripStats aggregates a period before risk-level filtering.
type RoundTripStats struct {
	Total      int     `json:"total"`
	HighRisk   int     `json:"highRisk"`
	MediumRisk int     `json:"mediumRisk"`
	AvgScore   float64 `json:"avgScore"`
}

// RoundTripReport is one page of the bulk listing.
type RoundTripReport struct {
	Entries []RoundTripEntry
	Stats   RoundTripStats
	HasMore bool
}

// RiskyRoundTrips correlates every deshield in the period against shields in
// the preceding window and returns the filtered, sorted, paginated result.
func (c *Correlator) RiskyRoundTrips(ctx context.Context, q RoundTripQuery) (*RoundTripReport, error) {
	window := c.windowSecs()

	deshields, err := c.accessor.Deshields(ctx, ledger.FlowQuery{
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
		Limit:     maxBulkEvents,
	})
	if err != nil {
		return nil, err
	}

	// One shield fetch covers every anchor's causal window.
	shields, err := c.accessor.Shields(ctx, ledger.FlowQuery{
		StartTime: q.StartTime - window,
		EndTime:   q.EndTime,
		Limit:     maxBulkEvents,
	})
	if err != nil {
		return nil, err
	}
	pool := make([]domain.Flow, len(shields))
	for i, s := range shields {
		pool[i] = s.Flow
	}

	hist, err := c.hist.get(ctx, q.StartTime-window, q.EndTime)
	if err != nil {
		return nil, err
	}

	var entries []RoundTripEntry
	var scoreSum int
	stats := RoundTripStats{}

	for _, d := range deshields {
		if !d.Valid() {
			if c.metrics != nil {
				c.metrics.AnomalousRecords.Inc()
			}
			continue
		}

		matches := c.rank(Anchor{
			Txid:      d.Txid,
			FlowType:  domain.FlowDeshield,
			AmountZat: d.AmountZat,
			BlockTime: d.BlockTime,
		}, pool, hist)
		if len(matches) == 0 {
			continue
		}

		best := matches[0]
		entries = append(entries, RoundTripEntry{
			Txid:         d.Txid,
			BlockHeight:  d.BlockHeight,
			BlockTime:    d.BlockTime,
			Pool:         d.Pool,
			AmountZat:    d.AmountZat,
			Score:        best.Score,
			WarningLevel: best.WarningLevel,
			BestMatch:    best,
			MatchCount:   len(matches),
		})

		scoreSum += best.Score
		stats.Total++
		switch best.WarningLevel {
		case domain.WarningHigh:
			stats.HighRisk++
		case domain.WarningMedium:
			stats.MediumRisk++
		}
	}

	if stats.Total > 0 {
		stats.AvgScore = math.Round(float64(scoreSum)/float64(stats.Total)*10) / 10
	}

	filtered := entries[:0:0]
	for _, e := range entries {
		if e.WarningLevel.AtLeast(q.MinLevel) {
			filtered = append(filtered, e)
		}
	}

	switch q.Sort {
	case RoundTripSortScore:
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].Score != filtered[j].Score {
				return filtered[i].Score > filtered[j].Score
			}
			if filtered[i].BlockTime != filtered[j].BlockTime {
				return filtered[i].BlockTime > filtered[j].BlockTime
			}
			return filtered[i].Txid < filtered[j].Txid
		})
	default: // recent
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].BlockTime != filtered[j].BlockTime {
				return filtered[i].BlockTime > filtered[j].BlockTime
			}
			return filtered[i].Txid < filtered[j].Txid
		})
	}

	// Offset/limit pagination with a has-more flag.
	if q.Offset >= len(filtered) {
		return &RoundTripReport{Entries: nil, Stats: stats, HasMore: false}, nil
	}
	page := filtered[q.Offset:]
	hasMore := false
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
		hasMore = true
	}

	return &RoundTripReport{Entries: page, Stats: stats, HasMore: hasMore}, nil
}
