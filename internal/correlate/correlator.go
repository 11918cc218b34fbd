// Package correlate implements the round-trip correlator: for one anchor
// transaction it finds and scores opposite-flow candidates inside a bounded
// time window. The correlator is stateless and read-only; any number of
// callers may query it concurrently. It ranks candidates, it never asserts
// a unique source.
package correlate

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
	"shielded-risk/internal/observability"
	"shielded-risk/internal/storage"
)

// Anchor is the transaction a correlation query pivots on.
type Anchor struct {
	Txid      string
	FlowType  domain.FlowType
	AmountZat int64
	BlockTime int64
}

// Correlator scores round-trip candidates for anchor transactions.
type Correlator struct {
	accessor ledger.Accessor
	cfg      config.CorrelatorConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	hist     *histogramCache
}

// New creates a Correlator. metrics may be nil.
func New(accessor ledger.Accessor, cfg config.CorrelatorConfig, logger *zap.Logger, metrics *observability.Metrics) *Correlator {
	hist := newHistogramCache(accessor, cfg.HistogramTTL())
	if metrics != nil {
		hist.onRefresh = metrics.HistogramRefreshes.Inc
	}
	return &Correlator{
		accessor: accessor,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		hist:     hist,
	}
}

// Algorithm describes the scoring parameters exposed alongside API results,
// so consumers can tell which calibration produced a score.
type Algorithm struct {
	Version           string  `json:"version"`
	ToleranceZec      float64 `json:"toleranceZec"`
	MaxTimeWindowDays int     `json:"maxTimeWindowDays"`
}

// Algorithm returns the active scoring parameters.
func (c *Correlator) Algorithm() Algorithm {
	return Algorithm{
		Version:           AlgorithmVersion,
		ToleranceZec:      c.cfg.ToleranceZec,
		MaxTimeWindowDays: c.cfg.MaxTimeWindowDays,
	}
}

// windowSecs is the causal search window in seconds.
func (c *Correlator) windowSecs() int64 {
	return int64(c.cfg.MaxTimeWindowDays) * 24 * 3600
}

// toleranceZat returns the amount pruning bound for an anchor: the wider of
// the absolute and relative tolerances, so the rule that admits more
// candidates wins.
func (c *Correlator) toleranceZat(anchorZat int64) int64 {
	abs := domain.ZecToZat(c.cfg.ToleranceZec)
	rel := int64(float64(anchorZat) * c.cfg.RelativeTolerancePct / 100)
	if rel > abs {
		return rel
	}
	return abs
}

// Correlate returns the ranked opposite-flow candidates for the anchor.
func (c *Correlator) Correlate(ctx context.Context, anchor Anchor) ([]domain.CandidateMatch, error) {
	if c.metrics != nil {
		c.metrics.CorrelationQueries.Inc()
	}

	window := c.windowSecs()
	var candidates []domain.Flow
	var histStart, histEnd int64

	switch anchor.FlowType {
	case domain.FlowDeshield:
		// Only shields strictly before the anchor can be its source.
		histStart, histEnd = anchor.BlockTime-window, anchor.BlockTime
		shields, err := c.accessor.Shields(ctx, ledger.FlowQuery{
			StartTime: histStart,
			EndTime:   anchor.BlockTime - 1,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range shields {
			candidates = append(candidates, s.Flow)
		}
	case domain.FlowShield:
		// Only deshields strictly after the anchor can be its drain.
		histStart, histEnd = anchor.BlockTime, anchor.BlockTime+window
		deshields, err := c.accessor.Deshields(ctx, ledger.FlowQuery{
			StartTime: anchor.BlockTime + 1,
			EndTime:   histEnd,
		})
		if err != nil {
			return nil, err
		}
		for _, d := range deshields {
			candidates = append(candidates, d.Flow)
		}
	default:
		// A malformed anchor is a caller mistake, not a missing row.
		return nil, storage.ErrInvalidInput
	}

	hist, err := c.hist.get(ctx, histStart, histEnd)
	if err != nil {
		return nil, err
	}

	return c.rank(anchor, candidates, hist), nil
}

// rank scores and orders causal candidates. Pure over its inputs.
func (c *Correlator) rank(anchor Anchor, candidates []domain.Flow, hist ledger.Histogram) []domain.CandidateMatch {
	window := c.windowSecs()
	tolerance := c.toleranceZat(anchor.AmountZat)

	matches := make([]domain.CandidateMatch, 0, len(candidates))
	var skipped int

	for _, cand := range candidates {
		if !cand.Valid() {
			skipped++
			if c.metrics != nil {
				c.metrics.AnomalousRecords.Inc()
			}
			continue
		}

		// Causality is strict in both directions.
		delta := cand.BlockTime - anchor.BlockTime
		if anchor.FlowType == domain.FlowDeshield {
			delta = -delta
		}
		if delta <= 0 || delta > window {
			continue
		}

		if absDiffZat(cand.AmountZat, anchor.AmountZat) > tolerance {
			continue
		}

		breakdown := domain.MatchBreakdown{
			AmountSimilarity: amountSimilarity(anchor.AmountZat, cand.AmountZat),
			TimeProximity:    timeProximity(delta, window, c.cfg.DecayCurve),
			AmountRarity:     amountRarity(hist, cand.AmountZat),
		}
		score := compositeScore(breakdown, c.cfg.Weights)

		matches = append(matches, domain.CandidateMatch{
			AnchorTxid:      anchor.Txid,
			CandidateTxid:   cand.Txid,
			CandidateHeight: cand.BlockHeight,
			CandidateTime:   cand.BlockTime,
			AmountZat:       cand.AmountZat,
			TimeDelta:       delta,
			Score:           score,
			Breakdown:       breakdown,
			WarningLevel:    c.cfg.Thresholds.Level(score),
		})
	}

	if skipped > 0 && c.logger != nil {
		c.logger.Warn("skipped anomalous ledger records",
			zap.String("anchor", anchor.Txid),
			zap.Int("skipped", skipped))
	}

	// Score descending; equally strong candidates are all kept, closest in
	// time first, txid as the final deterministic tie-break.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].TimeDelta != matches[j].TimeDelta {
			return matches[i].TimeDelta < matches[j].TimeDelta
		}
		return matches[i].CandidateTxid < matches[j].CandidateTxid
	})

	return matches
}

// Linkability summarizes round-trip exposure for one txid.
type Linkability struct {
	HasShieldedActivity bool
	FlowType            domain.FlowType
	WarningLevel        domain.WarningLevel
	HighestScore        int
	Matches             []domain.CandidateMatch
}

// Linkability looks up the txid's shielded flow and correlates it. A txid
// with no shielded activity is a valid empty answer, not an error.
func (c *Correlator) Linkability(ctx context.Context, txid string) (*Linkability, error) {
	flowType, flow, err := c.accessor.FlowByTxid(ctx, txid)
	if err != nil {
		if err == ledger.ErrNotFound {
			return &Linkability{WarningLevel: domain.WarningLow}, nil
		}
		return nil, err
	}

	matches, err := c.Correlate(ctx, Anchor{
		Txid:      flow.Txid,
		FlowType:  flowType,
		AmountZat: flow.AmountZat,
		BlockTime: flow.BlockTime,
	})
	if err != nil {
		return nil, err
	}

	result := &Linkability{
		HasShieldedActivity: true,
		FlowType:            flowType,
		WarningLevel:        domain.WarningLow,
		Matches:             matches,
	}
	if len(matches) > 0 {
		result.HighestScore = matches[0].Score
		result.WarningLevel = matches[0].WarningLevel
	}
	return result, nil
}

func absDiffZat(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
