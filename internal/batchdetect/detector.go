// Package batchdetect implements the batch pattern detector: it scans a
// window of deshields for clusters of near-identical payments, scores each
// cluster, and hands survivors to the pattern store.
package batchdetect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
	"shielded-risk/internal/observability"
)

// shieldLookupConcurrency bounds parallel matching-shield queries per run.
const shieldLookupConcurrency = 4

// matchingShieldLimit caps candidates per cluster; closest amount wins.
const matchingShieldLimit = 5

// Detector finds batch deshield patterns in a time window.
type Detector struct {
	accessor ledger.Accessor
	cfg      config.DetectorConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewDetector creates a Detector. metrics may be nil.
func NewDetector(accessor ledger.Accessor, cfg config.DetectorConfig, logger *zap.Logger, metrics *observability.Metrics) *Detector {
	cfg.Caps = capsOrDefault(cfg.Caps)
	return &Detector{accessor: accessor, cfg: cfg, logger: logger, metrics: metrics}
}

// Result is the outcome of one detection pass.
type Result struct {
	Patterns []domain.BatchPattern
	Scanned  int // deshields considered
	Skipped  int // anomalous rows dropped
}

// Detect scans [startTime, endTime] and returns scored batch patterns,
// ordered by (score desc, totalAmount desc, first txid asc). The scan pages
// the ledger in bounded chunks and honors ctx cancellation between chunks.
func (d *Detector) Detect(ctx context.Context, startTime, endTime int64) (*Result, error) {
	events, skipped, err := d.fetchDeshields(ctx, startTime, endTime)
	if err != nil {
		return nil, err
	}

	result := &Result{Scanned: len(events), Skipped: skipped}

	clusters := d.clusterEvents(events)
	if len(clusters) == 0 {
		return result, nil
	}

	// Matching-shield lookups dominate run time; bound their concurrency.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shieldLookupConcurrency)
	shields := make([]*domain.ShieldMatch, len(clusters))

	for i, cl := range clusters {
		i, cl := i, cl
		g.Go(func() error {
			match, err := d.findMatchingShield(gctx, cl)
			if err != nil {
				return err
			}
			shields[i] = match
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, cl := range clusters {
		pattern := d.buildPattern(cl, shields[i])
		if pattern.Score < d.cfg.MinScore {
			continue
		}
		result.Patterns = append(result.Patterns, pattern)
	}

	sort.SliceStable(result.Patterns, func(i, j int) bool {
		a, b := result.Patterns[i], result.Patterns[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalAmountZat != b.TotalAmountZat {
			return a.TotalAmountZat > b.TotalAmountZat
		}
		return a.Txids[0] < b.Txids[0]
	})

	if d.metrics != nil {
		d.metrics.PatternsDetected.Add(float64(len(result.Patterns)))
	}
	return result, nil
}

// fetchDeshields pages the window in bounded chunks, deduplicating txids and
// dropping anomalous rows.
func (d *Detector) fetchDeshields(ctx context.Context, startTime, endTime int64) ([]domain.Flow, int, error) {
	q := ledger.FlowQuery{
		StartTime:    startTime,
		EndTime:      endTime,
		MinAmountZat: domain.ZecToZat(d.cfg.MinAmountZec),
		Limit:        d.cfg.ChunkSize,
	}

	seen := make(map[string]struct{})
	var events []domain.Flow
	var skipped int

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		chunk, err := d.accessor.Deshields(ctx, q)
		if err != nil {
			return nil, 0, err
		}

		for _, e := range chunk {
			if !e.Valid() {
				skipped++
				if d.metrics != nil {
					d.metrics.AnomalousRecords.Inc()
				}
				if d.logger != nil {
					d.logger.Warn("skipping anomalous deshield",
						zap.String("txid", e.Txid),
						zap.Int64("blockTime", e.BlockTime),
						zap.Int64("amountZat", e.AmountZat))
				}
				continue
			}
			if _, dup := seen[e.Txid]; dup {
				continue
			}
			seen[e.Txid] = struct{}{}
			events = append(events, e.Flow)
		}

		if len(chunk) < d.cfg.ChunkSize {
			break
		}
		if len(events) >= d.cfg.MaxEvents {
			if d.logger != nil {
				d.logger.Warn("detection window truncated at max events",
					zap.Int("maxEvents", d.cfg.MaxEvents))
			}
			break
		}

		last := chunk[len(chunk)-1]
		q.AfterTime = last.BlockTime
		q.AfterTxid = last.Txid
	}

	return events, skipped, nil
}

// cluster is a set of same-amount deshields close in time.
type cluster struct {
	events []domain.Flow // sorted by (time, txid)
}

func (c cluster) firstTime() int64 { return c.events[0].BlockTime }
func (c cluster) lastTime() int64  { return c.events[len(c.events)-1].BlockTime }
func (c cluster) spanSecs() int64  { return c.lastTime() - c.firstTime() }

func (c cluster) totalZat() int64 {
	var total int64
	for _, e := range c.events {
		total += e.AmountZat
	}
	return total
}

func (c cluster) perTxZat() int64 {
	return int64(math.Round(float64(c.totalZat()) / float64(len(c.events))))
}

// clusterEvents buckets by rounded amount, single-links by time, resolves
// txid overlaps toward the most time-coherent cluster, and applies the
// count/amount thresholds.
func (d *Detector) clusterEvents(events []domain.Flow) []cluster {
	buckets := make(map[int64][]domain.Flow)
	for _, e := range events {
		b := domain.AmountBucket(e.AmountZat)
		buckets[b] = append(buckets[b], e)
	}

	gapSecs := int64(d.cfg.ClusterGap().Seconds())
	var candidates []cluster

	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].BlockTime != bucket[j].BlockTime {
				return bucket[i].BlockTime < bucket[j].BlockTime
			}
			return bucket[i].Txid < bucket[j].Txid
		})

		// Single linkage: a gap at or above the threshold starts a new cluster.
		start := 0
		for i := 1; i <= len(bucket); i++ {
			if i < len(bucket) && bucket[i].BlockTime-bucket[i-1].BlockTime < gapSecs {
				continue
			}
			if i-start >= d.cfg.MinBatchCount {
				candidates = append(candidates, cluster{events: bucket[start:i]})
			}
			start = i
		}
	}

	// Most time-coherent first: tighter span, then larger batch, then first
	// txid for determinism. Each txid is claimed by at most one cluster.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].spanSecs() != candidates[j].spanSecs() {
			return candidates[i].spanSecs() < candidates[j].spanSecs()
		}
		if len(candidates[i].events) != len(candidates[j].events) {
			return len(candidates[i].events) > len(candidates[j].events)
		}
		return candidates[i].events[0].Txid < candidates[j].events[0].Txid
	})

	claimed := make(map[string]struct{})
	minPerTx := domain.ZecToZat(d.cfg.MinAmountZec)
	var clusters []cluster

	for _, cand := range candidates {
		kept := make([]domain.Flow, 0, len(cand.events))
		for _, e := range cand.events {
			if _, taken := claimed[e.Txid]; !taken {
				kept = append(kept, e)
			}
		}
		if len(kept) < d.cfg.MinBatchCount {
			continue
		}
		cl := cluster{events: kept}
		if cl.perTxZat() < minPerTx {
			continue
		}
		for _, e := range kept {
			claimed[e.Txid] = struct{}{}
		}
		clusters = append(clusters, cl)
	}

	return clusters
}

// findMatchingShield looks for a prior shield whose amount covers the whole
// batch within tolerance, inside the bounded lookback.
func (d *Detector) findMatchingShield(ctx context.Context, cl cluster) (*domain.ShieldMatch, error) {
	total := cl.totalZat()
	tolerance := domain.ZecToZat(d.cfg.ShieldToleranceZec)
	lookback := int64(d.cfg.ShieldLookbackDays) * 24 * 3600

	shields, err := d.accessor.ShieldsNearAmount(ctx, total, tolerance, cl.firstTime(), lookback, matchingShieldLimit)
	if err != nil {
		return nil, err
	}
	if len(shields) == 0 {
		return nil, nil
	}

	best := shields[0]
	diffPct := 100.0
	if best.AmountZat > 0 {
		diffPct = math.Abs(float64(total-best.AmountZat)) / float64(best.AmountZat) * 100
	}
	return &domain.ShieldMatch{
		Txid:        best.Txid,
		BlockHeight: best.BlockHeight,
		BlockTime:   best.BlockTime,
		AmountZat:   best.AmountZat,
		DiffPct:     diffPct,
	}, nil
}

// buildPattern scores a cluster and assembles the full pattern record.
func (d *Detector) buildPattern(cl cluster, shield *domain.ShieldMatch) domain.BatchPattern {
	n := len(cl.events)
	perTx := cl.perTxZat()
	spanHours := float64(cl.spanSecs()) / 3600

	txids := make([]string, n)
	heights := make([]int64, n)
	times := make([]int64, n)
	for i, e := range cl.events {
		txids[i] = e.Txid
		heights[i] = e.BlockHeight
		times[i] = e.BlockTime
	}

	addrStats, addresses := analyzeAddresses(cl.events)

	caps := d.cfg.Caps
	breakdown := domain.PatternBreakdown{
		BatchCount:      batchCountPoints(n, caps.BatchCount),
		RoundNumber:     roundNumberPoints(perTx, n, caps.RoundNumber),
		TimeClustering:  timeClusteringPoints(spanHours, caps.TimeClustering),
		AddressAnalysis: addressAnalysisPoints(addrStats.SameAddressRatio, caps.AddressAnalysis),
	}
	if shield != nil {
		breakdown.MatchingShield = matchingShieldPoints(shield.DiffPct, caps.MatchingShield)
	}

	score := scorePattern(breakdown)

	pattern := domain.BatchPattern{
		PatternType:    domain.PatternTypeBatchDeshield,
		PerTxAmountZat: perTx,
		BatchCount:     n,
		TotalAmountZat: cl.totalZat(),
		Txids:          txids,
		Heights:        heights,
		Times:          times,
		Addresses:      addresses,
		MatchingShield: shield,
		IsRoundNumber:  IsRoundNumber(perTx),
		Score:          score,
		WarningLevel:   d.cfg.Thresholds.Level(score),
		Breakdown:      breakdown,
		AddressStats:   addrStats,
		FirstTime:      cl.firstTime(),
		LastTime:       cl.lastTime(),
		TimeSpanHours:  spanHours,
	}
	pattern.Explanation = explain(pattern)
	return pattern
}

// analyzeAddresses computes destination concentration for a cluster.
func analyzeAddresses(events []domain.Flow) (domain.AddressStats, []string) {
	freq := make(map[string]int)
	var addresses []string
	for _, e := range events {
		for _, a := range e.Addresses {
			if freq[a] == 0 {
				addresses = append(addresses, a)
			}
			freq[a]++
		}
	}
	sort.Strings(addresses)

	stats := domain.AddressStats{UniqueAddresses: len(addresses)}
	if len(addresses) == 0 {
		return stats, addresses
	}

	maxFreq := 0
	for _, a := range addresses {
		if freq[a] > maxFreq {
			maxFreq = freq[a]
			stats.TopAddress = a
		}
	}
	stats.SameAddressRatio = float64(maxFreq) / float64(len(events))
	stats.AllSameAddress = len(addresses) == 1
	return stats, addresses
}

// explain renders the deterministic pattern summary: the base facts plus one
// clause per dominant factor, in fixed order.
func explain(p domain.BatchPattern) string {
	s := fmt.Sprintf("%d deshields of %.4f ZEC (total %.2f ZEC) over %.1fh",
		p.BatchCount, domain.ZatToZec(p.PerTxAmountZat), domain.ZatToZec(p.TotalAmountZat), p.TimeSpanHours)

	if p.MatchingShield != nil {
		s += fmt.Sprintf("; matches shield %s of %.2f ZEC",
			shortTxid(p.MatchingShield.Txid), domain.ZatToZec(p.MatchingShield.AmountZat))
	}
	if p.IsRoundNumber {
		s += "; round denomination"
	} else if p.Breakdown.RoundNumber > 0 {
		s += "; unusual identical amount"
	}
	if p.Breakdown.TimeClustering > 0 && p.TimeSpanHours < 6 {
		s += "; tight time clustering"
	}
	if p.AddressStats.AllSameAddress && p.AddressStats.TopAddress != "" {
		s += fmt.Sprintf("; all deshields go to %s", p.AddressStats.TopAddress)
	}
	return s
}

func shortTxid(txid string) string {
	if len(txid) <= 12 {
		return txid
	}
	return txid[:12] + "..."
}
