// Package memory implements ledger.Accessor over an in-memory flow set,
// used by engine tests and --use-memory deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
)

// Accessor is an in-memory implementation of ledger.Accessor.
type Accessor struct {
	mu    sync.RWMutex
	flows map[domain.FlowType][]domain.Flow
}

// NewAccessor creates an empty in-memory ledger.
func NewAccessor() *Accessor {
	return &Accessor{
		flows: map[domain.FlowType][]domain.Flow{},
	}
}

// Compile-time interface check.
var _ ledger.Accessor = (*Accessor)(nil)

// AddShield records a shield event.
func (a *Accessor) AddShield(f domain.Flow) {
	a.add(domain.FlowShield, f)
}

// AddDeshield records a deshield event.
func (a *Accessor) AddDeshield(f domain.Flow) {
	a.add(domain.FlowDeshield, f)
}

func (a *Accessor) add(t domain.FlowType, f domain.Flow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flows[t] = append(a.flows[t], f)
}

// Shields returns shield events matching q, ordered by (block_time, txid).
func (a *Accessor) Shields(_ context.Context, q ledger.FlowQuery) ([]domain.ShieldEvent, error) {
	flows := a.selectFlows(domain.FlowShield, q)
	events := make([]domain.ShieldEvent, len(flows))
	for i, f := range flows {
		events[i] = domain.ShieldEvent{Flow: f}
	}
	return events, nil
}

// Deshields returns deshield events matching q, ordered by (block_time, txid).
func (a *Accessor) Deshields(_ context.Context, q ledger.FlowQuery) ([]domain.DeshieldEvent, error) {
	flows := a.selectFlows(domain.FlowDeshield, q)
	events := make([]domain.DeshieldEvent, len(flows))
	for i, f := range flows {
		events[i] = domain.DeshieldEvent{Flow: f}
	}
	return events, nil
}

// FlowByTxid returns the shielded flow of a transaction, either direction.
func (a *Accessor) FlowByTxid(_ context.Context, txid string) (domain.FlowType, domain.Flow, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, t := range []domain.FlowType{domain.FlowShield, domain.FlowDeshield} {
		for _, f := range a.flows[t] {
			if f.Txid == txid {
				return t, f, nil
			}
		}
	}
	return "", domain.Flow{}, ledger.ErrNotFound
}

// ShieldsNearAmount returns shields within tolerance of target inside the
// lookback window, closest amount first.
func (a *Accessor) ShieldsNearAmount(_ context.Context, targetZat, toleranceZat, beforeTime, lookbackSecs int64, limit int) ([]domain.ShieldEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var matched []domain.Flow
	for _, f := range a.flows[domain.FlowShield] {
		if f.BlockTime >= beforeTime || f.BlockTime <= beforeTime-lookbackSecs {
			continue
		}
		if absDiff(f.AmountZat, targetZat) > toleranceZat {
			continue
		}
		matched = append(matched, f)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		di, dj := absDiff(matched[i].AmountZat, targetZat), absDiff(matched[j].AmountZat, targetZat)
		if di != dj {
			return di < dj
		}
		return matched[i].BlockTime > matched[j].BlockTime
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	events := make([]domain.ShieldEvent, len(matched))
	for i, f := range matched {
		events[i] = domain.ShieldEvent{Flow: f}
	}
	return events, nil
}

// AmountHistogram returns bucketed amount frequencies over both directions.
func (a *Accessor) AmountHistogram(_ context.Context, startTime, endTime int64) (ledger.Histogram, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hist := make(ledger.Histogram)
	for _, flows := range a.flows {
		for _, f := range flows {
			if f.BlockTime < startTime || f.BlockTime > endTime {
				continue
			}
			hist[domain.AmountBucket(f.AmountZat)]++
		}
	}
	return hist, nil
}

// selectFlows applies the range filter, keyset cursor, ordering and limit.
func (a *Accessor) selectFlows(t domain.FlowType, q ledger.FlowQuery) []domain.Flow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var matched []domain.Flow
	for _, f := range a.flows[t] {
		if f.BlockTime < q.StartTime || f.BlockTime > q.EndTime {
			continue
		}
		if f.AmountZat < q.MinAmountZat {
			continue
		}
		if q.AfterTime > 0 || q.AfterTxid != "" {
			if f.BlockTime < q.AfterTime {
				continue
			}
			if f.BlockTime == q.AfterTime && f.Txid <= q.AfterTxid {
				continue
			}
		}
		matched = append(matched, f)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].BlockTime != matched[j].BlockTime {
			return matched[i].BlockTime < matched[j].BlockTime
		}
		return matched[i].Txid < matched[j].Txid
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
