// Package ledger provides read-only access to shield/deshield events in the
// already-indexed ledger database. The engine never writes through this
// interface.
package ledger

import (
	"context"
	"errors"

	"shielded-risk/internal/domain"
)

// Errors returned by accessors.
var (
	// ErrUnavailable wraps transport or database failures. Callers may retry.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrNotFound is returned when a requested txid has no shielded flow.
	ErrNotFound = errors.New("flow not found")
)

// FlowQuery selects flows of one direction within a closed time range.
// AfterTime/AfterTxid form a keyset cursor over (block_time, txid) ascending
// for chunked scans; zero values start from the beginning of the range.
type FlowQuery struct {
	StartTime    int64
	EndTime      int64
	MinAmountZat int64
	AfterTime    int64
	AfterTxid    string
	Limit        int
}

// Histogram maps an amount bucket (see domain.AmountBucket) to the number of
// flows carrying that amount inside the queried window.
type Histogram map[int64]int64

// Accessor is the read-only source of shielded-flow facts.
type Accessor interface {
	// Shields returns shield events matching q, ordered by (block_time, txid).
	Shields(ctx context.Context, q FlowQuery) ([]domain.ShieldEvent, error)

	// Deshields returns deshield events matching q, ordered by (block_time, txid).
	Deshields(ctx context.Context, q FlowQuery) ([]domain.DeshieldEvent, error)

	// FlowByTxid returns the shielded flow of a transaction, either direction.
	// Returns ErrNotFound if the txid has no shielded activity.
	FlowByTxid(ctx context.Context, txid string) (domain.FlowType, domain.Flow, error)

	// ShieldsNearAmount returns up to limit shields before beforeTime and
	// after beforeTime-lookback whose amount is within tolerance of target,
	// closest amount first.
	ShieldsNearAmount(ctx context.Context, targetZat, toleranceZat, beforeTime, lookbackSecs int64, limit int) ([]domain.ShieldEvent, error)

	// AmountHistogram returns the amount-frequency histogram over both flow
	// directions inside [startTime, endTime].
	AmountHistogram(ctx context.Context, startTime, endTime int64) (Histogram, error)
}
