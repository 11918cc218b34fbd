// Package postgres implements ledger.Accessor over the indexer's
// shielded_flows table. All queries are read-only.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
	"shielded-risk/internal/storage/postgres"
)

// Accessor reads shielded flows from PostgreSQL.
type Accessor struct {
	pool *postgres.Pool
}

// NewAccessor creates a read-only ledger accessor over the shared pool.
func NewAccessor(pool *postgres.Pool) *Accessor {
	return &Accessor{pool: pool}
}

// Compile-time interface check.
var _ ledger.Accessor = (*Accessor)(nil)

const flowColumns = `txid, block_height, block_time, pool, amount_zat, addresses`

// Shields returns shield events matching q, ordered by (block_time, txid).
func (a *Accessor) Shields(ctx context.Context, q ledger.FlowQuery) ([]domain.ShieldEvent, error) {
	flows, err := a.flows(ctx, domain.FlowShield, q)
	if err != nil {
		return nil, err
	}

	events := make([]domain.ShieldEvent, len(flows))
	for i, f := range flows {
		events[i] = domain.ShieldEvent{Flow: f}
	}
	return events, nil
}

// Deshields returns deshield events matching q, ordered by (block_time, txid).
func (a *Accessor) Deshields(ctx context.Context, q ledger.FlowQuery) ([]domain.DeshieldEvent, error) {
	flows, err := a.flows(ctx, domain.FlowDeshield, q)
	if err != nil {
		return nil, err
	}

	events := make([]domain.DeshieldEvent, len(flows))
	for i, f := range flows {
		events[i] = domain.DeshieldEvent{Flow: f}
	}
	return events, nil
}

// FlowByTxid returns the shielded flow of a transaction, either direction.
func (a *Accessor) FlowByTxid(ctx context.Context, txid string) (domain.FlowType, domain.Flow, error) {
	query := `
		SELECT flow_type, ` + flowColumns + `
		FROM shielded_flows
		WHERE txid = $1
		LIMIT 1
	`

	var flowType string
	var f domain.Flow
	var pool string
	err := a.pool.QueryRow(ctx, query, txid).Scan(
		&flowType, &f.Txid, &f.BlockHeight, &f.BlockTime, &pool, &f.AmountZat, &f.Addresses,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.Flow{}, ledger.ErrNotFound
		}
		return "", domain.Flow{}, fmt.Errorf("%w: flow by txid: %v", ledger.ErrUnavailable, err)
	}

	f.Pool = domain.Pool(pool)
	return domain.FlowType(flowType), f, nil
}

// ShieldsNearAmount returns shields whose amount is within tolerance of
// target inside the lookback window, closest amount first.
func (a *Accessor) ShieldsNearAmount(ctx context.Context, targetZat, toleranceZat, beforeTime, lookbackSecs int64, limit int) ([]domain.ShieldEvent, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM shielded_flows
		WHERE flow_type = 'shield'
		  AND amount_zat BETWEEN $1 AND $2
		  AND block_time < $3
		  AND block_time > $4
		ORDER BY ABS(amount_zat - $5) ASC, block_time DESC
		LIMIT $6
	`

	rows, err := a.pool.Query(ctx, query,
		targetZat-toleranceZat,
		targetZat+toleranceZat,
		beforeTime,
		beforeTime-lookbackSecs,
		targetZat,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: shields near amount: %v", ledger.ErrUnavailable, err)
	}
	defer rows.Close()

	flows, err := scanFlows(rows)
	if err != nil {
		return nil, err
	}

	events := make([]domain.ShieldEvent, len(flows))
	for i, f := range flows {
		events[i] = domain.ShieldEvent{Flow: f}
	}
	return events, nil
}

// AmountHistogram returns bucketed amount frequencies over both directions.
func (a *Accessor) AmountHistogram(ctx context.Context, startTime, endTime int64) (ledger.Histogram, error) {
	query := `
		SELECT amount_zat / $1, COUNT(*)
		FROM shielded_flows
		WHERE block_time >= $2 AND block_time <= $3
		GROUP BY 1
	`

	rows, err := a.pool.Query(ctx, query, domain.AmountBucketZat, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("%w: amount histogram: %v", ledger.ErrUnavailable, err)
	}
	defer rows.Close()

	hist := make(ledger.Histogram)
	for rows.Next() {
		var bucket, count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan histogram row: %w", err)
		}
		hist[bucket] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate histogram rows: %v", ledger.ErrUnavailable, err)
	}
	return hist, nil
}

// flows runs the shared range query for one direction.
func (a *Accessor) flows(ctx context.Context, flowType domain.FlowType, q ledger.FlowQuery) ([]domain.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM shielded_flows
		WHERE flow_type = $1
		  AND block_time >= $2 AND block_time <= $3
		  AND amount_zat >= $4
		  AND (block_time, txid) > ($5, $6)
		ORDER BY block_time ASC, txid ASC
	`
	args := []any{string(flowType), q.StartTime, q.EndTime, q.MinAmountZat, q.AfterTime, q.AfterTxid}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s flows: %v", ledger.ErrUnavailable, flowType, err)
	}
	defer rows.Close()

	return scanFlows(rows)
}

// scanFlows scans rows into Flow values.
func scanFlows(rows pgx.Rows) ([]domain.Flow, error) {
	var flows []domain.Flow

	for rows.Next() {
		var f domain.Flow
		var pool string
		if err := rows.Scan(&f.Txid, &f.BlockHeight, &f.BlockTime, &pool, &f.AmountZat, &f.Addresses); err != nil {
			return nil, fmt.Errorf("scan flow row: %w", err)
		}
		f.Pool = domain.Pool(pool)
		flows = append(flows, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate flow rows: %v", ledger.ErrUnavailable, err)
	}

	return flows, nil
}
