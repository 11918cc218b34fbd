package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"shielded-risk/internal/storage"
)

// detectionLockKey identifies the batch-detection advisory lock. All server
// instances sharing one database contend on the same key.
const detectionLockKey int64 = 0x5a454352_49534b01

// AdvisoryLock implements storage.RunLock with a session-level Postgres
// advisory lock. The lock is held on a dedicated pooled connection; if the
// process dies the session closes and Postgres releases the lock, so a crash
// never leaves a stale lock behind.
type AdvisoryLock struct {
	pool *Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn // non-nil while held
}

// NewAdvisoryLock creates the detection run lock.
func NewAdvisoryLock(pool *Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: detectionLockKey}
}

// Compile-time interface check.
var _ storage.RunLock = (*AdvisoryLock)(nil)

// TryLock attempts pg_try_advisory_lock without blocking. A false return
// means another instance is running a detection pass.
func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return false, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Unlock releases the advisory lock and its connection.
func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
