package memory

import (
	"context"
	"sync/atomic"

	"shielded-risk/internal/storage"
)

// RunLock is an in-process implementation of storage.RunLock for
// single-instance deployments: an atomic flag, no queueing.
type RunLock struct {
	held atomic.Bool
}

// NewRunLock creates an in-process run lock.
func NewRunLock() *RunLock {
	return &RunLock{}
}

// Compile-time interface check.
var _ storage.RunLock = (*RunLock)(nil)

// TryLock acquires the flag if it is free.
func (l *RunLock) TryLock(_ context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

// Unlock releases the flag.
func (l *RunLock) Unlock(_ context.Context) error {
	l.held.Store(false)
	return nil
}
