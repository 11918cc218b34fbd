package correlate

import (
	"context"
	"testing"
	"time"

	"shielded-risk/internal/ledger"
)

// countingAccessor tracks histogram fetches; other Accessor methods are
// never called by the cache.
type countingAccessor struct {
	ledger.Accessor
	calls int
}

func (c *countingAccessor) AmountHistogram(_ context.Context, _, _ int64) (ledger.Histogram, error) {
	c.calls++
	return ledger.Histogram{100_000_000: 3}, nil
}

func TestHistogramCache_AlignsWindowToTTL(t *testing.T) {
	acc := &countingAccessor{}
	cache := newHistogramCache(acc, time.Minute)
	ctx := context.Background()

	// 1_700_000_000 % 60 == 20, so offsets up to 39 stay in the same
	// aligned window.
	base := int64(1_700_000_000)
	for i := int64(0); i < 5; i++ {
		if _, err := cache.get(ctx, base-3600+i, base+i); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}
	if acc.calls != 1 {
		t.Errorf("fetches = %d, want 1 for windows within one alignment step", acc.calls)
	}

	// A window a full step later is a different key.
	if _, err := cache.get(ctx, base-3600+60, base+60); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if acc.calls != 2 {
		t.Errorf("fetches = %d, want 2 after the window moved a full step", acc.calls)
	}
}

func TestHistogramCache_RefreshAfterTTL(t *testing.T) {
	acc := &countingAccessor{}
	cache := newHistogramCache(acc, time.Minute)
	ctx := context.Background()

	base := int64(1_700_000_000)
	if _, err := cache.get(ctx, base-3600, base); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	cache.mu.Lock()
	cache.fetchedAt = time.Now().Add(-2 * time.Minute)
	cache.mu.Unlock()

	if _, err := cache.get(ctx, base-3600, base); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if acc.calls != 2 {
		t.Errorf("fetches = %d, want 2 after the entry went stale", acc.calls)
	}
}
