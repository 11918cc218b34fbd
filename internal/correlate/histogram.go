package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"shielded-risk/internal/ledger"
)

// histogramCache holds one amount-frequency histogram keyed by its window,
// with an explicit fetch timestamp and TTL. Refreshes run under a
// single-flight group so concurrent callers hitting a stale entry trigger
// exactly one ledger query.
type histogramCache struct {
	accessor  ledger.Accessor
	ttl       time.Duration
	onRefresh func() // optional refresh hook, used for metrics

	mu        sync.RWMutex
	key       string
	value     ledger.Histogram
	fetchedAt time.Time

	group singleflight.Group
}

func newHistogramCache(accessor ledger.Accessor, ttl time.Duration) *histogramCache {
	return &histogramCache{accessor: accessor, ttl: ttl}
}

// quantize floors t to the TTL granularity. Rarity statistics tolerate the
// window sliding by less than one TTL.
func (c *histogramCache) quantize(t int64) int64 {
	step := int64(c.ttl.Seconds())
	if step <= 1 {
		return t
	}
	return t - t%step
}

// get returns the histogram for [startTime, endTime], from cache when fresh.
// The window is aligned to the TTL granularity before keying: callers derive
// windows from time.Now() per request, and without alignment every second
// mints a fresh key and the cache never hits.
func (c *histogramCache) get(ctx context.Context, startTime, endTime int64) (ledger.Histogram, error) {
	startTime, endTime = c.quantize(startTime), c.quantize(endTime)
	key := fmt.Sprintf("%d:%d", startTime, endTime)

	c.mu.RLock()
	if c.key == key && time.Since(c.fetchedAt) < c.ttl {
		value := c.value
		c.mu.RUnlock()
		return value, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		hist, err := c.accessor.AmountHistogram(ctx, startTime, endTime)
		if err != nil {
			return nil, err
		}
		if c.onRefresh != nil {
			c.onRefresh()
		}

		c.mu.Lock()
		c.key = key
		c.value = hist
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		return hist, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ledger.Histogram), nil
}
