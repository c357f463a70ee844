// Package resultcache holds a TTL-keyed mapping from job id to reply, with
// lazy eviction on read and a background task that periodically sweeps
// expired entries.
package resultcache

import (
	"context"
	"time"

	"log/slog"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cylonrun/cylon/internal/rpc"
)

// Cache wraps jellydator/ttlcache/v3 behind the insert/get/cleanup_expired/
// len operations the serving core needs. It is safe for many concurrent
// readers and writers; ttlcache/v3 guards its entries with a single internal
// lock, which is not sharded.
type Cache struct {
	ttl time.Duration
	c   *ttlcache.Cache[string, rpc.InferenceRunReply]
}

// New constructs a Cache with a fixed per-entry TTL. The caller is
// responsible for starting background eviction via RunEvictionLoop if
// periodic sweeps (rather than purely lazy, read-triggered eviction) are
// desired.
func New(ttl time.Duration) *Cache {
	c := ttlcache.New[string, rpc.InferenceRunReply](
		ttlcache.WithTTL[string, rpc.InferenceRunReply](ttl),
		ttlcache.WithDisableTouchOnHit[string, rpc.InferenceRunReply](),
	)
	return &Cache{ttl: ttl, c: c}
}

// Insert writes (value, now) for key, overwriting any prior entry.
func (c *Cache) Insert(key string, value rpc.InferenceRunReply) {
	c.c.Set(key, value, c.ttl)
}

// Get returns the stored value for key iff it has not expired. ttlcache/v3's
// Get reports an expired entry as missing but leaves it in place, so a miss
// deletes key, removing an expired entry as a side effect of the read.
// Touch-on-hit is disabled at construction, so repeated Gets never extend an
// entry's expiry past ttl from its original Insert.
func (c *Cache) Get(key string) (rpc.InferenceRunReply, bool) {
	item := c.c.Get(key)
	if item == nil {
		c.c.Delete(key)
		return rpc.InferenceRunReply{}, false
	}
	return item.Value(), true
}

// CleanupExpired scans and evicts all entries older than ttl.
func (c *Cache) CleanupExpired() {
	c.c.DeleteExpired()
}

// Len reports the current entry count, including not-yet-lazily-evicted
// expired entries (consistent with ttlcache/v3's Len semantics).
func (c *Cache) Len() int {
	return c.c.Len()
}

// RunEvictionLoop calls CleanupExpired at the given interval until ctx is
// cancelled. It blocks; callers should invoke it in its own
// goroutine. The interval is independent of the cache's own TTL so callers
// can tune eviction frequency without affecting entry lifetime.
func RunEvictionLoop(ctx context.Context, logger *slog.Logger, c *Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := c.Len()
			c.CleanupExpired()
			if logger != nil {
				after := c.Len()
				if before != after {
					logger.Debug("result cache eviction swept entries", "before", before, "after", after)
				}
			}
		}
	}
}
