package guard

import (
	"context"
	"sync"
	"time"

	"github.com/switchboard-run/switchboard/pkg/schemas"
)

type cachedResult struct {
	result    schemas.ExecuteResult
	expiresAt time.Time
}

// MemoryIdempotencyCache is an in-process IdempotencyStore for single-node
// deployments, grounded on guardrail.MemoryCounters: one mutex-guarded map,
// pruned lazily on read rather than by a background sweep.
type MemoryIdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]cachedResult
	now     func() time.Time
}

// NewMemoryIdempotencyCache constructs an empty cache. now defaults to
// time.Now; tests may override it for deterministic expiry checks.
func NewMemoryIdempotencyCache(now func() time.Time) *MemoryIdempotencyCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryIdempotencyCache{entries: map[string]cachedResult{}, now: now}
}

// Get returns the cached result for key if present and unexpired.
func (c *MemoryIdempotencyCache) Get(ctx context.Context, key string) (schemas.ExecuteResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return schemas.ExecuteResult{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return schemas.ExecuteResult{}, false, nil
	}
	return entry.result, true, nil
}

// Put stores result under key with the given ttl.
func (c *MemoryIdempotencyCache) Put(ctx context.Context, key string, result schemas.ExecuteResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedResult{result: result, expiresAt: c.now().Add(ttl)}
	return nil
}

var _ IdempotencyStore = (*MemoryIdempotencyCache)(nil)
