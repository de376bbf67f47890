// Package cache implements the scan result cache: a concurrent,
// TTL-and-capacity-bounded map keyed by content identity, returning deep
// clones on read. The clone-on-read discipline and the
// eviction loop follow this codebase's metrics collector
// (copy-on-read: `cp := *m; return &cp`) generalized to whole-result
// cloning, combined with a capacity-bounded cache's background-cleanup
// shape.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentineld/sentineld/internal/engine"
)

type entry struct {
	result      engine.AggregatedResult
	timestampUTC time.Time
}

// Cache is the scan result cache.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
}

// New creates a Cache with the given TTL and capacity.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Key builds the cache key "{sha256}:{size}:{last_write_ticks}".
func Key(sha256 string, size int64, lastWrite time.Time) string {
	return fmt.Sprintf("%s:%d:%d", sha256, size, lastWrite.UnixNano())
}

// TryGet returns a deep clone of the cached result if present and not
// expired.
func (c *Cache) TryGet(key string) (engine.AggregatedResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return engine.AggregatedResult{}, false
	}
	if time.Since(e.timestampUTC) > c.ttl {
		return engine.AggregatedResult{}, false
	}
	return cloneResult(e.result), true
}

// Store inserts result under key, evicting expired-then-oldest-by-timestamp
// entries if the cache is at capacity.
func (c *Cache) Store(key string, result engine.AggregatedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{result: cloneResult(result), timestampUTC: time.Now()}

	if len(c.entries) <= c.maxEntries {
		return
	}
	c.evictExpiredThenOldestLocked()
}

func (c *Cache) evictExpiredThenOldestLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.timestampUTC) > c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for k, e := range c.entries {
			if first || e.timestampUTC.Before(oldestTime) {
				oldestKey = k
				oldestTime = e.timestampUTC
				first = false
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache (used by tests and by sha256-allowlist additions
// that should force a re-scan).
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func cloneResult(r engine.AggregatedResult) engine.AggregatedResult {
	clone := r
	clone.Reasons = append([]string(nil), r.Reasons...)
	clone.EngineResults = make([]engine.EngineResult, len(r.EngineResults))
	for i, er := range r.EngineResults {
		erClone := er
		erClone.Reasons = append([]string(nil), er.Reasons...)
		if er.Metadata != nil {
			erClone.Metadata = make(map[string]interface{}, len(er.Metadata))
			for k, v := range er.Metadata {
				erClone.Metadata[k] = v
			}
		}
		clone.EngineResults[i] = erClone
	}
	return clone
}
