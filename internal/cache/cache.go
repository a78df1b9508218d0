// Package cache implements the TTL-keyed response cache used by the routing
// engine to avoid redundant upstream calls.
//
// Eviction is lazy: an expired entry is removed the first time a reader
// touches it. Size bounding is not Set's job; the periodic cache-cleanup job
// sweeps expired entries and trims the cache to its configured entry cap.
package cache

import (
	"sort"
	"sync"
	"time"

	"modelmux/internal/observability/metrics"
)

// Entry is one cached response payload.
type Entry struct {
	Payload   Payload
	CreatedAt time.Time
	TTL       time.Duration
}

// Payload is the cached routing result: the generated content plus the
// metadata a repeated caller still cares about.
type Payload struct {
	Content      string
	ProviderUsed string
	TierUsed     int
	TokensInput  int
	TokensOutput int
}

// Stats reports cache occupancy for observability.
type Stats struct {
	Entries     int
	ApproxBytes int64
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// Cache is a TTL response cache keyed by request fingerprint.
// All methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	bytes   int64
	clock   Clock
}

// New creates an empty cache using the system clock.
func New() *Cache {
	return NewWithClock(SystemClock{})
}

// NewWithClock creates a cache with an injectable clock for tests.
func NewWithClock(clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache{
		entries: make(map[string]Entry),
		clock:   clock,
	}
}

// Get returns the payload stored under fingerprint if it has not outlived
// its ttl. A stale entry is deleted on read and reported as a miss, so from
// a reader's perspective entries never outlive their ttl.
func (c *Cache) Get(fingerprint string) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return Payload{}, false
	}
	if c.clock.Now().Sub(e.CreatedAt) >= e.TTL {
		c.removeLocked(fingerprint, e)
		metrics.CacheMissesTotal.Inc()
		return Payload{}, false
	}
	metrics.CacheHitsTotal.Inc()
	return e.Payload, true
}

// Set stores payload under fingerprint, overwriting any existing entry.
func (c *Cache) Set(fingerprint string, payload Payload, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[fingerprint]; ok {
		c.bytes -= entryBytes(fingerprint, old)
	}
	e := Entry{Payload: payload, CreatedAt: c.clock.Now(), TTL: ttl}
	c.entries[fingerprint] = e
	c.bytes += entryBytes(fingerprint, e)
	c.export()
}

// Stats returns the current entry count and approximate byte size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{Entries: len(c.entries), ApproxBytes: c.bytes}
}

// Sweep removes every expired entry and returns the number removed.
// Called by the periodic cache-cleanup job.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for fp, e := range c.entries {
		if now.Sub(e.CreatedAt) >= e.TTL {
			c.removeLocked(fp, e)
			removed++
		}
	}
	c.export()
	return removed
}

// TrimTo removes oldest-first entries until at most maxEntries remain and
// returns the number removed. Called by the periodic cache-cleanup job;
// maxEntries <= 0 disables trimming.
func (c *Cache) TrimTo(maxEntries int) int {
	if maxEntries <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	excess := len(c.entries) - maxEntries
	if excess <= 0 {
		return 0
	}

	type aged struct {
		fp        string
		createdAt time.Time
	}
	byAge := make([]aged, 0, len(c.entries))
	for fp, e := range c.entries {
		byAge = append(byAge, aged{fp: fp, createdAt: e.CreatedAt})
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].createdAt.Before(byAge[j].createdAt)
	})

	for _, a := range byAge[:excess] {
		c.removeLocked(a.fp, c.entries[a.fp])
	}
	c.export()
	return excess
}

// removeLocked deletes an entry and its byte accounting.
// Caller must hold c.mu.
func (c *Cache) removeLocked(fingerprint string, e Entry) {
	delete(c.entries, fingerprint)
	c.bytes -= entryBytes(fingerprint, e)
	if c.bytes < 0 {
		c.bytes = 0
	}
}

// export mirrors occupancy into Prometheus gauges. Caller must hold c.mu.
func (c *Cache) export() {
	metrics.CacheEntries.Set(float64(len(c.entries)))
	metrics.CacheBytes.Set(float64(c.bytes))
}

// entryBytes estimates the memory footprint of one entry. It only needs to
// be stable and roughly proportional, not exact.
func entryBytes(fingerprint string, e Entry) int64 {
	return int64(len(fingerprint) + len(e.Payload.Content) + len(e.Payload.ProviderUsed) + 64)
}
