// Package cache implements the cost-bounded response cache for AI verdicts.
// Entries are keyed by a content hash of (provider, model, normalized
// content) so identical requests within the TTL window reuse a prior verdict
// instead of paying for another AI call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moatsec/moat/pkg/threat"
)

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// Entry is one cached verdict with its bookkeeping counters.
// Counters are updated on hit; the verdict snapshot itself is immutable.
type Entry struct {
	Key            string
	Provider       string
	Model          string
	Verdict        threat.Verdict
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ExpiresAt      time.Time
}

// Stats is the read-only operational view exposed via cacheStats().
type Stats struct {
	Entries     int   `json:"entries"`
	Capacity    int   `json:"capacity"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

// ResponseCache is a bounded concurrent map with TTL expiry and an
// LFU/LRU hybrid eviction policy. Concurrent put races on the same key
// resolve last-writer-wins.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	ttl      time.Duration
	capacity int
	now      Clock

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	sweep chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New creates a cache with the given TTL and capacity. A nil clock uses
// time.Now.
func New(ttl time.Duration, capacity int, now Clock) *ResponseCache {
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		entries:  make(map[string]*Entry, capacity),
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		sweep:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Key derives the cache key from the AI provider, model and the normalized
// request content.
func Key(provider, model, normalizedContent string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(normalizedContent))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached verdict if the entry exists and has not expired,
// bumping its access counters. Expired entries count as misses; their
// removal is left to the sweeper.
func (c *ResponseCache) Get(key string) (threat.Verdict, bool) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.ExpiresAt) {
		c.mu.Unlock()
		c.misses.Add(1)
		return threat.Verdict{}, false
	}
	e.AccessCount++
	e.LastAccessedAt = now
	v := e.Verdict
	c.mu.Unlock()

	c.hits.Add(1)
	return v, true
}

// Put upserts a verdict with a fresh TTL and signals the background sweeper.
// Last writer wins; a duplicate AI call racing on the same key is a tolerated
// cost, not a correctness problem.
func (c *ResponseCache) Put(key, provider, model string, v threat.Verdict) {
	now := c.now()
	e := &Entry{
		Key:            key,
		Provider:       provider,
		Model:          model,
		Verdict:        v,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	select {
	case c.sweep <- struct{}{}:
	default:
	}
}

// Stats returns a point-in-time snapshot of cache counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Entries:     n,
		Capacity:    c.capacity,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// Len returns the current entry count.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanupBatchSize bounds how many deletions happen under one write lock,
// so readers are never blocked behind a full-map pass.
const cleanupBatchSize = 256

// evictionCandidate is a point-in-time copy of an entry's eviction ordering
// fields, snapshotted under the read lock.
type evictionCandidate struct {
	key         string
	accessCount int64
	accessedAt  time.Time
}

// Cleanup removes expired entries and, if the cache is still over capacity,
// evicts the lowest-(accessCount, lastAccessedAt) entries until it fits.
// Candidates are collected under the read lock and deleted in bounded
// batches. Called synchronously by tests and periodically by the background
// loop.
func (c *ResponseCache) Cleanup() {
	now := c.now()

	c.mu.RLock()
	var expired []string
	for key, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			expired = append(expired, key)
		}
	}
	c.mu.RUnlock()

	for start := 0; start < len(expired); start += cleanupBatchSize {
		end := min(start+cleanupBatchSize, len(expired))
		c.mu.Lock()
		for _, key := range expired[start:end] {
			if e, ok := c.entries[key]; ok && !now.Before(e.ExpiresAt) {
				delete(c.entries, key)
				c.expirations.Add(1)
			}
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	over := len(c.entries) - c.capacity
	var victims []evictionCandidate
	if over > 0 {
		victims = make([]evictionCandidate, 0, len(c.entries))
		for key, e := range c.entries {
			victims = append(victims, evictionCandidate{key, e.AccessCount, e.LastAccessedAt})
		}
	}
	c.mu.RUnlock()
	if over <= 0 {
		return
	}

	// LFU first, LRU as tiebreaker.
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].accessCount != victims[j].accessCount {
			return victims[i].accessCount < victims[j].accessCount
		}
		return victims[i].accessedAt.Before(victims[j].accessedAt)
	})

	for start := 0; start < over; start += cleanupBatchSize {
		end := min(start+cleanupBatchSize, over)
		c.mu.Lock()
		for _, v := range victims[start:end] {
			if _, ok := c.entries[v.key]; ok {
				delete(c.entries, v.key)
				c.evictions.Add(1)
			}
		}
		c.mu.Unlock()
	}
}

// Run drives periodic cleanup until Close is called. Put signals wake it
// early so capacity overshoot is short-lived. Intended as a goroutine:
//
//	go cache.Run(interval)
func (c *ResponseCache) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Cleanup()
		case <-c.sweep:
			c.Cleanup()
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *ResponseCache) Close() {
	c.once.Do(func() { close(c.done) })
}
