package reputation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/threat"
)

const (
	defaultProviderTimeout = 4 * time.Second
	defaultLookupTTL       = time.Hour
	lookupCacheCapacity    = 4096
)

type cachedLookup struct {
	entry     Entry
	expiresAt time.Time
}

// Aggregator fans a lookup out to every capable provider and merges the
// answers. The registry is built at startup and never mutated afterwards.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
	onError   func(provider string)

	mu    sync.RWMutex
	cache map[string]cachedLookup
}

// Option tweaks aggregator construction.
type Option func(*Aggregator)

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithLookupTTL sets how long merged results are cached.
func WithLookupTTL(d time.Duration) Option {
	return func(a *Aggregator) { a.ttl = d }
}

// WithClock overrides the clock; used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithErrorHook is called with the provider name whenever a provider is
// excluded from a lookup; the gateway feeds it into a metrics counter.
func WithErrorHook(hook func(provider string)) Option {
	return func(a *Aggregator) { a.onError = hook }
}

// NewAggregator builds an aggregator over a fixed provider registry.
func NewAggregator(providers []Provider, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers: providers,
		timeout:   defaultProviderTimeout,
		ttl:       defaultLookupTTL,
		logger:    logger.Named("reputation"),
		now:       time.Now,
		cache:     make(map[string]cachedLookup),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Lookup classifies the target, queries all capable providers concurrently
// and merges their entries. A provider that errors or times out is excluded
// and logged; it never fails the overall lookup.
func (a *Aggregator) Lookup(ctx context.Context, raw string) *Entry {
	target := ClassifyTarget(raw)
	key := string(target.Kind) + "|" + strings.ToLower(target.Raw)
	now := a.now()

	a.mu.RLock()
	if c, ok := a.cache[key]; ok && now.Before(c.expiresAt) {
		a.mu.RUnlock()
		entry := c.entry
		return &entry
	}
	a.mu.RUnlock()

	entries := a.fanOut(ctx, target)
	merged := a.merge(target, entries)

	a.mu.Lock()
	if len(a.cache) >= lookupCacheCapacity {
		a.dropExpiredLocked(now)
	}
	if len(a.cache) < lookupCacheCapacity {
		a.cache[key] = cachedLookup{entry: *merged, expiresAt: now.Add(a.ttl)}
	}
	a.mu.Unlock()

	return merged
}

func (a *Aggregator) fanOut(ctx context.Context, target Target) []*Entry {
	need := capabilityFor(target.Kind)

	var wg sync.WaitGroup
	results := make([]*Entry, len(a.providers))
	for i, p := range a.providers {
		if !p.Capabilities().Has(need) {
			continue
		}
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			entry, err := lookupFor(pctx, p, target)
			if err != nil {
				a.logger.Warn("reputation provider excluded from lookup",
					zap.String("provider", p.Name()),
					zap.String("target", target.Raw),
					zap.Error(err))
				if a.onError != nil {
					a.onError(p.Name())
				}
				return
			}
			results[i] = entry
		}(i, p)
	}
	wg.Wait()

	out := make([]*Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// merge combines provider entries via confidence-weighted voting: category
// and severity come from the highest-confidence entry, the final confidence
// is the weighted average over contributing sources.
func (a *Aggregator) merge(target Target, entries []*Entry) *Entry {
	now := a.now().UTC()
	if len(entries) == 0 {
		return defaultEntry(target, now)
	}

	weightByName := make(map[string]float64, len(a.providers))
	for _, p := range a.providers {
		weightByName[p.Name()] = p.Weight()
	}

	var (
		best       *Entry
		weightSum  float64
		confSum    float64
		indicators []threat.Indicator
		firstSeen  = entries[0].FirstSeen
		lastSeen   = entries[0].LastSeen
	)
	for _, e := range entries {
		w, ok := weightByName[e.Source]
		if !ok {
			w = WeightGenericPattern
		}
		weightSum += w
		confSum += e.Confidence * w
		indicators = append(indicators, e.Indicators...)
		if best == nil || e.Confidence > best.Confidence {
			best = e
		}
		if e.FirstSeen.Before(firstSeen) {
			firstSeen = e.FirstSeen
		}
		if e.LastSeen.After(lastSeen) {
			lastSeen = e.LastSeen
		}
	}

	conf := confSum / weightSum
	if conf > 1 {
		conf = 1
	}
	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, e.Source)
	}

	return &Entry{
		Target:     target.Raw,
		Kind:       target.Kind,
		Category:   best.Category,
		Severity:   best.Severity,
		Confidence: conf,
		Source:     strings.Join(sources, "+"),
		Indicators: indicators,
		FirstSeen:  firstSeen,
		LastSeen:   lastSeen,
	}
}

func (a *Aggregator) dropExpiredLocked(now time.Time) {
	for k, c := range a.cache {
		if !now.Before(c.expiresAt) {
			delete(a.cache, k)
		}
	}
}

// CacheLen reports the number of cached lookups; used by stats endpoints.
func (a *Aggregator) CacheLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}
