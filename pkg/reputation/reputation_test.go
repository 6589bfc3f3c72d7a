package reputation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/heuristic"
	"github.com/moatsec/moat/pkg/patterns"
	"github.com/moatsec/moat/pkg/threat"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestClassifyTarget(t *testing.T) {
	cases := []struct {
		raw  string
		kind TargetKind
	}{
		{"example.com", KindDomain},
		{"Example.COM", KindDomain},
		{"https://example.com/login", KindURL},
		{"example.com/path", KindURL},
		{"192.168.1.1", KindIP},
		{"2001:db8::1", KindIP},
	}
	for _, tc := range cases {
		if got := ClassifyTarget(tc.raw); got.Kind != tc.kind {
			t.Errorf("ClassifyTarget(%q).Kind = %s, want %s", tc.raw, got.Kind, tc.kind)
		}
	}
}

func TestCuratedProvider(t *testing.T) {
	p := NewCuratedProvider(patterns.Default(), fixedClock(testTime))
	ctx := context.Background()

	entry, err := p.LookupDomain(ctx, "secure-bank-update.com")
	if err != nil || entry == nil {
		t.Fatalf("expected curated hit, got entry=%v err=%v", entry, err)
	}
	if entry.Severity != threat.LevelMalicious || entry.Confidence < 0.9 {
		t.Fatalf("curated-list hit should be high-confidence malicious: %+v", entry)
	}

	entry, err = p.LookupDomain(ctx, "shady-offer.tk")
	if err != nil || entry == nil {
		t.Fatalf("expected TLD hit, got entry=%v err=%v", entry, err)
	}
	if entry.Severity != threat.LevelSuspicious {
		t.Fatalf("abuse-heavy TLD should be suspicious: %+v", entry)
	}

	entry, err = p.LookupDomain(ctx, "example.org")
	if err != nil || entry != nil {
		t.Fatalf("clean domain should yield no opinion, got entry=%v err=%v", entry, err)
	}

	entry, err = p.LookupURL(ctx, "https://secure-bank-update.com/login")
	if err != nil || entry == nil || entry.Kind != KindURL {
		t.Fatalf("URL lookup should delegate to host, got entry=%v err=%v", entry, err)
	}
}

func TestStructuralProvider(t *testing.T) {
	scorer := heuristic.NewScorer(patterns.Default(), threat.DefaultThresholds())
	p := NewStructuralProvider(scorer, fixedClock(testTime))
	ctx := context.Background()

	entry, err := p.LookupURL(ctx, "https://bit.ly/abc123")
	if err != nil || entry == nil {
		t.Fatalf("shortener URL should produce an opinion, got entry=%v err=%v", entry, err)
	}
	if entry.Severity == threat.LevelSafe || entry.Confidence <= 0 {
		t.Fatalf("shortener opinion should be at least suspicious: %+v", entry)
	}

	entry, err = p.LookupURL(ctx, "https://example.org/docs")
	if err != nil || entry != nil {
		t.Fatalf("clean URL should yield no opinion, got entry=%v err=%v", entry, err)
	}
}

func TestCommunityConsensusRequiresThreeReports(t *testing.T) {
	p := NewCommunityProvider(0, fixedClock(testTime))
	ctx := context.Background()

	rep := Report{Target: "scam.example", Category: CategoryScam, Severity: threat.LevelMalicious}
	for i := 0; i < 2; i++ {
		if err := p.AddReport(rep); err != nil {
			t.Fatalf("AddReport: %v", err)
		}
	}
	if entry, _ := p.LookupDomain(ctx, "scam.example"); entry != nil {
		t.Fatalf("two reports must not reach consensus: %+v", entry)
	}

	if err := p.AddReport(rep); err != nil {
		t.Fatalf("AddReport: %v", err)
	}
	entry, _ := p.LookupDomain(ctx, "scam.example")
	if entry == nil {
		t.Fatalf("three reports should reach consensus")
	}
	if entry.Category != CategoryScam || entry.Severity != threat.LevelMalicious {
		t.Fatalf("unexpected consensus: %+v", entry)
	}
	if entry.Confidence != 1.0 {
		t.Fatalf("unanimous reports should give confidence 1.0, got %f", entry.Confidence)
	}
}

func TestCommunityMajorityVote(t *testing.T) {
	p := NewCommunityProvider(0, fixedClock(testTime))
	ctx := context.Background()

	add := func(cat Category, sev threat.RiskLevel) {
		t.Helper()
		if err := p.AddReport(Report{Target: "mixed.example", Category: cat, Severity: sev}); err != nil {
			t.Fatalf("AddReport: %v", err)
		}
	}
	add(CategoryPhishing, threat.LevelMalicious)
	add(CategoryPhishing, threat.LevelMalicious)
	add(CategoryPhishing, threat.LevelMalicious)
	add(CategorySpam, threat.LevelSuspicious)
	add(CategorySpam, threat.LevelSuspicious)

	entry, _ := p.LookupDomain(ctx, "mixed.example")
	if entry == nil {
		t.Fatalf("expected consensus")
	}
	if entry.Category != CategoryPhishing {
		t.Fatalf("majority category should win, got %s", entry.Category)
	}
	if entry.Severity != threat.LevelMalicious {
		t.Fatalf("3/5 malicious votes should carry the severity, got %s", entry.Severity)
	}
	if entry.Confidence != 0.6 {
		t.Fatalf("agreement ratio should be 3/5, got %f", entry.Confidence)
	}
}

func TestCommunityStaleReportsExcluded(t *testing.T) {
	now := testTime
	p := NewCommunityProvider(24*time.Hour, func() time.Time { return now })

	old := Report{
		Target:     "stale.example",
		Category:   CategoryPhishing,
		Severity:   threat.LevelMalicious,
		ReportedAt: now.Add(-48 * time.Hour),
	}
	for i := 0; i < 3; i++ {
		if err := p.AddReport(old); err != nil {
			t.Fatalf("AddReport: %v", err)
		}
	}
	if entry, _ := p.LookupDomain(context.Background(), "stale.example"); entry != nil {
		t.Fatalf("reports outside the recency window must not count: %+v", entry)
	}
}

func TestCommunityRejectsBadReports(t *testing.T) {
	p := NewCommunityProvider(0, fixedClock(testTime))

	if err := p.AddReport(Report{Target: "", Severity: threat.LevelMalicious}); !threat.IsInputError(err) {
		t.Fatalf("empty target should be an input error, got %v", err)
	}
	if err := p.AddReport(Report{Target: "x.example", Severity: threat.LevelSafe}); !threat.IsInputError(err) {
		t.Fatalf("safe severity should be an input error, got %v", err)
	}
}

// fakeProvider is a configurable provider for aggregator tests.
type fakeProvider struct {
	name   string
	weight float64
	caps   Capability
	entry  *Entry
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Weight() float64 { return f.weight }
func (f *fakeProvider) Capabilities() Capability { return f.caps }

func (f *fakeProvider) lookup(ctx context.Context) (*Entry, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.entry, f.err
}

func (f *fakeProvider) LookupDomain(ctx context.Context, _ string) (*Entry, error) {
	return f.lookup(ctx)
}

func (f *fakeProvider) LookupURL(ctx context.Context, _ string) (*Entry, error) {
	return f.lookup(ctx)
}

func (f *fakeProvider) LookupIP(ctx context.Context, _ string) (*Entry, error) {
	return f.lookup(ctx)
}

func allCaps() Capability { return CapDomain | CapURL | CapIP }

func TestAggregatorWeightedMerge(t *testing.T) {
	high := &fakeProvider{name: "curated", weight: WeightCurated, caps: allCaps(), entry: &Entry{
		Source: "curated", Category: CategoryPhishing, Severity: threat.LevelMalicious, Confidence: 0.9,
		FirstSeen: testTime, LastSeen: testTime,
	}}
	low := &fakeProvider{name: "community", weight: WeightCommunity, caps: allCaps(), entry: &Entry{
		Source: "community", Category: CategorySpam, Severity: threat.LevelSuspicious, Confidence: 0.5,
		FirstSeen: testTime, LastSeen: testTime,
	}}
	agg := NewAggregator([]Provider{high, low}, zap.NewNop(), WithClock(fixedClock(testTime)))

	entry := agg.Lookup(context.Background(), "target.example")
	if entry.Category != CategoryPhishing || entry.Severity != threat.LevelMalicious {
		t.Fatalf("category/severity must come from the highest-confidence entry: %+v", entry)
	}
	want := (0.9*WeightCurated + 0.5*WeightCommunity) / (WeightCurated + WeightCommunity)
	if diff := entry.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("confidence = %f, want weighted average %f", entry.Confidence, want)
	}
}

func TestAggregatorExcludesFailingProvider(t *testing.T) {
	good := &fakeProvider{name: "curated", weight: WeightCurated, caps: allCaps(), entry: &Entry{
		Source: "curated", Category: CategoryPhishing, Severity: threat.LevelMalicious, Confidence: 0.9,
		FirstSeen: testTime, LastSeen: testTime,
	}}
	bad := &fakeProvider{name: "flaky", weight: WeightGenericPattern, caps: allCaps(), err: context.DeadlineExceeded}
	agg := NewAggregator([]Provider{good, bad}, zap.NewNop(), WithClock(fixedClock(testTime)))

	entry := agg.Lookup(context.Background(), "target.example")
	if entry.Severity != threat.LevelMalicious {
		t.Fatalf("failing provider must not sink the lookup: %+v", entry)
	}
	if entry.Confidence != 0.9 {
		t.Fatalf("only the surviving provider should contribute, got confidence %f", entry.Confidence)
	}
}

func TestAggregatorTimesOutSlowProvider(t *testing.T) {
	slow := &fakeProvider{name: "slow", weight: WeightGenericPattern, caps: allCaps(),
		delay: time.Second, entry: &Entry{Source: "slow", Confidence: 0.9}}
	agg := NewAggregator([]Provider{slow}, zap.NewNop(),
		WithProviderTimeout(10*time.Millisecond), WithClock(fixedClock(testTime)))

	entry := agg.Lookup(context.Background(), "target.example")
	if entry.Source != "default" || entry.Severity != threat.LevelSafe {
		t.Fatalf("timed-out provider should leave the default entry: %+v", entry)
	}
}

func TestAggregatorDefaultEntry(t *testing.T) {
	agg := NewAggregator(nil, zap.NewNop(), WithClock(fixedClock(testTime)))

	entry := agg.Lookup(context.Background(), "nobody-knows.example")
	if entry.Category != CategoryNone || entry.Severity != threat.LevelSafe {
		t.Fatalf("no providers should yield the safe default: %+v", entry)
	}
	if entry.Confidence != 0.1 {
		t.Fatalf("default confidence should be 0.1, got %f", entry.Confidence)
	}
}

func TestAggregatorCachesLookups(t *testing.T) {
	now := testTime
	p := &fakeProvider{name: "curated", weight: WeightCurated, caps: allCaps(), entry: &Entry{
		Source: "curated", Category: CategoryPhishing, Severity: threat.LevelMalicious, Confidence: 0.9,
		FirstSeen: testTime, LastSeen: testTime,
	}}
	agg := NewAggregator([]Provider{p}, zap.NewNop(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	agg.Lookup(ctx, "cached.example")
	agg.Lookup(ctx, "cached.example")
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("second lookup within TTL should be served from cache, provider called %d times", got)
	}

	now = now.Add(time.Hour + time.Second)
	agg.Lookup(ctx, "cached.example")
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("lookup after TTL should query providers again, called %d times", got)
	}
}

func TestAggregatorRoutesByCapability(t *testing.T) {
	domainOnly := &fakeProvider{name: "curated", weight: WeightCurated, caps: CapDomain, entry: &Entry{
		Source: "curated", Category: CategoryPhishing, Severity: threat.LevelMalicious, Confidence: 0.9,
		FirstSeen: testTime, LastSeen: testTime,
	}}
	agg := NewAggregator([]Provider{domainOnly}, zap.NewNop(), WithClock(fixedClock(testTime)))

	entry := agg.Lookup(context.Background(), "203.0.113.7")
	if entry.Source != "default" {
		t.Fatalf("provider without IP capability must be skipped: %+v", entry)
	}
	if got := domainOnly.calls.Load(); got != 0 {
		t.Fatalf("incapable provider should never be called, got %d calls", got)
	}
}
