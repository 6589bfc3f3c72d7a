package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/ai"
	"github.com/moatsec/moat/pkg/cache"
	"github.com/moatsec/moat/pkg/heuristic"
	"github.com/moatsec/moat/pkg/patterns"
	"github.com/moatsec/moat/pkg/quota"
	"github.com/moatsec/moat/pkg/reputation"
	"github.com/moatsec/moat/pkg/threat"
)

type fakeAnalyzer struct {
	content string
	err     error
	calls   int
}

func (f *fakeAnalyzer) Complete(context.Context, string, string) (*ai.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Completion{Content: f.content, TokensIn: 100, TokensOut: 30}, nil
}

func (f *fakeAnalyzer) ProviderName() string { return "fake" }
func (f *fakeAnalyzer) ModelName() string { return "fake-model" }

type fakeQuota struct {
	status quota.Status
}

func (f *fakeQuota) CheckQuota(context.Context, string, threat.Tier) quota.Status {
	return f.status
}

func (f *fakeQuota) RecordUsage(_ context.Context, identity, provider, model string, in, out int64, cacheHit bool) quota.Record {
	return quota.Record{Identity: identity, Provider: provider, Model: model,
		TokensIn: in, TokensOut: out, CacheHit: cacheHit}
}

type fakeNotifier struct {
	ch  chan threat.Verdict
	err error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan threat.Verdict, 16)}
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, v threat.Verdict) error {
	f.ch <- v
	return f.err
}

type failingStore struct{}

func (failingStore) SaveVerdict(context.Context, string, threat.Verdict) error {
	return errors.New("database down")
}

func (failingStore) SaveUsage(context.Context, quota.Record) error {
	return errors.New("database down")
}

func newScorer() *heuristic.Scorer {
	return heuristic.NewScorer(patterns.Default(), threat.DefaultThresholds())
}

func emailRequest(subject, body, sender string) threat.ScanRequest {
	return threat.ScanRequest{
		Identity: threat.Identity{ID: "user-1", Tier: threat.TierFree, Authenticated: true},
		Email:    &threat.EmailRequest{Subject: subject, Body: body, Sender: sender},
	}
}

func phishingRequest() threat.ScanRequest {
	return emailRequest(
		"URGENT: Verify Your Account Now",
		"click here to verify your account immediately",
		"security@secure-bank-update.com",
	)
}

func TestScanRejectsInvalidInput(t *testing.T) {
	p := New(Config{Scorer: newScorer(), Logger: zap.NewNop()})

	_, err := p.Scan(context.Background(), threat.ScanRequest{})
	if !threat.IsInputError(err) {
		t.Fatalf("expected input error, got %v", err)
	}

	_, err = p.Scan(context.Background(), threat.ScanRequest{
		Email: &threat.EmailRequest{Body: "x"},
		Link:  &threat.LinkRequest{URL: "https://example.com"},
	})
	if !threat.IsInputError(err) {
		t.Fatalf("expected input error for ambiguous request, got %v", err)
	}
}

func TestScanHeuristicOnly(t *testing.T) {
	p := New(Config{Scorer: newScorer(), Logger: zap.NewNop()})

	v, err := p.Scan(context.Background(), phishingRequest())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Meta.AIPowered {
		t.Fatalf("no orchestrator configured, verdict must be heuristic")
	}
	if v.Score < 50 || v.Level == threat.LevelSafe {
		t.Fatalf("phishing email should score high: %+v", v)
	}
}

func TestScanPlainEmailIsSafe(t *testing.T) {
	p := New(Config{Scorer: newScorer(), Logger: zap.NewNop()})

	v, err := p.Scan(context.Background(), emailRequest(
		"Meeting notes", "Attached are the notes from Tuesday.", "colleague@example.org"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Level != threat.LevelSafe || v.Score > 29 || len(v.Indicators) != 0 {
		t.Fatalf("plain email should be safe with zero indicators: %+v", v)
	}
}

const aiPayload = `{"score": 80, "explanation": "credential phishing",
 "indicators": [{"category": "credential_request", "description": "credential lure", "confidence": 0.9}]}`

func newAIPipeline(analyzer ai.Analyzer, q ai.QuotaChecker, c *cache.ResponseCache) *Pipeline {
	scorer := newScorer()
	orch := ai.NewOrchestrator(ai.OrchestratorConfig{
		Analyzer: analyzer,
		Scorer:   scorer,
		Cache:    c,
		Quota:    q,
		Logger:   zap.NewNop(),
		Timeout:  time.Second,
	})
	return New(Config{
		Scorer:       scorer,
		Orchestrator: orch,
		Cache:        c,
		Quota:        q,
		Logger:       zap.NewNop(),
	})
}

func TestScanRescanHitsCache(t *testing.T) {
	analyzer := &fakeAnalyzer{content: aiPayload}
	c := cache.New(time.Hour, 100, nil)
	p := newAIPipeline(analyzer, &fakeQuota{status: quota.Status{WithinLimits: true}}, c)
	ctx := context.Background()

	first, err := p.Scan(ctx, phishingRequest())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	second, err := p.Scan(ctx, phishingRequest())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if !second.Meta.CacheHit {
		t.Fatalf("rescan within TTL should be a cache hit: %+v", second.Meta)
	}
	if second.Score != first.Score || second.Level != first.Level {
		t.Fatalf("rescan should be idempotent: first=%+v second=%+v", first, second)
	}
	if analyzer.calls != 1 {
		t.Fatalf("AI should run once for identical input, ran %d times", analyzer.calls)
	}
}

func TestScanOverQuotaStillYieldsVerdict(t *testing.T) {
	analyzer := &fakeAnalyzer{content: aiPayload}
	p := newAIPipeline(analyzer, &fakeQuota{status: quota.Status{WithinLimits: false}}, nil)

	v, err := p.Scan(context.Background(), phishingRequest())
	if err != nil {
		t.Fatalf("quota exhaustion must not be an error: %v", err)
	}
	if v.Meta.AIPowered || v.Meta.FallbackReason != threat.FallbackQuota {
		t.Fatalf("expected quota fallback verdict: %+v", v.Meta)
	}
	if analyzer.calls != 0 {
		t.Fatalf("AI must not run over quota")
	}
}

func TestScanSkipAIBypassesOrchestrator(t *testing.T) {
	analyzer := &fakeAnalyzer{content: aiPayload}
	p := newAIPipeline(analyzer, &fakeQuota{status: quota.Status{WithinLimits: true}}, nil)

	req := phishingRequest()
	req.SkipAI = true
	v, err := p.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Meta.AIPowered || analyzer.calls != 0 {
		t.Fatalf("SkipAI should force the heuristic path: %+v calls=%d", v.Meta, analyzer.calls)
	}
}

// reportingProvider always returns the scripted entry.
type reportingProvider struct {
	entry *reputation.Entry
}

func (r *reportingProvider) Name() string { return "curated" }
func (r *reportingProvider) Weight() float64 { return reputation.WeightCurated }
func (r *reportingProvider) Capabilities() reputation.Capability {
	return reputation.CapDomain | reputation.CapURL | reputation.CapIP
}

func (r *reportingProvider) LookupDomain(context.Context, string) (*reputation.Entry, error) {
	return r.entry, nil
}

func (r *reportingProvider) LookupURL(context.Context, string) (*reputation.Entry, error) {
	return r.entry, nil
}

func (r *reportingProvider) LookupIP(context.Context, string) (*reputation.Entry, error) {
	return r.entry, nil
}

func TestScanReputationRaisesLevel(t *testing.T) {
	entry := &reputation.Entry{
		Source:     "curated",
		Category:   reputation.CategoryPhishing,
		Severity:   threat.LevelMalicious,
		Confidence: 0.95,
		Indicators: []threat.Indicator{threat.NewIndicator(
			threat.SourceReputation, threat.CategoryReputation, 0.95,
			"Domain is on the curated malicious list", "innocuous-looking.example",
		)},
	}
	agg := reputation.NewAggregator(
		[]reputation.Provider{&reportingProvider{entry: entry}}, zap.NewNop())
	p := New(Config{Scorer: newScorer(), Reputation: agg, Logger: zap.NewNop()})

	// The email itself is clean; only reputation knows the sender is bad.
	v, err := p.Scan(context.Background(), emailRequest(
		"Invoice", "Please find the invoice attached.", "billing@innocuous-looking.example"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Level.Rank() < threat.LevelSuspicious.Rank() {
		t.Fatalf("high-confidence malicious reputation must raise the level: %+v", v)
	}
	found := false
	for _, ind := range v.Indicators {
		if ind.Source == threat.SourceReputation {
			found = true
		}
	}
	if !found {
		t.Fatalf("reputation indicators should be merged into the verdict")
	}
}

func TestScanReputationNeverLowers(t *testing.T) {
	safeEntry := &reputation.Entry{
		Source: "curated", Category: reputation.CategoryNone,
		Severity: threat.LevelSafe, Confidence: 0.9,
	}
	agg := reputation.NewAggregator(
		[]reputation.Provider{&reportingProvider{entry: safeEntry}}, zap.NewNop())
	p := New(Config{Scorer: newScorer(), Reputation: agg, Logger: zap.NewNop()})

	v, err := p.Scan(context.Background(), phishingRequest())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Score < 50 || v.Level == threat.LevelSafe {
		t.Fatalf("a clean reputation must never lower the verdict: %+v", v)
	}
}

func TestScanNotifiesOnThreats(t *testing.T) {
	notifier := newFakeNotifier()
	p := New(Config{Scorer: newScorer(), Notifier: notifier, Logger: zap.NewNop()})

	if _, err := p.Scan(context.Background(), phishingRequest()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	select {
	case v := <-notifier.ch:
		if v.Level == threat.LevelSafe {
			t.Fatalf("notified verdict should not be safe")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a notification for a threat verdict")
	}
}

func TestScanDoesNotNotifyOnSafe(t *testing.T) {
	notifier := newFakeNotifier()
	p := New(Config{Scorer: newScorer(), Notifier: notifier, Logger: zap.NewNop()})

	if _, err := p.Scan(context.Background(), emailRequest(
		"Hello", "Lunch on Friday?", "friend@example.org")); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	select {
	case <-notifier.ch:
		t.Fatalf("safe verdicts must not notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScanSurvivesFailingStore(t *testing.T) {
	p := New(Config{Scorer: newScorer(), Store: failingStore{}, Logger: zap.NewNop()})

	v, err := p.Scan(context.Background(), phishingRequest())
	if err != nil || v == nil {
		t.Fatalf("persistence failure must not affect scoring: v=%v err=%v", v, err)
	}
}

func TestScanLinkShortener(t *testing.T) {
	p := New(Config{Scorer: newScorer(), Logger: zap.NewNop()})

	v, err := p.Scan(context.Background(), threat.ScanRequest{
		Identity: threat.Identity{ID: "user-1", Tier: threat.TierFree},
		Link:     &threat.LinkRequest{URL: "https://bit.ly/abc123"},
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Score < 30 {
		t.Fatalf("shortener alone should reach the suspicious bracket, got %f", v.Score)
	}
	found := false
	for _, ind := range v.Indicators {
		if ind.Category == threat.CategoryURLShortener {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a shortener indicator: %+v", v.Indicators)
	}
}

func TestReportReputationFeedsCommunity(t *testing.T) {
	community := reputation.NewCommunityProvider(0, nil)
	agg := reputation.NewAggregator([]reputation.Provider{community}, zap.NewNop())
	p := New(Config{Scorer: newScorer(), Reputation: agg, Community: community, Logger: zap.NewNop()})

	rep := reputation.Report{Target: "reported.example", Category: reputation.CategoryScam,
		Severity: threat.LevelMalicious}
	for i := 0; i < 3; i++ {
		if err := p.ReportReputation(rep); err != nil {
			t.Fatalf("ReportReputation: %v", err)
		}
	}

	entry := p.LookupReputation(context.Background(), "reported.example")
	if entry == nil || entry.Severity != threat.LevelMalicious {
		t.Fatalf("community consensus should surface through lookup: %+v", entry)
	}
}

func TestCacheStatsPassThrough(t *testing.T) {
	c := cache.New(time.Hour, 10, nil)
	p := New(Config{Scorer: newScorer(), Cache: c, Logger: zap.NewNop()})

	c.Put(cache.Key("p", "m", "x"), "p", "m", threat.Verdict{ID: "v"})
	if stats := p.CacheStats(); stats.Entries != 1 {
		t.Fatalf("unexpected cache stats: %+v", stats)
	}
}
