// Package pipeline composes the scoring engine: heuristic analysis, the AI
// orchestrator, reputation aggregation, quota accounting and notification
// fan-out behind a single Scan operation. The only error a caller ever sees
// is an input error; every other failure degrades into the verdict itself.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/ai"
	"github.com/moatsec/moat/pkg/cache"
	"github.com/moatsec/moat/pkg/heuristic"
	"github.com/moatsec/moat/pkg/httputil"
	"github.com/moatsec/moat/pkg/quota"
	"github.com/moatsec/moat/pkg/reputation"
	"github.com/moatsec/moat/pkg/store"
	"github.com/moatsec/moat/pkg/telemetry"
	"github.com/moatsec/moat/pkg/threat"
)

// Notifier is informed when a verdict crosses into suspicious or malicious.
// Delivery is fire-and-forget; a failing notifier never blocks scoring.
type Notifier interface {
	Notify(ctx context.Context, identity string, v threat.Verdict) error
}

// Config wires the pipeline's collaborators. Orchestrator, reputation,
// quota, store, notifier and metrics are all optional; the pipeline
// degrades to pure heuristic scoring with everything unset.
type Config struct {
	Scorer          *heuristic.Scorer
	Orchestrator    *ai.Orchestrator
	Reputation      *reputation.Aggregator
	Community       *reputation.CommunityProvider
	Cache           *cache.ResponseCache
	Quota           ai.QuotaChecker
	Store           store.Store
	Notifier        Notifier
	Metrics         *telemetry.Metrics
	Logger          *zap.Logger
	MaxContentBytes int
	NotifyWorkers   int
}

// Pipeline is the top-level scoring composition.
type Pipeline struct {
	scorer          *heuristic.Scorer
	orchestrator    *ai.Orchestrator
	reputation      *reputation.Aggregator
	community       *reputation.CommunityProvider
	cache           *cache.ResponseCache
	quota           ai.QuotaChecker
	store           store.Store
	notifier        Notifier
	notifySem       *httputil.Semaphore
	metrics         *telemetry.Metrics
	logger          *zap.Logger
	maxContentBytes int
	now             func() time.Time
}

// New builds the pipeline.
func New(cfg Config) *Pipeline {
	workers := cfg.NotifyWorkers
	if workers <= 0 {
		workers = 64
	}
	st := cfg.Store
	if st == nil {
		st = store.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		scorer:          cfg.Scorer,
		orchestrator:    cfg.Orchestrator,
		reputation:      cfg.Reputation,
		community:       cfg.Community,
		cache:           cfg.Cache,
		quota:           cfg.Quota,
		store:           st,
		notifier:        cfg.Notifier,
		notifySem:       httputil.NewSemaphore(workers),
		metrics:         cfg.Metrics,
		logger:          logger.Named("pipeline"),
		maxContentBytes: cfg.MaxContentBytes,
		now:             time.Now,
	}
}

// WithClock overrides the clock; used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Scan turns a request into a verdict. It returns an error only for invalid
// input; AI, reputation, quota and storage failures all degrade silently
// and are visible in the verdict metadata and metrics.
func (p *Pipeline) Scan(ctx context.Context, req threat.ScanRequest) (*threat.Verdict, error) {
	if err := req.Validate(p.maxContentBytes); err != nil {
		return nil, err
	}
	start := p.now()

	// Verdict computation and reputation lookup run concurrently; both are
	// bounded, so joining them is safe.
	var (
		wg       sync.WaitGroup
		repEntry *reputation.Entry
	)
	if target := reputationTarget(req); p.reputation != nil && target != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repEntry = p.reputation.Lookup(ctx, target)
		}()
	}

	var verdict *threat.Verdict
	if req.SkipAI || p.orchestrator == nil {
		verdict = ai.HeuristicVerdict(p.scorer, req, p.now().UTC())
	} else {
		verdict = p.orchestrator.Analyze(ctx, req)
	}
	wg.Wait()

	p.mergeReputation(verdict, repEntry)

	p.persist(ctx, req.Identity.ID, verdict)
	if verdict.Level != threat.LevelSafe {
		p.notify(req.Identity.ID, verdict)
	}

	if p.metrics != nil {
		p.metrics.ScansTotal.WithLabelValues(inputType(req), string(verdict.Level)).Inc()
		p.metrics.ScanDuration.Observe(p.now().Sub(start).Seconds())
	}
	return verdict, nil
}

// mergeReputation folds a non-default reputation finding into the verdict
// as additional indicators. The merge is raise-only: a clean reputation
// never lowers a score, and rescoring is taken only when it is higher.
func (p *Pipeline) mergeReputation(v *threat.Verdict, entry *reputation.Entry) {
	if entry == nil || entry.Severity == threat.LevelSafe || len(entry.Indicators) == 0 {
		return
	}

	v.Indicators = append(v.Indicators, entry.Indicators...)
	if rescored := p.scorer.Score(v.Indicators); rescored > v.Score {
		v.Score = rescored
	}
	if newLevel := p.scorer.Thresholds().LevelFor(v.Score); newLevel.Rank() > v.Level.Rank() {
		v.Level = newLevel
	}
	// A high-confidence reputation hit promotes the bracket even when the
	// numeric rescore falls short of the next threshold.
	if entry.Severity.Rank() > v.Level.Rank() && entry.Confidence >= 0.7 {
		v.Level = entry.Severity
	}
}

// persist hands the verdict to the store collaborator, detached from the
// caller's cancellation. Failures are logged, never raised.
func (p *Pipeline) persist(ctx context.Context, identity string, v *threat.Verdict) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.SaveVerdict(sctx, identity, *v); err != nil {
		p.logger.Error("failed to persist verdict",
			zap.String("verdict_id", v.ID),
			zap.Error(err))
	}
}

// notify delivers the verdict fire-and-forget, bounded by the semaphore so
// a slow notification sink cannot accumulate goroutines.
func (p *Pipeline) notify(identity string, v *threat.Verdict) {
	if p.notifier == nil {
		return
	}
	if !p.notifySem.TryAcquire() {
		if p.metrics != nil {
			p.metrics.NotifyDropped.Inc()
		}
		p.logger.Warn("notification dropped at concurrency cap",
			zap.String("verdict_id", v.ID))
		return
	}

	verdict := *v
	go func() {
		defer p.notifySem.Release()
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.notifier.Notify(nctx, identity, verdict); err != nil {
			p.logger.Warn("notification delivery failed",
				zap.String("verdict_id", verdict.ID),
				zap.Error(err))
		}
	}()
}

// CheckQuota reports the identity's remaining daily allowance.
func (p *Pipeline) CheckQuota(ctx context.Context, identity string, tier threat.Tier) quota.Status {
	if p.quota == nil {
		return quota.Status{WithinLimits: true,
			RemainingRequests: quota.CeilingFor(tier).Requests,
			RemainingTokens:   quota.CeilingFor(tier).Tokens,
			RemainingCostUSD:  quota.CeilingFor(tier).CostUSD}
	}
	return p.quota.CheckQuota(ctx, identity, tier)
}

// LookupReputation resolves a target through the aggregator.
func (p *Pipeline) LookupReputation(ctx context.Context, target string) *reputation.Entry {
	if p.reputation == nil {
		return nil
	}
	return p.reputation.Lookup(ctx, target)
}

// ReportReputation feeds a community report into the consensus provider.
func (p *Pipeline) ReportReputation(rep reputation.Report) error {
	if p.community == nil {
		return threat.NewInputError("community reporting is not enabled")
	}
	return p.community.AddReport(rep)
}

// CacheStats exposes read-only response-cache counters.
func (p *Pipeline) CacheStats() cache.Stats {
	if p.cache == nil {
		return cache.Stats{}
	}
	return p.cache.Stats()
}

// reputationTarget picks what to look up for a request: the URL for link
// scans, the sender domain for emails.
func reputationTarget(req threat.ScanRequest) string {
	if req.Link != nil {
		return req.Link.URL
	}
	if req.Email != nil {
		if at := strings.LastIndex(req.Email.Sender, "@"); at >= 0 && at < len(req.Email.Sender)-1 {
			return strings.ToLower(strings.TrimSpace(req.Email.Sender[at+1:]))
		}
	}
	return ""
}

func inputType(req threat.ScanRequest) string {
	if req.Link != nil {
		return "link"
	}
	return "email"
}
