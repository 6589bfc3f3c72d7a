package ai

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/cache"
	"github.com/moatsec/moat/pkg/heuristic"
	"github.com/moatsec/moat/pkg/quota"
	"github.com/moatsec/moat/pkg/telemetry"
	"github.com/moatsec/moat/pkg/threat"
)

// QuotaChecker is the usage-governor seam: check before the AI call, record
// after it. *quota.Governor satisfies it.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, identity string, tier threat.Tier) quota.Status
	RecordUsage(ctx context.Context, identity, provider, model string, tokensIn, tokensOut int64, cacheHit bool) quota.Record
}

// Orchestrator runs the AI analysis state machine:
//
//	START → CACHE_CHECK → {HIT → DONE, MISS → QUOTA_CHECK}
//	      → {OVER → FALLBACK, UNDER → AI_CALL}
//	      → {SUCCESS → STORE_AND_DONE, FAILURE → FALLBACK}
//	FALLBACK → HEURISTIC_RESULT → DONE
//
// Every terminal state yields a usable verdict; nothing here returns an
// error to the caller.
type Orchestrator struct {
	analyzer   Analyzer
	scorer     *heuristic.Scorer
	cache      *cache.ResponseCache
	quota      QuotaChecker
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	timeout    time.Duration
	maxAIRunes int
	now        func() time.Time
}

// OrchestratorConfig wires the orchestrator's collaborators. Cache, quota
// and metrics are optional; a missing cache means every check is a miss and
// a missing governor means quota never blocks.
type OrchestratorConfig struct {
	Analyzer   Analyzer
	Scorer     *heuristic.Scorer
	Cache      *cache.ResponseCache
	Quota      QuotaChecker
	Metrics    *telemetry.Metrics
	Logger     *zap.Logger
	Timeout    time.Duration
	MaxAIRunes int
}

// NewOrchestrator builds the state machine around its collaborators.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxRunes := cfg.MaxAIRunes
	if maxRunes <= 0 {
		maxRunes = 6000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		analyzer:   cfg.Analyzer,
		scorer:     cfg.Scorer,
		cache:      cfg.Cache,
		quota:      cfg.Quota,
		metrics:    cfg.Metrics,
		logger:     logger.Named("orchestrator"),
		timeout:    timeout,
		maxAIRunes: maxRunes,
		now:        time.Now,
	}
}

// WithClock overrides the clock; used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Analyze produces a verdict for the request, consulting the cache and the
// quota before paying for an AI call, and degrading to the heuristic path
// on every failure. It never returns an error.
func (o *Orchestrator) Analyze(ctx context.Context, req threat.ScanRequest) *threat.Verdict {
	key := cache.Key(o.analyzer.ProviderName(), o.analyzer.ModelName(),
		heuristic.Normalize(req.Content()))

	// CACHE_CHECK
	if o.cache != nil {
		if v, ok := o.cache.Get(key); ok {
			if o.metrics != nil {
				o.metrics.CacheHits.Inc()
			}
			if o.quota != nil {
				o.quota.RecordUsage(ctx, req.Identity.ID,
					o.analyzer.ProviderName(), o.analyzer.ModelName(), 0, 0, true)
			}
			v.Meta.CacheHit = true
			return &v
		}
		if o.metrics != nil {
			o.metrics.CacheMisses.Inc()
		}
	}

	// QUOTA_CHECK
	if o.quota != nil {
		status := o.quota.CheckQuota(ctx, req.Identity.ID, req.Identity.Tier)
		if status.FailedOpen && o.metrics != nil {
			o.metrics.QuotaFailOpen.Inc()
		}
		if !status.WithinLimits {
			if o.metrics != nil {
				o.metrics.QuotaDenied.Inc()
			}
			return o.fallback(req, threat.FallbackQuota)
		}
	}

	// Sanitization gate, then AI_CALL.
	prompt := Sanitize(req.Content(), o.maxAIRunes)
	actx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := o.now()
	completion, err := o.analyzer.Complete(actx, systemPrompt, prompt)
	if o.metrics != nil {
		o.metrics.AILatency.Observe(o.now().Sub(start).Seconds())
	}
	if err != nil {
		reason := threat.FallbackError
		if IsTimeout(err) {
			reason = threat.FallbackTimeout
		}
		if o.metrics != nil {
			o.metrics.AIErrors.WithLabelValues(o.analyzer.ProviderName()).Inc()
		}
		o.logger.Warn("AI call failed, using heuristic path",
			zap.String("provider", o.analyzer.ProviderName()),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return o.fallback(req, reason)
	}

	// Billed tokens are recorded regardless of how parsing goes.
	if o.quota != nil {
		o.quota.RecordUsage(ctx, req.Identity.ID,
			o.analyzer.ProviderName(), o.analyzer.ModelName(),
			completion.TokensIn, completion.TokensOut, false)
	}

	analysis, err := parseAnalysis(completion.Content, o.scorer.Thresholds())
	if err != nil {
		o.logger.Warn("AI response unparseable, using heuristic path",
			zap.String("provider", o.analyzer.ProviderName()),
			zap.Error(err))
		return o.fallback(req, threat.FallbackParse)
	}

	// STORE_AND_DONE
	verdict := &threat.Verdict{
		ID:              uuid.NewString(),
		Score:           analysis.Score,
		Level:           analysis.Level,
		Explanation:     analysis.Explanation,
		Indicators:      analysis.Indicators,
		Recommendations: heuristic.Recommendations(analysis.Indicators, analysis.Level),
		GeneratedAt:     o.now().UTC(),
		Meta: threat.VerdictMeta{
			AIPowered: true,
			Provider:  o.analyzer.ProviderName(),
			Model:     o.analyzer.ModelName(),
		},
	}
	if o.cache != nil {
		o.cache.Put(key, o.analyzer.ProviderName(), o.analyzer.ModelName(), *verdict)
	}
	return verdict
}

// fallback runs the deterministic path and tags the verdict metadata with
// why the AI result was substituted.
func (o *Orchestrator) fallback(req threat.ScanRequest, reason threat.FallbackReason) *threat.Verdict {
	if o.metrics != nil {
		o.metrics.Fallbacks.WithLabelValues(string(reason)).Inc()
	}
	v := HeuristicVerdict(o.scorer, req, o.now().UTC())
	v.Meta.FallbackReason = reason
	return v
}

// HeuristicVerdict scores a request with the deterministic path only. It is
// shared by the fallback branch and by requests that opt out of AI.
func HeuristicVerdict(scorer *heuristic.Scorer, req threat.ScanRequest, now time.Time) *threat.Verdict {
	var indicators []threat.Indicator
	if req.Email != nil {
		indicators = scorer.AnalyzeEmail(*req.Email)
	} else if req.Link != nil {
		indicators = scorer.AnalyzeURL(req.Link.URL, req.Link.Context)
	}

	score := scorer.Score(indicators)
	level := scorer.Thresholds().LevelFor(score)
	return &threat.Verdict{
		ID:              uuid.NewString(),
		Score:           score,
		Level:           level,
		Explanation:     heuristic.Explain(indicators, level),
		Indicators:      indicators,
		Recommendations: heuristic.Recommendations(indicators, level),
		GeneratedAt:     now,
		Meta:            threat.VerdictMeta{AIPowered: false},
	}
}
