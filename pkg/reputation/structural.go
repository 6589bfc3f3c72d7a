package reputation

import (
	"context"
	"time"

	"github.com/moatsec/moat/pkg/heuristic"
	"github.com/moatsec/moat/pkg/threat"
)

// StructuralProvider judges a target by its shape: shortener hosts, raw-IP
// hosts, cloaking patterns and spoofed domains, reusing the deterministic
// link analyzer. It has no opinion on targets with a clean structure.
type StructuralProvider struct {
	scorer *heuristic.Scorer
	now    func() time.Time
}

// NewStructuralProvider builds the structural-analysis provider.
func NewStructuralProvider(scorer *heuristic.Scorer, now func() time.Time) *StructuralProvider {
	if now == nil {
		now = time.Now
	}
	return &StructuralProvider{scorer: scorer, now: now}
}

func (p *StructuralProvider) Name() string { return "structural" }
func (p *StructuralProvider) Weight() float64 { return WeightStructural }
func (p *StructuralProvider) Capabilities() Capability { return CapDomain | CapURL }

func (p *StructuralProvider) LookupURL(_ context.Context, rawURL string) (*Entry, error) {
	return p.analyze(rawURL, rawURL, KindURL), nil
}

func (p *StructuralProvider) LookupDomain(_ context.Context, domain string) (*Entry, error) {
	// Domains run through the same analyzer as a bare URL.
	return p.analyze("https://"+domain, domain, KindDomain), nil
}

func (p *StructuralProvider) LookupIP(context.Context, string) (*Entry, error) {
	return nil, ErrUnsupported
}

func (p *StructuralProvider) analyze(rawURL, target string, kind TargetKind) *Entry {
	indicators := p.scorer.AnalyzeURL(rawURL, "")
	if len(indicators) == 0 {
		return nil
	}

	score := p.scorer.Score(indicators)
	level := p.scorer.Thresholds().LevelFor(score)
	if level == threat.LevelSafe {
		return nil
	}

	conf := score / 100
	now := p.now().UTC()
	return &Entry{
		Target:     target,
		Kind:       kind,
		Category:   CategoryPhishing,
		Severity:   level,
		Confidence: conf,
		Source:     p.Name(),
		Indicators: indicators,
		FirstSeen:  now,
		LastSeen:   now,
	}
}
