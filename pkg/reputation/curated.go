package reputation

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/moatsec/moat/pkg/patterns"
	"github.com/moatsec/moat/pkg/threat"
)

// CuratedProvider answers from the static pattern corpora: the curated
// malicious-domain list and the abuse-heavy TLD list. Exact lookups, no I/O.
type CuratedProvider struct {
	lib *patterns.Library
	now func() time.Time
}

// NewCuratedProvider builds the curated-list provider over an immutable
// pattern library.
func NewCuratedProvider(lib *patterns.Library, now func() time.Time) *CuratedProvider {
	if now == nil {
		now = time.Now
	}
	return &CuratedProvider{lib: lib, now: now}
}

func (p *CuratedProvider) Name() string { return "curated" }
func (p *CuratedProvider) Weight() float64 { return WeightCurated }
func (p *CuratedProvider) Capabilities() Capability { return CapDomain | CapURL }

func (p *CuratedProvider) LookupDomain(_ context.Context, domain string) (*Entry, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, nil
	}
	now := p.now().UTC()

	if p.lib.IsMaliciousDomain(domain) {
		return &Entry{
			Target:     domain,
			Kind:       KindDomain,
			Category:   CategoryPhishing,
			Severity:   threat.LevelMalicious,
			Confidence: 0.95,
			Source:     p.Name(),
			Indicators: []threat.Indicator{threat.NewIndicator(
				threat.SourceReputation, threat.CategoryReputation, 0.95,
				"Domain is on the curated malicious list", domain,
			)},
			FirstSeen: now,
			LastSeen:  now,
		}, nil
	}
	if p.lib.IsSuspiciousTLD(domain) {
		return &Entry{
			Target:     domain,
			Kind:       KindDomain,
			Category:   CategoryScam,
			Severity:   threat.LevelSuspicious,
			Confidence: 0.6,
			Source:     p.Name(),
			Indicators: []threat.Indicator{threat.NewIndicator(
				threat.SourceReputation, threat.CategoryReputation, 0.6,
				"Domain uses an abuse-heavy TLD", domain,
			)},
			FirstSeen: now,
			LastSeen:  now,
		}, nil
	}
	return nil, nil
}

func (p *CuratedProvider) LookupURL(ctx context.Context, rawURL string) (*Entry, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return nil, nil
	}
	entry, err := p.LookupDomain(ctx, u.Hostname())
	if entry != nil {
		entry.Target = rawURL
		entry.Kind = KindURL
	}
	return entry, err
}

func (p *CuratedProvider) LookupIP(context.Context, string) (*Entry, error) {
	return nil, ErrUnsupported
}
