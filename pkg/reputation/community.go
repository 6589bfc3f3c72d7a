package reputation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/moatsec/moat/pkg/threat"
)

// Community consensus policy: a target needs at least minReports reports
// inside the recency window before the provider contributes an opinion.
const (
	minReports          = 3
	defaultReportWindow = 7 * 24 * time.Hour
	maxReportsPerTarget = 100
	maxTrackedTargets   = 10_000
)

// Report is one community submission about a target.
type Report struct {
	Target     string           `json:"target"`
	Category   Category         `json:"category"`
	Severity   threat.RiskLevel `json:"severity"`
	ReportedBy string           `json:"reported_by,omitempty"`
	ReportedAt time.Time        `json:"reported_at"`
}

// CommunityProvider holds an in-process report store and votes by majority.
// Fewer than minReports recent reports means no opinion, so a single
// malicious submitter cannot poison a target's reputation.
type CommunityProvider struct {
	mu      sync.RWMutex
	reports map[string][]Report
	window  time.Duration
	now     func() time.Time
}

// NewCommunityProvider builds the consensus provider. window <= 0 selects
// the default recency window.
func NewCommunityProvider(window time.Duration, now func() time.Time) *CommunityProvider {
	if window <= 0 {
		window = defaultReportWindow
	}
	if now == nil {
		now = time.Now
	}
	return &CommunityProvider{
		reports: make(map[string][]Report),
		window:  window,
		now:     now,
	}
}

func (p *CommunityProvider) Name() string { return "community" }
func (p *CommunityProvider) Weight() float64 { return WeightCommunity }
func (p *CommunityProvider) Capabilities() Capability { return CapDomain | CapURL | CapIP }

// AddReport records a community submission. Reports on a new target are
// rejected once the store is at capacity; per-target history is ring-bounded.
func (p *CommunityProvider) AddReport(rep Report) error {
	key := strings.ToLower(strings.TrimSpace(rep.Target))
	if key == "" {
		return threat.NewInputError("report target must not be empty")
	}
	if rep.Severity != threat.LevelSuspicious && rep.Severity != threat.LevelMalicious {
		return threat.NewInputError(fmt.Sprintf("report severity %q is not reportable", rep.Severity))
	}
	if rep.Category == "" {
		rep.Category = CategoryPhishing
	}
	if rep.ReportedAt.IsZero() {
		rep.ReportedAt = p.now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	existing, known := p.reports[key]
	if !known && len(p.reports) >= maxTrackedTargets {
		return fmt.Errorf("community report store at capacity (%d targets)", maxTrackedTargets)
	}
	existing = append(existing, rep)
	if len(existing) > maxReportsPerTarget {
		existing = existing[len(existing)-maxReportsPerTarget:]
	}
	p.reports[key] = existing
	return nil
}

func (p *CommunityProvider) LookupDomain(ctx context.Context, domain string) (*Entry, error) {
	return p.consensus(domain, KindDomain), nil
}

func (p *CommunityProvider) LookupURL(ctx context.Context, rawURL string) (*Entry, error) {
	return p.consensus(rawURL, KindURL), nil
}

func (p *CommunityProvider) LookupIP(ctx context.Context, ip string) (*Entry, error) {
	return p.consensus(ip, KindIP), nil
}

// consensus tallies recent reports and returns the majority opinion, or nil
// when the target has not crossed the report threshold.
func (p *CommunityProvider) consensus(target string, kind TargetKind) *Entry {
	key := strings.ToLower(strings.TrimSpace(target))
	now := p.now().UTC()
	cutoff := now.Add(-p.window)

	p.mu.RLock()
	all := p.reports[key]
	recent := make([]Report, 0, len(all))
	for _, r := range all {
		if r.ReportedAt.After(cutoff) {
			recent = append(recent, r)
		}
	}
	p.mu.RUnlock()

	if len(recent) < minReports {
		return nil
	}

	catVotes := make(map[Category]int)
	sevVotes := make(map[threat.RiskLevel]int)
	firstSeen, lastSeen := recent[0].ReportedAt, recent[0].ReportedAt
	for _, r := range recent {
		catVotes[r.Category]++
		sevVotes[r.Severity]++
		if r.ReportedAt.Before(firstSeen) {
			firstSeen = r.ReportedAt
		}
		if r.ReportedAt.After(lastSeen) {
			lastSeen = r.ReportedAt
		}
	}

	category, catCount := majorityCategory(catVotes)
	severity := threat.LevelSuspicious
	if sevVotes[threat.LevelMalicious]*2 > len(recent) {
		severity = threat.LevelMalicious
	}

	// Confidence is the agreement ratio on the winning category.
	conf := float64(catCount) / float64(len(recent))
	return &Entry{
		Target:     target,
		Kind:       kind,
		Category:   category,
		Severity:   severity,
		Confidence: conf,
		Source:     p.Name(),
		Indicators: []threat.Indicator{threat.NewIndicator(
			threat.SourceReputation, threat.CategoryReputation, conf,
			fmt.Sprintf("Reported %s by %d community member(s)", category, len(recent)), target,
		)},
		FirstSeen: firstSeen,
		LastSeen:  lastSeen,
	}
}

func majorityCategory(votes map[Category]int) (Category, int) {
	best, bestCount := CategoryNone, 0
	for cat, n := range votes {
		if n > bestCount || (n == bestCount && cat < best) {
			best, bestCount = cat, n
		}
	}
	return best, bestCount
}
