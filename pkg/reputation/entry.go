// Package reputation aggregates opinions about a domain, URL or IP from a
// registry of providers. Each provider carries a fixed trust weight; the
// aggregator fans out concurrently, excludes failures, and merges what is
// left with confidence-weighted voting. A lookup never fails outright: with
// no usable entries it returns a default safe, low-confidence result.
package reputation

import (
	"net"
	"strings"
	"time"

	"github.com/moatsec/moat/pkg/threat"
)

// TargetKind classifies a lookup target.
type TargetKind string

const (
	KindDomain TargetKind = "domain"
	KindURL    TargetKind = "url"
	KindIP     TargetKind = "ip"
)

// Target is a classified lookup subject.
type Target struct {
	Raw  string
	Kind TargetKind
}

// ClassifyTarget decides whether a raw string is an IP, a URL or a bare
// domain. URLs keep their raw form; domains and IPs are lowercased.
func ClassifyTarget(raw string) Target {
	raw = strings.TrimSpace(raw)
	if ip := net.ParseIP(raw); ip != nil {
		return Target{Raw: raw, Kind: KindIP}
	}
	if strings.Contains(raw, "://") || strings.Contains(raw, "/") {
		return Target{Raw: raw, Kind: KindURL}
	}
	return Target{Raw: strings.ToLower(raw), Kind: KindDomain}
}

// Category names what kind of threat a reputation source reports.
type Category string

const (
	CategoryNone     Category = "none"
	CategoryPhishing Category = "phishing"
	CategoryMalware  Category = "malware"
	CategorySpam     Category = "spam"
	CategoryScam     Category = "scam"
)

// Entry is one ephemeral aggregation result. Severity reuses the verdict
// risk levels so reputation findings slot directly into scoring.
type Entry struct {
	Target     string             `json:"target"`
	Kind       TargetKind         `json:"kind"`
	Category   Category           `json:"category"`
	Severity   threat.RiskLevel   `json:"severity"`
	Confidence float64            `json:"confidence"` // [0,1]
	Source     string             `json:"source"`
	Indicators []threat.Indicator `json:"indicators,omitempty"`
	FirstSeen  time.Time          `json:"first_seen"`
	LastSeen   time.Time          `json:"last_seen"`
}

// defaultEntry is returned when no provider has an opinion.
func defaultEntry(t Target, now time.Time) *Entry {
	return &Entry{
		Target:     t.Raw,
		Kind:       t.Kind,
		Category:   CategoryNone,
		Severity:   threat.LevelSafe,
		Confidence: 0.1,
		Source:     "default",
		FirstSeen:  now,
		LastSeen:   now,
	}
}
