package heuristic

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/moatsec/moat/pkg/threat"
)

// Cloaking limits: hosts, query strings and fragments beyond these sizes
// are a common obfuscation technique in phishing URLs.
const (
	maxHostLen     = 40
	maxQueryLen    = 100
	maxFragmentLen = 50
	maxHyphens     = 3
	maxSubdomains  = 3
)

var reURL = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ExtractLinks pulls http(s) URLs out of free-form text.
func ExtractLinks(text string) []string {
	return reURL.FindAllString(text, -1)
}

// AnalyzeURL inspects a single URL and returns the indicators it triggers.
// A malformed URL yields exactly one low-confidence parse-error indicator;
// it never returns an error.
func (s *Scorer) AnalyzeURL(raw string, context string) []threat.Indicator {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []threat.Indicator{threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryParseError, 0.2,
			"URL could not be parsed", truncateEvidence(raw),
		)}
	}

	var out []threat.Indicator
	host := strings.ToLower(u.Hostname())

	if s.lib.IsShortener(host) {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLShortener, 0.75,
			"URL uses a link shortener that hides the destination", host,
		))
	}

	if ip := net.ParseIP(host); ip != nil {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLCloaking, 0.8,
			"URL host is a raw IP address", host,
		))
	}

	if len(host) > maxHostLen {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLCloaking, 0.6,
			"URL host is unusually long", host,
		))
	}
	if len(u.RawQuery) > maxQueryLen {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLCloaking, 0.55,
			"URL query string is unusually long", truncateEvidence(u.RawQuery),
		))
	}
	if len(u.Fragment) > maxFragmentLen {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLCloaking, 0.5,
			"URL fragment is unusually long", truncateEvidence(u.Fragment),
		))
	}
	if strings.Count(host, "-") > maxHyphens {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLCloaking, 0.55,
			"URL host contains excessive hyphens", host,
		))
	}
	if strings.Count(host, ".") > maxSubdomains {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryURLCloaking, 0.55,
			"URL host has excessive subdomain depth", host,
		))
	}

	// The link's domain goes through the same corpus checks as a sender domain.
	out = append(out, s.analyzeDomain(host)...)

	return out
}

func truncateEvidence(s string) string {
	const maxEvidence = 120
	if len(s) <= maxEvidence {
		return s
	}
	return s[:maxEvidence] + "..."
}
