// Package heuristic implements the deterministic, non-AI scoring path:
// weighted keyword corpora, compiled phrase patterns, sender-domain checks
// and per-link analysis, aggregated into a single [0,100] score. It performs
// no network I/O and runs in bounded time, which is what makes it a safe
// fallback when the AI path degrades.
package heuristic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/moatsec/moat/pkg/patterns"
	"github.com/moatsec/moat/pkg/threat"
)

// scoreNormalizer is the weighted-evidence budget that maps to a raw score
// of 100 before compression. Together with the >50 compression factor below
// it reproduces the established scoring curve; treat both as scoring policy,
// not tuning headroom.
const scoreNormalizer = 3.0

// compression applied to the portion of a raw score above 50. Diminishing
// returns: piling on more weak evidence should not race to 100.
const (
	compressionKnee   = 50.0
	compressionFactor = 0.7
)

// Scorer is the deterministic multi-signal analyzer.
type Scorer struct {
	lib        *patterns.Library
	thresholds threat.Thresholds
}

// NewScorer builds a scorer over an immutable pattern library.
func NewScorer(lib *patterns.Library, thresholds threat.Thresholds) *Scorer {
	return &Scorer{lib: lib, thresholds: thresholds}
}

// Thresholds returns the shared level brackets.
func (s *Scorer) Thresholds() threat.Thresholds { return s.thresholds }

// AnalyzeEmail scans a normalized email and returns all triggered indicators.
// Empty content yields zero indicators.
func (s *Scorer) AnalyzeEmail(req threat.EmailRequest) []threat.Indicator {
	if req.Empty() {
		return nil
	}

	content := Normalize(req.Content())
	var out []threat.Indicator

	out = append(out, s.scanKeywords(content)...)
	out = append(out, s.scanPhrases(req.Content())...)

	if domain := senderDomain(req.Sender); domain != "" {
		out = append(out, s.analyzeDomain(domain)...)
	}
	if req.ReplyTo != "" {
		if rd, sd := senderDomain(req.ReplyTo), senderDomain(req.Sender); rd != "" && sd != "" && rd != sd {
			out = append(out, threat.NewIndicator(
				threat.SourceHeuristic, threat.CategorySocialEngineering, 0.5,
				"Reply-To domain differs from sender domain", rd,
			))
		}
	}

	links := append([]string{}, req.Links...)
	links = append(links, ExtractLinks(req.Body)...)
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, s.AnalyzeURL(link, "")...)
	}

	return out
}

// scanKeywords matches every weighted keyword set against normalized content.
func (s *Scorer) scanKeywords(content string) []threat.Indicator {
	var out []threat.Indicator
	for _, cat := range []patterns.KeywordCategory{
		patterns.CategoryUrgency,
		patterns.CategoryCredentialRequest,
		patterns.CategoryFinancial,
		patterns.CategorySocialEngineering,
		patterns.CategoryThreatLanguage,
	} {
		for _, kw := range s.lib.Keywords(cat) {
			if strings.Contains(content, kw.Text) {
				out = append(out, threat.NewIndicator(
					threat.SourceHeuristic, indicatorCategoryFor(cat), kw.Confidence,
					fmt.Sprintf("Matched %s keyword", cat), kw.Text,
				))
			}
		}
	}
	return out
}

func (s *Scorer) scanPhrases(content string) []threat.Indicator {
	var out []threat.Indicator
	for _, p := range s.lib.PhishingPhrases() {
		if p.Regex.MatchString(content) {
			out = append(out, threat.NewIndicator(
				threat.SourceHeuristic, threat.CategoryPhishingPhrase, p.Confidence,
				p.Description, p.Name,
			))
		}
	}
	for _, p := range s.lib.BECPhrases() {
		if p.Regex.MatchString(content) {
			out = append(out, threat.NewIndicator(
				threat.SourceHeuristic, threat.CategoryBECPhrase, p.Confidence,
				p.Description, p.Name,
			))
		}
	}
	return out
}

// analyzeDomain runs the corpus checks shared by sender domains and link hosts.
func (s *Scorer) analyzeDomain(domain string) []threat.Indicator {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil
	}

	var out []threat.Indicator

	if s.lib.IsMaliciousDomain(domain) {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryDomainPattern, 0.9,
			"Domain is on the curated malicious list", domain,
		))
	}
	if s.lib.IsSuspiciousTLD(domain) {
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategorySuspiciousTLD, 0.6,
			"Domain uses an abuse-heavy TLD", domain,
		))
	}
	if target, dist := s.nearestLegitimate(domain); dist > 0 && dist <= 2 {
		conf := 0.85
		if dist == 2 {
			conf = 0.7
		}
		out = append(out, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryDomainSpoof, conf,
			fmt.Sprintf("Domain resembles %s (edit distance %d)", target, dist), domain,
		))
	}

	return out
}

// nearestLegitimate returns the closest allowlisted domain and its edit
// distance. Exact matches return distance 0 and are never spoof findings.
func (s *Scorer) nearestLegitimate(domain string) (string, int) {
	best, bestDist := "", -1
	for _, legit := range s.lib.LegitimateDomains() {
		if domain == legit {
			return legit, 0
		}
		// Only compare the registrable part; "login.paypa1.com" should
		// still be caught against "paypal.com".
		d := editDistance(registrable(domain), registrable(legit))
		if bestDist == -1 || d < bestDist {
			best, bestDist = legit, d
		}
	}
	return best, bestDist
}

// registrable trims a host to its last two labels.
func registrable(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func senderDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}

// Score aggregates indicators into a [0,100] score: the weighted sum of
// (confidence x threat-type weight), normalized, with diminishing returns
// above the knee. Adding an indicator never decreases the result.
func (s *Scorer) Score(indicators []threat.Indicator) float64 {
	if len(indicators) == 0 {
		return 0
	}

	w := s.lib.Weights()
	sum := 0.0
	for _, ind := range indicators {
		sum += ind.Confidence * typeWeightFor(ind.Category, w)
	}

	raw := sum / scoreNormalizer * 100
	if raw > compressionKnee {
		raw = compressionKnee + (raw-compressionKnee)*compressionFactor
	}
	return threat.ClampScore(raw)
}

func typeWeightFor(cat threat.IndicatorCategory, w patterns.TypeWeights) float64 {
	switch cat {
	case threat.CategoryPhishingPhrase, threat.CategoryBECPhrase:
		return w.Phrase
	case threat.CategoryDomainPattern, threat.CategoryDomainSpoof,
		threat.CategorySuspiciousTLD, threat.CategoryReputation:
		return w.Domain
	case threat.CategoryURLShortener, threat.CategoryURLCloaking,
		threat.CategoryParseError:
		return w.Link
	default:
		return w.Keyword
	}
}

func indicatorCategoryFor(cat patterns.KeywordCategory) threat.IndicatorCategory {
	switch cat {
	case patterns.CategoryUrgency:
		return threat.CategoryUrgency
	case patterns.CategoryCredentialRequest:
		return threat.CategoryCredentialRequest
	case patterns.CategoryFinancial:
		return threat.CategoryFinancial
	case patterns.CategorySocialEngineering:
		return threat.CategorySocialEngineering
	case patterns.CategoryThreatLanguage:
		return threat.CategoryThreatLanguage
	default:
		return threat.IndicatorCategory(cat)
	}
}

// Explain builds a short human-readable explanation from the strongest
// indicators, most confident first.
func Explain(indicators []threat.Indicator, level threat.RiskLevel) string {
	if len(indicators) == 0 {
		return "No threat indicators detected."
	}
	sorted := make([]threat.Indicator, len(indicators))
	copy(sorted, indicators)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	n := len(sorted)
	if n > 3 {
		n = 3
	}
	reasons := make([]string, 0, n)
	for _, ind := range sorted[:n] {
		reasons = append(reasons, ind.Description)
	}
	return fmt.Sprintf("Classified %s based on %d indicator(s): %s.",
		level, len(indicators), strings.Join(reasons, "; "))
}

// Recommendations maps the categories present in a verdict to advice strings.
func Recommendations(indicators []threat.Indicator, level threat.RiskLevel) []string {
	if level == threat.LevelSafe {
		return nil
	}
	seen := make(map[threat.IndicatorCategory]struct{}, len(indicators))
	var out []string
	add := func(cat threat.IndicatorCategory, advice string) {
		if _, dup := seen[cat]; dup {
			return
		}
		seen[cat] = struct{}{}
		out = append(out, advice)
	}
	for _, ind := range indicators {
		switch ind.Category {
		case threat.CategoryCredentialRequest, threat.CategoryPhishingPhrase:
			add(ind.Category, "Do not enter credentials via links in this message; navigate to the site directly.")
		case threat.CategoryDomainPattern, threat.CategoryDomainSpoof, threat.CategorySuspiciousTLD:
			add(ind.Category, "Verify the sender domain through a trusted channel before responding.")
		case threat.CategoryURLShortener, threat.CategoryURLCloaking:
			add(ind.Category, "Do not open shortened or obfuscated links from unverified senders.")
		case threat.CategoryBECPhrase:
			add(ind.Category, "Confirm payment or banking changes with the requester by phone before acting.")
		case threat.CategoryFinancial, threat.CategoryThreatLanguage, threat.CategoryUrgency:
			add(ind.Category, "Treat urgent financial or legal demands as suspect; verify independently.")
		}
	}
	if level == threat.LevelMalicious {
		out = append(out, "Report this message to your security team and delete it.")
	}
	return out
}
