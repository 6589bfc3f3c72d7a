// Package patterns provides the static weighted corpora used by the
// heuristic scorer and the curated reputation provider. All regexes are
// compiled once when a Library is built and shared across all scans.
//
// Design principles:
// - COMPILE ONCE: phrase patterns compiled at construction, not per-request
// - DRY: single source of truth for keywords, phrases and domain lists
// - IMMUTABLE: a Library is never mutated after construction; weight tables
//   and thresholds are startup configuration, not runtime state
package patterns

import (
	"regexp"
	"strings"
)

// KeywordCategory groups weighted keywords by the threat signal they carry
type KeywordCategory string

const (
	CategoryUrgency           KeywordCategory = "urgency"
	CategoryCredentialRequest KeywordCategory = "credential_request"
	CategoryFinancial         KeywordCategory = "financial"
	CategorySocialEngineering KeywordCategory = "social_engineering"
	CategoryThreatLanguage    KeywordCategory = "threat_language"
)

// Keyword is a single weighted corpus entry.
type Keyword struct {
	Text       string  // matched case-insensitively as a substring
	Confidence float64 // [0,1] evidence strength when matched
}

// Phrase holds a compiled multi-word pattern with metadata.
type Phrase struct {
	Name        string
	Regex       *regexp.Regexp
	Confidence  float64
	Description string
}

// TypeWeights are the hand-tuned contribution weights per threat type.
// Preserved verbatim as configuration; changing them is a scoring policy
// change, not a refactor.
type TypeWeights struct {
	Keyword float64
	Phrase  float64
	Domain  float64
	Link    float64
}

// DefaultTypeWeights returns the standard weight table.
func DefaultTypeWeights() TypeWeights {
	return TypeWeights{Keyword: 1.0, Phrase: 1.2, Domain: 1.5, Link: 1.3}
}

// Library is the full static corpus set consumed by the heuristic scorer
// and the curated reputation provider.
type Library struct {
	keywords         map[KeywordCategory][]Keyword
	phishingPhrases  []Phrase
	becPhrases       []Phrase
	maliciousDomains map[string]struct{}
	suspiciousTLDs   map[string]struct{}
	legitimateAllow  []string // spoof targets, checked by edit distance
	shortenerHosts   map[string]struct{}
	weights          TypeWeights
}

// Default returns the embedded corpora.
func Default() *Library {
	lib := &Library{
		keywords:         make(map[KeywordCategory][]Keyword),
		maliciousDomains: make(map[string]struct{}),
		suspiciousTLDs:   make(map[string]struct{}),
		shortenerHosts:   make(map[string]struct{}),
		weights:          DefaultTypeWeights(),
	}
	lib.registerKeywords()
	lib.registerPhrases()
	lib.registerDomains()
	return lib
}

// Keywords returns the weighted keyword set for a category.
// Returns an empty slice if the category has no entries (never nil).
func (l *Library) Keywords(cat KeywordCategory) []Keyword {
	if kws, ok := l.keywords[cat]; ok {
		return kws
	}
	return []Keyword{}
}

// KeywordCategories lists the categories that have at least one entry.
func (l *Library) KeywordCategories() []KeywordCategory {
	cats := make([]KeywordCategory, 0, len(l.keywords))
	for cat := range l.keywords {
		cats = append(cats, cat)
	}
	return cats
}

// PhishingPhrases returns the compiled phishing phrase patterns.
func (l *Library) PhishingPhrases() []Phrase { return l.phishingPhrases }

// BECPhrases returns the compiled business-email-compromise phrase patterns.
func (l *Library) BECPhrases() []Phrase { return l.becPhrases }

// Weights returns the threat-type weight table.
func (l *Library) Weights() TypeWeights { return l.weights }

// IsMaliciousDomain reports whether the domain is on the curated block list.
func (l *Library) IsMaliciousDomain(domain string) bool {
	_, ok := l.maliciousDomains[strings.ToLower(domain)]
	return ok
}

// IsSuspiciousTLD reports whether the domain ends in an abuse-heavy TLD.
func (l *Library) IsSuspiciousTLD(domain string) bool {
	idx := strings.LastIndex(domain, ".")
	if idx < 0 {
		return false
	}
	_, ok := l.suspiciousTLDs[strings.ToLower(domain[idx+1:])]
	return ok
}

// IsShortener reports whether the host is a known URL shortener.
func (l *Library) IsShortener(host string) bool {
	_, ok := l.shortenerHosts[strings.ToLower(host)]
	return ok
}

// LegitimateDomains returns the allowlist used for spoof detection.
func (l *Library) LegitimateDomains() []string { return l.legitimateAllow }

// MaxKeywordConfidence returns the largest confidence in a category.
// Used to bound the attainable score during aggregation.
func (l *Library) MaxKeywordConfidence(cat KeywordCategory) float64 {
	max := 0.0
	for _, kw := range l.keywords[cat] {
		if kw.Confidence > max {
			max = kw.Confidence
		}
	}
	return max
}

func (l *Library) addKeyword(cat KeywordCategory, text string, confidence float64) {
	l.keywords[cat] = append(l.keywords[cat], Keyword{Text: strings.ToLower(text), Confidence: confidence})
}

func (l *Library) addPhishingPhrase(name, pattern string, confidence float64, description string) {
	l.phishingPhrases = append(l.phishingPhrases, Phrase{
		Name:        name,
		Regex:       regexp.MustCompile(pattern),
		Confidence:  confidence,
		Description: description,
	})
}

func (l *Library) addBECPhrase(name, pattern string, confidence float64, description string) {
	l.becPhrases = append(l.becPhrases, Phrase{
		Name:        name,
		Regex:       regexp.MustCompile(pattern),
		Confidence:  confidence,
		Description: description,
	})
}
