package threat

// IndicatorSource identifies which analyzer produced an indicator
type IndicatorSource string

const (
	SourceHeuristic  IndicatorSource = "heuristic"
	SourceAI         IndicatorSource = "ai"
	SourceReputation IndicatorSource = "reputation"
)

// IndicatorCategory classifies the kind of evidence an indicator carries
type IndicatorCategory string

const (
	CategoryUrgency           IndicatorCategory = "urgency"
	CategoryCredentialRequest IndicatorCategory = "credential_request"
	CategoryFinancial         IndicatorCategory = "financial"
	CategorySocialEngineering IndicatorCategory = "social_engineering"
	CategoryThreatLanguage    IndicatorCategory = "threat_language"
	CategoryPhishingPhrase    IndicatorCategory = "phishing_phrase"
	CategoryBECPhrase         IndicatorCategory = "bec_phrase"
	CategoryDomainPattern     IndicatorCategory = "domain_pattern"
	CategoryDomainSpoof       IndicatorCategory = "domain_spoof"
	CategorySuspiciousTLD     IndicatorCategory = "suspicious_tld"
	CategoryURLShortener      IndicatorCategory = "url_shortener"
	CategoryURLCloaking       IndicatorCategory = "url_cloaking"
	CategoryParseError        IndicatorCategory = "parse_error"
	CategoryReputation        IndicatorCategory = "reputation"
	CategoryAIAnalysis        IndicatorCategory = "ai_analysis"
)

// Indicator is one piece of evidence contributing to a verdict.
// Immutable after construction.
type Indicator struct {
	Source      IndicatorSource   `json:"source"`
	Category    IndicatorCategory `json:"category"`
	Confidence  float64           `json:"confidence"` // [0,1]
	Description string            `json:"description"`
	Evidence    string            `json:"evidence,omitempty"`
}

// NewIndicator builds an indicator, clamping confidence into [0,1].
func NewIndicator(src IndicatorSource, cat IndicatorCategory, confidence float64, description, evidence string) Indicator {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Indicator{
		Source:      src,
		Category:    cat,
		Confidence:  confidence,
		Description: description,
		Evidence:    evidence,
	}
}
