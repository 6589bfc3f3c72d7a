package threat

import "time"

// RiskLevel is the final classification bracket of a scan
type RiskLevel string

const (
	LevelSafe       RiskLevel = "safe"
	LevelSuspicious RiskLevel = "suspicious"
	LevelMalicious  RiskLevel = "malicious"
)

// Thresholds maps scores to risk levels. The same instance is shared by the
// heuristic and AI paths so both produce identical brackets for a given score.
type Thresholds struct {
	Suspicious float64 // score >= Suspicious -> suspicious
	Malicious  float64 // score >= Malicious  -> malicious
}

// DefaultThresholds returns the standard bracket boundaries (30/70).
func DefaultThresholds() Thresholds {
	return Thresholds{Suspicious: 30, Malicious: 70}
}

// LevelFor maps a score to its risk level.
func (t Thresholds) LevelFor(score float64) RiskLevel {
	switch {
	case score >= t.Malicious:
		return LevelMalicious
	case score >= t.Suspicious:
		return LevelSuspicious
	default:
		return LevelSafe
	}
}

// Rank orders risk levels for raise-only comparisons.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelMalicious:
		return 2
	case LevelSuspicious:
		return 1
	default:
		return 0
	}
}

// FallbackReason records why the AI path was substituted by the heuristic path
type FallbackReason string

const (
	FallbackNone    FallbackReason = ""
	FallbackTimeout FallbackReason = "timeout"
	FallbackQuota   FallbackReason = "quota"
	FallbackError   FallbackReason = "error"
	FallbackParse   FallbackReason = "parse"
)

// VerdictMeta carries observability metadata about how a verdict was produced.
// All degradations in the scoring path are silent but visible here.
type VerdictMeta struct {
	AIPowered      bool           `json:"ai_powered"`
	FallbackReason FallbackReason `json:"fallback_reason,omitempty"`
	CacheHit       bool           `json:"cache_hit"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
}

// Verdict is the final scan output. It is produced once per request and
// never mutated afterwards; persistence is an external collaborator's job.
type Verdict struct {
	ID              string      `json:"id"`
	Score           float64     `json:"score"` // [0,100]
	Level           RiskLevel   `json:"level"`
	Explanation     string      `json:"explanation"`
	Indicators      []Indicator `json:"indicators"`
	Recommendations []string    `json:"recommendations,omitempty"`
	GeneratedAt     time.Time   `json:"generated_at"`
	Meta            VerdictMeta `json:"meta"`
}

// ClampScore forces a score into the valid [0,100] range.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
