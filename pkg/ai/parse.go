package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moatsec/moat/pkg/threat"
)

// systemPrompt instructs the model to act as a phishing classifier and
// answer in the structured payload parseAnalysis expects.
const systemPrompt = `You are an email and URL threat classifier. Analyze the INPUT for
phishing, business email compromise, credential harvesting, scams and
malicious links.

Score the threat from 0 (clearly safe) to 100 (clearly malicious).
List every concrete indicator you find with a confidence between 0.0 and 1.0.

Respond with JSON only:
{"score": 0-100, "level": "safe|suspicious|malicious", "explanation": "brief summary",
 "indicators": [{"category": "short_snake_case", "description": "what was found",
                 "confidence": 0.0-1.0, "evidence": "quoted fragment"}]}`

// Analysis is the parsed, validated result of one AI call.
type Analysis struct {
	Score       float64
	Level       threat.RiskLevel
	Explanation string
	Indicators  []threat.Indicator
}

type aiPayload struct {
	Score       float64 `json:"score"`
	Level       string  `json:"level"`
	Explanation string  `json:"explanation"`
	Indicators  []struct {
		Category    string  `json:"category"`
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
		Evidence    string  `json:"evidence"`
	} `json:"indicators"`
}

// extractJSON strips markdown fences and surrounding prose from a model
// response, keeping the outermost JSON object.
func extractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}

// parseAnalysis validates the model payload against the shared thresholds.
// A malformed payload gets one best-effort keyword sniff before giving up
// with a ParseError.
func parseAnalysis(content string, th threat.Thresholds) (*Analysis, error) {
	var payload aiPayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &payload); err != nil {
		if a := sniffVerdict(content, th); a != nil {
			return a, nil
		}
		return nil, fmt.Errorf("%w: %v", threat.ErrParse, err)
	}

	score := threat.ClampScore(payload.Score)
	level := th.LevelFor(score)
	// The model's own level label is advisory; the score decides the bracket.
	if payload.Explanation == "" {
		payload.Explanation = "AI analysis completed."
	}

	indicators := make([]threat.Indicator, 0, len(payload.Indicators))
	for _, ind := range payload.Indicators {
		cat := threat.IndicatorCategory(strings.TrimSpace(ind.Category))
		if cat == "" {
			cat = threat.CategoryAIAnalysis
		}
		indicators = append(indicators, threat.NewIndicator(
			threat.SourceAI, cat, ind.Confidence, ind.Description, ind.Evidence,
		))
	}

	return &Analysis{
		Score:       score,
		Level:       level,
		Explanation: payload.Explanation,
		Indicators:  indicators,
	}, nil
}

// sniffVerdict is the single keyword-sniff attempt on an unstructured
// response: it keys on the strongest class word present and synthesizes a
// representative score. Returns nil when nothing recognizable is found.
func sniffVerdict(content string, th threat.Thresholds) *Analysis {
	lower := strings.ToLower(content)

	var score float64
	var class string
	switch {
	case strings.Contains(lower, "phishing") || strings.Contains(lower, "malicious"):
		score, class = 85, "malicious"
	case strings.Contains(lower, "suspicious"):
		score, class = 50, "suspicious"
	case strings.Contains(lower, "safe") || strings.Contains(lower, "benign"):
		score, class = 5, "safe"
	default:
		return nil
	}

	level := th.LevelFor(score)
	return &Analysis{
		Score:       score,
		Level:       level,
		Explanation: fmt.Sprintf("AI response was unstructured; classified %s by keyword sniff.", class),
		Indicators: []threat.Indicator{threat.NewIndicator(
			threat.SourceAI, threat.CategoryAIAnalysis, 0.5,
			fmt.Sprintf("Unstructured AI response mentioned %q", class), "",
		)},
	}
}
