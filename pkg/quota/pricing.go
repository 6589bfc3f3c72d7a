package quota

// rate holds per-1000-token prices in USD for one (provider, model) pair.
type rate struct {
	In  float64
	Out float64
}

// priceTable is startup configuration keyed by "provider/model".
// Unknown models fall back to defaultRate rather than erroring: a missing
// price table entry must never block usage accounting.
var priceTable = map[string]rate{
	"openrouter/nvidia/nemotron-3-nano-30b-a3b:free": {In: 0, Out: 0},
	"openrouter/openai/gpt-4o-mini":                  {In: 0.00015, Out: 0.0006},
	"openrouter/anthropic/claude-3-haiku":            {In: 0.00025, Out: 0.00125},
	"groq/llama-3.1-8b-instant":                      {In: 0.00005, Out: 0.00008},
	"groq/llama-3.3-70b-versatile":                   {In: 0.00059, Out: 0.00079},
	"openai/gpt-4o-mini":                             {In: 0.00015, Out: 0.0006},
	"ollama/qwen2.5:7b":                              {In: 0, Out: 0},
}

var defaultRate = rate{In: 0.0005, Out: 0.0015}

// Cost computes the USD cost of one AI call:
// inTokens/1000 x inRate + outTokens/1000 x outRate.
func Cost(provider, model string, tokensIn, tokensOut int64) float64 {
	r, ok := priceTable[provider+"/"+model]
	if !ok {
		r = defaultRate
	}
	return float64(tokensIn)/1000*r.In + float64(tokensOut)/1000*r.Out
}
