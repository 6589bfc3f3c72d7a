package quota

import "github.com/moatsec/moat/pkg/threat"

// Ceiling defines the per-UTC-day limits for one tier.
type Ceiling struct {
	Requests int64   // scans per day
	Tokens   int64   // AI tokens (in + out) per day
	CostUSD  float64 // accrued AI spend per day
}

// tierCeilings are startup configuration; never mutated at runtime.
var tierCeilings = map[threat.Tier]Ceiling{
	threat.TierFree:       {Requests: 200, Tokens: 100_000, CostUSD: 1.00},
	threat.TierPremium:    {Requests: 2_000, Tokens: 2_000_000, CostUSD: 20.00},
	threat.TierEnterprise: {Requests: 20_000, Tokens: 50_000_000, CostUSD: 500.00},
}

// CeilingFor returns the limits for a tier, defaulting unknown tiers to free.
func CeilingFor(tier threat.Tier) Ceiling {
	if c, ok := tierCeilings[tier]; ok {
		return c
	}
	return tierCeilings[threat.TierFree]
}

// Status is the result of a quota check. Remaining values are never negative.
type Status struct {
	WithinLimits      bool    `json:"within_limits"`
	RemainingRequests int64   `json:"remaining_requests"`
	RemainingTokens   int64   `json:"remaining_tokens"`
	RemainingCostUSD  float64 `json:"remaining_cost_usd"`
	FailedOpen        bool    `json:"failed_open,omitempty"` // usage store was unreachable
}
