// Package limits provides plan tiers and per-plan usage limits.
// The registry is immutable configuration data - pure lookup, no I/O.
package limits

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// ParsePlan maps a stored plan string to a Plan, defaulting to free for
// unrecognized values.
// This is a PURE function.
func ParsePlan(s string) Plan {
	switch s {
	case string(PlanPremium):
		return PlanPremium
	default:
		return PlanFree
	}
}

// Limits holds the caps for one plan (immutable value type).
// Daily and monthly token caps are independent constants; monthly is
// deliberately not derived from daily.
type Limits struct {
	ChatTokensDaily      int64
	ChatTokensMonthly    int64
	MaxTokensPerRequest  int64
	MaxRequestsPerMinute int
	VoiceRequestsDaily   int64
	ChatRequestsDaily    int64
}

// Registry maps plans to limits (immutable after construction).
type Registry struct {
	free    Limits
	premium Limits
}

// NewRegistry builds a registry from per-plan limits.
func NewRegistry(free, premium Limits) Registry {
	return Registry{free: free, premium: premium}
}

// ForPlan returns the limits for a plan. Unknown plan strings resolve
// to the free tier.
// This is a PURE function.
func (r Registry) ForPlan(p Plan) Limits {
	if p == PlanPremium {
		return r.premium
	}
	return r.free
}

// ForPlanString resolves a raw plan string and returns its limits.
func (r Registry) ForPlanString(s string) Limits {
	return r.ForPlan(ParsePlan(s))
}

// DefaultFree are the fallback free-tier limits used when config
// provides none.
func DefaultFree() Limits {
	return Limits{
		ChatTokensDaily:      50_000,
		ChatTokensMonthly:    1_000_000,
		MaxTokensPerRequest:  4_096,
		MaxRequestsPerMinute: 5,
		VoiceRequestsDaily:   10,
		ChatRequestsDaily:    50,
	}
}

// DefaultPremium are the fallback premium-tier limits.
func DefaultPremium() Limits {
	return Limits{
		ChatTokensDaily:      1_000_000,
		ChatTokensMonthly:    20_000_000,
		MaxTokensPerRequest:  16_384,
		MaxRequestsPerMinute: 60,
		VoiceRequestsDaily:   200,
		ChatRequestsDaily:    1_000,
	}
}
