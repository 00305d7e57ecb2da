package model

import "fmt"

// Tier is a named service level.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits holds the quota and scope grant for a tier.
type TierLimits struct {
	RatePerMinute int   `json:"rate_per_minute"`
	DailyLimit    int64 `json:"daily_limit"`
	Scopes        Scope `json:"scopes"`
}

var tierTable = map[Tier]TierLimits{
	TierFree:       {RatePerMinute: 10, DailyLimit: 1_000, Scopes: ScopeRead},
	TierStarter:    {RatePerMinute: 60, DailyLimit: 10_000, Scopes: ScopeRead | ScopeWrite | ScopeWebhook},
	TierPro:        {RatePerMinute: 300, DailyLimit: 100_000, Scopes: ScopeRead | ScopeWrite | ScopeWebhook | ScopeWidget},
	TierEnterprise: {RatePerMinute: 1_000, DailyLimit: 1_000_000, Scopes: ScopeRead | ScopeWrite | ScopeWebhook | ScopeWidget | ScopeWhitelabel},
}

// Tiers lists tiers from lowest to highest.
var Tiers = []Tier{TierFree, TierStarter, TierPro, TierEnterprise}

// ParseTier validates a tier name. The empty string maps to free.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return TierFree, nil
	}
	t := Tier(s)
	if _, ok := tierTable[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Limits returns the tier's limits. Unknown tiers get the free limits.
func (t Tier) Limits() TierLimits {
	if l, ok := tierTable[t]; ok {
		return l
	}
	return tierTable[TierFree]
}

// Next returns the tier above t, or "" when t is already the highest.
func (t Tier) Next() Tier {
	for i, tt := range Tiers {
		if tt == t && i+1 < len(Tiers) {
			return Tiers[i+1]
		}
	}
	return ""
}

// UpgradeFor returns the lowest tier above t whose scopes satisfy any of
// required, or "" when no tier does.
func (t Tier) UpgradeFor(required ...Scope) Tier {
	for next := t.Next(); next != ""; next = next.Next() {
		if next.Limits().Scopes.Allows(required...) {
			return next
		}
	}
	return ""
}
