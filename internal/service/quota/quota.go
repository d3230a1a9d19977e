// Package quota implements tier-based admission control.
package quota

import "github.com/prxatt/kiro-ai-gateway/internal/domain"

// Daily request limits per subscription tier. The counter resets at UTC
// midnight; the reset itself is enforced by the profile store.
var dailyLimits = map[domain.Tier]int{
	domain.TierFree:       5,
	domain.TierPro:        50,
	domain.TierTeam:       200,
	domain.TierEnterprise: 500,
}

// DailyLimit returns the per-day request limit for a tier. Unknown tiers get
// the free limit.
func DailyLimit(t domain.Tier) int {
	if l, ok := dailyLimits[t]; ok {
		return l
	}
	return dailyLimits[domain.TierFree]
}

// Allowed is the pure admission comparison against the tier limit table.
// The authoritative decision is the store-level atomic try-consume; this
// check only rejects early so no provider is contacted for an obviously
// exhausted user.
func Allowed(t domain.Tier, dailyCount int) bool {
	return dailyCount < DailyLimit(t)
}
