package quota

import (
	"testing"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

func TestAllowed_FreeTierBoundary(t *testing.T) {
	if Allowed(domain.TierFree, 5) {
		t.Fatalf("free tier at 5 requests must be denied")
	}
	if !Allowed(domain.TierFree, 4) {
		t.Fatalf("free tier at 4 requests must be allowed")
	}
}

func TestDailyLimit_Table(t *testing.T) {
	cases := map[domain.Tier]int{
		domain.TierFree:       5,
		domain.TierPro:        50,
		domain.TierTeam:       200,
		domain.TierEnterprise: 500,
	}
	for tier, want := range cases {
		if got := DailyLimit(tier); got != want {
			t.Errorf("DailyLimit(%s) = %d, want %d", tier, got, want)
		}
	}
}

func TestDailyLimit_UnknownTierFallsBackToFree(t *testing.T) {
	if got := DailyLimit(domain.Tier("basic")); got != 5 {
		t.Fatalf("unknown tier limit = %d, want 5", got)
	}
}
