package usecase

import (
	"time"

	"log/slog"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// BudgetLimits is the static spend policy the budget service applies.
type BudgetLimits struct {
	// MonthlyCents returns the tier's allowance; 0 means unlimited.
	MonthlyCents func(domain.Tier) int
	// FreeCreditCents is the per-provider promotional pool size.
	FreeCreditCents int
}

// Budgeter aggregates the usage ledger into a BudgetState for the selector.
type Budgeter struct {
	usage   domain.UsageStore
	catalog map[domain.ModelID]domain.ModelDescriptor
	limits  BudgetLimits
	now     func() time.Time
}

// NewBudgeter builds a Budgeter over the usage store.
func NewBudgeter(usage domain.UsageStore, catalog map[domain.ModelID]domain.ModelDescriptor, limits BudgetLimits) *Budgeter {
	return &Budgeter{usage: usage, catalog: catalog, limits: limits, now: time.Now}
}

// StateFor computes the user's remaining monthly allowance and per-provider
// free-credit balances for the current UTC calendar month. Ledger read
// failures degrade to an unconstrained state: budget checks are a cost
// control, never a reason to fail a request.
func (b *Budgeter) StateFor(ctx domain.Context, userID string, tier domain.Tier) BudgetState {
	limit := b.limits.MonthlyCents(tier)
	state := BudgetState{
		Unlimited:                limit == 0,
		FreeCreditRemainingCents: make(map[string]int),
	}

	since := monthStartUTC(b.now())
	if !state.Unlimited {
		spent, err := b.usage.SumCostCents(ctx, userID, since)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("budget aggregate failed, treating as unconstrained",
				slog.String("user_id", userID), slog.Any("error", err))
			state.Unlimited = true
			return state
		}
		state.MonthlyRemainingCents = limit - spent
	}

	for _, d := range b.catalog {
		if d.InputPerMTok == 0 && d.OutputPerMTok == 0 {
			continue
		}
		if _, done := state.FreeCreditRemainingCents[d.Provider]; done {
			continue
		}
		spent := 0
		for _, m := range b.catalog {
			if m.Provider != d.Provider {
				continue
			}
			s, err := b.usage.SumCostCentsForModel(ctx, userID, string(m.ID), since)
			if err != nil {
				observability.LoggerFromContext(ctx).Warn("credit aggregate failed, skipping provider",
					slog.String("provider", d.Provider), slog.Any("error", err))
				spent = -1
				break
			}
			spent += s
		}
		if spent < 0 {
			continue
		}
		state.FreeCreditRemainingCents[d.Provider] = b.limits.FreeCreditCents - spent
	}
	return state
}

func monthStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
