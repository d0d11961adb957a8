package campaign_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	testhelpers "github.com/delfos-capital/delfos/internal/testing"
)

func governanceParams(mutate func(*campaign.StartParams)) campaign.StartParams {
	now := time.Now()
	p := campaign.StartParams{
		PortfolioID:    "pf-1",
		UserID:         "user-1",
		Name:           "Test",
		InitialCapital: 10000,
		MaxDrawdownPct: 0.10,
		RiskMultiplier: 1.0,
		StartDate:      now,
		EndDate:        now.AddDate(0, 0, 90),
	}
	if mutate != nil {
		mutate(&p)
	}
	return p
}

func TestGovernanceResolve(t *testing.T) {
	gov := campaign.NewGovernance(campaign.DefaultStandardLimits(), zerolog.Nop())
	standard := testhelpers.NewStandardProfileFixture("user-1")
	elevated := testhelpers.NewProfileFixture("user-2")

	t.Run("standard profile within limits", func(t *testing.T) {
		decision, err := gov.Resolve(&standard, governanceParams(nil))
		require.NoError(t, err)
		assert.False(t, decision.RequiresElevated)
		assert.Equal(t, domain.TierStandard, decision.Tier)
	})

	t.Run("nil profile is rejected", func(t *testing.T) {
		_, err := gov.Resolve(nil, governanceParams(nil))
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	exceeding := []struct {
		name   string
		limit  string
		mutate func(*campaign.StartParams)
	}{
		{"capital above standard cap", "initial_capital",
			func(p *campaign.StartParams) { p.InitialCapital = 30000 }},
		{"drawdown deeper than standard cap", "max_drawdown_pct",
			func(p *campaign.StartParams) { p.MaxDrawdownPct = 0.20 }},
		{"duration beyond standard cap", "duration",
			func(p *campaign.StartParams) { p.EndDate = p.StartDate.AddDate(0, 0, 200) }},
		{"risk multiplier above standard cap", "risk_multiplier",
			func(p *campaign.StartParams) { p.RiskMultiplier = 1.5 }},
	}

	for _, tt := range exceeding {
		t.Run("standard rejects "+tt.name, func(t *testing.T) {
			_, err := gov.Resolve(&standard, governanceParams(tt.mutate))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrGovernance))
			assert.Contains(t, err.Error(), tt.limit)
		})

		t.Run("elevated approves "+tt.name, func(t *testing.T) {
			decision, err := gov.Resolve(&elevated, governanceParams(tt.mutate))
			require.NoError(t, err)
			assert.True(t, decision.RequiresElevated)
			assert.Contains(t, decision.ExceededLimits, tt.limit)
		})
	}

	t.Run("elevated approval requirements", func(t *testing.T) {
		beyond := func(p *campaign.StartParams) { p.InitialCapital = 30000 }

		tests := []struct {
			name   string
			mutate func(*domain.InvestorProfile)
		}{
			{"plan level too low", func(p *domain.InvestorProfile) { p.PlanLevel = 1 }},
			{"tenure too short", func(p *domain.InvestorProfile) { p.TenureDays = 90 }},
			{"governance score too low", func(p *domain.InvestorProfile) { p.GovernanceScore = 0.5 }},
			{"outstanding antifraud flags", func(p *domain.InvestorProfile) { p.AntifraudFlags = 1 }},
			{"terms not accepted", func(p *domain.InvestorProfile) { p.TermsAccepted = false }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				profile := testhelpers.NewProfileFixture("user-3")
				tt.mutate(&profile)

				_, err := gov.Resolve(&profile, governanceParams(beyond))
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrGovernance))
			})
		}
	})
}
