package testing

import (
	"time"

	"github.com/google/uuid"

	"github.com/delfos-capital/delfos/internal/domain"
)

// NewPortfolioFixture returns a funded portfolio for tests
func NewPortfolioFixture(availableCash float64) domain.Portfolio {
	return domain.Portfolio{
		ID:            uuid.New().String(),
		Name:          "Test Portfolio",
		Currency:      domain.CurrencyEUR,
		TotalCash:     availableCash,
		AvailableCash: availableCash,
		RiskConfig:    `{"var_limit":0.08}`,
		UpdatedAt:     time.Now(),
	}
}

// NewProfileFixture returns an investor profile that passes every
// governance check, including elevated-tier requirements
func NewProfileFixture(userID string) domain.InvestorProfile {
	return domain.InvestorProfile{
		UserID:          userID,
		Tier:            domain.TierElevated,
		PlanLevel:       3,
		TenureDays:      400,
		GovernanceScore: 0.9,
		AntifraudFlags:  0,
		TermsAccepted:   true,
	}
}

// NewStandardProfileFixture returns a profile limited to standard-tier
// parameters
func NewStandardProfileFixture(userID string) domain.InvestorProfile {
	return domain.InvestorProfile{
		UserID:          userID,
		Tier:            domain.TierStandard,
		PlanLevel:       1,
		TenureDays:      30,
		GovernanceScore: 0.5,
		TermsAccepted:   true,
	}
}

// NewCampaignFixture returns an active campaign bound to the portfolio
func NewCampaignFixture(portfolioID string, initialCapital float64) domain.Campaign {
	now := time.Now()
	return domain.Campaign{
		ID:             uuid.New().String(),
		PortfolioID:    portfolioID,
		Name:           "Test Campaign",
		ProfileTier:    domain.TierStandard,
		StartDate:      now,
		EndDate:        now.AddDate(0, 0, 90),
		InitialCapital: initialCapital,
		CurrentEquity:  initialCapital,
		MaxDrawdownPct: 0.10,
		RiskMultiplier: 1.0,
		RiskConfigJSON: "{}",
		Status:         domain.CampaignActive,
		ReconStatus:    domain.ReconUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewPositionFixture returns an open position for the campaign
func NewPositionFixture(campaignID, symbol string, quantity, cost, price float64) domain.Position {
	return domain.Position{
		CampaignID:   campaignID,
		Symbol:       symbol,
		Quantity:     quantity,
		AverageCost:  cost,
		CurrentPrice: price,
		Status:       "open",
		OpenedAt:     time.Now(),
	}
}
