package execution

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
)

// Rebalancer produces and executes rebalance plans from the persisted
// position book. Without an external planning service it plans no trades and
// only reports current cluster exposures, which still flow through the
// caller's breaker and cluster-cap validation.
type Rebalancer struct {
	portfolios *portfolio.Repository
	campaigns  campaignLister
	log        zerolog.Logger
}

type campaignLister interface {
	ListByStatus(status domain.CampaignStatus) ([]domain.Campaign, error)
}

// NewRebalancer creates the default rebalancer
func NewRebalancer(portfolios *portfolio.Repository, campaigns campaignLister, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		portfolios: portfolios,
		campaigns:  campaigns,
		log:        log.With().Str("service", "rebalancer").Logger(),
	}
}

// CalculateRebalance builds a plan for the portfolio's campaigns. Exposures
// are the per-cluster share of total market value across open positions.
func (r *Rebalancer) CalculateRebalance(ctx context.Context, portfolioID string) (*campaign.RebalancePlan, error) {
	active, err := r.campaigns.ListByStatus(domain.CampaignActive)
	if err != nil {
		return nil, err
	}

	plan := &campaign.RebalancePlan{
		PortfolioID: portfolioID,
		Exposures:   make(map[int]float64),
	}

	totalValue := 0.0
	clusterValue := make(map[int]float64)
	for i := range active {
		if active[i].PortfolioID != portfolioID {
			continue
		}
		positions, err := r.portfolios.GetOpenPositions(active[i].ID)
		if err != nil {
			return nil, err
		}
		for j := range positions {
			v := positions[j].MarketValue()
			totalValue += v
			clusterValue[positions[j].Cluster] += v
		}
	}

	if totalValue > 0 {
		for cluster, v := range clusterValue {
			plan.Exposures[cluster] = v / totalValue
		}
	}

	return plan, nil
}

// ExecuteRebalance applies the plan. With no trades planned this is a no-op
// that reports zero cost.
func (r *Rebalancer) ExecuteRebalance(ctx context.Context, plan *campaign.RebalancePlan) (*campaign.RebalanceResult, error) {
	if len(plan.Trades) > 0 {
		r.log.Warn().
			Str("portfolio_id", plan.PortfolioID).
			Int("trades", len(plan.Trades)).
			Msg("Trade execution is delegated externally, plan trades ignored")
	}
	return &campaign.RebalanceResult{}, nil
}
