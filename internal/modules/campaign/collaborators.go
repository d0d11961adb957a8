package campaign

import (
	"context"

	"github.com/delfos-capital/delfos/internal/domain"
)

// LiquidationResult reports what the position-closing collaborator did. The
// engine treats it as untrusted and independently re-verifies that zero open
// positions remain before any terminal transition.
type LiquidationResult struct {
	ClosedCount int               `json:"closed_count"`
	TotalPnL    float64           `json:"total_pnl"`
	Positions   []domain.Position `json:"positions"`
}

// Liquidator closes all open positions tagged with a campaign
type Liquidator interface {
	CloseAllOpenPositions(ctx context.Context, campaignID, reason string) (*LiquidationResult, error)
}

// PlannedTrade is one trade in a rebalance plan
type PlannedTrade struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Cluster  int     `json:"cluster"`
}

// RebalancePlan is the output of the external rebalance-planning collaborator.
// The engine never executes a plan without re-validating breakers and cluster
// caps itself.
type RebalancePlan struct {
	PortfolioID string          `json:"portfolio_id"`
	Trades      []PlannedTrade  `json:"trades"`
	Exposures   map[int]float64 `json:"exposures"` // cluster -> fraction of equity
}

// RebalanceResult reports executed trades and their cost
type RebalanceResult struct {
	TradeCount int     `json:"trade_count"`
	TotalCost  float64 `json:"total_cost"`
	NetPnL     float64 `json:"net_pnl"`
}

// Rebalancer plans and executes rebalances
type Rebalancer interface {
	CalculateRebalance(ctx context.Context, portfolioID string) (*RebalancePlan, error)
	ExecuteRebalance(ctx context.Context, plan *RebalancePlan) (*RebalanceResult, error)
}
