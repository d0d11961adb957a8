package testing

import (
	"context"
	"sync"

	"github.com/delfos-capital/delfos/internal/clients/exchange"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
)

// MockLiquidator is a scriptable liquidation collaborator. Hook, when set,
// runs inside each call so tests can rendezvous concurrent callers.
type MockLiquidator struct {
	Result *campaign.LiquidationResult
	Err    error
	Hook   func()

	mu    sync.Mutex
	calls int
}

// CloseAllOpenPositions returns the scripted result
func (m *MockLiquidator) CloseAllOpenPositions(ctx context.Context, campaignID, reason string) (*campaign.LiquidationResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Hook != nil {
		m.Hook()
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &campaign.LiquidationResult{}, nil
}

// Calls reports how many times the liquidator was invoked
func (m *MockLiquidator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRebalancer is a scriptable rebalance collaborator
type MockRebalancer struct {
	Plan         *campaign.RebalancePlan
	PlanErr      error
	Result       *campaign.RebalanceResult
	ExecuteErr   error
	ExecuteCalls int
}

// CalculateRebalance returns the scripted plan
func (m *MockRebalancer) CalculateRebalance(ctx context.Context, portfolioID string) (*campaign.RebalancePlan, error) {
	if m.PlanErr != nil {
		return nil, m.PlanErr
	}
	if m.Plan != nil {
		return m.Plan, nil
	}
	return &campaign.RebalancePlan{PortfolioID: portfolioID, Exposures: map[int]float64{}}, nil
}

// ExecuteRebalance returns the scripted result
func (m *MockRebalancer) ExecuteRebalance(ctx context.Context, plan *campaign.RebalancePlan) (*campaign.RebalanceResult, error) {
	m.ExecuteCalls++
	if m.ExecuteErr != nil {
		return nil, m.ExecuteErr
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &campaign.RebalanceResult{}, nil
}

// MockExchange is a scriptable exchange API for reconciliation tests
type MockExchange struct {
	Orders      []exchange.OpenOrder
	OrdersErr   error
	BalanceList []exchange.Balance
	BalancesErr error
}

// OpenOrders returns the scripted open orders
func (m *MockExchange) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	if m.OrdersErr != nil {
		return nil, m.OrdersErr
	}
	return m.Orders, nil
}

// Balances returns the scripted balances
func (m *MockExchange) Balances(ctx context.Context) ([]exchange.Balance, error) {
	if m.BalancesErr != nil {
		return nil, m.BalancesErr
	}
	return m.BalanceList, nil
}
