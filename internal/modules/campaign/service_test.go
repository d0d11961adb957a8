package campaign_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-capital/delfos/internal/database"
	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/audit"
	"github.com/delfos-capital/delfos/internal/modules/breakers"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
	testhelpers "github.com/delfos-capital/delfos/internal/testing"
)

type testEnv struct {
	svc        *campaign.Service
	repo       *campaign.Repository
	portfolios *portfolio.Repository
	ledger     *audit.Service
	registry   *breakers.Registry
	liquidator *testhelpers.MockLiquidator
	rebalancer *testhelpers.MockRebalancer
	campDB     *database.DB
	ledgerDB   *database.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	campDB, _ := testhelpers.NewTestDB(t, "campaigns")
	ledgerDB, _ := testhelpers.NewTestDB(t, "auditledger")

	signer, err := audit.NewSigner("", "test-signer")
	require.NoError(t, err)
	ledger := audit.NewService(audit.NewRepository(ledgerDB.Conn(), zerolog.Nop()), signer, zerolog.Nop())

	repo := campaign.NewRepository(campDB.Conn(), zerolog.Nop())
	portfolios := portfolio.NewRepository(campDB.Conn(), zerolog.Nop())
	registry := breakers.NewRegistry(
		breakers.NewRepository(campDB.Conn(), zerolog.Nop()), breakers.DefaultThresholds(), zerolog.Nop())

	liquidator := &testhelpers.MockLiquidator{}
	rebalancer := &testhelpers.MockRebalancer{}

	svc := campaign.NewService(repo, portfolios, ledger, registry,
		campaign.NewGovernance(campaign.DefaultStandardLimits(), zerolog.Nop()),
		liquidator, rebalancer, zerolog.Nop())

	return &testEnv{
		svc:        svc,
		repo:       repo,
		portfolios: portfolios,
		ledger:     ledger,
		registry:   registry,
		liquidator: liquidator,
		rebalancer: rebalancer,
		campDB:     campDB,
		ledgerDB:   ledgerDB,
	}
}

func (e *testEnv) seedPortfolio(t *testing.T, availableCash float64) domain.Portfolio {
	t.Helper()
	pf := testhelpers.NewPortfolioFixture(availableCash)
	require.NoError(t, e.portfolios.CreatePortfolio(pf))
	return pf
}

func (e *testEnv) seedProfile(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, e.portfolios.UpsertProfile(testhelpers.NewProfileFixture(userID)))
}

func startParams(portfolioID, userID string, capital float64) campaign.StartParams {
	now := time.Now()
	return campaign.StartParams{
		PortfolioID:    portfolioID,
		UserID:         userID,
		Name:           "Q3 Growth",
		InitialCapital: capital,
		MaxDrawdownPct: 0.10,
		RiskMultiplier: 1.0,
		StartDate:      now,
		EndDate:        now.AddDate(0, 0, 90),
	}
}

var testActor = domain.Actor{Type: "api", ID: "operator-1"}

func TestStart(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	assert.Equal(t, domain.CampaignActive, c.Status)
	assert.True(t, c.IsLocked)
	assert.NotEmpty(t, c.LockHash)
	assert.Equal(t, c.CreationHash, c.LockHash)
	assert.InDelta(t, 10000, c.CurrentEquity, 0.001)

	// Capital is reserved out of the portfolio atomically
	got, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10000, got.AvailableCash, 0.001)

	// Risk state starts at initial capital
	rs, err := env.repo.GetRiskState(c.ID)
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.InDelta(t, 10000, rs.Equity, 0.001)
	assert.InDelta(t, 10000, rs.EquityHighWater, 0.001)

	// Started, capital reserved, locked
	entries, err := env.ledger.History(c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "campaign_started", entries[0].EventType)
	assert.Equal(t, "capital_reserved", entries[1].EventType)
	assert.Equal(t, "campaign_locked", entries[2].EventType)

	result, err := env.ledger.VerifyChain(c.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	// The stored lock hash must pass integrity verification
	assert.NoError(t, env.svc.VerifyIntegrity(c.ID))
}

func TestStart_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	tests := []struct {
		name   string
		mutate func(*campaign.StartParams)
	}{
		{"missing portfolio", func(p *campaign.StartParams) { p.PortfolioID = "" }},
		{"missing user", func(p *campaign.StartParams) { p.UserID = "" }},
		{"missing name", func(p *campaign.StartParams) { p.Name = "" }},
		{"zero capital", func(p *campaign.StartParams) { p.InitialCapital = 0 }},
		{"negative capital", func(p *campaign.StartParams) { p.InitialCapital = -100 }},
		{"drawdown zero", func(p *campaign.StartParams) { p.MaxDrawdownPct = 0 }},
		{"drawdown one", func(p *campaign.StartParams) { p.MaxDrawdownPct = 1 }},
		{"end before start", func(p *campaign.StartParams) { p.EndDate = p.StartDate.Add(-time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := startParams(pf.ID, "user-1", 10000)
			tt.mutate(&params)

			_, err := env.svc.Start(params, testActor)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
		})
	}

	// No reservation leaked out of the rejected attempts
	got, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20000, got.AvailableCash, 0.001)
}

func TestStart_InsufficientCapital(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 5000)
	env.seedProfile(t, "user-1")

	_, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientCapital))

	active, err := env.svc.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, got.AvailableCash)
}

func TestStart_GovernanceRejection(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 50000)
	require.NoError(t, env.portfolios.UpsertProfile(testhelpers.NewStandardProfileFixture("user-std")))

	// Standard tier may not exceed the standard capital limit
	_, err := env.svc.Start(startParams(pf.ID, "user-std", 30000), testActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGovernance))

	got, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50000, got.AvailableCash, 0.001)
}

// Two concurrent starts that each want the full balance must resolve to
// exactly one created campaign.
func TestStart_ConcurrentDoubleStart(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 5000)
	env.seedProfile(t, "user-1")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = env.svc.Start(startParams(pf.ID, "user-1", 5000), testActor)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, domain.ErrInsufficientCapital))
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, got.AvailableCash, 0.001)

	active, err := env.svc.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// A drawdown breach runs the full terminal sequence: critical ledger entry,
// liquidation, final-equity credit and a stopped campaign.
func TestDrawdownBreach_StopsAndSettles(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	env.liquidator.Result = &campaign.LiquidationResult{
		ClosedCount: 2,
		TotalPnL:    -1100,
		Positions: []domain.Position{
			testhelpers.NewPositionFixture(c.ID, "AAPL", 10, 100, 95),
			testhelpers.NewPositionFixture(c.ID, "TSLA", 5, 200, 180),
		},
	}

	// An 11% realized loss crosses the 10% drawdown limit; the compounding
	// path re-checks the breaker and stops the campaign
	require.NoError(t, env.svc.ApplyCompounding(context.Background(), c.ID, -1100, testActor))

	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStopped, got.Status)
	assert.Equal(t, "drawdown_limit", got.StopReason)
	assert.Equal(t, 1, env.liquidator.Calls())

	// Final equity 8900 flows back to the portfolio: 10000 remaining + 8900
	gotPf, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 18900, gotPf.AvailableCash, 0.001)

	entries, err := env.ledger.History(c.ID)
	require.NoError(t, err)
	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.EventType
	}
	assert.Equal(t, []string{
		"campaign_started",
		"capital_reserved",
		"campaign_locked",
		"compounding_applied",
		"drawdown_breach",
		"positions_closed",
		"campaign_stopped",
	}, types)

	result, err := env.ledger.VerifyChain(c.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(7), result.EntryCount)
}

func TestDrawdownBreaker_ExactLimitIsABreach(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	// Exactly -10% on a 10% limit
	require.NoError(t, env.svc.ApplyCompounding(context.Background(), c.ID, -1000, testActor))

	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStopped, got.Status)
}

func TestDrawdownBreaker_BelowLimitKeepsRunning(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	require.NoError(t, env.svc.ApplyCompounding(context.Background(), c.ID, -999, testActor))

	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, got.Status)
	assert.Zero(t, env.liquidator.Calls())
}

// Liquidation that leaves persisted open positions must abort the terminal
// sequence without touching status or cash.
func TestStop_LiquidationIncomplete(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	_, err = env.portfolios.CreatePosition(testhelpers.NewPositionFixture(c.ID, "AAPL", 10, 100, 110))
	require.NoError(t, err)

	// The collaborator reports success but the position is still open
	err = env.svc.Stop(context.Background(), c.ID, "manual", testActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLiquidationIncomplete))
	assert.Contains(t, err.Error(), "AAPL")

	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, got.Status)

	gotPf, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10000, gotPf.AvailableCash, 0.001)
}

func TestStop_Idempotence(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	require.NoError(t, env.svc.Stop(context.Background(), c.ID, "manual", testActor))

	// Stopping again is an invalid transition, not a double credit
	err = env.svc.Stop(context.Background(), c.ID, "manual", testActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	gotPf, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20000, gotPf.AvailableCash, 0.001)
}

// Two racing terminations must credit final equity exactly once. The barrier
// holds both callers inside liquidation so both pass the initial status read;
// the conditional terminal update decides the winner before any credit.
func TestStop_ConcurrentDoubleStop(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	env.liquidator.Hook = func() {
		barrier.Done()
		barrier.Wait()
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = env.svc.Stop(context.Background(), c.ID, "manual", testActor)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStopped, got.Status)

	gotPf, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20000, gotPf.AvailableCash, 0.001)
}

// A start that fails after the campaign row insert must leave no row behind:
// an orphaned active campaign would later be settled by the lifecycle monitor
// and credit capital the rollback already restored.
func TestStart_FailureLeavesNoCampaignBehind(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	// Closing the ledger database makes the first audit append fail, after
	// the campaign row and risk state were written
	require.NoError(t, env.ledgerDB.Close())

	_, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.Error(t, err)

	gotPf, err := env.portfolios.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20000, gotPf.AvailableCash, 0.001)

	active, err := env.svc.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	require.NoError(t, env.svc.Pause(c.ID, "maintenance", testActor))
	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, got.Status)

	err = env.svc.Pause(c.ID, "again", testActor)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	require.NoError(t, env.svc.Resume(c.ID, "user-1", testActor))
	got, err = env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, got.Status)

	err = env.svc.Resume(c.ID, "user-1", testActor)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestCheckExpiration(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	t.Run("running campaign is left alone", func(t *testing.T) {
		c, err := env.svc.Start(startParams(pf.ID, "user-1", 5000), testActor)
		require.NoError(t, err)

		require.NoError(t, env.svc.CheckExpiration(context.Background(), c.ID, testActor))
		got, err := env.svc.Get(c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignActive, got.Status)
	})

	t.Run("past end date completes the campaign", func(t *testing.T) {
		params := startParams(pf.ID, "user-1", 5000)
		params.StartDate = time.Now().Add(-48 * time.Hour)
		params.EndDate = time.Now().Add(-time.Hour)

		c, err := env.svc.Start(params, testActor)
		require.NoError(t, err)

		require.NoError(t, env.svc.CheckExpiration(context.Background(), c.ID, testActor))
		got, err := env.svc.Get(c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignCompleted, got.Status)
		assert.Equal(t, "expired", got.StopReason)
	})
}

func TestApplyCompounding(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	require.NoError(t, env.svc.ApplyCompounding(context.Background(), c.ID, 500, testActor))

	rs, err := env.repo.GetRiskState(c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10500, rs.Equity, 0.001)
	assert.InDelta(t, 10500, rs.EquityHighWater, 0.001)

	// A partial giveback moves equity but not the high watermark
	require.NoError(t, env.svc.ApplyCompounding(context.Background(), c.ID, -200, testActor))

	rs, err = env.repo.GetRiskState(c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10300, rs.Equity, 0.001)
	assert.InDelta(t, 10500, rs.EquityHighWater, 0.001)

	// The campaign row mirrors the risk-state equity
	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10300, got.CurrentEquity, 0.001)
}

func TestRebalance(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 50000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	env.rebalancer.Plan = &campaign.RebalancePlan{
		PortfolioID: pf.ID,
		Trades: []campaign.PlannedTrade{
			{Symbol: "AAPL", Side: "buy", Quantity: 10, Price: 100, Cluster: 1},
			{Symbol: "TSLA", Side: "sell", Quantity: 5, Price: 200, Cluster: 2},
		},
		Exposures: map[int]float64{1: 0.20, 2: 0.15},
	}
	env.rebalancer.Result = &campaign.RebalanceResult{TradeCount: 2, TotalCost: 10, NetPnL: 250}

	require.NoError(t, env.svc.Rebalance(context.Background(), c.ID, testActor))
	assert.Equal(t, 1, env.rebalancer.ExecuteCalls)

	// Net PnL less cost compounds into equity
	got, err := env.svc.Get(c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10240, got.CurrentEquity, 0.001)

	entries, err := env.ledger.History(c.ID)
	require.NoError(t, err)
	var sawRebalance bool
	for _, e := range entries {
		if e.EventType == "rebalance_executed" {
			sawRebalance = true
		}
	}
	assert.True(t, sawRebalance)
}

func TestRebalance_BlockedByTriggeredBreaker(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 50000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.registry.RecordAssetLoss(pf.ID, "AAPL", 50))
	}

	env.rebalancer.Plan = &campaign.RebalancePlan{
		PortfolioID: pf.ID,
		Trades:      []campaign.PlannedTrade{{Symbol: "AAPL", Side: "buy", Quantity: 10, Price: 100, Cluster: 1}},
		Exposures:   map[int]float64{1: 0.10},
	}

	err = env.svc.Rebalance(context.Background(), c.ID, testActor)
	require.Error(t, err)

	var blocked *domain.BreakerBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "AAPL", blocked.ScopeKey)
	assert.Zero(t, env.rebalancer.ExecuteCalls, "a blocked plan must never execute")
}

func TestRebalance_ClusterExposureCap(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 50000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	env.rebalancer.Plan = &campaign.RebalancePlan{
		PortfolioID: pf.ID,
		Trades:      []campaign.PlannedTrade{{Symbol: "AAPL", Side: "buy", Quantity: 10, Price: 100, Cluster: 1}},
		Exposures:   map[int]float64{1: 0.30},
	}

	err = env.svc.Rebalance(context.Background(), c.ID, testActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Zero(t, env.rebalancer.ExecuteCalls)
}

func TestRebalance_SkipsDrawdownBreachedCampaign(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	// Push equity through the limit directly, bypassing the breaker check
	require.NoError(t, env.repo.UpdateEquity(c.ID, 8900))

	err = env.svc.Rebalance(context.Background(), c.ID, testActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Zero(t, env.rebalancer.ExecuteCalls)
}

func TestVerifyIntegrity_DetectsTamperedRow(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)

	// Mutate a locked parameter behind the service's back
	_, err = env.campDB.Exec(`UPDATE campaigns SET initial_capital = 99999 WHERE id = ?`, c.ID)
	require.NoError(t, err)

	err = env.svc.VerifyIntegrity(c.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIntegrityViolation))
}

func TestGetMetrics(t *testing.T) {
	env := newTestEnv(t)
	pf := env.seedPortfolio(t, 20000)
	env.seedProfile(t, "user-1")

	c, err := env.svc.Start(startParams(pf.ID, "user-1", 10000), testActor)
	require.NoError(t, err)
	require.NoError(t, env.svc.ApplyCompounding(context.Background(), c.ID, 500, testActor))

	m, err := env.svc.GetMetrics(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, m.Campaign.ID)
	require.NotNil(t, m.RiskState)
	assert.InDelta(t, 10500, m.RiskState.Equity, 0.001)
	assert.InDelta(t, 0.05, m.PnLPct, 0.0001)
	assert.InDelta(t, 500, m.RealizedPnL, 0.001)
	assert.NotEmpty(t, m.Breakers, "the global breaker layer exists from day one")
}
