package reconciliation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-capital/delfos/internal/clients/exchange"
	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/audit"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
	"github.com/delfos-capital/delfos/internal/modules/reconciliation"
	testhelpers "github.com/delfos-capital/delfos/internal/testing"
)

type reconEnv struct {
	engine     *reconciliation.Engine
	repo       *reconciliation.Repository
	campaigns  *campaign.Repository
	portfolios *portfolio.Repository
	ledger     *audit.Service
	api        *testhelpers.MockExchange
	campaignID string
}

func newReconEnv(t *testing.T) *reconEnv {
	t.Helper()
	campDB, _ := testhelpers.NewTestDB(t, "campaigns")
	ledgerDB, _ := testhelpers.NewTestDB(t, "auditledger")

	signer, err := audit.NewSigner("", "test-signer")
	require.NoError(t, err)
	ledger := audit.NewService(audit.NewRepository(ledgerDB.Conn(), zerolog.Nop()), signer, zerolog.Nop())

	campaigns := campaign.NewRepository(campDB.Conn(), zerolog.Nop())
	portfolios := portfolio.NewRepository(campDB.Conn(), zerolog.Nop())
	repo := reconciliation.NewRepository(campDB.Conn(), zerolog.Nop())
	api := &testhelpers.MockExchange{}

	pf := testhelpers.NewPortfolioFixture(20000)
	require.NoError(t, portfolios.CreatePortfolio(pf))
	c := testhelpers.NewCampaignFixture(pf.ID, 10000)
	require.NoError(t, campaigns.Create(c))

	return &reconEnv{
		engine:     reconciliation.NewEngine(repo, campaigns, portfolios, ledger, api, zerolog.Nop()),
		repo:       repo,
		campaigns:  campaigns,
		portfolios: portfolios,
		ledger:     ledger,
		api:        api,
		campaignID: c.ID,
	}
}

func (e *reconEnv) seedOrder(t *testing.T, symbol, exchangeOrderID string) int64 {
	t.Helper()
	id, err := e.portfolios.CreateOrder(domain.Order{
		CampaignID:      e.campaignID,
		Symbol:          symbol,
		Side:            "BUY",
		Quantity:        10,
		Price:           100,
		ExchangeOrderID: exchangeOrderID,
	})
	require.NoError(t, err)
	return id
}

var reconActor = domain.Actor{Type: "scheduler", ID: "reconciliation_sweep"}

func TestReconcileCampaign_CleanRun(t *testing.T) {
	env := newReconEnv(t)
	env.seedOrder(t, "AAPL", "EX-1")
	env.api.Orders = []exchange.OpenOrder{{OrderID: "EX-1", Symbol: "AAPL.US", Side: "BUY", Quantity: 10, Price: 100}}

	rec, err := env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunScheduled, reconActor)
	require.NoError(t, err)

	assert.Equal(t, reconciliation.StatusOK, rec.Status)
	assert.Empty(t, rec.Discrepancies)
	assert.NotEmpty(t, rec.ContentHash)
	assert.NotEmpty(t, rec.InternalSnapshot)
	assert.NotEmpty(t, rec.ExternalSnapshot)

	c, err := env.campaigns.Get(env.campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconOK, c.ReconStatus)

	entries, err := env.ledger.History(env.campaignID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reconciliation_completed", entries[0].EventType)
	assert.Equal(t, domain.SeverityInfo, entries[0].Severity)
}

func TestReconcileCampaign_OrderWithoutExchangeReference(t *testing.T) {
	env := newReconEnv(t)
	env.seedOrder(t, "AAPL", "")

	rec, err := env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunOnDemand, reconActor)
	require.NoError(t, err)

	assert.Equal(t, reconciliation.StatusMismatch, rec.Status)
	require.Len(t, rec.Discrepancies, 1)
	d := rec.Discrepancies[0]
	assert.Equal(t, domain.DiscrepancyOrderMismatch, d.Type)
	assert.Equal(t, domain.DiscrepancyMedium, d.Severity)
	assert.Equal(t, "AAPL", d.Symbol)

	c, err := env.campaigns.Get(env.campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconMismatch, c.ReconStatus)

	// Discrepancy runs are recorded at warning severity
	entries, err := env.ledger.History(env.campaignID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SeverityWarning, entries[0].Severity)
}

func TestReconcileCampaign_OrphanInternalOrder(t *testing.T) {
	env := newReconEnv(t)
	env.seedOrder(t, "AAPL", "EX-GONE")
	// The exchange no longer reports EX-GONE

	rec, err := env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunScheduled, reconActor)
	require.NoError(t, err)

	require.Len(t, rec.Discrepancies, 1)
	d := rec.Discrepancies[0]
	assert.Equal(t, domain.DiscrepancyOrphanDelfos, d.Type)
	assert.Equal(t, domain.DiscrepancyHigh, d.Severity)
	assert.Equal(t, "EX-GONE", d.ExternalID)
}

func TestReconcileCampaign_OrphanExchangeOrder(t *testing.T) {
	env := newReconEnv(t)
	env.api.Orders = []exchange.OpenOrder{{OrderID: "EX-9", Symbol: "TSLA.US", Side: "SELL", Quantity: 5, Price: 200}}

	rec, err := env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunScheduled, reconActor)
	require.NoError(t, err)

	require.Len(t, rec.Discrepancies, 1)
	d := rec.Discrepancies[0]
	assert.Equal(t, domain.DiscrepancyOrphanExchange, d.Type)
	assert.Equal(t, domain.DiscrepancyMedium, d.Severity)
	assert.Equal(t, "EX-9", d.ExternalID)
	// Symbols are normalized before comparison
	assert.Equal(t, "TSLA", d.Symbol)
}

func TestReconcileCampaign_ExchangeFailure(t *testing.T) {
	env := newReconEnv(t)
	env.seedOrder(t, "AAPL", "EX-1")
	env.api.Orders = []exchange.OpenOrder{{OrderID: "EX-1", Symbol: "AAPL.US"}}

	// Establish a known-good status first
	_, err := env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunScheduled, reconActor)
	require.NoError(t, err)

	env.api.OrdersErr = errors.New("gateway timeout")

	_, err = env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunScheduled, reconActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrReconciliationFailure))

	// The failed run is persisted
	runs, err := env.engine.History(env.campaignID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, reconciliation.StatusFailed, runs[0].Status)

	// A failed fetch proves nothing about drift, the previous status stands
	c, err := env.campaigns.Get(env.campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconOK, c.ReconStatus)
}

func TestResolve(t *testing.T) {
	env := newReconEnv(t)
	env.seedOrder(t, "AAPL", "")

	rec, err := env.engine.ReconcileCampaign(context.Background(), env.campaignID, reconciliation.RunOnDemand, reconActor)
	require.NoError(t, err)

	actor := domain.Actor{Type: "api", ID: "operator-1"}
	require.NoError(t, env.engine.Resolve(rec.ID, "operator-1", "manual trade confirmed", actor))

	got, err := env.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "operator-1", got.ResolvedBy)

	// Resolving twice is rejected
	err = env.engine.Resolve(rec.ID, "operator-1", "again", actor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	// The resolution itself lands on the audit ledger
	entries, err := env.ledger.History(env.campaignID)
	require.NoError(t, err)
	var sawResolved bool
	for _, e := range entries {
		if e.EventType == "reconciliation_resolved" {
			sawResolved = true
			assert.Equal(t, domain.SeverityAudit, e.Severity)
			assert.NotEmpty(t, e.Signature)
		}
	}
	assert.True(t, sawResolved)
}

func TestResolve_UnknownRecord(t *testing.T) {
	env := newReconEnv(t)

	err := env.engine.Resolve("missing", "operator-1", "note", domain.Actor{Type: "api", ID: "op"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
