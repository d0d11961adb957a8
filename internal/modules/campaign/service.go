package campaign

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/events"
	"github.com/delfos-capital/delfos/internal/modules/audit"
	"github.com/delfos-capital/delfos/internal/modules/breakers"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
)

// maxClusterExposurePct caps any single cluster's share of equity in a
// rebalance plan
const maxClusterExposurePct = 0.25

// StartParams are the requested parameters for a new campaign
type StartParams struct {
	PortfolioID     string    `json:"portfolio_id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	InitialCapital  float64   `json:"initial_capital"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"` // positive fraction
	RiskMultiplier  float64   `json:"risk_multiplier"`
	RiskConfigJSON  string    `json:"risk_config_json,omitempty"` // empty = snapshot portfolio defaults
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	TradableSymbols []string  `json:"tradable_symbols,omitempty"`
}

// Service is the campaign state machine. It owns the Campaign record
// exclusively and orchestrates the capital ledger, breakers, audit ledger and
// the external liquidation/rebalance collaborators.
type Service struct {
	repo       *Repository
	portfolios *portfolio.Repository
	ledger     *audit.Service
	registry   *breakers.Registry
	governance *Governance
	liquidator Liquidator
	rebalancer Rebalancer
	log        zerolog.Logger
}

// NewService creates the campaign state machine with injected dependencies
func NewService(
	repo *Repository,
	portfolios *portfolio.Repository,
	ledger *audit.Service,
	registry *breakers.Registry,
	governance *Governance,
	liquidator Liquidator,
	rebalancer Rebalancer,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		portfolios: portfolios,
		ledger:     ledger,
		registry:   registry,
		governance: governance,
		liquidator: liquidator,
		rebalancer: rebalancer,
		log:        log.With().Str("service", "campaign").Logger(),
	}
}

// Start validates eligibility, atomically reserves capital, creates the
// campaign and immediately locks it. Any failure after the reservation is
// compensated by restoring the exact reserved amount before the original
// error is re-raised.
func (s *Service) Start(params StartParams, actor domain.Actor) (*domain.Campaign, error) {
	if err := validateStartParams(params); err != nil {
		return nil, err
	}

	profile, err := s.portfolios.GetProfile(params.UserID)
	if err != nil {
		return nil, domain.ValidationErr("investor profile for user %s not found", params.UserID)
	}

	// Governance resolves once into a single decision value
	decision, err := s.governance.Resolve(profile, params)
	if err != nil {
		return nil, err
	}

	pf, err := s.portfolios.GetPortfolio(params.PortfolioID)
	if err != nil {
		return nil, err
	}

	// Risk-parameter snapshot: the portfolio's defaults unless one was supplied
	riskConfig := params.RiskConfigJSON
	if riskConfig == "" {
		riskConfig = pf.RiskConfig
	}

	// Atomic conditional reservation; this is the point of no return for
	// compensation on later failures
	if err := s.portfolios.ReserveCash(params.PortfolioID, params.InitialCapital); err != nil {
		return nil, err
	}

	c, err := s.createAndLock(params, decision, riskConfig, actor)
	if err != nil {
		// Saga-style rollback: restore the exact reserved amount, report the
		// original failure
		if rbErr := s.portfolios.CreditCash(params.PortfolioID, params.InitialCapital); rbErr != nil {
			s.log.Error().Err(rbErr).
				Str("portfolio_id", params.PortfolioID).
				Float64("amount", params.InitialCapital).
				Msg("Compensating cash restore failed")
		} else {
			s.log.Warn().
				Str("portfolio_id", params.PortfolioID).
				Float64("amount", params.InitialCapital).
				Msg("Reserved capital restored after failed start")
		}
		return nil, err
	}

	return c, nil
}

func (s *Service) createAndLock(params StartParams, decision *EligibilityDecision, riskConfig string, actor domain.Actor) (*domain.Campaign, error) {
	now := time.Now()
	c := domain.Campaign{
		ID:             uuid.New().String(),
		PortfolioID:    params.PortfolioID,
		Name:           params.Name,
		ProfileTier:    decision.Tier,
		StartDate:      params.StartDate,
		EndDate:        params.EndDate,
		InitialCapital: params.InitialCapital,
		CurrentEquity:  params.InitialCapital,
		MaxDrawdownPct: params.MaxDrawdownPct,
		RiskMultiplier: params.RiskMultiplier,
		RiskConfigJSON: riskConfig,
		Status:         domain.CampaignActive,
		ReconStatus:    domain.ReconUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(c); err != nil {
		return nil, err
	}

	if err := s.bootstrapAndLock(&c, params, actor); err != nil {
		// A half-started campaign must not linger as active: the lifecycle
		// monitor would later settle it and credit capital that the start
		// rollback already restored
		if delErr := s.repo.Delete(c.ID); delErr != nil {
			s.log.Error().Err(delErr).
				Str("campaign_id", c.ID).
				Msg("Failed to remove half-started campaign")
		}
		return nil, err
	}

	return &c, nil
}

// bootstrapAndLock runs every start step that follows the campaign row
// insert. Any failure here is compensated by deleting the row.
func (s *Service) bootstrapAndLock(c *domain.Campaign, params StartParams, actor domain.Actor) error {
	if err := s.repo.SaveRiskState(domain.CampaignRiskState{
		CampaignID:      c.ID,
		Equity:          c.InitialCapital,
		EquityHighWater: c.InitialCapital,
		TradableSymbols: params.TradableSymbols,
	}); err != nil {
		return err
	}

	// The global breaker layer exists from day one
	if _, err := s.registry.EvaluateGlobal(c.PortfolioID, breakers.GlobalObservation{}); err != nil {
		return err
	}

	if _, err := s.ledger.Append(c.ID, domain.SeverityAudit, actor, &events.CampaignStartedData{
		PortfolioID:    c.PortfolioID,
		Name:           c.Name,
		ProfileTier:    string(c.ProfileTier),
		InitialCapital: c.InitialCapital,
		MaxDrawdownPct: c.MaxDrawdownPct,
		StartDate:      c.StartDate.Format(time.RFC3339),
		EndDate:        c.EndDate.Format(time.RFC3339),
	}); err != nil {
		return err
	}

	if _, err := s.ledger.Append(c.ID, domain.SeverityInfo, actor, &events.CapitalMovementData{
		Direction:   "reserved",
		PortfolioID: c.PortfolioID,
		Amount:      c.InitialCapital,
	}); err != nil {
		return err
	}

	// Lock immediately: the creation hash covers the immutable parameter set
	hash, err := audit.GenerateCampaignHash(audit.LockParamsFor(c))
	if err != nil {
		return err
	}
	if err := s.repo.Lock(c.ID, hash, hash); err != nil {
		return err
	}
	c.IsLocked = true
	c.CreationHash = hash
	c.LockHash = hash

	if _, err := s.ledger.Append(c.ID, domain.SeverityAudit, actor, &events.CampaignLockedData{
		CreationHash: hash,
		LockHash:     hash,
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("campaign_id", c.ID).
		Str("portfolio_id", c.PortfolioID).
		Float64("initial_capital", c.InitialCapital).
		Msg("Campaign started and locked")

	return nil
}

// Pause transitions an active campaign to paused
func (s *Service) Pause(campaignID, reason string, actor domain.Actor) error {
	if err := s.repo.UpdateStatus(campaignID, domain.CampaignActive, domain.CampaignPaused, ""); err != nil {
		return err
	}

	_, err := s.ledger.Append(campaignID, domain.SeverityInfo, actor, &events.StatusChangeData{
		From: string(domain.CampaignActive), To: string(domain.CampaignPaused), Reason: reason,
	})
	return err
}

// Resume transitions a paused campaign back to active. Governance eligibility
// is re-validated for elevated parameter sets, since it can change between
// pause and resume.
func (s *Service) Resume(campaignID, userID string, actor domain.Actor) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignPaused {
		return fmt.Errorf("%w: campaign %s is %s, not paused", domain.ErrInvalidTransition, campaignID, c.Status)
	}

	profile, err := s.portfolios.GetProfile(userID)
	if err != nil {
		return domain.ValidationErr("investor profile for user %s not found", userID)
	}
	if _, err := s.governance.Resolve(profile, StartParams{
		PortfolioID:    c.PortfolioID,
		InitialCapital: c.InitialCapital,
		MaxDrawdownPct: c.MaxDrawdownPct,
		RiskMultiplier: c.RiskMultiplier,
		StartDate:      c.StartDate,
		EndDate:        c.EndDate,
	}); err != nil {
		return err
	}

	if err := s.repo.UpdateStatus(campaignID, domain.CampaignPaused, domain.CampaignActive, ""); err != nil {
		return err
	}

	_, err = s.ledger.Append(campaignID, domain.SeverityInfo, actor, &events.StatusChangeData{
		From: string(domain.CampaignPaused), To: string(domain.CampaignActive),
	})
	return err
}

// Stop liquidates and terminates a campaign with status stopped
func (s *Service) Stop(ctx context.Context, campaignID, reason string, actor domain.Actor) error {
	return s.terminate(ctx, campaignID, domain.CampaignStopped, reason, actor)
}

// CheckExpiration completes a campaign whose end date has passed
func (s *Service) CheckExpiration(ctx context.Context, campaignID string, actor domain.Actor) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive || !c.Expired(time.Now()) {
		return nil
	}
	return s.terminate(ctx, campaignID, domain.CampaignCompleted, "expired", actor)
}

// terminate runs the strictly ordered terminal sequence: liquidate, re-verify
// zero open positions, claim the terminal status, credit final equity, audit.
// The conditional status update is the serialization point: of two concurrent
// terminations only one wins the claim, so final equity is credited exactly
// once. A verification failure aborts without mutating status.
func (s *Service) terminate(ctx context.Context, campaignID string, finalStatus domain.CampaignStatus, reason string, actor domain.Actor) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status.IsTerminal() {
		return fmt.Errorf("%w: campaign %s is already %s", domain.ErrInvalidTransition, campaignID, c.Status)
	}

	// 1. Liquidate through the external collaborator
	result, err := s.liquidator.CloseAllOpenPositions(ctx, campaignID, reason)
	if err != nil {
		return fmt.Errorf("liquidation call failed: %w", err)
	}

	// 2. The collaborator is untrusted: re-query persisted positions and
	//    require zero remaining before anything else happens
	remaining, err := s.portfolios.GetOpenPositions(campaignID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		symbols := make([]string, 0, len(remaining))
		for i := range remaining {
			symbols = append(symbols, remaining[i].Symbol)
		}
		return fmt.Errorf("%w: %d positions still open (%v), campaign %s remains %s",
			domain.ErrLiquidationIncomplete, len(remaining), symbols, campaignID, c.Status)
	}

	// 3. Final equity from risk state, falling back to the campaign row
	finalEquity := s.finalEquity(c)

	// 4. Claim the terminal transition before any money moves. A concurrent
	//    terminator loses the conditional update and stops here.
	if err := s.repo.UpdateStatus(campaignID, c.Status, finalStatus, reason); err != nil {
		return err
	}

	// 5. Credit final equity back to the portfolio
	if err := s.portfolios.CreditCash(c.PortfolioID, finalEquity); err != nil {
		s.log.Error().Err(err).
			Str("campaign_id", campaignID).
			Float64("final_equity", finalEquity).
			Msg("Final equity credit failed after terminal transition")
		return err
	}

	// 6. Audit entries summarizing the liquidation
	symbols := make([]string, 0, len(result.Positions))
	for i := range result.Positions {
		symbols = append(symbols, result.Positions[i].Symbol)
	}
	if _, err := s.ledger.Append(campaignID, domain.SeverityInfo, actor, &events.PositionsClosedData{
		Reason:      reason,
		ClosedCount: result.ClosedCount,
		TotalPnL:    result.TotalPnL,
		Symbols:     symbols,
	}); err != nil {
		return err
	}
	if _, err := s.ledger.Append(campaignID, domain.SeverityAudit, actor, &events.CampaignTerminatedData{
		FinalStatus:     string(finalStatus),
		Reason:          reason,
		FinalEquity:     finalEquity,
		RealizedPnL:     finalEquity - c.InitialCapital,
		PositionsClosed: result.ClosedCount,
		CashCredited:    finalEquity,
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("campaign_id", campaignID).
		Str("final_status", string(finalStatus)).
		Str("reason", reason).
		Float64("final_equity", finalEquity).
		Msg("Campaign terminated")

	return nil
}

// finalEquity designates the risk state as the source of truth when present;
// the campaign row's equity field is only a fallback for campaigns that never
// grew a risk state. A divergence between the two is logged.
func (s *Service) finalEquity(c *domain.Campaign) float64 {
	rs, err := s.repo.GetRiskState(c.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("campaign_id", c.ID).Msg("Risk state read failed, using campaign equity")
		return c.CurrentEquity
	}
	if rs == nil {
		return c.CurrentEquity
	}
	if math.Abs(rs.Equity-c.CurrentEquity) > 0.01 {
		s.log.Warn().
			Str("campaign_id", c.ID).
			Float64("risk_state_equity", rs.Equity).
			Float64("campaign_equity", c.CurrentEquity).
			Msg("Equity divergence between risk state and campaign row")
	}
	return rs.Equity
}

// CheckDrawdownBreaker stops an active campaign whose PnL is negative and at
// least as deep as the configured max drawdown. The comparison is inclusive:
// reaching the limit exactly is a breach.
func (s *Service) CheckDrawdownBreaker(ctx context.Context, campaignID string, actor domain.Actor) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive {
		return nil
	}

	pnlPct := c.PnLPct()
	if pnlPct >= 0 || -pnlPct < c.MaxDrawdownPct {
		return nil
	}

	if _, err := s.ledger.Append(campaignID, domain.SeverityCritical, actor, &events.DrawdownBreachData{
		PnLPct:         pnlPct,
		MaxDrawdownPct: c.MaxDrawdownPct,
		CurrentEquity:  c.CurrentEquity,
		InitialCapital: c.InitialCapital,
	}); err != nil {
		return err
	}

	s.log.Warn().
		Str("campaign_id", campaignID).
		Float64("pnl_pct", pnlPct).
		Float64("max_drawdown_pct", c.MaxDrawdownPct).
		Msg("Drawdown limit breached, stopping campaign")

	return s.Stop(ctx, campaignID, "drawdown_limit", actor)
}

// ApplyCompounding adds realized PnL to the campaign's equity, persists both
// the risk state and the campaign mirror, then re-checks the drawdown breaker
func (s *Service) ApplyCompounding(ctx context.Context, campaignID string, realizedPnL float64, actor domain.Actor) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status.IsTerminal() {
		return fmt.Errorf("%w: campaign %s is %s", domain.ErrInvalidTransition, campaignID, c.Status)
	}

	rs, err := s.repo.GetRiskState(campaignID)
	if err != nil {
		return err
	}
	if rs == nil {
		rs = &domain.CampaignRiskState{
			CampaignID:      campaignID,
			Equity:          c.CurrentEquity,
			EquityHighWater: c.CurrentEquity,
		}
	}

	rs.Equity += realizedPnL
	rs.DailyPnL += realizedPnL
	if rs.Equity > rs.EquityHighWater {
		rs.EquityHighWater = rs.Equity
	}
	if err := s.repo.SaveRiskState(*rs); err != nil {
		return err
	}
	if err := s.repo.UpdateEquity(campaignID, rs.Equity); err != nil {
		return err
	}

	if _, err := s.ledger.Append(campaignID, domain.SeverityInfo, actor, &events.CompoundingAppliedData{
		RealizedPnL: realizedPnL,
		NewEquity:   rs.Equity,
	}); err != nil {
		return err
	}

	return s.CheckDrawdownBreaker(ctx, campaignID, actor)
}

// Rebalance re-validates circuit breakers and cluster-exposure caps, then
// invokes the external rebalance collaborator and records trades and cost
// into campaign equity and the audit trail. Shared by the scheduler and the
// rebalance-now API path.
func (s *Service) Rebalance(ctx context.Context, campaignID string, actor domain.Actor) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive {
		return fmt.Errorf("%w: campaign %s is %s, not active", domain.ErrInvalidTransition, campaignID, c.Status)
	}

	pnlPct := c.PnLPct()
	if pnlPct < 0 && -pnlPct >= c.MaxDrawdownPct {
		return domain.ValidationErr("campaign %s is drawdown-breached, rebalance skipped", campaignID)
	}

	plan, err := s.rebalancer.CalculateRebalance(ctx, c.PortfolioID)
	if err != nil {
		return fmt.Errorf("rebalance planning failed: %w", err)
	}

	// The plan is externally supplied; re-validate breakers and cluster caps
	// before executing anything
	if err := s.validatePlan(c.PortfolioID, plan); err != nil {
		return err
	}

	result, err := s.rebalancer.ExecuteRebalance(ctx, plan)
	if err != nil {
		return fmt.Errorf("rebalance execution failed: %w", err)
	}

	if _, err := s.ledger.Append(campaignID, domain.SeverityAudit, actor, &events.RebalanceExecutedData{
		TradeCount: result.TradeCount,
		TotalCost:  result.TotalCost,
		NetPnL:     result.NetPnL,
	}); err != nil {
		return err
	}

	// Net PnL less cost flows into equity via the compounding path
	return s.ApplyCompounding(ctx, campaignID, result.NetPnL-result.TotalCost, actor)
}

// validatePlan checks every plan trade against all three breaker layers and
// each cluster exposure against the cap
func (s *Service) validatePlan(portfolioID string, plan *RebalancePlan) error {
	symbols := make([]string, 0, len(plan.Trades))
	clusterSet := map[int]struct{}{}
	for i := range plan.Trades {
		symbols = append(symbols, plan.Trades[i].Symbol)
		clusterSet[plan.Trades[i].Cluster] = struct{}{}
	}
	clusters := make([]int, 0, len(clusterSet))
	for cluster := range clusterSet {
		clusters = append(clusters, cluster)
	}

	if err := s.registry.CheckAll(portfolioID, symbols, clusters); err != nil {
		return err
	}

	for cluster, exposure := range plan.Exposures {
		if exposure > maxClusterExposurePct {
			return domain.ValidationErr("cluster %d exposure %.2f%% exceeds cap %.2f%%",
				cluster, exposure*100, maxClusterExposurePct*100)
		}
	}
	return nil
}

// Get returns a campaign by id
func (s *Service) Get(campaignID string) (*domain.Campaign, error) {
	return s.repo.Get(campaignID)
}

// ListActive returns all active campaigns
func (s *Service) ListActive() ([]domain.Campaign, error) {
	return s.repo.ListByStatus(domain.CampaignActive)
}

// Metrics is the flattened campaign view served to the API layer
type Metrics struct {
	Campaign    *domain.Campaign          `json:"campaign"`
	RiskState   *domain.CampaignRiskState `json:"risk_state,omitempty"`
	Breakers    []domain.CircuitBreaker   `json:"breakers"`
	PnLPct      float64                   `json:"pnl_pct"`
	RealizedPnL float64                   `json:"realized_pnl"`
}

// GetMetrics aggregates campaign, risk state and breaker status
func (s *Service) GetMetrics(campaignID string) (*Metrics, error) {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return nil, err
	}
	rs, err := s.repo.GetRiskState(campaignID)
	if err != nil {
		return nil, err
	}
	cbs, err := s.registry.List(c.PortfolioID)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Campaign:    c,
		RiskState:   rs,
		Breakers:    cbs,
		PnLPct:      c.PnLPct(),
		RealizedPnL: c.CurrentEquity - c.InitialCapital,
	}, nil
}

// VerifyIntegrity recomputes the campaign's lock hash against stored values
func (s *Service) VerifyIntegrity(campaignID string) error {
	c, err := s.repo.Get(campaignID)
	if err != nil {
		return err
	}
	return s.ledger.VerifyIntegrity(c)
}

func validateStartParams(p StartParams) error {
	switch {
	case p.PortfolioID == "":
		return domain.ValidationErr("portfolio_id is required")
	case p.UserID == "":
		return domain.ValidationErr("user_id is required")
	case p.Name == "":
		return domain.ValidationErr("name is required")
	case p.InitialCapital <= 0:
		return domain.ValidationErr("initial_capital must be positive, got %.2f", p.InitialCapital)
	case p.MaxDrawdownPct <= 0 || p.MaxDrawdownPct >= 1:
		return domain.ValidationErr("max_drawdown_pct must be in (0,1), got %.4f", p.MaxDrawdownPct)
	case !p.EndDate.After(p.StartDate):
		return domain.ValidationErr("end_date must be after start_date")
	}
	return nil
}
