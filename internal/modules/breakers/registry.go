package breakers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/events"
)

// Thresholds configures default breaker limits per layer
type Thresholds struct {
	AssetMaxConsecutiveLosses int
	AssetMaxCumulativeLoss    float64
	ClusterMaxLossPct         float64 // positive fraction
	GlobalMaxDailyLossPct     float64 // positive fraction
	GlobalMaxDrawdownPct      float64 // positive fraction
	GlobalMaxVaR95            float64 // positive fraction of equity
	GlobalMaxES95             float64 // positive fraction of equity
	AutoResetAfter            time.Duration // zero disables auto-reset
}

// DefaultThresholds returns conservative production defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		AssetMaxConsecutiveLosses: 3,
		AssetMaxCumulativeLoss:    500,
		ClusterMaxLossPct:         0.05,
		GlobalMaxDailyLossPct:     0.03,
		GlobalMaxDrawdownPct:      0.10,
		GlobalMaxVaR95:            0.08,
		GlobalMaxES95:             0.12,
		AutoResetAfter:            24 * time.Hour,
	}
}

// Registry evaluates and mutates the three breaker layers. Trigger writes are
// idempotent, so a race between two evaluations degrades to a redundant no-op
// rather than a duplicate event.
type Registry struct {
	repo       *Repository
	thresholds Thresholds
	log        zerolog.Logger
}

// NewRegistry creates a new circuit-breaker registry
func NewRegistry(repo *Repository, thresholds Thresholds, log zerolog.Logger) *Registry {
	return &Registry{
		repo:       repo,
		thresholds: thresholds,
		log:        log.With().Str("service", "breaker_registry").Logger(),
	}
}

// RecordAssetLoss updates the asset-layer counters for a losing trade and
// triggers the breaker when either threshold is crossed
func (r *Registry) RecordAssetLoss(portfolioID, symbol string, lossAmount float64) error {
	if lossAmount < 0 {
		lossAmount = -lossAmount
	}

	cb, err := r.ensure(portfolioID, domain.ScopeAsset, symbol)
	if err != nil {
		return err
	}

	consecutive := cb.ConsecutiveLosses + 1
	cumulative := cb.CumulativeLoss + lossAmount
	if err := r.repo.UpdateCounters(cb.ID, consecutive, cumulative); err != nil {
		return err
	}

	observed := map[string]float64{
		"consecutive_losses": float64(consecutive),
		"cumulative_loss":    cumulative,
	}
	limits := map[string]float64{
		"max_consecutive":     float64(cb.MaxConsecutive),
		"max_cumulative_loss": cb.MaxCumulativeLoss,
	}

	switch {
	case cb.MaxConsecutive > 0 && consecutive >= cb.MaxConsecutive:
		return r.trigger(cb, portfolioID,
			fmt.Sprintf("%d consecutive losses on %s", consecutive, symbol), limits, observed)
	case cb.MaxCumulativeLoss > 0 && cumulative >= cb.MaxCumulativeLoss:
		return r.trigger(cb, portfolioID,
			fmt.Sprintf("cumulative loss %.2f on %s exceeds limit", cumulative, symbol), limits, observed)
	}
	return nil
}

// RecordAssetWin clears the consecutive-loss streak for a symbol
func (r *Registry) RecordAssetWin(portfolioID, symbol string) error {
	cb, err := r.repo.Get(portfolioID, domain.ScopeAsset, symbol)
	if err != nil || cb == nil {
		return err
	}
	return r.repo.UpdateCounters(cb.ID, 0, cb.CumulativeLoss)
}

// EvaluateCluster checks the aggregate loss percentage across a cluster's
// assets and triggers the cluster breaker on breach
func (r *Registry) EvaluateCluster(portfolioID string, cluster int, aggregateLossPct float64) error {
	key := strconv.Itoa(cluster)
	cb, err := r.ensure(portfolioID, domain.ScopeCluster, key)
	if err != nil {
		return err
	}

	if cb.MaxLossPct <= 0 || aggregateLossPct < cb.MaxLossPct {
		return nil
	}

	return r.trigger(cb, portfolioID,
		fmt.Sprintf("cluster %d aggregate loss %.2f%% exceeds %.2f%%", cluster, aggregateLossPct*100, cb.MaxLossPct*100),
		map[string]float64{"max_loss_pct": cb.MaxLossPct},
		map[string]float64{"aggregate_loss_pct": aggregateLossPct})
}

// GlobalObservation carries the inputs for a global-layer evaluation
type GlobalObservation struct {
	DailyLossPct float64   // positive fraction when losing
	DrawdownPct  float64   // positive fraction below the high watermark
	Returns      []float64 // recent per-period campaign returns for VaR/ES
}

// EvaluateGlobal checks daily loss, campaign drawdown and the VaR/ES snapshot
// against the global thresholds. Returns the computed risk snapshot so callers
// can persist it on the campaign's risk state.
func (r *Registry) EvaluateGlobal(portfolioID string, obs GlobalObservation) (RiskSnapshot, error) {
	snapshot := ComputeRiskSnapshot(obs.Returns)

	cb, err := r.ensure(portfolioID, domain.ScopeGlobal, "")
	if err != nil {
		return snapshot, err
	}

	limits := map[string]float64{
		"max_daily_loss_pct": r.thresholds.GlobalMaxDailyLossPct,
		"max_drawdown_pct":   r.thresholds.GlobalMaxDrawdownPct,
		"max_var_95":         r.thresholds.GlobalMaxVaR95,
		"max_es_95":          r.thresholds.GlobalMaxES95,
	}
	observed := map[string]float64{
		"daily_loss_pct": obs.DailyLossPct,
		"drawdown_pct":   obs.DrawdownPct,
		"var_95":         snapshot.VaR95,
		"es_95":          snapshot.ES95,
	}

	switch {
	case r.thresholds.GlobalMaxDailyLossPct > 0 && obs.DailyLossPct >= r.thresholds.GlobalMaxDailyLossPct:
		return snapshot, r.trigger(cb, portfolioID,
			fmt.Sprintf("daily loss %.2f%% exceeds %.2f%%", obs.DailyLossPct*100, r.thresholds.GlobalMaxDailyLossPct*100),
			limits, observed)
	case r.thresholds.GlobalMaxDrawdownPct > 0 && obs.DrawdownPct >= r.thresholds.GlobalMaxDrawdownPct:
		return snapshot, r.trigger(cb, portfolioID,
			fmt.Sprintf("drawdown %.2f%% exceeds %.2f%%", obs.DrawdownPct*100, r.thresholds.GlobalMaxDrawdownPct*100),
			limits, observed)
	case r.thresholds.GlobalMaxVaR95 > 0 && snapshot.VaR95 >= r.thresholds.GlobalMaxVaR95:
		return snapshot, r.trigger(cb, portfolioID,
			fmt.Sprintf("VaR(95) %.2f%% exceeds %.2f%%", snapshot.VaR95*100, r.thresholds.GlobalMaxVaR95*100),
			limits, observed)
	case r.thresholds.GlobalMaxES95 > 0 && snapshot.ES95 >= r.thresholds.GlobalMaxES95:
		return snapshot, r.trigger(cb, portfolioID,
			fmt.Sprintf("ES(95) %.2f%% exceeds %.2f%%", snapshot.ES95*100, r.thresholds.GlobalMaxES95*100),
			limits, observed)
	}

	return snapshot, nil
}

// CheckAll queries all three layers bottom-up for the given symbols and
// clusters. On any trigger it returns a BreakerBlockedError naming the
// specific blocked scope, never a generic rejection.
func (r *Registry) CheckAll(portfolioID string, symbols []string, clusters []int) error {
	for _, symbol := range symbols {
		cb, err := r.repo.Get(portfolioID, domain.ScopeAsset, symbol)
		if err != nil {
			return err
		}
		if cb != nil && cb.Triggered {
			return &domain.BreakerBlockedError{Scope: domain.ScopeAsset, ScopeKey: symbol, Reason: cb.TriggerReason}
		}
	}

	for _, cluster := range clusters {
		key := strconv.Itoa(cluster)
		cb, err := r.repo.Get(portfolioID, domain.ScopeCluster, key)
		if err != nil {
			return err
		}
		if cb != nil && cb.Triggered {
			return &domain.BreakerBlockedError{Scope: domain.ScopeCluster, ScopeKey: key, Reason: cb.TriggerReason}
		}
	}

	cb, err := r.repo.Get(portfolioID, domain.ScopeGlobal, "")
	if err != nil {
		return err
	}
	if cb != nil && cb.Triggered {
		return &domain.BreakerBlockedError{Scope: domain.ScopeGlobal, Reason: cb.TriggerReason}
	}

	return nil
}

// Reset explicitly resets a breaker. Resetting a non-triggered breaker is a
// no-op and emits no event. resetBy is "manual" or "auto".
func (r *Registry) Reset(portfolioID string, scope domain.BreakerScope, scopeKey, resetBy string) error {
	cb, err := r.repo.Get(portfolioID, scope, scopeKey)
	if err != nil {
		return err
	}
	if cb == nil {
		return fmt.Errorf("breaker %s/%s for portfolio %s: %w", scope, scopeKey, portfolioID, domain.ErrNotFound)
	}

	did, err := r.repo.MarkReset(cb.ID)
	if err != nil {
		return err
	}
	if !did {
		return nil
	}

	r.log.Info().
		Str("portfolio_id", portfolioID).
		Str("scope", string(scope)).
		Str("scope_key", scopeKey).
		Str("reset_by", resetBy).
		Msg("Breaker reset")

	return r.repo.AppendEvent(portfolioID, &events.BreakerEventData{
		Action:   "reset",
		Scope:    string(scope),
		ScopeKey: scopeKey,
		ResetBy:  resetBy,
	})
}

// AutoResetDue resets every triggered breaker whose auto_reset_at has passed
func (r *Registry) AutoResetDue(now time.Time) error {
	due, err := r.repo.ListAutoResetDue(now)
	if err != nil {
		return err
	}
	for i := range due {
		cb := &due[i]
		if err := r.Reset(cb.PortfolioID, cb.Scope, cb.ScopeKey, "auto"); err != nil {
			return err
		}
	}
	return nil
}

// List returns all breakers for a portfolio
func (r *Registry) List(portfolioID string) ([]domain.CircuitBreaker, error) {
	return r.repo.ListByPortfolio(portfolioID)
}

func (r *Registry) ensure(portfolioID string, scope domain.BreakerScope, scopeKey string) (*domain.CircuitBreaker, error) {
	cb, err := r.repo.Get(portfolioID, scope, scopeKey)
	if err != nil {
		return nil, err
	}
	if cb != nil {
		return cb, nil
	}

	seed := domain.CircuitBreaker{
		PortfolioID: portfolioID,
		Scope:       scope,
		ScopeKey:    scopeKey,
	}
	switch scope {
	case domain.ScopeAsset:
		seed.MaxConsecutive = r.thresholds.AssetMaxConsecutiveLosses
		seed.MaxCumulativeLoss = r.thresholds.AssetMaxCumulativeLoss
	case domain.ScopeCluster:
		seed.MaxLossPct = r.thresholds.ClusterMaxLossPct
	case domain.ScopeGlobal:
		seed.MaxLossPct = r.thresholds.GlobalMaxDailyLossPct
	}

	if err := r.repo.Ensure(seed); err != nil {
		return nil, err
	}
	return r.repo.Get(portfolioID, scope, scopeKey)
}

// trigger flips the breaker and records the event. Triggering an
// already-triggered breaker emits no duplicate event.
func (r *Registry) trigger(cb *domain.CircuitBreaker, portfolioID, reason string, limits, observed map[string]float64) error {
	var autoResetAt *time.Time
	if r.thresholds.AutoResetAfter > 0 {
		t := time.Now().Add(r.thresholds.AutoResetAfter)
		autoResetAt = &t
	}

	did, err := r.repo.MarkTriggered(cb.ID, reason, autoResetAt)
	if err != nil {
		return err
	}
	if !did {
		return nil
	}

	r.log.Warn().
		Str("portfolio_id", portfolioID).
		Str("scope", string(cb.Scope)).
		Str("scope_key", cb.ScopeKey).
		Str("reason", reason).
		Msg("Circuit breaker triggered")

	return r.repo.AppendEvent(portfolioID, &events.BreakerEventData{
		Action:     "triggered",
		Scope:      string(cb.Scope),
		ScopeKey:   cb.ScopeKey,
		Reason:     reason,
		Thresholds: limits,
		Observed:   observed,
	})
}
