// Package domain provides core domain models and types for the campaign core.
package domain

import "time"

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

// IsTerminal reports whether the status permits no further transitions
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStopped || s == CampaignCompleted
}

// ProfileTier represents an investor profile risk tier
type ProfileTier string

const (
	TierStandard ProfileTier = "standard"
	TierElevated ProfileTier = "elevated"
	TierPro      ProfileTier = "pro"
)

// ReconStatus represents the reconciliation state of a campaign
type ReconStatus string

const (
	ReconUnknown  ReconStatus = "unknown"
	ReconOK       ReconStatus = "ok"
	ReconMismatch ReconStatus = "mismatch"
)

// Campaign is a time-boxed, capital-allocated trading mandate against a portfolio.
// Once locked, only status, equity and reconciliation fields may change; the
// remaining fields are covered by the lock hash.
type Campaign struct {
	ID             string         `json:"id"`
	PortfolioID    string         `json:"portfolio_id"`
	Name           string         `json:"name"`
	ProfileTier    ProfileTier    `json:"profile_tier"`
	StartDate      time.Time      `json:"start_date"`
	EndDate        time.Time      `json:"end_date"`
	InitialCapital float64        `json:"initial_capital"`
	CurrentEquity  float64        `json:"current_equity"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"` // positive fraction, e.g. 0.10 for -10%
	RiskMultiplier float64        `json:"risk_multiplier"`
	RiskConfigJSON string         `json:"risk_config_json"` // risk-parameter snapshot captured at start
	Status         CampaignStatus `json:"status"`
	IsLocked       bool           `json:"is_locked"`
	LockHash       string         `json:"lock_hash"`
	CreationHash   string         `json:"creation_hash"`
	ReconStatus    ReconStatus    `json:"recon_status"`
	ReconCheckedAt *time.Time     `json:"recon_checked_at,omitempty"`
	StopReason     string         `json:"stop_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PnLPct returns the signed fractional PnL relative to initial capital
func (c *Campaign) PnLPct() float64 {
	if c.InitialCapital == 0 {
		return 0
	}
	return (c.CurrentEquity - c.InitialCapital) / c.InitialCapital
}

// Expired reports whether the campaign's end date has passed
func (c *Campaign) Expired(now time.Time) bool {
	return now.After(c.EndDate)
}

// CampaignRiskState tracks mutable risk bookkeeping for a campaign (1:1)
type CampaignRiskState struct {
	CampaignID       string             `json:"campaign_id"`
	Equity           float64            `json:"equity"`
	EquityHighWater  float64            `json:"equity_high_water"`
	DailyPnL         float64            `json:"daily_pnl"`
	LossesInR        map[string]float64 `json:"losses_in_r"` // per-symbol loss in R units
	BreakerTriggered bool               `json:"breaker_triggered"`
	VaR95            float64            `json:"var_95"`
	ES95             float64            `json:"es_95"`
	TradableSymbols  []string           `json:"tradable_symbols"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// BreakerScope identifies which circuit-breaker layer a breaker belongs to
type BreakerScope string

const (
	ScopeAsset   BreakerScope = "asset"
	ScopeCluster BreakerScope = "cluster"
	ScopeGlobal  BreakerScope = "global"
)

// CircuitBreaker is a trading halt at asset, cluster or global scope.
// ScopeKey is the symbol for asset breakers, the cluster number (as text) for
// cluster breakers, and empty for global breakers.
type CircuitBreaker struct {
	ID                int64        `json:"id"`
	PortfolioID       string       `json:"portfolio_id"`
	Scope             BreakerScope `json:"scope"`
	ScopeKey          string       `json:"scope_key"`
	Triggered         bool         `json:"triggered"`
	TriggerReason     string       `json:"trigger_reason,omitempty"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	CumulativeLoss    float64      `json:"cumulative_loss"`
	MaxConsecutive    int          `json:"max_consecutive"`
	MaxCumulativeLoss float64      `json:"max_cumulative_loss"`
	MaxLossPct        float64      `json:"max_loss_pct"` // cluster / global percentage threshold
	AutoResetAt       *time.Time   `json:"auto_reset_at,omitempty"`
	TriggeredAt       *time.Time   `json:"triggered_at,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Severity classifies audit ledger entries
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityAudit    Severity = "audit"
)

// RequiresSignature reports whether entries of this severity must be signed
func (s Severity) RequiresSignature() bool {
	return s == SeverityCritical || s == SeverityAudit
}

// Actor identifies who performed an audited action
type Actor struct {
	Type string `json:"type"` // "system", "scheduler", "operator", "api"
	ID   string `json:"id"`
}

// AuditLedgerEntry is one hash-chained record in a campaign's audit ledger.
// Entries are append-only: never updated, never deleted.
type AuditLedgerEntry struct {
	ID           int64     `json:"id"`
	CampaignID   string    `json:"campaign_id"`
	Sequence     int64     `json:"sequence"`
	EventType    string    `json:"event_type"`
	Severity     Severity  `json:"severity"`
	EventData    []byte    `json:"event_data"` // canonical JSON payload
	PreviousHash string    `json:"previous_hash,omitempty"`
	EntryHash    string    `json:"entry_hash"`
	Signature    string    `json:"signature,omitempty"`
	SigAlgorithm string    `json:"sig_algorithm,omitempty"`
	Signer       string    `json:"signer,omitempty"`
	ActorType    string    `json:"actor_type"`
	ActorID      string    `json:"actor_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// DiscrepancyType classifies reconciliation findings
type DiscrepancyType string

const (
	// DiscrepancyOrderMismatch - internal order with no external order-id reference
	DiscrepancyOrderMismatch DiscrepancyType = "order_mismatch"
	// DiscrepancyOrphanDelfos - internal order references an id the exchange does not report
	DiscrepancyOrphanDelfos DiscrepancyType = "orphan_delfos"
	// DiscrepancyOrphanExchange - exchange order with no internal counterpart
	DiscrepancyOrphanExchange DiscrepancyType = "orphan_exchange"
)

// DiscrepancySeverity ranks reconciliation discrepancies
type DiscrepancySeverity string

const (
	DiscrepancyMedium DiscrepancySeverity = "medium"
	DiscrepancyHigh   DiscrepancySeverity = "high"
)

// Discrepancy is a single divergence between internal and exchange state
type Discrepancy struct {
	Type       DiscrepancyType     `json:"type"`
	Severity   DiscrepancySeverity `json:"severity"`
	Symbol     string              `json:"symbol,omitempty"`
	OrderID    string              `json:"order_id,omitempty"`
	ExternalID string              `json:"external_id,omitempty"`
	Detail     string              `json:"detail"`
}

// ReconciliationRecord persists one reconciliation run: both snapshots, the
// discrepancies found, and a content hash of the comparison
type ReconciliationRecord struct {
	ID               string        `json:"id"`
	CampaignID       string        `json:"campaign_id"`
	Type             string        `json:"type"`   // "scheduled" or "on_demand"
	Status           string        `json:"status"` // "ok", "mismatch", "failed"
	InternalSnapshot []byte        `json:"-"`      // msgpack-encoded
	ExternalSnapshot []byte        `json:"-"`      // msgpack-encoded
	Discrepancies    []Discrepancy `json:"discrepancies"`
	Resolved         bool          `json:"resolved"`
	ResolvedBy       string        `json:"resolved_by,omitempty"`
	ResolutionNote   string        `json:"resolution_note,omitempty"`
	ContentHash      string        `json:"content_hash"`
	CreatedAt        time.Time     `json:"created_at"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
}

// Portfolio holds the cash a campaign reserves against.
// AvailableCash is the single shared mutable resource contended across
// concurrent campaign starts and stops; all mutations go through the atomic
// conditional update in the portfolio repository.
type Portfolio struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Currency      Currency  `json:"currency"`
	TotalCash     float64   `json:"total_cash"`
	AvailableCash float64   `json:"available_cash"`
	RiskConfig    string    `json:"risk_config"` // JSON risk-parameter defaults
	UpdatedAt     time.Time `json:"updated_at"`
}

// Position is an open position attributed to a campaign
type Position struct {
	ID           int64      `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	Symbol       string     `json:"symbol"`
	Quantity     float64    `json:"quantity"`
	AverageCost  float64    `json:"average_cost"`
	CurrentPrice float64    `json:"current_price"`
	Cluster      int        `json:"cluster"`
	Status       string     `json:"status"` // "open", "closed"
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// MarketValue returns quantity * current price
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// Order is an internally tracked exchange order
type Order struct {
	ID              int64     `json:"id"`
	CampaignID      string    `json:"campaign_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"` // "BUY" or "SELL"
	Quantity        float64   `json:"quantity"`
	Price           float64   `json:"price"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Status          string    `json:"status"` // "open", "filled", "cancelled"
	CreatedAt       time.Time `json:"created_at"`
}

// InvestorProfile gates which campaign parameters a user may request
type InvestorProfile struct {
	UserID          string      `json:"user_id"`
	Tier            ProfileTier `json:"tier"`
	PlanLevel       int         `json:"plan_level"`
	TenureDays      int         `json:"tenure_days"`
	GovernanceScore float64     `json:"governance_score"`
	AntifraudFlags  int         `json:"antifraud_flags"`
	TermsAccepted   bool        `json:"terms_accepted"`
}
