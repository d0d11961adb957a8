package events

import (
	"encoding/json"
	"fmt"
)

// EventData is the interface all event payload types implement.
// Every payload validates itself independently before being persisted.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
	// Validate checks the payload's required fields
	Validate() error
}

// CampaignStartedData contains data for CampaignStarted events
type CampaignStartedData struct {
	PortfolioID    string  `json:"portfolio_id"`
	Name           string  `json:"name"`
	ProfileTier    string  `json:"profile_tier"`
	InitialCapital float64 `json:"initial_capital"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
}

// EventType returns the event type for CampaignStartedData
func (d *CampaignStartedData) EventType() EventType { return CampaignStarted }

// Validate checks required fields
func (d *CampaignStartedData) Validate() error {
	if d.PortfolioID == "" {
		return fmt.Errorf("campaign_started: portfolio_id is required")
	}
	if d.InitialCapital <= 0 {
		return fmt.Errorf("campaign_started: initial_capital must be positive")
	}
	return nil
}

// CampaignLockedData contains data for CampaignLocked events
type CampaignLockedData struct {
	CreationHash string `json:"creation_hash"`
	LockHash     string `json:"lock_hash"`
}

// EventType returns the event type for CampaignLockedData
func (d *CampaignLockedData) EventType() EventType { return CampaignLocked }

// Validate checks required fields
func (d *CampaignLockedData) Validate() error {
	if d.LockHash == "" {
		return fmt.Errorf("campaign_locked: lock_hash is required")
	}
	return nil
}

// StatusChangeData contains data for pause/resume events
type StatusChangeData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// EventType returns the event type for StatusChangeData
func (d *StatusChangeData) EventType() EventType {
	if d.To == "paused" {
		return CampaignPaused
	}
	return CampaignResumed
}

// Validate checks required fields
func (d *StatusChangeData) Validate() error {
	if d.From == "" || d.To == "" {
		return fmt.Errorf("status_change: from and to are required")
	}
	return nil
}

// CampaignTerminatedData contains data for CampaignStopped and CampaignCompleted events
type CampaignTerminatedData struct {
	FinalStatus     string  `json:"final_status"` // "stopped" or "completed"
	Reason          string  `json:"reason"`
	FinalEquity     float64 `json:"final_equity"`
	RealizedPnL     float64 `json:"realized_pnl"`
	PositionsClosed int     `json:"positions_closed"`
	CashCredited    float64 `json:"cash_credited"`
}

// EventType returns the event type for CampaignTerminatedData
func (d *CampaignTerminatedData) EventType() EventType {
	if d.FinalStatus == "completed" {
		return CampaignCompleted
	}
	return CampaignStopped
}

// Validate checks required fields
func (d *CampaignTerminatedData) Validate() error {
	if d.FinalStatus != "stopped" && d.FinalStatus != "completed" {
		return fmt.Errorf("campaign_terminated: final_status must be stopped or completed, got %q", d.FinalStatus)
	}
	if d.Reason == "" {
		return fmt.Errorf("campaign_terminated: reason is required")
	}
	return nil
}

// CapitalMovementData contains data for CapitalReserved and CapitalReleased events
type CapitalMovementData struct {
	Direction   string  `json:"direction"` // "reserved" or "released"
	PortfolioID string  `json:"portfolio_id"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason,omitempty"`
}

// EventType returns the event type for CapitalMovementData
func (d *CapitalMovementData) EventType() EventType {
	if d.Direction == "released" {
		return CapitalReleased
	}
	return CapitalReserved
}

// Validate checks required fields
func (d *CapitalMovementData) Validate() error {
	if d.Direction != "reserved" && d.Direction != "released" {
		return fmt.Errorf("capital_movement: direction must be reserved or released, got %q", d.Direction)
	}
	if d.Amount <= 0 {
		return fmt.Errorf("capital_movement: amount must be positive")
	}
	return nil
}

// PositionsClosedData contains data for PositionsClosed events
type PositionsClosedData struct {
	Reason      string   `json:"reason"`
	ClosedCount int      `json:"closed_count"`
	TotalPnL    float64  `json:"total_pnl"`
	Symbols     []string `json:"symbols,omitempty"`
}

// EventType returns the event type for PositionsClosedData
func (d *PositionsClosedData) EventType() EventType { return PositionsClosed }

// Validate checks required fields
func (d *PositionsClosedData) Validate() error {
	if d.ClosedCount < 0 {
		return fmt.Errorf("positions_closed: closed_count cannot be negative")
	}
	return nil
}

// DrawdownBreachData contains data for DrawdownBreach events
type DrawdownBreachData struct {
	PnLPct         float64 `json:"pnl_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	CurrentEquity  float64 `json:"current_equity"`
	InitialCapital float64 `json:"initial_capital"`
}

// EventType returns the event type for DrawdownBreachData
func (d *DrawdownBreachData) EventType() EventType { return DrawdownBreach }

// Validate checks required fields
func (d *DrawdownBreachData) Validate() error {
	if d.InitialCapital <= 0 {
		return fmt.Errorf("drawdown_breach: initial_capital must be positive")
	}
	return nil
}

// CompoundingAppliedData contains data for CompoundingApplied events
type CompoundingAppliedData struct {
	RealizedPnL float64 `json:"realized_pnl"`
	NewEquity   float64 `json:"new_equity"`
}

// EventType returns the event type for CompoundingAppliedData
func (d *CompoundingAppliedData) EventType() EventType { return CompoundingApplied }

// Validate checks required fields
func (d *CompoundingAppliedData) Validate() error {
	if d.NewEquity < 0 {
		return fmt.Errorf("compounding_applied: new_equity cannot be negative")
	}
	return nil
}

// BreakerEventData contains data for BreakerTriggered and BreakerReset events.
// Thresholds and observed values are recorded so a trigger can be audited later.
type BreakerEventData struct {
	Action     string             `json:"action"` // "triggered" or "reset"
	Scope      string             `json:"scope"`
	ScopeKey   string             `json:"scope_key,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
	Observed   map[string]float64 `json:"observed,omitempty"`
	ResetBy    string             `json:"reset_by,omitempty"` // "manual" or "auto"
}

// EventType returns the event type for BreakerEventData
func (d *BreakerEventData) EventType() EventType {
	if d.Action == "reset" {
		return BreakerReset
	}
	return BreakerTriggered
}

// Validate checks required fields
func (d *BreakerEventData) Validate() error {
	if d.Action != "triggered" && d.Action != "reset" {
		return fmt.Errorf("breaker_event: action must be triggered or reset, got %q", d.Action)
	}
	if d.Scope == "" {
		return fmt.Errorf("breaker_event: scope is required")
	}
	if d.Action == "triggered" && d.Reason == "" {
		return fmt.Errorf("breaker_event: trigger requires a reason")
	}
	return nil
}

// IntegrityViolationData contains data for IntegrityViolation events
type IntegrityViolationData struct {
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	Detail       string `json:"detail,omitempty"`
}

// EventType returns the event type for IntegrityViolationData
func (d *IntegrityViolationData) EventType() EventType { return IntegrityViolation }

// Validate checks required fields
func (d *IntegrityViolationData) Validate() error {
	if d.StoredHash == "" || d.ComputedHash == "" {
		return fmt.Errorf("integrity_violation: stored_hash and computed_hash are required")
	}
	return nil
}

// ReconCompletedData contains data for ReconCompleted events
type ReconCompletedData struct {
	RecordID         string `json:"record_id"`
	Status           string `json:"status"`
	DiscrepancyCount int    `json:"discrepancy_count"`
	ContentHash      string `json:"content_hash"`
}

// EventType returns the event type for ReconCompletedData
func (d *ReconCompletedData) EventType() EventType { return ReconCompleted }

// Validate checks required fields
func (d *ReconCompletedData) Validate() error {
	if d.RecordID == "" {
		return fmt.Errorf("reconciliation_completed: record_id is required")
	}
	return nil
}

// ReconResolvedData contains data for ReconResolved events
type ReconResolvedData struct {
	RecordID   string `json:"record_id"`
	ResolvedBy string `json:"resolved_by"`
	Note       string `json:"note,omitempty"`
}

// EventType returns the event type for ReconResolvedData
func (d *ReconResolvedData) EventType() EventType { return ReconResolved }

// Validate checks required fields
func (d *ReconResolvedData) Validate() error {
	if d.RecordID == "" {
		return fmt.Errorf("reconciliation_resolved: record_id is required")
	}
	if d.ResolvedBy == "" {
		return fmt.Errorf("reconciliation_resolved: resolved_by is required")
	}
	return nil
}

// RebalanceExecutedData contains data for RebalanceExecuted events
type RebalanceExecutedData struct {
	TradeCount int     `json:"trade_count"`
	TotalCost  float64 `json:"total_cost"`
	NetPnL     float64 `json:"net_pnl"`
}

// EventType returns the event type for RebalanceExecutedData
func (d *RebalanceExecutedData) EventType() EventType { return RebalanceExecuted }

// Validate checks required fields
func (d *RebalanceExecutedData) Validate() error {
	if d.TradeCount < 0 {
		return fmt.Errorf("rebalance_executed: trade_count cannot be negative")
	}
	return nil
}

// DecodePayload unmarshals a raw payload into its typed variant for the given
// event type. Unknown event types are an error: the payload set is closed.
func DecodePayload(t EventType, raw []byte) (EventData, error) {
	var eventData EventData
	switch t {
	case CampaignStarted:
		eventData = &CampaignStartedData{}
	case CampaignLocked:
		eventData = &CampaignLockedData{}
	case CampaignPaused, CampaignResumed:
		eventData = &StatusChangeData{}
	case CampaignStopped, CampaignCompleted:
		eventData = &CampaignTerminatedData{}
	case CapitalReserved, CapitalReleased:
		eventData = &CapitalMovementData{}
	case PositionsClosed:
		eventData = &PositionsClosedData{}
	case DrawdownBreach:
		eventData = &DrawdownBreachData{}
	case CompoundingApplied:
		eventData = &CompoundingAppliedData{}
	case BreakerTriggered, BreakerReset:
		eventData = &BreakerEventData{}
	case IntegrityViolation:
		eventData = &IntegrityViolationData{}
	case ReconCompleted:
		eventData = &ReconCompletedData{}
	case ReconResolved:
		eventData = &ReconResolvedData{}
	case RebalanceExecuted:
		eventData = &RebalanceExecutedData{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if err := json.Unmarshal(raw, eventData); err != nil {
		return nil, err
	}
	return eventData, nil
}
