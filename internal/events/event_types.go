// Package events defines the closed set of typed event payloads recorded on the
// audit ledger and the operational breaker stream.
package events

// EventType identifies an audit or breaker event
type EventType string

const (
	CampaignStarted    EventType = "campaign_started"
	CampaignLocked     EventType = "campaign_locked"
	CampaignPaused     EventType = "campaign_paused"
	CampaignResumed    EventType = "campaign_resumed"
	CampaignStopped    EventType = "campaign_stopped"
	CampaignCompleted  EventType = "campaign_completed"
	CapitalReserved    EventType = "capital_reserved"
	CapitalReleased    EventType = "capital_released"
	PositionsClosed    EventType = "positions_closed"
	DrawdownBreach     EventType = "drawdown_breach"
	CompoundingApplied EventType = "compounding_applied"
	BreakerTriggered   EventType = "breaker_triggered"
	BreakerReset       EventType = "breaker_reset"
	IntegrityViolation EventType = "integrity_violation"
	ReconCompleted     EventType = "reconciliation_completed"
	ReconResolved      EventType = "reconciliation_resolved"
	RebalanceExecuted  EventType = "rebalance_executed"
)
