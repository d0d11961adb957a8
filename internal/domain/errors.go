package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign core taxonomy. Callers match with errors.Is;
// the wrapped message carries the specific human-readable reason.
var (
	// ErrValidation - bad input or ineligible investor profile; rejected pre-mutation
	ErrValidation = errors.New("validation error")
	// ErrInsufficientCapital - atomic capital reservation failed; state unchanged
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrGovernance - elevated-tier eligibility check failed; rejected pre-mutation
	ErrGovernance = errors.New("governance error")
	// ErrIntegrityViolation - recomputed lock hash mismatch; never auto-corrected
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrLiquidationIncomplete - open positions remain; terminal transition blocked
	ErrLiquidationIncomplete = errors.New("liquidation incomplete")
	// ErrReconciliationFailure - external call or parse failure during reconciliation
	ErrReconciliationFailure = errors.New("reconciliation failure")
	// ErrNotFound - requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition - campaign status does not permit the requested transition
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationErr wraps a specific reason in the validation kind
func ValidationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// GovernanceErr wraps a specific reason in the governance kind
func GovernanceErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrGovernance, fmt.Sprintf(format, args...))
}

// BreakerBlockedError is returned when a circuit breaker blocks risk placement.
// It always names the specific blocked scope, never a generic rejection.
type BreakerBlockedError struct {
	Scope    BreakerScope
	ScopeKey string
	Reason   string
}

// Error implements the error interface
func (e *BreakerBlockedError) Error() string {
	if e.ScopeKey != "" {
		return fmt.Sprintf("trading halted by %s breaker (%s): %s", e.Scope, e.ScopeKey, e.Reason)
	}
	return fmt.Sprintf("trading halted by %s breaker: %s", e.Scope, e.Reason)
}
