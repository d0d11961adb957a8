// Package breakers implements the three-layer circuit-breaker registry:
// asset, cluster and global trading halts with independent reset policies.
package breakers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/events"
)

// Repository persists circuit breakers and their operational event stream.
// The breaker_events table is append-only and separate from the governance
// audit ledger.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new breaker repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "breakers").Logger(),
	}
}

// breakerColumns avoids SELECT * which breaks when schema changes
const breakerColumns = `id, portfolio_id, scope, scope_key, triggered, trigger_reason, consecutive_losses, cumulative_loss, max_consecutive, max_cumulative_loss, max_loss_pct, auto_reset_at, triggered_at, updated_at`

// Get retrieves a breaker by scope; nil when none exists yet
func (r *Repository) Get(portfolioID string, scope domain.BreakerScope, scopeKey string) (*domain.CircuitBreaker, error) {
	query := "SELECT " + breakerColumns + ` FROM circuit_breakers
		WHERE portfolio_id = ? AND scope = ? AND scope_key = ?`

	row := r.db.QueryRow(query, portfolioID, string(scope), scopeKey)
	cb, err := scanBreaker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cb, nil
}

// Ensure creates a breaker row with the given thresholds if none exists
func (r *Repository) Ensure(cb domain.CircuitBreaker) error {
	query := `INSERT OR IGNORE INTO circuit_breakers
		(portfolio_id, scope, scope_key, triggered, consecutive_losses, cumulative_loss,
		 max_consecutive, max_cumulative_loss, max_loss_pct, updated_at)
		VALUES (?, ?, ?, 0, 0, 0, ?, ?, ?, ?)`

	_, err := r.db.Exec(query, cb.PortfolioID, string(cb.Scope), cb.ScopeKey,
		cb.MaxConsecutive, cb.MaxCumulativeLoss, cb.MaxLossPct, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to ensure breaker: %w", err)
	}
	return nil
}

// ListByPortfolio returns all breakers for a portfolio
func (r *Repository) ListByPortfolio(portfolioID string) ([]domain.CircuitBreaker, error) {
	query := "SELECT " + breakerColumns + ` FROM circuit_breakers WHERE portfolio_id = ?
		ORDER BY scope, scope_key`

	rows, err := r.db.Query(query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakers: %w", err)
	}
	defer rows.Close()

	var list []domain.CircuitBreaker
	for rows.Next() {
		cb, err := scanBreakerRows(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *cb)
	}
	return list, rows.Err()
}

// ListTriggered returns all currently triggered breakers for a portfolio
func (r *Repository) ListTriggered(portfolioID string) ([]domain.CircuitBreaker, error) {
	query := "SELECT " + breakerColumns + ` FROM circuit_breakers
		WHERE portfolio_id = ? AND triggered = 1`

	rows, err := r.db.Query(query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered breakers: %w", err)
	}
	defer rows.Close()

	var list []domain.CircuitBreaker
	for rows.Next() {
		cb, err := scanBreakerRows(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *cb)
	}
	return list, rows.Err()
}

// ListAutoResetDue returns triggered breakers whose auto_reset_at has passed
func (r *Repository) ListAutoResetDue(now time.Time) ([]domain.CircuitBreaker, error) {
	query := "SELECT " + breakerColumns + ` FROM circuit_breakers
		WHERE triggered = 1 AND auto_reset_at IS NOT NULL AND auto_reset_at <= ?`

	rows, err := r.db.Query(query, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-reset breakers: %w", err)
	}
	defer rows.Close()

	var list []domain.CircuitBreaker
	for rows.Next() {
		cb, err := scanBreakerRows(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *cb)
	}
	return list, rows.Err()
}

// UpdateCounters persists loss counters without touching trigger state
func (r *Repository) UpdateCounters(id int64, consecutiveLosses int, cumulativeLoss float64) error {
	query := `UPDATE circuit_breakers
		SET consecutive_losses = ?, cumulative_loss = ?, updated_at = ?
		WHERE id = ?`

	if _, err := r.db.Exec(query, consecutiveLosses, cumulativeLoss, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update breaker counters: %w", err)
	}
	return nil
}

// MarkTriggered flips a breaker to triggered, but only if it is not already
// triggered. Returns false when the breaker was already triggered, which makes
// re-triggering a no-op for callers and for the event stream.
func (r *Repository) MarkTriggered(id int64, reason string, autoResetAt *time.Time) (bool, error) {
	now := time.Now().Unix()
	var autoReset interface{}
	if autoResetAt != nil {
		autoReset = autoResetAt.Unix()
	}

	query := `UPDATE circuit_breakers
		SET triggered = 1, trigger_reason = ?, auto_reset_at = ?, triggered_at = ?, updated_at = ?
		WHERE id = ? AND triggered = 0`

	res, err := r.db.Exec(query, reason, autoReset, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to trigger breaker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read trigger result: %w", err)
	}
	return affected > 0, nil
}

// MarkReset clears trigger state, but only if the breaker is triggered.
// Returns false when there was nothing to reset, so no event is emitted.
func (r *Repository) MarkReset(id int64) (bool, error) {
	query := `UPDATE circuit_breakers
		SET triggered = 0, trigger_reason = NULL, auto_reset_at = NULL, triggered_at = NULL,
		    consecutive_losses = 0, cumulative_loss = 0, updated_at = ?
		WHERE id = ? AND triggered = 1`

	res, err := r.db.Exec(query, time.Now().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("failed to reset breaker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reset result: %w", err)
	}
	return affected > 0, nil
}

// AppendEvent records a trigger or reset on the operational event stream
func (r *Repository) AppendEvent(portfolioID string, data *events.BreakerEventData) error {
	if err := data.Validate(); err != nil {
		return domain.ValidationErr("invalid breaker event: %v", err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal breaker event: %w", err)
	}

	query := `INSERT INTO breaker_events (portfolio_id, scope, scope_key, event_type, event_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := r.db.Exec(query, portfolioID, data.Scope, data.ScopeKey, data.Action,
		string(payload), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to append breaker event: %w", err)
	}
	return nil
}

// CountEvents returns the number of breaker events recorded for a portfolio
func (r *Repository) CountEvents(portfolioID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM breaker_events WHERE portfolio_id = ?`, portfolioID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count breaker events: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBreaker(row rowScanner) (*domain.CircuitBreaker, error) {
	var cb domain.CircuitBreaker
	var triggered int
	var reason sql.NullString
	var autoResetAt, triggeredAt sql.NullInt64
	var updatedAt int64

	err := row.Scan(&cb.ID, &cb.PortfolioID, &cb.Scope, &cb.ScopeKey, &triggered, &reason,
		&cb.ConsecutiveLosses, &cb.CumulativeLoss, &cb.MaxConsecutive, &cb.MaxCumulativeLoss,
		&cb.MaxLossPct, &autoResetAt, &triggeredAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	cb.Triggered = triggered != 0
	cb.TriggerReason = reason.String
	if autoResetAt.Valid {
		t := time.Unix(autoResetAt.Int64, 0)
		cb.AutoResetAt = &t
	}
	if triggeredAt.Valid {
		t := time.Unix(triggeredAt.Int64, 0)
		cb.TriggeredAt = &t
	}
	cb.UpdatedAt = time.Unix(updatedAt, 0)
	return &cb, nil
}

func scanBreakerRows(rows *sql.Rows) (*domain.CircuitBreaker, error) {
	cb, err := scanBreaker(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan breaker: %w", err)
	}
	return cb, nil
}
