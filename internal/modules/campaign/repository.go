// Package campaign implements the campaign state machine, capital ledger and
// governance eligibility checks.
package campaign

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
)

// Repository handles campaign and risk-state database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new campaign repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "campaign").Logger(),
	}
}

// campaignColumns avoids SELECT * which breaks when schema changes
const campaignColumns = `id, portfolio_id, name, profile_tier, start_date, end_date, initial_capital, current_equity, max_drawdown_pct, risk_multiplier, risk_config, status, is_locked, lock_hash, creation_hash, recon_status, recon_checked_at, stop_reason, created_at, updated_at`

// Create inserts a campaign record
func (r *Repository) Create(c domain.Campaign) error {
	query := `INSERT INTO campaigns
		(id, portfolio_id, name, profile_tier, start_date, end_date, initial_capital,
		 current_equity, max_drawdown_pct, risk_multiplier, risk_config, status,
		 is_locked, lock_hash, creation_hash, recon_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	_, err := r.db.Exec(query,
		c.ID, c.PortfolioID, c.Name, string(c.ProfileTier),
		c.StartDate.Unix(), c.EndDate.Unix(), c.InitialCapital,
		c.CurrentEquity, c.MaxDrawdownPct, c.RiskMultiplier, c.RiskConfigJSON,
		string(c.Status), boolToInt(c.IsLocked), nullString(c.LockHash), nullString(c.CreationHash),
		string(domain.ReconUnknown), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Get retrieves a campaign by id
func (r *Repository) Get(id string) (*domain.Campaign, error) {
	query := "SELECT " + campaignColumns + " FROM campaigns WHERE id = ?"

	row := r.db.QueryRow(query, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListByStatus returns campaigns in the given status
func (r *Repository) ListByStatus(status domain.CampaignStatus) ([]domain.Campaign, error) {
	query := "SELECT " + campaignColumns + " FROM campaigns WHERE status = ? ORDER BY created_at"

	rows, err := r.db.Query(query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var list []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// UpdateStatus transitions a campaign's status, guarded by the expected
// current status so concurrent transitions cannot double-apply
func (r *Repository) UpdateStatus(id string, from, to domain.CampaignStatus, stopReason string) error {
	query := `UPDATE campaigns SET status = ?, stop_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	res, err := r.db.Exec(query, string(to), nullString(stopReason), time.Now().Unix(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read status update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: campaign %s is not %s", domain.ErrInvalidTransition, id, from)
	}
	return nil
}

// Delete removes a campaign row and its risk state. Only used to compensate
// a failed start; settled campaigns are never deleted.
func (r *Repository) Delete(id string) error {
	if _, err := r.db.Exec(`DELETE FROM campaign_risk_state WHERE campaign_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete campaign risk state: %w", err)
	}
	if _, err := r.db.Exec(`DELETE FROM campaigns WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	return nil
}

// UpdateEquity persists the denormalized equity mirror on the campaign row
func (r *Repository) UpdateEquity(id string, equity float64) error {
	query := `UPDATE campaigns SET current_equity = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(query, equity, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update campaign equity: %w", err)
	}
	return nil
}

// Lock stores the creation and lock hashes and marks the campaign locked
func (r *Repository) Lock(id, creationHash, lockHash string) error {
	query := `UPDATE campaigns SET is_locked = 1, creation_hash = ?, lock_hash = ?, updated_at = ?
		WHERE id = ? AND is_locked = 0`

	res, err := r.db.Exec(query, creationHash, lockHash, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to lock campaign: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read lock result: %w", err)
	}
	if affected == 0 {
		return domain.ValidationErr("campaign %s is already locked", id)
	}
	return nil
}

// UpdateReconStatus records the outcome of a reconciliation run
func (r *Repository) UpdateReconStatus(id string, status domain.ReconStatus, checkedAt time.Time) error {
	query := `UPDATE campaigns SET recon_status = ?, recon_checked_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(query, string(status), checkedAt.Unix(), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update reconciliation status: %w", err)
	}
	return nil
}

// GetRiskState retrieves a campaign's risk state; nil when none exists
func (r *Repository) GetRiskState(campaignID string) (*domain.CampaignRiskState, error) {
	query := `SELECT campaign_id, equity, equity_high_water, daily_pnl, losses_in_r,
		breaker_triggered, var_95, es_95, tradable_symbols, updated_at
		FROM campaign_risk_state WHERE campaign_id = ?`

	var rs domain.CampaignRiskState
	var lossesJSON, symbolsJSON string
	var breakerTriggered int
	var updatedAt int64

	err := r.db.QueryRow(query, campaignID).Scan(
		&rs.CampaignID, &rs.Equity, &rs.EquityHighWater, &rs.DailyPnL, &lossesJSON,
		&breakerTriggered, &rs.VaR95, &rs.ES95, &symbolsJSON, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk state: %w", err)
	}

	if err := json.Unmarshal([]byte(lossesJSON), &rs.LossesInR); err != nil {
		return nil, fmt.Errorf("failed to decode losses_in_r: %w", err)
	}
	if err := json.Unmarshal([]byte(symbolsJSON), &rs.TradableSymbols); err != nil {
		return nil, fmt.Errorf("failed to decode tradable_symbols: %w", err)
	}
	rs.BreakerTriggered = breakerTriggered != 0
	rs.UpdatedAt = time.Unix(updatedAt, 0)
	return &rs, nil
}

// SaveRiskState inserts or replaces a campaign's risk state
func (r *Repository) SaveRiskState(rs domain.CampaignRiskState) error {
	losses := rs.LossesInR
	if losses == nil {
		losses = map[string]float64{}
	}
	lossesJSON, err := json.Marshal(losses)
	if err != nil {
		return fmt.Errorf("failed to encode losses_in_r: %w", err)
	}
	symbols := rs.TradableSymbols
	if symbols == nil {
		symbols = []string{}
	}
	symbolsJSON, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("failed to encode tradable_symbols: %w", err)
	}

	query := `INSERT OR REPLACE INTO campaign_risk_state
		(campaign_id, equity, equity_high_water, daily_pnl, losses_in_r,
		 breaker_triggered, var_95, es_95, tradable_symbols, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query, rs.CampaignID, rs.Equity, rs.EquityHighWater, rs.DailyPnL,
		string(lossesJSON), boolToInt(rs.BreakerTriggered), rs.VaR95, rs.ES95,
		string(symbolsJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save risk state: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var startDate, endDate, createdAt, updatedAt int64
	var isLocked int
	var lockHash, creationHash, stopReason sql.NullString
	var reconCheckedAt sql.NullInt64

	err := row.Scan(&c.ID, &c.PortfolioID, &c.Name, &c.ProfileTier,
		&startDate, &endDate, &c.InitialCapital, &c.CurrentEquity,
		&c.MaxDrawdownPct, &c.RiskMultiplier, &c.RiskConfigJSON, &c.Status,
		&isLocked, &lockHash, &creationHash, &c.ReconStatus, &reconCheckedAt,
		&stopReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.StartDate = time.Unix(startDate, 0)
	c.EndDate = time.Unix(endDate, 0)
	c.IsLocked = isLocked != 0
	c.LockHash = lockHash.String
	c.CreationHash = creationHash.String
	c.StopReason = stopReason.String
	if reconCheckedAt.Valid {
		t := time.Unix(reconCheckedAt.Int64, 0)
		c.ReconCheckedAt = &t
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
