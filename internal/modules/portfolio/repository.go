// Package portfolio provides persistence for portfolios, positions and orders.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
)

// Repository handles portfolio, position and order database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// GetPortfolio retrieves a portfolio by id
func (r *Repository) GetPortfolio(id string) (*domain.Portfolio, error) {
	query := `SELECT id, name, currency, total_cash, available_cash, risk_config, updated_at
		FROM portfolios WHERE id = ?`

	var p domain.Portfolio
	var updatedAt int64
	err := r.db.QueryRow(query, id).Scan(
		&p.ID, &p.Name, &p.Currency, &p.TotalCash, &p.AvailableCash, &p.RiskConfig, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// CreatePortfolio inserts a portfolio record
func (r *Repository) CreatePortfolio(p domain.Portfolio) error {
	query := `INSERT INTO portfolios (id, name, currency, total_cash, available_cash, risk_config, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(query, p.ID, p.Name, string(p.Currency), p.TotalCash, p.AvailableCash,
		p.RiskConfig, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}
	return nil
}

// ReserveCash atomically decrements available cash, but only if the portfolio
// holds at least the requested amount. This is a single conditional UPDATE,
// never a read-then-write, so concurrent reservations on one portfolio cannot
// both succeed past the available balance.
func (r *Repository) ReserveCash(portfolioID string, amount float64) error {
	if amount <= 0 {
		return domain.ValidationErr("reservation amount must be positive, got %.2f", amount)
	}

	query := `UPDATE portfolios
		SET available_cash = available_cash - ?, updated_at = ?
		WHERE id = ? AND available_cash >= ?`

	res, err := r.db.Exec(query, amount, time.Now().Unix(), portfolioID, amount)
	if err != nil {
		return fmt.Errorf("failed to reserve cash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reservation result: %w", err)
	}
	if affected == 0 {
		// Either the portfolio does not exist or cash is short; distinguish
		// for the caller since the two reject differently.
		if _, getErr := r.GetPortfolio(portfolioID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: portfolio %s cannot cover %.2f", domain.ErrInsufficientCapital, portfolioID, amount)
	}

	r.log.Info().
		Str("portfolio_id", portfolioID).
		Float64("amount", amount).
		Msg("Cash reserved")

	return nil
}

// CreditCash adds cash back to the portfolio's available balance. Used both for
// compensating rollbacks of failed starts and for crediting final equity on
// campaign termination.
func (r *Repository) CreditCash(portfolioID string, amount float64) error {
	if amount < 0 {
		return domain.ValidationErr("credit amount cannot be negative, got %.2f", amount)
	}

	query := `UPDATE portfolios SET available_cash = available_cash + ?, updated_at = ? WHERE id = ?`

	res, err := r.db.Exec(query, amount, time.Now().Unix(), portfolioID)
	if err != nil {
		return fmt.Errorf("failed to credit cash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read credit result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("portfolio %s: %w", portfolioID, domain.ErrNotFound)
	}

	r.log.Info().
		Str("portfolio_id", portfolioID).
		Float64("amount", amount).
		Msg("Cash credited")

	return nil
}

// DebitCashClamped decrements available cash, clamping the result at zero.
// Used for defensive corrections where a shortfall must not fail the operation.
func (r *Repository) DebitCashClamped(portfolioID string, amount float64) error {
	if amount < 0 {
		return domain.ValidationErr("debit amount cannot be negative, got %.2f", amount)
	}

	query := `UPDATE portfolios
		SET available_cash = MAX(0, available_cash - ?), updated_at = ?
		WHERE id = ?`

	if _, err := r.db.Exec(query, amount, time.Now().Unix(), portfolioID); err != nil {
		return fmt.Errorf("failed to debit cash: %w", err)
	}
	return nil
}

// positionColumns avoids SELECT * which breaks when schema changes
const positionColumns = `id, campaign_id, symbol, quantity, average_cost, current_price, cluster, status, opened_at, closed_at`

// GetOpenPositions returns all open positions tagged with the campaign
func (r *Repository) GetOpenPositions(campaignID string) ([]domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE campaign_id = ? AND status = 'open'"

	rows, err := r.db.Query(query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// CreatePosition inserts a position record
func (r *Repository) CreatePosition(p domain.Position) (int64, error) {
	query := `INSERT INTO positions (campaign_id, symbol, quantity, average_cost, current_price, cluster, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.Exec(query, p.CampaignID, strings.ToUpper(strings.TrimSpace(p.Symbol)),
		p.Quantity, p.AverageCost, p.CurrentPrice, p.Cluster, "open", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create position: %w", err)
	}
	return res.LastInsertId()
}

// ClosePosition marks a position closed
func (r *Repository) ClosePosition(id int64) error {
	now := time.Now().Unix()
	query := `UPDATE positions SET status = 'closed', closed_at = ? WHERE id = ? AND status = 'open'`
	if _, err := r.db.Exec(query, now, id); err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	return nil
}

// orderColumns avoids SELECT * which breaks when schema changes
const orderColumns = `id, campaign_id, symbol, side, quantity, price, exchange_order_id, status, created_at`

// GetOpenOrders returns open orders scoped to the campaign
func (r *Repository) GetOpenOrders(campaignID string) ([]domain.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE campaign_id = ? AND status = 'open'"

	rows, err := r.db.Query(query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var exchangeID sql.NullString
		var createdAt int64
		if err := rows.Scan(&o.ID, &o.CampaignID, &o.Symbol, &o.Side, &o.Quantity, &o.Price,
			&exchangeID, &o.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.ExchangeOrderID = exchangeID.String
		o.CreatedAt = time.Unix(createdAt, 0)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateOrder inserts an order record
func (r *Repository) CreateOrder(o domain.Order) (int64, error) {
	query := `INSERT INTO orders (campaign_id, symbol, side, quantity, price, exchange_order_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.Exec(query, o.CampaignID, strings.ToUpper(strings.TrimSpace(o.Symbol)),
		o.Side, o.Quantity, o.Price, nullString(o.ExchangeOrderID), "open", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	return res.LastInsertId()
}

// GetProfile retrieves an investor profile by user id
func (r *Repository) GetProfile(userID string) (*domain.InvestorProfile, error) {
	query := `SELECT user_id, tier, plan_level, tenure_days, governance_score, antifraud_flags, terms_accepted
		FROM investor_profiles WHERE user_id = ?`

	var p domain.InvestorProfile
	var termsAccepted int
	err := r.db.QueryRow(query, userID).Scan(
		&p.UserID, &p.Tier, &p.PlanLevel, &p.TenureDays, &p.GovernanceScore, &p.AntifraudFlags, &termsAccepted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("investor profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investor profile: %w", err)
	}
	p.TermsAccepted = termsAccepted != 0
	return &p, nil
}

// UpsertProfile inserts or replaces an investor profile
func (r *Repository) UpsertProfile(p domain.InvestorProfile) error {
	query := `INSERT OR REPLACE INTO investor_profiles
		(user_id, tier, plan_level, tenure_days, governance_score, antifraud_flags, terms_accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	terms := 0
	if p.TermsAccepted {
		terms = 1
	}
	_, err := r.db.Exec(query, p.UserID, string(p.Tier), p.PlanLevel, p.TenureDays,
		p.GovernanceScore, p.AntifraudFlags, terms)
	if err != nil {
		return fmt.Errorf("failed to upsert investor profile: %w", err)
	}
	return nil
}

func scanPosition(rows *sql.Rows) (domain.Position, error) {
	var p domain.Position
	var openedAt int64
	var closedAt sql.NullInt64
	if err := rows.Scan(&p.ID, &p.CampaignID, &p.Symbol, &p.Quantity, &p.AverageCost,
		&p.CurrentPrice, &p.Cluster, &p.Status, &openedAt, &closedAt); err != nil {
		return p, fmt.Errorf("failed to scan position: %w", err)
	}
	p.OpenedAt = time.Unix(openedAt, 0)
	if closedAt.Valid {
		t := time.Unix(closedAt.Int64, 0)
		p.ClosedAt = &t
	}
	return p, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
