// Package execution provides the default in-process implementations of the
// liquidation and rebalance collaborators. Real order routing lives outside
// this core; these implementations keep the position ledger consistent.
package execution

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
)

// Liquidator closes a campaign's open positions at their last known price
type Liquidator struct {
	portfolios *portfolio.Repository
	log        zerolog.Logger
}

// NewLiquidator creates the position liquidator
func NewLiquidator(portfolios *portfolio.Repository, log zerolog.Logger) *Liquidator {
	return &Liquidator{
		portfolios: portfolios,
		log:        log.With().Str("service", "liquidator").Logger(),
	}
}

// CloseAllOpenPositions closes every open position for the campaign and
// returns the realized totals. PnL is marked against the last known price.
func (l *Liquidator) CloseAllOpenPositions(ctx context.Context, campaignID, reason string) (*campaign.LiquidationResult, error) {
	positions, err := l.portfolios.GetOpenPositions(campaignID)
	if err != nil {
		return nil, err
	}

	result := &campaign.LiquidationResult{}
	for i := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := positions[i]
		if err := l.portfolios.ClosePosition(p.ID); err != nil {
			return nil, err
		}
		result.ClosedCount++
		result.TotalPnL += (p.CurrentPrice - p.AverageCost) * p.Quantity
		result.Positions = append(result.Positions, p)
	}

	l.log.Info().
		Str("campaign_id", campaignID).
		Str("reason", reason).
		Int("closed", result.ClosedCount).
		Float64("total_pnl", result.TotalPnL).
		Msg("Open positions closed")

	return result, nil
}
