// Package reconciliation diffs internally tracked positions and orders
// against the exchange's reported state to detect drift.
package reconciliation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/delfos-capital/delfos/internal/clients/exchange"
	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/events"
	"github.com/delfos-capital/delfos/internal/modules/audit"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
)

// Run types
const (
	RunScheduled = "scheduled"
	RunOnDemand  = "on_demand"
)

// Run statuses
const (
	StatusOK       = "ok"
	StatusMismatch = "mismatch"
	StatusFailed   = "failed"
)

// ExchangeAPI is the slice of the exchange client the engine needs
type ExchangeAPI interface {
	OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error)
	Balances(ctx context.Context) ([]exchange.Balance, error)
}

// InternalSnapshot captures the campaign-scoped state on our side at the
// moment of comparison
type InternalSnapshot struct {
	Positions []domain.Position `msgpack:"positions"`
	Orders    []domain.Order    `msgpack:"orders"`
	TakenAt   int64             `msgpack:"taken_at"`
}

// ExternalSnapshot captures what the exchange reported, with symbols already
// normalized to the internal canonical form
type ExternalSnapshot struct {
	Orders   []exchange.OpenOrder `msgpack:"orders"`
	Balances []exchange.Balance   `msgpack:"balances"`
	TakenAt  int64                `msgpack:"taken_at"`
}

// Engine runs reconciliations. It never retries exchange failures itself;
// retry policy belongs to the caller.
type Engine struct {
	repo       *Repository
	campaigns  *campaign.Repository
	portfolios *portfolio.Repository
	ledger     *audit.Service
	api        ExchangeAPI
	log        zerolog.Logger
}

// NewEngine creates a reconciliation engine
func NewEngine(
	repo *Repository,
	campaigns *campaign.Repository,
	portfolios *portfolio.Repository,
	ledger *audit.Service,
	api ExchangeAPI,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		repo:       repo,
		campaigns:  campaigns,
		portfolios: portfolios,
		ledger:     ledger,
		api:        api,
		log:        log.With().Str("service", "reconciliation").Logger(),
	}
}

// ReconcileCampaign fetches both snapshots, classifies discrepancies,
// persists the run and updates the campaign's reconciliation status. An
// exchange failure is itself persisted as a failed run before the error is
// surfaced.
func (e *Engine) ReconcileCampaign(ctx context.Context, campaignID, runType string, actor domain.Actor) (*domain.ReconciliationRecord, error) {
	c, err := e.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}

	internal, err := e.internalSnapshot(campaignID)
	if err != nil {
		return nil, err
	}

	external, fetchErr := e.externalSnapshot(ctx)
	if fetchErr != nil {
		if _, persistErr := e.persistRun(c, runType, StatusFailed, internal, &ExternalSnapshot{TakenAt: time.Now().Unix()}, nil, actor); persistErr != nil {
			e.log.Error().Err(persistErr).Str("campaign_id", campaignID).Msg("Failed to persist failed reconciliation run")
		}
		return nil, fmt.Errorf("%w: exchange snapshot failed: %v", domain.ErrReconciliationFailure, fetchErr)
	}

	discrepancies := classify(internal, external)

	status := StatusOK
	if len(discrepancies) > 0 {
		status = StatusMismatch
	}

	return e.persistRun(c, runType, status, internal, external, discrepancies, actor)
}

// Resolve marks a reconciliation record resolved and records who did it and
// why on the campaign's audit ledger. Resolution is always explicit.
func (e *Engine) Resolve(recordID, resolvedBy, note string, actor domain.Actor) error {
	rec, err := e.repo.Get(recordID)
	if err != nil {
		return err
	}

	if err := e.repo.Resolve(recordID, resolvedBy, note); err != nil {
		return err
	}

	_, err = e.ledger.Append(rec.CampaignID, domain.SeverityAudit, actor, &events.ReconResolvedData{
		RecordID:   recordID,
		ResolvedBy: resolvedBy,
		Note:       note,
	})
	return err
}

// History returns a campaign's reconciliation runs, newest first
func (e *Engine) History(campaignID string, limit int) ([]domain.ReconciliationRecord, error) {
	return e.repo.ListByCampaign(campaignID, limit)
}

func (e *Engine) internalSnapshot(campaignID string) (*InternalSnapshot, error) {
	positions, err := e.portfolios.GetOpenPositions(campaignID)
	if err != nil {
		return nil, err
	}
	orders, err := e.portfolios.GetOpenOrders(campaignID)
	if err != nil {
		return nil, err
	}
	return &InternalSnapshot{
		Positions: positions,
		Orders:    orders,
		TakenAt:   time.Now().Unix(),
	}, nil
}

func (e *Engine) externalSnapshot(ctx context.Context) (*ExternalSnapshot, error) {
	orders, err := e.api.OpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders query failed: %w", err)
	}
	balances, err := e.api.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("balances query failed: %w", err)
	}

	for i := range orders {
		orders[i].Symbol = exchange.NormalizeSymbol(orders[i].Symbol)
	}
	return &ExternalSnapshot{
		Orders:   orders,
		Balances: balances,
		TakenAt:  time.Now().Unix(),
	}, nil
}

// classify compares the two snapshots and returns every divergence found.
// Matching is by exchange order id; symbols in the external snapshot are
// already normalized.
func classify(internal *InternalSnapshot, external *ExternalSnapshot) []domain.Discrepancy {
	externalByID := make(map[string]exchange.OpenOrder, len(external.Orders))
	for _, o := range external.Orders {
		externalByID[o.OrderID] = o
	}

	var found []domain.Discrepancy
	matchedExternal := make(map[string]bool, len(external.Orders))

	for _, o := range internal.Orders {
		if o.ExchangeOrderID == "" {
			found = append(found, domain.Discrepancy{
				Type:     domain.DiscrepancyOrderMismatch,
				Severity: domain.DiscrepancyMedium,
				Symbol:   o.Symbol,
				OrderID:  fmt.Sprintf("%d", o.ID),
				Detail:   fmt.Sprintf("internal order %d (%s) has no exchange order-id reference", o.ID, o.Symbol),
			})
			continue
		}
		if _, ok := externalByID[o.ExchangeOrderID]; !ok {
			found = append(found, domain.Discrepancy{
				Type:       domain.DiscrepancyOrphanDelfos,
				Severity:   domain.DiscrepancyHigh,
				Symbol:     o.Symbol,
				OrderID:    fmt.Sprintf("%d", o.ID),
				ExternalID: o.ExchangeOrderID,
				Detail:     fmt.Sprintf("internal order %d references exchange order %s which the exchange no longer reports, internal state is likely stale", o.ID, o.ExchangeOrderID),
			})
			continue
		}
		matchedExternal[o.ExchangeOrderID] = true
	}

	for _, o := range external.Orders {
		if matchedExternal[o.OrderID] {
			continue
		}
		found = append(found, domain.Discrepancy{
			Type:       domain.DiscrepancyOrphanExchange,
			Severity:   domain.DiscrepancyMedium,
			Symbol:     o.Symbol,
			ExternalID: o.OrderID,
			Detail:     fmt.Sprintf("exchange order %s (%s) has no internal counterpart, possibly a manual trade", o.OrderID, o.Symbol),
		})
	}

	return found
}

func (e *Engine) persistRun(
	c *domain.Campaign,
	runType, status string,
	internal *InternalSnapshot,
	external *ExternalSnapshot,
	discrepancies []domain.Discrepancy,
	actor domain.Actor,
) (*domain.ReconciliationRecord, error) {
	internalBlob, err := msgpack.Marshal(internal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode internal snapshot: %w", err)
	}
	externalBlob, err := msgpack.Marshal(external)
	if err != nil {
		return nil, fmt.Errorf("failed to encode external snapshot: %w", err)
	}

	contentHash, err := computeContentHash(internalBlob, externalBlob, discrepancies)
	if err != nil {
		return nil, err
	}

	rec := domain.ReconciliationRecord{
		ID:               uuid.New().String(),
		CampaignID:       c.ID,
		Type:             runType,
		Status:           status,
		InternalSnapshot: internalBlob,
		ExternalSnapshot: externalBlob,
		Discrepancies:    discrepancies,
		ContentHash:      contentHash,
		CreatedAt:        time.Now(),
	}
	if err := e.repo.Create(rec); err != nil {
		return nil, err
	}

	// A failed fetch proves nothing about drift, so the campaign keeps its
	// previous ok/mismatch status
	if status != StatusFailed {
		reconStatus := domain.ReconOK
		if status == StatusMismatch {
			reconStatus = domain.ReconMismatch
		}
		if err := e.campaigns.UpdateReconStatus(c.ID, reconStatus, rec.CreatedAt); err != nil {
			return nil, err
		}
	}

	severity := domain.SeverityInfo
	if len(discrepancies) > 0 || status == StatusFailed {
		severity = domain.SeverityWarning
	}
	if _, err := e.ledger.Append(c.ID, severity, actor, &events.ReconCompletedData{
		RecordID:         rec.ID,
		Status:           status,
		DiscrepancyCount: len(discrepancies),
		ContentHash:      contentHash,
	}); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("campaign_id", c.ID).
		Str("status", status).
		Int("discrepancies", len(discrepancies)).
		Msg("Reconciliation run recorded")

	return &rec, nil
}

// computeContentHash covers both snapshot encodings and the discrepancy list
func computeContentHash(internalBlob, externalBlob []byte, discrepancies []domain.Discrepancy) (string, error) {
	discrepanciesJSON, err := json.Marshal(discrepancies)
	if err != nil {
		return "", fmt.Errorf("failed to encode discrepancies for hashing: %w", err)
	}
	h := sha256.New()
	h.Write(internalBlob)
	h.Write(externalBlob)
	h.Write(discrepanciesJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}
