package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/audit"
	"github.com/delfos-capital/delfos/internal/modules/breakers"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/reconciliation"
)

// Handlers exposes the campaign core's operation surface over HTTP
type Handlers struct {
	campaigns *campaign.Service
	ledger    *audit.Service
	registry  *breakers.Registry
	recon     *reconciliation.Engine
	log       zerolog.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(
	campaigns *campaign.Service,
	ledger *audit.Service,
	registry *breakers.Registry,
	recon *reconciliation.Engine,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		campaigns: campaigns,
		ledger:    ledger,
		registry:  registry,
		recon:     recon,
		log:       log.With().Str("component", "handlers").Logger(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Route("/{campaignID}", func(r chi.Router) {
			r.Get("/", h.HandleMetrics)
			r.Post("/pause", h.HandlePause)
			r.Post("/resume", h.HandleResume)
			r.Post("/stop", h.HandleStop)
			r.Post("/rebalance", h.HandleRebalanceNow)
			r.Get("/ledger", h.HandleLedgerHistory)
			r.Get("/ledger/verify", h.HandleVerifyChain)
			r.Get("/integrity", h.HandleVerifyIntegrity)
			r.Get("/reconciliations", h.HandleReconHistory)
			r.Post("/reconcile", h.HandleReconcileNow)
		})
	})

	r.Post("/reconciliations/{recordID}/resolve", h.HandleResolveRecon)

	r.Route("/portfolios/{portfolioID}/breakers", func(r chi.Router) {
		r.Get("/", h.HandleListBreakers)
		r.Post("/reset", h.HandleResetBreaker)
	})
}

// actorFrom identifies the caller for audit attribution
func actorFrom(r *http.Request) domain.Actor {
	id := r.Header.Get("X-Operator-Id")
	if id == "" {
		id = "anonymous"
	}
	return domain.Actor{Type: "api", ID: id}
}

// HandleStart starts a new campaign
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var params campaign.StartParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, domain.ValidationErr("invalid request body: %v", err))
		return
	}

	c, err := h.campaigns.Start(params, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

// HandleMetrics returns the aggregated campaign view
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.campaigns.GetMetrics(chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, metrics)
}

// HandlePause pauses an active campaign
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.campaigns.Pause(chi.URLParam(r, "campaignID"), body.Reason, actorFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// HandleResume resumes a paused campaign
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		h.writeError(w, domain.ValidationErr("user_id is required"))
		return
	}

	if err := h.campaigns.Resume(chi.URLParam(r, "campaignID"), body.UserID, actorFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// HandleStop stops a campaign, liquidating its positions first
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "manual_stop"
	}

	if err := h.campaigns.Stop(r.Context(), chi.URLParam(r, "campaignID"), body.Reason, actorFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleRebalanceNow triggers an immediate rebalance
func (h *Handlers) HandleRebalanceNow(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Rebalance(r.Context(), chi.URLParam(r, "campaignID"), actorFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rebalanced"})
}

// HandleLedgerHistory returns the campaign's full audit trail
func (h *Handlers) HandleLedgerHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.History(chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleVerifyChain re-verifies the campaign's hash chain and signatures
func (h *Handlers) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.VerifyChain(chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleVerifyIntegrity recomputes the campaign's lock hash
func (h *Handlers) HandleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.VerifyIntegrity(chi.URLParam(r, "campaignID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"intact": true})
}

// HandleReconHistory returns the campaign's reconciliation runs
func (h *Handlers) HandleReconHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.recon.History(chi.URLParam(r, "campaignID"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// HandleReconcileNow runs an on-demand reconciliation
func (h *Handlers) HandleReconcileNow(w http.ResponseWriter, r *http.Request) {
	rec, err := h.recon.ReconcileCampaign(r.Context(), chi.URLParam(r, "campaignID"), reconciliation.RunOnDemand, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleResolveRecon marks a reconciliation record resolved
func (h *Handlers) HandleResolveRecon(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResolvedBy string `json:"resolved_by"`
		Note       string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ResolvedBy == "" {
		h.writeError(w, domain.ValidationErr("resolved_by is required"))
		return
	}

	if err := h.recon.Resolve(chi.URLParam(r, "recordID"), body.ResolvedBy, body.Note, actorFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

// HandleListBreakers lists a portfolio's circuit breakers
func (h *Handlers) HandleListBreakers(w http.ResponseWriter, r *http.Request) {
	cbs, err := h.registry.List(chi.URLParam(r, "portfolioID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": cbs,
		"count":    len(cbs),
	})
}

// HandleResetBreaker manually resets a breaker
func (h *Handlers) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope    string `json:"scope"`
		ScopeKey string `json:"scope_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Scope == "" {
		h.writeError(w, domain.ValidationErr("scope is required"))
		return
	}

	err := h.registry.Reset(chi.URLParam(r, "portfolioID"), domain.BreakerScope(body.Scope), body.ScopeKey, "manual")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps domain errors onto HTTP status codes. Every rejection
// carries its kind and the specific reason.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := "internal"

	var blocked *domain.BreakerBlockedError
	switch {
	case errors.As(err, &blocked):
		code = http.StatusConflict
		kind = "breaker_blocked"
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusBadRequest
		kind = "validation"
	case errors.Is(err, domain.ErrGovernance):
		code = http.StatusForbidden
		kind = "governance"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		kind = "not_found"
	case errors.Is(err, domain.ErrInsufficientCapital):
		code = http.StatusConflict
		kind = "insufficient_capital"
	case errors.Is(err, domain.ErrInvalidTransition):
		code = http.StatusConflict
		kind = "invalid_transition"
	case errors.Is(err, domain.ErrLiquidationIncomplete):
		code = http.StatusConflict
		kind = "liquidation_incomplete"
	case errors.Is(err, domain.ErrIntegrityViolation):
		code = http.StatusConflict
		kind = "integrity_violation"
	case errors.Is(err, domain.ErrReconciliationFailure):
		code = http.StatusBadGateway
		kind = "reconciliation_failure"
	}

	if code == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	h.writeJSON(w, code, map[string]string{
		"kind":  kind,
		"error": err.Error(),
	})
}
