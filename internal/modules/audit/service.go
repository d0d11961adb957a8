package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/events"
)

// Service is the audit ledger: append-only, hash-chained, signed for critical
// and audit severities.
type Service struct {
	repo   *Repository
	signer *Signer
	log    zerolog.Logger
}

// NewService creates a new audit ledger service
func NewService(repo *Repository, signer *Signer, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		signer: signer,
		log:    log.With().Str("service", "audit_ledger").Logger(),
	}
}

// chainedFields is the canonical ordering of fields covered by the entry hash.
// Field order is fixed; encoding/json preserves struct declaration order, so
// identical inputs always produce identical bytes.
type chainedFields struct {
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"`
	EventData    json.RawMessage `json:"event_data"`
	PreviousHash string          `json:"previous_hash"`
	Sequence     int64           `json:"sequence"`
	ActorType    string          `json:"actor_type"`
	ActorID      string          `json:"actor_id"`
	Timestamp    int64           `json:"timestamp"`
}

// computeEntryHash hashes the canonical form of an entry's chained fields
func computeEntryHash(e *domain.AuditLedgerEntry) (string, error) {
	canonical, err := json.Marshal(chainedFields{
		EventType:    e.EventType,
		Severity:     string(e.Severity),
		EventData:    json.RawMessage(e.EventData),
		PreviousHash: e.PreviousHash,
		Sequence:     e.Sequence,
		ActorType:    e.ActorType,
		ActorID:      e.ActorID,
		Timestamp:    e.Timestamp.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Append validates the payload, chains it onto the campaign's ledger and signs
// it when the severity requires a signature. Sequence assignment is serialized
// by the repository's transactional append.
func (s *Service) Append(campaignID string, severity domain.Severity, actor domain.Actor, payload events.EventData) (*domain.AuditLedgerEntry, error) {
	if err := payload.Validate(); err != nil {
		return nil, domain.ValidationErr("invalid event payload: %v", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	now := time.Now().UTC()
	entry, err := s.repo.Append(campaignID, func(prevHash string, sequence int64) (domain.AuditLedgerEntry, error) {
		e := domain.AuditLedgerEntry{
			CampaignID:   campaignID,
			Sequence:     sequence,
			EventType:    string(payload.EventType()),
			Severity:     severity,
			EventData:    data,
			PreviousHash: prevHash,
			ActorType:    actor.Type,
			ActorID:      actor.ID,
			Timestamp:    now,
		}

		hash, err := computeEntryHash(&e)
		if err != nil {
			return e, err
		}
		e.EntryHash = hash

		if severity.RequiresSignature() {
			e.Signature = s.signer.Sign(hash)
			e.SigAlgorithm = SigAlgorithm
			e.Signer = s.signer.SignerID()
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("campaign_id", campaignID).
		Str("event_type", entry.EventType).
		Str("severity", string(severity)).
		Int64("sequence", entry.Sequence).
		Msg("Ledger entry appended")

	return entry, nil
}

// VerifyResult is the outcome of a chain verification
type VerifyResult struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors,omitempty"`
	BrokenChainAt *int64   `json:"broken_chain_at,omitempty"`
	EntryCount    int64    `json:"entry_count"`
}

// VerifyChain walks a campaign's entries in sequence order. It records the
// first chain break and still verifies hashes and signatures on every entry.
func (s *Service) VerifyChain(campaignID string) (*VerifyResult, error) {
	entries, err := s.repo.ListByCampaign(campaignID)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, EntryCount: int64(len(entries))}

	for i := range entries {
		e := &entries[i]

		// Sequence and linkage problems are structural; only the first break
		// is recorded, but hash and signature checks run on every entry
		if result.BrokenChainAt == nil {
			if e.Sequence != int64(i+1) {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("sequence gap: expected %d, found %d", i+1, e.Sequence))
				seq := e.Sequence
				result.BrokenChainAt = &seq
			} else if i == 0 {
				if e.PreviousHash != "" {
					result.Valid = false
					result.Errors = append(result.Errors, "first entry has a previous_hash")
					seq := e.Sequence
					result.BrokenChainAt = &seq
				}
			} else if e.PreviousHash != entries[i-1].EntryHash {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("chain broken at sequence %d: previous_hash does not match entry %d", e.Sequence, entries[i-1].Sequence))
				seq := e.Sequence
				result.BrokenChainAt = &seq
			}
		}

		// Stored payloads must decode as their declared type
		if _, err := events.DecodePayload(events.EventType(e.EventType), e.EventData); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("entry %d payload does not decode as %s: %v", e.Sequence, e.EventType, err))
		}

		// Recompute the content hash
		computed, err := computeEntryHash(e)
		if err != nil {
			return nil, err
		}
		if computed != e.EntryHash {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("entry %d hash mismatch: stored %s, computed %s", e.Sequence, e.EntryHash, computed))
			if result.BrokenChainAt == nil {
				seq := e.Sequence
				result.BrokenChainAt = &seq
			}
		}

		// Signatures are verified independently of the chain walk
		if e.Severity.RequiresSignature() {
			if e.Signature == "" {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("entry %d (%s) is missing its required signature", e.Sequence, e.Severity))
			} else if !s.signer.Verify(e.EntryHash, e.Signature) {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("entry %d signature verification failed", e.Sequence))
			}
		}
	}

	return result, nil
}

// History returns the ledger entries of a campaign in sequence order
func (s *Service) History(campaignID string) ([]domain.AuditLedgerEntry, error) {
	return s.repo.ListByCampaign(campaignID)
}

// LockParams is the immutable parameter set covered by a campaign's lock hash
type LockParams struct {
	CampaignID     string  `json:"campaign_id"`
	PortfolioID    string  `json:"portfolio_id"`
	Name           string  `json:"name"`
	ProfileTier    string  `json:"profile_tier"`
	InitialCapital float64 `json:"initial_capital"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	RiskConfig     string  `json:"risk_config"`
	StartDate      int64   `json:"start_date"`
	EndDate        int64   `json:"end_date"`
}

// LockParamsFor extracts the lock-covered parameters from a campaign
func LockParamsFor(c *domain.Campaign) LockParams {
	return LockParams{
		CampaignID:     c.ID,
		PortfolioID:    c.PortfolioID,
		Name:           c.Name,
		ProfileTier:    string(c.ProfileTier),
		InitialCapital: c.InitialCapital,
		MaxDrawdownPct: c.MaxDrawdownPct,
		RiskConfig:     c.RiskConfigJSON,
		StartDate:      c.StartDate.Unix(),
		EndDate:        c.EndDate.Unix(),
	}
}

// GenerateCampaignHash computes the deterministic hash over a campaign's
// immutable creation parameters. Any single-field change changes the hash.
func GenerateCampaignHash(params LockParams) (string, error) {
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize lock params: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the lock hash from the campaign's current
// persisted values and compares it with the stored lock hash. A mismatch is
// appended as a signed critical event and returned as ErrIntegrityViolation;
// it is never silently corrected.
func (s *Service) VerifyIntegrity(c *domain.Campaign) error {
	if !c.IsLocked {
		return domain.ValidationErr("campaign %s is not locked", c.ID)
	}

	computed, err := GenerateCampaignHash(LockParamsFor(c))
	if err != nil {
		return err
	}

	if computed == c.LockHash {
		return nil
	}

	s.log.Error().
		Str("campaign_id", c.ID).
		Str("stored_hash", c.LockHash).
		Str("computed_hash", computed).
		Msg("Campaign lock hash mismatch")

	_, appendErr := s.Append(c.ID, domain.SeverityCritical, domain.Actor{Type: "system", ID: "integrity_check"},
		&events.IntegrityViolationData{
			StoredHash:   c.LockHash,
			ComputedHash: computed,
			Detail:       "locked campaign parameters no longer match lock hash",
		})
	if appendErr != nil {
		// The violation still surfaces even if the ledger write fails
		s.log.Error().Err(appendErr).Str("campaign_id", c.ID).Msg("Failed to record integrity violation")
	}

	return fmt.Errorf("%w: campaign %s lock hash mismatch (requires manual investigation)", domain.ErrIntegrityViolation, c.ID)
}
