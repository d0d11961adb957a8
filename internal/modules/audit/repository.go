package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/database"
	"github.com/delfos-capital/delfos/internal/domain"
)

// appendRetries bounds retries when two appends race for the same sequence number
const appendRetries = 3

// Repository handles audit ledger persistence. The ledger database runs with
// the ledger profile (synchronous FULL); rows are never updated or deleted.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new audit ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "audit_ledger").Logger(),
	}
}

// entryColumns avoids SELECT * which breaks when schema changes
const entryColumns = `id, campaign_id, sequence, event_type, severity, event_data, previous_hash, entry_hash, signature, sig_algorithm, signer, actor_type, actor_id, timestamp`

// buildEntryFn computes a complete entry given the chain tail. prevHash is
// empty and sequence is 1 for the first entry of a campaign.
type buildEntryFn func(prevHash string, sequence int64) (domain.AuditLedgerEntry, error)

// Append inserts a new ledger entry for the campaign. The read of the chain
// tail and the insert run in one transaction; the UNIQUE(campaign_id, sequence)
// constraint catches two concurrent appends computing the same next sequence,
// and the losing append retries against the freshly committed previous hash.
func (r *Repository) Append(campaignID string, build buildEntryFn) (*domain.AuditLedgerEntry, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		entry, err := r.tryAppend(campaignID, build)
		if err == nil {
			return entry, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
		r.log.Debug().
			Str("campaign_id", campaignID).
			Int("attempt", attempt+1).
			Msg("Sequence conflict on ledger append, retrying")
	}
	return nil, fmt.Errorf("ledger append lost sequence race %d times: %w", appendRetries, lastErr)
}

func (r *Repository) tryAppend(campaignID string, build buildEntryFn) (*domain.AuditLedgerEntry, error) {
	var entry domain.AuditLedgerEntry

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var prevHash string
		var sequence int64

		row := tx.QueryRow(
			`SELECT sequence, entry_hash FROM audit_ledger_entries
			 WHERE campaign_id = ? ORDER BY sequence DESC LIMIT 1`, campaignID)
		var lastSeq int64
		var lastHash string
		switch err := row.Scan(&lastSeq, &lastHash); {
		case errors.Is(err, sql.ErrNoRows):
			sequence = 1
		case err != nil:
			return fmt.Errorf("failed to read chain tail: %w", err)
		default:
			sequence = lastSeq + 1
			prevHash = lastHash
		}

		built, err := build(prevHash, sequence)
		if err != nil {
			return err
		}
		entry = built

		res, err := tx.Exec(
			`INSERT INTO audit_ledger_entries
			 (campaign_id, sequence, event_type, severity, event_data, previous_hash,
			  entry_hash, signature, sig_algorithm, signer, actor_type, actor_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.CampaignID, entry.Sequence, entry.EventType, string(entry.Severity),
			string(entry.EventData), nullString(entry.PreviousHash), entry.EntryHash,
			nullString(entry.Signature), nullString(entry.SigAlgorithm), nullString(entry.Signer),
			entry.ActorType, entry.ActorID, entry.Timestamp.Unix(),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted entry id: %w", err)
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// ListByCampaign returns all entries for a campaign in sequence order
func (r *Repository) ListByCampaign(campaignID string) ([]domain.AuditLedgerEntry, error) {
	query := "SELECT " + entryColumns + ` FROM audit_ledger_entries
		WHERE campaign_id = ? ORDER BY sequence ASC`

	rows, err := r.db.Query(query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (domain.AuditLedgerEntry, error) {
	var e domain.AuditLedgerEntry
	var eventData string
	var prevHash, signature, sigAlg, signer sql.NullString
	var ts int64

	if err := rows.Scan(&e.ID, &e.CampaignID, &e.Sequence, &e.EventType, &e.Severity,
		&eventData, &prevHash, &e.EntryHash, &signature, &sigAlg, &signer,
		&e.ActorType, &e.ActorID, &ts); err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	e.EventData = []byte(eventData)
	e.PreviousHash = prevHash.String
	e.Signature = signature.String
	e.SigAlgorithm = sigAlg.String
	e.Signer = signer.String
	e.Timestamp = time.Unix(ts, 0)
	return e, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
