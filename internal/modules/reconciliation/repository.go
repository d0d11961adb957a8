package reconciliation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
)

const recordColumns = `id, campaign_id, type, status, internal_snapshot, external_snapshot,
	discrepancies, resolved, resolved_by, resolution_note, content_hash, created_at, resolved_at`

// Repository persists reconciliation records
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new reconciliation repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "reconciliation").Logger(),
	}
}

// Create persists a completed reconciliation run
func (r *Repository) Create(rec domain.ReconciliationRecord) error {
	discrepanciesJSON, err := json.Marshal(rec.Discrepancies)
	if err != nil {
		return fmt.Errorf("failed to encode discrepancies: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO reconciliation_records
			(id, campaign_id, type, status, internal_snapshot, external_snapshot,
			 discrepancies, resolved, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rec.ID, rec.CampaignID, rec.Type, rec.Status,
		rec.InternalSnapshot, rec.ExternalSnapshot,
		string(discrepanciesJSON), rec.ContentHash, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation record: %w", err)
	}
	return nil
}

// Get returns a reconciliation record by id
func (r *Repository) Get(id string) (*domain.ReconciliationRecord, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM reconciliation_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: reconciliation record %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation record: %w", err)
	}
	return rec, nil
}

// ListByCampaign returns a campaign's reconciliation history, newest first
func (r *Repository) ListByCampaign(campaignID string, limit int) ([]domain.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT `+recordColumns+`
		FROM reconciliation_records
		WHERE campaign_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation records: %w", err)
	}
	defer rows.Close()

	var records []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Resolve marks a record resolved. Guarded so an already-resolved record is
// not re-resolved.
func (r *Repository) Resolve(id, resolvedBy, note string) error {
	result, err := r.db.Exec(`
		UPDATE reconciliation_records
		SET resolved = 1, resolved_by = ?, resolution_note = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0`,
		resolvedBy, note, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := r.Get(id); getErr != nil {
			return getErr
		}
		return domain.ValidationErr("reconciliation record %s is already resolved", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.ReconciliationRecord, error) {
	var rec domain.ReconciliationRecord
	var discrepanciesJSON string
	var resolved int
	var resolvedBy, resolutionNote sql.NullString
	var createdAt int64
	var resolvedAt sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.Type, &rec.Status,
		&rec.InternalSnapshot, &rec.ExternalSnapshot,
		&discrepanciesJSON, &resolved, &resolvedBy, &resolutionNote,
		&rec.ContentHash, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(discrepanciesJSON), &rec.Discrepancies); err != nil {
		return nil, fmt.Errorf("failed to decode discrepancies: %w", err)
	}
	rec.Resolved = resolved != 0
	rec.ResolvedBy = resolvedBy.String
	rec.ResolutionNote = resolutionNote.String
	rec.CreatedAt = time.Unix(createdAt, 0)
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		rec.ResolvedAt = &t
	}
	return &rec, nil
}
