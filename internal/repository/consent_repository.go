package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// ConsentRepository persists consent records. Records are append-only: a
// change of mind is always a new row, and history is never edited in place.
type ConsentRepository struct {
	db *sqlx.DB
}

// NewConsentRepository constructs the repository.
func NewConsentRepository(db *sqlx.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

const consentColumns = `id, guardian_id, student_id, category, status, source, granted_at, withdrawn_at, expires_at, recorded_by, synced_at, created_at`

// Create appends a new consent record.
func (r *ConsentRepository) Create(ctx context.Context, record *models.ConsentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO consent_records (` + consentColumns + `)
		VALUES (:id, :guardian_id, :student_id, :category, :status, :source, :granted_at, :withdrawn_at, :expires_at, :recorded_by, :synced_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create consent record: %w", err)
	}
	return nil
}

// Latest returns the newest consent record for a (guardian, student,
// category) tuple, plus a conflicting flag set when the two newest records
// were captured at the same instant with different statuses, which happens
// when two raw sources (say a paper form and a message reply) disagree.
func (r *ConsentRepository) Latest(ctx context.Context, guardianID, studentID string, category models.ConsentCategory) (*models.ConsentRecord, bool, error) {
	const query = `SELECT ` + consentColumns + ` FROM consent_records
		WHERE guardian_id = $1 AND student_id = $2 AND category = $3
		ORDER BY created_at DESC LIMIT 2`
	records := []models.ConsentRecord{}
	if err := r.db.SelectContext(ctx, &records, query, guardianID, studentID, category); err != nil {
		return nil, false, fmt.Errorf("load consent records: %w", err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	latest := records[0]
	conflicting := len(records) > 1 &&
		records[1].CreatedAt.Equal(latest.CreatedAt) &&
		records[1].Status != latest.Status
	return &latest, conflicting, nil
}

// FindByID returns one consent record.
func (r *ConsentRepository) FindByID(ctx context.Context, id string) (*models.ConsentRecord, error) {
	const query = `SELECT ` + consentColumns + ` FROM consent_records WHERE id = $1`
	var record models.ConsentRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListForStudent returns the newest record per guardian and category for one
// student, used to build the consent register.
func (r *ConsentRepository) ListForStudent(ctx context.Context, studentID string) ([]models.ConsentRecord, error) {
	const query = `SELECT DISTINCT ON (guardian_id, category) ` + consentColumns + `
		FROM consent_records WHERE student_id = $1
		ORDER BY guardian_id, category, created_at DESC`
	records := []models.ConsentRecord{}
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	return records, nil
}

// MarkSynced stamps an offline-captured record as synced. The record itself
// stays immutable apart from the sync marker.
func (r *ConsentRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	const query = `UPDATE consent_records SET synced_at = $2 WHERE id = $1 AND synced_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, syncedAt)
	if err != nil {
		return fmt.Errorf("mark consent synced: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether the error is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
