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

// PreferenceRepository persists guardian delivery preferences and opt-outs.
type PreferenceRepository struct {
	db *sqlx.DB
}

// NewPreferenceRepository constructs the repository.
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

const preferenceColumns = `id, guardian_id, preferred_channel, global_opt_out, receives_emergency, receives_attendance, receives_academic, receives_fee_updates, receives_announcements, receives_events, quiet_hours_start, quiet_hours_end, weekly_message_cap, created_at, updated_at`

// GetByGuardian returns stored preferences, or defaults when the guardian
// never expressed a choice.
func (r *PreferenceRepository) GetByGuardian(ctx context.Context, guardianID string) (*models.ParentPreferences, error) {
	const query = `SELECT ` + preferenceColumns + ` FROM parent_preferences WHERE guardian_id = $1`
	var prefs models.ParentPreferences
	if err := r.db.GetContext(ctx, &prefs, query, guardianID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultPreferences(guardianID), nil
		}
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	// The emergency flag is pinned true no matter what is stored.
	prefs.ReceivesEmergency = true
	return &prefs, nil
}

// Upsert creates or replaces a guardian's preferences (last write wins).
func (r *PreferenceRepository) Upsert(ctx context.Context, prefs *models.ParentPreferences) error {
	if prefs.ID == "" {
		prefs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if prefs.CreatedAt.IsZero() {
		prefs.CreatedAt = now
	}
	prefs.UpdatedAt = now
	prefs.ReceivesEmergency = true

	const query = `INSERT INTO parent_preferences (` + preferenceColumns + `)
		VALUES (:id, :guardian_id, :preferred_channel, :global_opt_out, :receives_emergency, :receives_attendance, :receives_academic, :receives_fee_updates, :receives_announcements, :receives_events, :quiet_hours_start, :quiet_hours_end, :weekly_message_cap, :created_at, :updated_at)
		ON CONFLICT (guardian_id) DO UPDATE
		SET preferred_channel = EXCLUDED.preferred_channel,
		    global_opt_out = EXCLUDED.global_opt_out,
		    receives_emergency = TRUE,
		    receives_attendance = EXCLUDED.receives_attendance,
		    receives_academic = EXCLUDED.receives_academic,
		    receives_fee_updates = EXCLUDED.receives_fee_updates,
		    receives_announcements = EXCLUDED.receives_announcements,
		    receives_events = EXCLUDED.receives_events,
		    quiet_hours_start = EXCLUDED.quiet_hours_start,
		    quiet_hours_end = EXCLUDED.quiet_hours_end,
		    weekly_message_cap = EXCLUDED.weekly_message_cap,
		    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, prefs); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// RecordChange appends a preference history entry.
func (r *PreferenceRepository) RecordChange(ctx context.Context, change *models.PreferenceChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO preference_changes (id, guardian_id, changed_by, old_values, new_values, created_at)
		VALUES (:id, :guardian_id, :changed_by, :old_values, :new_values, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, change); err != nil {
		return fmt.Errorf("record preference change: %w", err)
	}
	return nil
}

// ListChanges returns the preference history for a guardian, newest first.
func (r *PreferenceRepository) ListChanges(ctx context.Context, guardianID string) ([]models.PreferenceChange, error) {
	const query = `SELECT id, guardian_id, changed_by, old_values, new_values, created_at
		FROM preference_changes
		WHERE guardian_id = $1
		ORDER BY created_at DESC`
	changes := []models.PreferenceChange{}
	if err := r.db.SelectContext(ctx, &changes, query, guardianID); err != nil {
		return nil, fmt.Errorf("list preference changes: %w", err)
	}
	return changes, nil
}

// CreateOptOut appends a scope-qualified opt-out record.
func (r *PreferenceRepository) CreateOptOut(ctx context.Context, optOut *models.OptOutRecord) error {
	if optOut.ID == "" {
		optOut.ID = uuid.NewString()
	}
	if optOut.CreatedAt.IsZero() {
		optOut.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO opt_out_records (id, guardian_id, student_id, category, scope, expires_at, created_at)
		VALUES (:id, :guardian_id, :student_id, :category, :scope, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, optOut); err != nil {
		return fmt.Errorf("create opt-out: %w", err)
	}
	return nil
}

// ListOptOuts returns all opt-outs for a guardian, both guardian-wide rows
// and those scoped to the given student.
func (r *PreferenceRepository) ListOptOuts(ctx context.Context, guardianID, studentID string) ([]models.OptOutRecord, error) {
	const query = `SELECT id, guardian_id, student_id, category, scope, expires_at, created_at
		FROM opt_out_records
		WHERE guardian_id = $1 AND (student_id IS NULL OR student_id = $2)
		ORDER BY created_at DESC`
	optOuts := []models.OptOutRecord{}
	if err := r.db.SelectContext(ctx, &optOuts, query, guardianID, studentID); err != nil {
		return nil, fmt.Errorf("list opt-outs: %w", err)
	}
	return optOuts, nil
}
