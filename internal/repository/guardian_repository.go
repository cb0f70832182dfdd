package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

// GuardianRepository persists guardians and their student links.
type GuardianRepository struct {
	db                   *sqlx.DB
	maxPerStudent        int
	maxPrimaryPerStudent int
}

// NewGuardianRepository constructs the repository with roster caps.
func NewGuardianRepository(db *sqlx.DB, maxPerStudent, maxPrimaryPerStudent int) *GuardianRepository {
	if maxPerStudent <= 0 {
		maxPerStudent = 4
	}
	if maxPrimaryPerStudent <= 0 {
		maxPrimaryPerStudent = 2
	}
	return &GuardianRepository{db: db, maxPerStudent: maxPerStudent, maxPrimaryPerStudent: maxPrimaryPerStudent}
}

// Create inserts a new guardian.
func (r *GuardianRepository) Create(ctx context.Context, guardian *models.Guardian) error {
	if guardian.ID == "" {
		guardian.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	guardian.CreatedAt = now
	guardian.UpdatedAt = now
	const query = `INSERT INTO guardians (id, full_name, phone, whatsapp, email, user_id, school_id, created_at, updated_at)
		VALUES (:id, :full_name, :phone, :whatsapp, :email, :user_id, :school_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, guardian); err != nil {
		return fmt.Errorf("create guardian: %w", err)
	}
	return nil
}

// FindByID returns one guardian.
func (r *GuardianRepository) FindByID(ctx context.Context, id string) (*models.Guardian, error) {
	const query = `SELECT id, full_name, phone, whatsapp, email, user_id, school_id, created_at, updated_at FROM guardians WHERE id = $1`
	var guardian models.Guardian
	if err := r.db.GetContext(ctx, &guardian, query, id); err != nil {
		return nil, err
	}
	return &guardian, nil
}

// Link attaches a guardian to a student, enforcing the rights invariant and
// the per-student roster caps before anything is written.
func (r *GuardianRepository) Link(ctx context.Context, link *models.GuardianStudentLink) error {
	if err := link.ValidateRights(); err != nil {
		return err
	}

	var total int
	const countQuery = `SELECT COUNT(*) FROM guardian_student_links WHERE student_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, link.StudentID); err != nil {
		return fmt.Errorf("count guardian links: %w", err)
	}
	if total >= r.maxPerStudent {
		return appErrors.ErrGuardianLimit
	}

	if link.Role == models.RolePrimaryGuardian {
		var primaries int
		const primaryQuery = `SELECT COUNT(*) FROM guardian_student_links WHERE student_id = $1 AND role = $2`
		if err := r.db.GetContext(ctx, &primaries, primaryQuery, link.StudentID, models.RolePrimaryGuardian); err != nil {
			return fmt.Errorf("count primary guardians: %w", err)
		}
		if primaries >= r.maxPrimaryPerStudent {
			return appErrors.ErrPrimaryLimit
		}
	}

	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	link.CreatedAt = now
	link.UpdatedAt = now
	const query = `INSERT INTO guardian_student_links
		(id, guardian_id, student_id, role, can_pickup, can_make_decisions, can_receive_reports, can_receive_emergency, receives_all_comms, contact_priority, created_at, updated_at)
		VALUES (:id, :guardian_id, :student_id, :role, :can_pickup, :can_make_decisions, :can_receive_reports, :can_receive_emergency, :receives_all_comms, :contact_priority, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, link); err != nil {
		return fmt.Errorf("create guardian link: %w", err)
	}
	return nil
}

// ListForStudent returns all guardians linked to a student ordered by contact
// priority (lower first).
func (r *GuardianRepository) ListForStudent(ctx context.Context, studentID string) ([]models.GuardianStudentLink, error) {
	const query = `SELECT id, guardian_id, student_id, role, can_pickup, can_make_decisions, can_receive_reports, can_receive_emergency, receives_all_comms, contact_priority, created_at, updated_at
		FROM guardian_student_links WHERE student_id = $1 ORDER BY contact_priority ASC`
	links := []models.GuardianStudentLink{}
	if err := r.db.SelectContext(ctx, &links, query, studentID); err != nil {
		return nil, fmt.Errorf("list guardian links: %w", err)
	}
	return links, nil
}

// FindLink returns the link between one guardian and one student.
func (r *GuardianRepository) FindLink(ctx context.Context, guardianID, studentID string) (*models.GuardianStudentLink, error) {
	const query = `SELECT id, guardian_id, student_id, role, can_pickup, can_make_decisions, can_receive_reports, can_receive_emergency, receives_all_comms, contact_priority, created_at, updated_at
		FROM guardian_student_links WHERE guardian_id = $1 AND student_id = $2`
	var link models.GuardianStudentLink
	if err := r.db.GetContext(ctx, &link, query, guardianID, studentID); err != nil {
		return nil, err
	}
	return &link, nil
}
