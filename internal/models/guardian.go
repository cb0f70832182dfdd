package models

import (
	"time"

	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

// GuardianRole describes the relationship of a guardian to a student.
type GuardianRole string

const (
	RolePrimaryGuardian      GuardianRole = "primary_guardian"
	RoleSecondaryGuardian    GuardianRole = "secondary_guardian"
	RoleInformationalContact GuardianRole = "informational_contact"
)

// Valid reports whether the role is one of the known guardian roles.
func (r GuardianRole) Valid() bool {
	switch r {
	case RolePrimaryGuardian, RoleSecondaryGuardian, RoleInformationalContact:
		return true
	}
	return false
}

// Guardian represents a parent or guardian contact. Phone numbers are not
// unique: shared-phone households are a supported configuration.
type Guardian struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	WhatsApp  *string   `db:"whatsapp" json:"whatsapp,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GuardianStudentLink is the edge between a guardian and a student carrying
// the guardian's role and per-student rights.
type GuardianStudentLink struct {
	ID                       string       `db:"id" json:"id"`
	GuardianID               string       `db:"guardian_id" json:"guardian_id"`
	StudentID                string       `db:"student_id" json:"student_id"`
	Role                     GuardianRole `db:"role" json:"role"`
	CanPickup                bool         `db:"can_pickup" json:"can_pickup"`
	CanMakeDecisions         bool         `db:"can_make_decisions" json:"can_make_decisions"`
	CanReceiveReports        bool         `db:"can_receive_reports" json:"can_receive_reports"`
	CanReceiveEmergency      bool         `db:"can_receive_emergency" json:"can_receive_emergency"`
	ReceivesAllComms         bool         `db:"receives_all_comms" json:"receives_all_communications"`
	ContactPriority          int          `db:"contact_priority" json:"contact_priority"`
	CreatedAt                time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time    `db:"updated_at" json:"updated_at"`
}

// ValidateRights rejects rights combinations that are never legal for the
// link's role. Informational contacts cannot pick up students or make
// decisions on their behalf, full stop.
func (l *GuardianStudentLink) ValidateRights() error {
	if !l.Role.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown guardian role")
	}
	if l.Role == RoleInformationalContact && (l.CanPickup || l.CanMakeDecisions) {
		return appErrors.ErrContactRights
	}
	return nil
}
