package dto

import "github.com/noah-isme/sma-notify-api/internal/models"

// CreateGuardianRequest registers a new guardian contact.
type CreateGuardianRequest struct {
	FullName string  `json:"fullName" validate:"required"`
	Phone    *string `json:"phone,omitempty"`
	WhatsApp *string `json:"whatsapp,omitempty"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	SchoolID string  `json:"schoolId" validate:"required"`
}

// LinkGuardianRequest attaches a guardian to a student with role and rights.
type LinkGuardianRequest struct {
	GuardianID          string              `json:"guardianId" validate:"required"`
	StudentID           string              `json:"studentId" validate:"required"`
	Role                models.GuardianRole `json:"role" validate:"required"`
	CanPickup           bool                `json:"canPickup"`
	CanMakeDecisions    bool                `json:"canMakeDecisions"`
	CanReceiveReports   bool                `json:"canReceiveReports"`
	CanReceiveEmergency bool                `json:"canReceiveEmergency"`
	ReceivesAllComms    bool                `json:"receivesAllCommunications"`
	ContactPriority     int                 `json:"contactPriority" validate:"min=0"`
}

// GuardianWithLink pairs a guardian with the link that attaches it to a
// particular student.
type GuardianWithLink struct {
	Guardian models.Guardian            `json:"guardian"`
	Link     models.GuardianStudentLink `json:"link"`
}
