package dto

import (
	"time"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// RecordConsentRequest captures a new consent decision.
type RecordConsentRequest struct {
	GuardianID string                 `json:"guardianId" validate:"required"`
	StudentID  string                 `json:"studentId" validate:"required"`
	Category   models.ConsentCategory `json:"category" validate:"required"`
	Status     models.ConsentStatus   `json:"status" validate:"required"`
	Source     models.ConsentSource   `json:"source" validate:"required"`
	ExpiresAt  *time.Time             `json:"expiresAt,omitempty"`
}

// WithdrawConsentRequest revokes consent for one category.
type WithdrawConsentRequest struct {
	GuardianID string                 `json:"guardianId" validate:"required"`
	StudentID  string                 `json:"studentId" validate:"required"`
	Category   models.ConsentCategory `json:"category" validate:"required"`
	Reason     string                 `json:"reason"`
}

// OverrideRequest asks to force-allow a blocked category send.
type OverrideRequest struct {
	GuardianID string                 `json:"guardianId" validate:"required"`
	StudentID  string                 `json:"studentId" validate:"required"`
	Category   models.ConsentCategory `json:"category" validate:"required"`
	Reason     string                 `json:"reason" validate:"required"`
}

// OverrideResponse reports the applied override.
type OverrideResponse struct {
	Applied         bool   `json:"applied"`
	OriginalClarity string `json:"originalClarity"`
	AuditID         string `json:"auditId,omitempty"`
}

// OfflineConsentRequest captures a consent decision taken while the recording
// device had no connectivity; it is synced later.
type OfflineConsentRequest struct {
	GuardianID string                 `json:"guardianId" validate:"required"`
	StudentID  string                 `json:"studentId" validate:"required"`
	Category   models.ConsentCategory `json:"category" validate:"required"`
	Status     models.ConsentStatus   `json:"status" validate:"required"`
	Source     models.ConsentSource   `json:"source" validate:"required"`
	CapturedAt time.Time              `json:"capturedAt" validate:"required"`
}

// ConsentStatusItem is one row of a student's consent register.
type ConsentStatusItem struct {
	GuardianID string                 `json:"guardianId"`
	Category   models.ConsentCategory `json:"category"`
	Status     models.ConsentStatus   `json:"status"`
	Clarity    string                 `json:"clarity"`
	Source     models.ConsentSource   `json:"source,omitempty"`
	ExpiresAt  *time.Time             `json:"expiresAt,omitempty"`
}
