package dto

import (
	"time"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// UpdatePreferencesRequest mutates a guardian's delivery preferences. The
// emergency category has no field here on purpose: it cannot be toggled.
type UpdatePreferencesRequest struct {
	PreferredChannel     *models.Channel `json:"preferredChannel,omitempty"`
	GlobalOptOut         *bool           `json:"globalOptOut,omitempty"`
	ReceivesAttendance   *bool           `json:"receivesAttendance,omitempty"`
	ReceivesAcademic     *bool           `json:"receivesAcademic,omitempty"`
	ReceivesFeeUpdates   *bool           `json:"receivesFeeUpdates,omitempty"`
	ReceivesAnnouncement *bool           `json:"receivesAnnouncements,omitempty"`
	ReceivesEvents       *bool           `json:"receivesEvents,omitempty"`
	QuietHoursStart      *int            `json:"quietHoursStart,omitempty" validate:"omitempty,min=0,max=23"`
	QuietHoursEnd        *int            `json:"quietHoursEnd,omitempty" validate:"omitempty,min=0,max=23"`
	WeeklyMessageCap     *int            `json:"weeklyMessageCap,omitempty" validate:"omitempty,min=0"`
}

// RecordOptOutRequest creates a scope-qualified opt-out.
type RecordOptOutRequest struct {
	GuardianID string                  `json:"guardianId" validate:"required"`
	StudentID  *string                 `json:"studentId,omitempty"`
	Category   *models.ConsentCategory `json:"category,omitempty"`
	Scope      models.OptOutScope      `json:"scope" validate:"required"`
	ExpiresAt  *time.Time              `json:"expiresAt,omitempty"`
}
