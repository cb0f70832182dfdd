package dto

import (
	"time"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// BlockReason is the typed, non-exceptional explanation for a refused
// admission. Blocked sends always carry one of these; they are never errors.
type BlockReason string

const (
	ReasonGlobalOptOut        BlockReason = "global_opt_out"
	ReasonChannelNone         BlockReason = "channel_none"
	ReasonCategoryOptOut      BlockReason = "category_opt_out"
	ReasonConsentNotGranted   BlockReason = "consent_not_granted"
	ReasonConsentWithdrawn    BlockReason = "consent_withdrawn"
	ReasonQuietHours          BlockReason = "quiet_hours"
	ReasonWeeklyLimitExceeded BlockReason = "weekly_limit_exceeded"
	ReasonChannelUnavailable  BlockReason = "preferred_channel_unavailable"
	ReasonNoChannelAvailable  BlockReason = "no_channel_available"
	ReasonAllowed             BlockReason = "allowed"
	ReasonEmergencyBypass     BlockReason = "emergency_bypass"
	ReasonManualSend          BlockReason = "manual_send"
	ReasonOverride            BlockReason = "override_applied"
)

// AdmitRequest asks whether a message may go out to the listed guardians.
type AdmitRequest struct {
	Category    models.ConsentCategory `json:"category" validate:"required"`
	StudentID   string                 `json:"studentId" validate:"required"`
	Body        string                 `json:"body" validate:"required"`
	Priority    models.Priority        `json:"priority"`
	IsEmergency bool                   `json:"isEmergency"`
	ManualSend  bool                   `json:"manualSend"`
	GuardianIDs []string               `json:"guardianIds" validate:"required,min=1"`
	Params      map[string]string      `json:"params,omitempty"`
}

// Decision is the per-guardian admission verdict.
type Decision struct {
	GuardianID        string          `json:"guardianId"`
	Allowed           bool            `json:"allowed"`
	Channel           *models.Channel `json:"channel,omitempty"`
	Fallback          bool            `json:"fallback,omitempty"`
	Reason            BlockReason     `json:"reason"`
	EmergencyOverride bool            `json:"emergencyOverride,omitempty"`
	Automated         bool            `json:"automated"`
	AppliedRule       string          `json:"appliedRule,omitempty"`
}

// SubmitRequest hands admitted decisions to the delivery orchestrator.
type SubmitRequest struct {
	Category    models.ConsentCategory `json:"category" validate:"required"`
	StudentID   string                 `json:"studentId" validate:"required"`
	Body        string                 `json:"body" validate:"required"`
	Priority    models.Priority        `json:"priority"`
	IsEmergency bool                   `json:"isEmergency"`
	ManualSend  bool                   `json:"manualSend"`
	GuardianIDs []string               `json:"guardianIds" validate:"required,min=1"`
	Params      map[string]string      `json:"params,omitempty"`
}

// SubmitResponse reports the created message and per-guardian deliveries.
type SubmitResponse struct {
	MessageID  string             `json:"messageId"`
	Decisions  []Decision         `json:"decisions"`
	Deliveries []DeliverySummary  `json:"deliveries"`
}

// DeliverySummary is one spawned delivery lifecycle.
type DeliverySummary struct {
	DeliveryID string               `json:"deliveryId"`
	GuardianID string               `json:"guardianId"`
	Channel    models.Channel       `json:"channel"`
	State      models.DeliveryState `json:"state"`
}

// DeliveryStatusResponse exposes status polling results.
type DeliveryStatusResponse struct {
	DeliveryID    string               `json:"deliveryId"`
	MessageID     string               `json:"messageId"`
	GuardianID    string               `json:"guardianId"`
	Channel       models.Channel       `json:"channel"`
	State         models.DeliveryState `json:"state"`
	AttemptCount  int                  `json:"attemptCount"`
	TotalAttempts int                  `json:"totalAttempts"`
	LastError     *string              `json:"lastError,omitempty"`
	NextRetryAt   *time.Time           `json:"nextRetryAt,omitempty"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}
