package models

import "time"

// Priority tiers an outbound message for retry budgeting.
type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityHigh      Priority = "high"
	PriorityNormal    Priority = "normal"
	PriorityLow       Priority = "low"
)

// Valid reports whether the priority is a known tier.
func (p Priority) Valid() bool {
	switch p {
	case PriorityEmergency, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// NotificationMessage is one outbound guardian communication.
type NotificationMessage struct {
	ID          string          `db:"id" json:"id"`
	Category    ConsentCategory `db:"category" json:"category"`
	StudentID   string          `db:"student_id" json:"student_id"`
	Body        string          `db:"body" json:"body"`
	Priority    Priority        `db:"priority" json:"priority"`
	IsEmergency bool            `db:"is_emergency" json:"is_emergency"`
	CreatedBy   *string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// DeliveryState is one state of a message's delivery lifecycle.
type DeliveryState string

const (
	StateIdle          DeliveryState = "idle"
	StateQueued        DeliveryState = "queued"
	StateProcessing    DeliveryState = "processing"
	StateSent          DeliveryState = "sent"
	StateDelivered     DeliveryState = "delivered"
	StateAwaitingRetry DeliveryState = "awaiting_retry"
	StateOfflineQueued DeliveryState = "offline_queued"
	StateExhausted     DeliveryState = "exhausted"
	StateCancelled     DeliveryState = "cancelled"
)

// Terminal reports whether the lifecycle ends in this state. Exhausted is
// terminal but resumable via an explicit manual resend.
func (s DeliveryState) Terminal() bool {
	switch s {
	case StateDelivered, StateExhausted, StateCancelled:
		return true
	}
	return false
}

// validTransitions encodes the delivery state machine edges.
var validTransitions = map[DeliveryState][]DeliveryState{
	StateIdle:          {StateQueued, StateOfflineQueued, StateCancelled},
	StateQueued:        {StateProcessing, StateExhausted, StateOfflineQueued, StateCancelled},
	StateProcessing:    {StateSent, StateQueued, StateAwaitingRetry, StateExhausted, StateOfflineQueued, StateCancelled},
	StateSent:          {StateDelivered},
	StateAwaitingRetry: {StateQueued, StateOfflineQueued, StateCancelled},
	StateOfflineQueued: {StateQueued, StateCancelled},
	StateExhausted:     {StateQueued},
	StateDelivered:     {},
	StateCancelled:     {},
}

// CanTransition reports whether the edge from s to next exists in the state
// machine.
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DeliveryAttempt tracks one message's delivery lifecycle toward a guardian.
type DeliveryAttempt struct {
	ID            string        `db:"id" json:"id"`
	MessageID     string        `db:"message_id" json:"message_id"`
	GuardianID    string        `db:"guardian_id" json:"guardian_id"`
	Channel       Channel       `db:"channel" json:"channel"`
	State         DeliveryState `db:"state" json:"state"`
	AttemptCount  int           `db:"attempt_count" json:"attempt_count"`
	TotalAttempts int           `db:"total_attempts" json:"total_attempts"`
	LastError     *string       `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt   *time.Time    `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// OfflineQueueItem is a message payload parked durably while the sending
// process has no connectivity. It must survive restarts until replayed.
type OfflineQueueItem struct {
	ID          string          `json:"id"`
	MessageID   string          `json:"message_id"`
	GuardianID  string          `json:"guardian_id"`
	StudentID   string          `json:"student_id"`
	Category    ConsentCategory `json:"category"`
	Body        string          `json:"body"`
	ChannelHint Channel         `json:"channel_hint"`
	Priority    Priority        `json:"priority"`
	CreatedAt   time.Time       `json:"created_at"`
}
