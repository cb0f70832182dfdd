package delivery

import (
	"sync"
	"time"

	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

// Directive tells the orchestrator what to do after a failure transition.
type Directive int

const (
	DirectiveNone Directive = iota
	// DirectiveRetryLater means the machine parked in awaiting_retry and the
	// scheduler will wake it at NextRetryAt.
	DirectiveRetryLater
	// DirectiveFallback means the failed channel is out of budget and the
	// machine already moved to the next channel; process it again now.
	DirectiveFallback
	// DirectiveExhausted means every channel's budget is spent; terminal.
	DirectiveExhausted
)

// Machine drives one delivery's lifecycle. All transitions for a given
// delivery route through this struct's mutex, so no two workers can ever
// advance the same message concurrently.
type Machine struct {
	mu sync.Mutex

	attempt  models.DeliveryAttempt
	message  models.NotificationMessage
	policy   RetryPolicy
	channels []models.Channel
	caps     Capabilities

	perChannel map[models.Channel]int
	exhausted  map[models.Channel]bool
}

// NewMachine builds a machine in the idle state for one delivery attempt.
func NewMachine(msg models.NotificationMessage, attempt models.DeliveryAttempt, channels []models.Channel, caps Capabilities) *Machine {
	attempt.State = models.StateIdle
	return &Machine{
		attempt:    attempt,
		message:    msg,
		policy:     PolicyFor(msg.Priority),
		channels:   channels,
		caps:       caps,
		perChannel: make(map[models.Channel]int),
		exhausted:  make(map[models.Channel]bool),
	}
}

// RestoredMachine rebuilds a machine from a stored pending-retry row so the
// delivery survives a process restart. The failed channel's spent budget is
// re-seeded from the row's counters.
func RestoredMachine(msg models.NotificationMessage, attempt models.DeliveryAttempt, channels []models.Channel, caps Capabilities) *Machine {
	m := NewMachine(msg, attempt, channels, caps)
	m.attempt = attempt
	m.attempt.State = models.StateIdle
	if attempt.Channel != "" {
		m.perChannel[attempt.Channel] = attempt.AttemptCount
	}
	return m
}

// Snapshot returns a copy of the delivery attempt row.
func (m *Machine) Snapshot() models.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// State returns the current delivery state.
func (m *Machine) State() models.DeliveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt.State
}

// Queue moves idle → queued.
func (m *Machine) Queue(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(models.StateQueued, now)
}

// StartProcessing moves queued → processing and selects the next untried,
// reachable, non-exhausted channel in priority order. Returns the selected
// channel.
func (m *Machine) StartProcessing(now time.Time) (models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, ok := m.nextChannelLocked()
	if !ok {
		if err := m.transition(models.StateExhausted, now); err != nil {
			return "", err
		}
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, "no channel available")
	}
	if err := m.transition(models.StateProcessing, now); err != nil {
		return "", err
	}
	m.attempt.Channel = channel
	return channel, nil
}

// RecordSuccess moves processing → sent after the transport accepted the
// message.
func (m *Machine) RecordSuccess(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perChannel[m.attempt.Channel]++
	m.attempt.AttemptCount = m.perChannel[m.attempt.Channel]
	m.attempt.TotalAttempts++
	m.attempt.LastError = nil
	m.attempt.NextRetryAt = nil
	return m.transition(models.StateSent, now)
}

// RecordFailure handles a transport failure: schedule a retry on the same
// channel while budgets remain, fall back to the next channel when the
// current one is spent, or exhaust when nothing is left.
func (m *Machine) RecordFailure(sendErr error, now time.Time) (Directive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channel := m.attempt.Channel
	m.perChannel[channel]++
	m.attempt.AttemptCount = m.perChannel[channel]
	m.attempt.TotalAttempts++
	msg := sendErr.Error()
	m.attempt.LastError = &msg

	totalSpent := m.attempt.TotalAttempts >= m.policy.MaxTotal

	// MaxPerChannel caps retries, not attempts: after failure n on a channel
	// the next retry would be retry n, allowed while n <= MaxPerChannel.
	if m.perChannel[channel] <= m.policy.MaxPerChannel && !totalSpent {
		delay := m.policy.Delay(m.perChannel[channel] - 1)
		next := now.Add(delay)
		m.attempt.NextRetryAt = &next
		return DirectiveRetryLater, m.transition(models.StateAwaitingRetry, now)
	}

	m.exhausted[channel] = true
	if _, ok := m.nextChannelLocked(); ok && !totalSpent {
		// Channel fallback is immediate and does not count against the next
		// channel's own budget.
		m.attempt.NextRetryAt = nil
		return DirectiveFallback, m.transition(models.StateQueued, now)
	}

	m.attempt.NextRetryAt = nil
	return DirectiveExhausted, m.transition(models.StateExhausted, now)
}

// RetryDue reports whether the machine is awaiting a retry whose time has
// arrived, and if so moves it back to queued.
func (m *Machine) RetryDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt.State != models.StateAwaitingRetry {
		return false
	}
	if m.attempt.NextRetryAt == nil || m.attempt.NextRetryAt.After(now) {
		return false
	}
	if err := m.transition(models.StateQueued, now); err != nil {
		return false
	}
	return true
}

// Confirm moves sent → delivered once the transport confirms receipt.
func (m *Machine) Confirm(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(models.StateDelivered, now)
}

// Cancel aborts the delivery from any non-terminal state. Because it takes
// the machine lock it is serialized against in-flight transitions: once it
// returns, no further attempt can be made.
func (m *Machine) Cancel(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt.State.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "delivery already terminal")
	}
	return m.transition(models.StateCancelled, now)
}

// GoOffline parks a pre-send machine in offline_queued and returns the
// payload to persist durably.
func (m *Machine) GoOffline(now time.Time) (models.OfflineQueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.attempt.State {
	case models.StateIdle, models.StateQueued, models.StateAwaitingRetry:
	default:
		return models.OfflineQueueItem{}, false
	}
	if err := m.transition(models.StateOfflineQueued, now); err != nil {
		return models.OfflineQueueItem{}, false
	}
	return models.OfflineQueueItem{
		ID:          m.attempt.ID,
		MessageID:   m.message.ID,
		GuardianID:  m.attempt.GuardianID,
		StudentID:   m.message.StudentID,
		Category:    m.message.Category,
		Body:        m.message.Body,
		ChannelHint: m.attempt.Channel,
		Priority:    m.message.Priority,
		CreatedAt:   m.message.CreatedAt,
	}, true
}

// GoOnline replays an offline_queued machine back into the queue.
func (m *Machine) GoOnline(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt.State != models.StateOfflineQueued {
		return false
	}
	return m.transition(models.StateQueued, now) == nil
}

// Resend resumes an exhausted delivery with retry counters reset. Only an
// explicit manual action reaches this path.
func (m *Machine) Resend(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt.State != models.StateExhausted {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "only exhausted deliveries can be resent")
	}
	m.perChannel = make(map[models.Channel]int)
	m.exhausted = make(map[models.Channel]bool)
	m.attempt.AttemptCount = 0
	m.attempt.TotalAttempts = 0
	m.attempt.LastError = nil
	m.attempt.NextRetryAt = nil
	return m.transition(models.StateQueued, now)
}

// nextChannelLocked picks the first channel in priority order that is
// reachable and not exhausted for this message. Callers must hold m.mu.
func (m *Machine) nextChannelLocked() (models.Channel, bool) {
	for _, ch := range m.channels {
		if m.exhausted[ch] {
			continue
		}
		if !m.caps.Has(ch) {
			continue
		}
		return ch, true
	}
	return "", false
}

func (m *Machine) transition(next models.DeliveryState, now time.Time) error {
	if !m.attempt.State.CanTransition(next) {
		return appErrors.Clone(appErrors.ErrInvalidTransition,
			string(m.attempt.State)+" -> "+string(next)+" is not a legal delivery transition")
	}
	m.attempt.State = next
	m.attempt.UpdatedAt = now
	return nil
}
