package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// DeliveryRepository persists outbound messages and their delivery attempts.
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository constructs the repository.
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// CreateMessage inserts the outbound message row.
func (r *DeliveryRepository) CreateMessage(ctx context.Context, msg *models.NotificationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notification_messages (id, category, student_id, body, priority, is_emergency, created_by, created_at)
		VALUES (:id, :category, :student_id, :body, :priority, :is_emergency, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

const attemptColumns = `id, message_id, guardian_id, channel, state, attempt_count, total_attempts, last_error, next_retry_at, created_at, updated_at`

// CreateAttempt inserts a new delivery attempt row in its initial state.
func (r *DeliveryRepository) CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = now
	const query = `INSERT INTO delivery_attempts (` + attemptColumns + `)
		VALUES (:id, :message_id, :guardian_id, :channel, :state, :attempt_count, :total_attempts, :last_error, :next_retry_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("create delivery attempt: %w", err)
	}
	return nil
}

// UpdateAttempt writes the attempt's current machine state back to the row.
func (r *DeliveryRepository) UpdateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	const query = `UPDATE delivery_attempts
		SET channel = :channel, state = :state, attempt_count = :attempt_count,
		    total_attempts = :total_attempts, last_error = :last_error,
		    next_retry_at = :next_retry_at, updated_at = :updated_at
		WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("update delivery attempt: %w", err)
	}
	return nil
}

// FindAttempt returns one delivery attempt row.
func (r *DeliveryRepository) FindAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	const query = `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE id = $1`
	var attempt models.DeliveryAttempt
	if err := r.db.GetContext(ctx, &attempt, query, id); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindMessage returns one message row.
func (r *DeliveryRepository) FindMessage(ctx context.Context, id string) (*models.NotificationMessage, error) {
	const query = `SELECT id, category, student_id, body, priority, is_emergency, created_by, created_at FROM notification_messages WHERE id = $1`
	var msg models.NotificationMessage
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListPendingRetries returns attempts whose retry timer has elapsed, used to
// rebuild orchestrator state after a restart.
func (r *DeliveryRepository) ListPendingRetries(ctx context.Context, now time.Time) ([]models.DeliveryAttempt, error) {
	const query = `SELECT ` + attemptColumns + ` FROM delivery_attempts
		WHERE state = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at ASC`
	attempts := []models.DeliveryAttempt{}
	if err := r.db.SelectContext(ctx, &attempts, query, models.StateAwaitingRetry, now); err != nil {
		return nil, fmt.Errorf("list pending retries: %w", err)
	}
	return attempts, nil
}
