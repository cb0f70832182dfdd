package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

func attemptRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "message_id", "guardian_id", "channel", "state", "attempt_count", "total_attempts", "last_error", "next_retry_at", "created_at", "updated_at"})
}

func TestDeliveryRepositoryCreateMessageAssignsID(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	mock.ExpectExec("INSERT INTO notification_messages").
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg := &models.NotificationMessage{
		Category:  models.CategoryAnnouncements,
		StudentID: "s1",
		Body:      "hello",
		Priority:  models.PriorityNormal,
	}
	require.NoError(t, repo.CreateMessage(context.Background(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryCreateAttemptStampsTimestamps(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	mock.ExpectExec("INSERT INTO delivery_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := &models.DeliveryAttempt{
		MessageID:  "msg-1",
		GuardianID: "g1",
		Channel:    models.ChannelWhatsApp,
		State:      models.StateIdle,
	}
	require.NoError(t, repo.CreateAttempt(context.Background(), attempt))
	assert.NotEmpty(t, attempt.ID)
	assert.False(t, attempt.CreatedAt.IsZero())
	assert.Equal(t, attempt.CreatedAt, attempt.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryUpdateAttempt(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	mock.ExpectExec("UPDATE delivery_attempts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	attempt := &models.DeliveryAttempt{
		ID:           "att-1",
		State:        models.StateAwaitingRetry,
		AttemptCount: 1,
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.UpdateAttempt(context.Background(), attempt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryFindAttempt(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .* FROM delivery_attempts WHERE id").
		WithArgs("att-1").
		WillReturnRows(attemptRows().AddRow("att-1", "msg-1", "g1", "whatsapp", "sent", 1, 1, nil, nil, now, now))

	attempt, err := repo.FindAttempt(context.Background(), "att-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSent, attempt.State)
	assert.Equal(t, models.ChannelWhatsApp, attempt.Channel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryFindAttemptMissing(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	mock.ExpectQuery("SELECT .* FROM delivery_attempts WHERE id").
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindAttempt(context.Background(), "gone")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryListPendingRetries(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	mock.ExpectQuery("SELECT .* FROM delivery_attempts WHERE state").
		WithArgs(string(models.StateAwaitingRetry), now).
		WillReturnRows(attemptRows().
			AddRow("att-1", "msg-1", "g1", "sms", "awaiting_retry", 2, 2, "gateway down", due, now, now))

	attempts, err := repo.ListPendingRetries(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.StateAwaitingRetry, attempts[0].State)
	require.NotNil(t, attempts[0].NextRetryAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
