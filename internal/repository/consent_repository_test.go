package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

func newConsentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func consentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "guardian_id", "student_id", "category", "status", "source", "granted_at", "withdrawn_at", "expires_at", "recorded_by", "synced_at", "created_at"})
}

func TestConsentRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	mock.ExpectExec("INSERT INTO consent_records").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.ConsentRecord{
		GuardianID: "g1",
		StudentID:  "s1",
		Category:   models.CategoryAttendance,
		Status:     models.ConsentGranted,
		Source:     models.SourcePaperForm,
		RecordedBy: "u1",
	}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentRepositoryLatest(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM consent_records").
		WithArgs("g1", "s1", models.CategoryAttendance).
		WillReturnRows(consentRows().
			AddRow("c2", "g1", "s1", "attendance_notifications", "granted", "paper_form", now, nil, nil, "u1", now, now).
			AddRow("c1", "g1", "s1", "attendance_notifications", "withdrawn", "phone_call", nil, now, nil, "u1", now, now.Add(-time.Hour)))

	record, conflicting, err := repo.Latest(context.Background(), "g1", "s1", models.CategoryAttendance)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "c2", record.ID)
	assert.False(t, conflicting)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentRepositoryLatestFlagsSimultaneousDisagreement(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM consent_records").
		WithArgs("g1", "s1", models.CategoryAttendance).
		WillReturnRows(consentRows().
			AddRow("c2", "g1", "s1", "attendance_notifications", "granted", "paper_form", now, nil, nil, "u1", now, now).
			AddRow("c1", "g1", "s1", "attendance_notifications", "withdrawn", "message_reply", nil, now, nil, "u1", now, now))

	_, conflicting, err := repo.Latest(context.Background(), "g1", "s1", models.CategoryAttendance)
	require.NoError(t, err)
	assert.True(t, conflicting)
}

func TestConsentRepositoryLatestEmpty(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	mock.ExpectQuery("SELECT .+ FROM consent_records").
		WithArgs("g1", "s1", models.CategoryFees).
		WillReturnRows(consentRows())

	record, conflicting, err := repo.Latest(context.Background(), "g1", "s1", models.CategoryFees)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, conflicting)
}

func TestConsentRepositoryListForStudent(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (guardian_id, category)")).
		WithArgs("s1").
		WillReturnRows(consentRows().
			AddRow("c1", "g1", "s1", "attendance_notifications", "granted", "paper_form", now, nil, nil, "u1", now, now))

	records, err := repo.ListForStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.CategoryAttendance, records[0].Category)
}

func TestConsentRepositoryMarkSynced(t *testing.T) {
	db, mock, cleanup := newConsentRepoMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	syncedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE consent_records SET synced_at").
		WithArgs("c1", syncedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkSynced(context.Background(), "c1", syncedAt))

	// A second sync touches no rows and surfaces as not found.
	mock.ExpectExec("UPDATE consent_records SET synced_at").
		WithArgs("c1", syncedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkSynced(context.Background(), "c1", syncedAt)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
