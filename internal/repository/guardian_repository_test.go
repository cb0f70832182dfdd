package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

func newGuardianRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestGuardianRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newGuardianRepoMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db, 4, 2)

	mock.ExpectExec("INSERT INTO guardians").
		WillReturnResult(sqlmock.NewResult(1, 1))

	phone := "+62811111111"
	guardian := &models.Guardian{FullName: "Siti Rahma", Phone: &phone, SchoolID: "school-1"}
	require.NoError(t, repo.Create(context.Background(), guardian))
	assert.NotEmpty(t, guardian.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardianRepositoryLinkEnforcesRosterCap(t *testing.T) {
	db, mock, cleanup := newGuardianRepoMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db, 4, 2)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	err := repo.Link(context.Background(), &models.GuardianStudentLink{
		GuardianID: "g1",
		StudentID:  "s1",
		Role:       models.RoleSecondaryGuardian,
	})
	assert.ErrorIs(t, err, appErrors.ErrGuardianLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardianRepositoryLinkEnforcesPrimaryCap(t *testing.T) {
	db, mock, cleanup := newGuardianRepoMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db, 4, 2)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("s1", models.RolePrimaryGuardian).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	err := repo.Link(context.Background(), &models.GuardianStudentLink{
		GuardianID: "g1",
		StudentID:  "s1",
		Role:       models.RolePrimaryGuardian,
	})
	assert.ErrorIs(t, err, appErrors.ErrPrimaryLimit)
}

func TestGuardianRepositoryLinkRejectsContactRightsBeforeQuerying(t *testing.T) {
	db, mock, cleanup := newGuardianRepoMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db, 4, 2)

	err := repo.Link(context.Background(), &models.GuardianStudentLink{
		GuardianID:       "g1",
		StudentID:        "s1",
		Role:             models.RoleInformationalContact,
		CanMakeDecisions: true,
	})
	assert.ErrorIs(t, err, appErrors.ErrContactRights)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardianRepositoryLinkInserts(t *testing.T) {
	db, mock, cleanup := newGuardianRepoMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db, 4, 2)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO guardian_student_links").
		WillReturnResult(sqlmock.NewResult(1, 1))

	link := &models.GuardianStudentLink{
		GuardianID: "g1",
		StudentID:  "s1",
		Role:       models.RoleSecondaryGuardian,
	}
	require.NoError(t, repo.Link(context.Background(), link))
	assert.NotEmpty(t, link.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardianRepositoryListForStudent(t *testing.T) {
	db, mock, cleanup := newGuardianRepoMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db, 4, 2)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "guardian_id", "student_id", "role", "can_pickup", "can_make_decisions", "can_receive_reports", "can_receive_emergency", "receives_all_comms", "contact_priority", "created_at", "updated_at"}).
		AddRow("l1", "g1", "s1", "primary_guardian", true, true, true, true, true, 0, now, now).
		AddRow("l2", "g2", "s1", "secondary_guardian", false, false, true, true, false, 1, now, now)
	mock.ExpectQuery("SELECT .+ FROM guardian_student_links").
		WithArgs("s1").
		WillReturnRows(rows)

	links, err := repo.ListForStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, models.RolePrimaryGuardian, links[0].Role)
}
