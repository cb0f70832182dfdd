package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type mockConsentStore struct {
	records     []*models.ConsentRecord
	conflicting bool
	createErr   error
	syncedIDs   []string
}

func (m *mockConsentStore) Create(_ context.Context, record *models.ConsentRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	if record.ID == "" {
		record.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockConsentStore) Latest(_ context.Context, guardianID, studentID string, category models.ConsentCategory) (*models.ConsentRecord, bool, error) {
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.GuardianID == guardianID && r.StudentID == studentID && r.Category == category {
			return r, m.conflicting, nil
		}
	}
	return nil, false, appErrors.ErrNotFound
}

func (m *mockConsentStore) FindByID(_ context.Context, id string) (*models.ConsentRecord, error) {
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, appErrors.ErrNotFound
}

func (m *mockConsentStore) ListForStudent(_ context.Context, studentID string) ([]models.ConsentRecord, error) {
	var out []models.ConsentRecord
	for _, r := range m.records {
		if r.StudentID == studentID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockConsentStore) MarkSynced(_ context.Context, id string, syncedAt time.Time) error {
	m.syncedIDs = append(m.syncedIDs, id)
	for _, r := range m.records {
		if r.ID == id {
			at := syncedAt
			r.SyncedAt = &at
		}
	}
	return nil
}

func recordRequest(category models.ConsentCategory, status models.ConsentStatus, source models.ConsentSource) dto.RecordConsentRequest {
	return dto.RecordConsentRequest{
		GuardianID: "guardian-1",
		StudentID:  "student-1",
		Category:   category,
		Status:     status,
		Source:     source,
	}
}

func TestConsentRecordMarksSyncedImmediately(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	record, err := svc.Record(context.Background(), recordRequest(models.CategoryAttendance, models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.NoError(t, err)
	require.NotNil(t, record.SyncedAt)
	require.NotNil(t, record.GrantedAt)
	assert.Equal(t, "user-1", record.RecordedBy)
	require.Len(t, store.records, 1)
}

func TestConsentRecordAppliesPolicyExpiry(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	// Fee consent expires after a year.
	record, err := svc.Record(context.Background(), recordRequest(models.CategoryFees, models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.NoError(t, err)
	require.NotNil(t, record.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(365*24*time.Hour), *record.ExpiresAt, time.Minute)

	// Attendance consent has no automatic expiry.
	record, err = svc.Record(context.Background(), recordRequest(models.CategoryAttendance, models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.NoError(t, err)
	assert.Nil(t, record.ExpiresAt)
}

func TestConsentRecordRejectsVerbalSourceForWrittenOnlyCategory(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	_, err := svc.Record(context.Background(), recordRequest(models.CategoryFees, models.ConsentGranted, models.SourcePhoneCall), "user-1")
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, apiErr.Code)
	assert.Empty(t, store.records)
}

func TestConsentRecordAcceptsVerbalWhenPolicyAllows(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	_, err := svc.Record(context.Background(), recordRequest(models.CategoryAttendance, models.ConsentGranted, models.SourceVerbalWitnessed), "user-1")
	require.NoError(t, err)
}

func TestConsentRecordRejectsUnknownCategory(t *testing.T) {
	svc := NewConsentService(&mockConsentStore{}, nil, nil, nil)

	_, err := svc.Record(context.Background(), recordRequest("newsletter", models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.Error(t, err)
}

func TestConsentWithdrawAppendsNewRecord(t *testing.T) {
	store := &mockConsentStore{}
	audit := &stubAuditSink{}
	svc := NewConsentService(store, audit, nil, nil)

	_, err := svc.Record(context.Background(), recordRequest(models.CategoryAttendance, models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.NoError(t, err)

	record, err := svc.Withdraw(context.Background(), dto.WithdrawConsentRequest{
		GuardianID: "guardian-1",
		StudentID:  "student-1",
		Category:   models.CategoryAttendance,
		Reason:     "guardian request",
	}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConsentWithdrawn, record.Status)
	require.NotNil(t, record.WithdrawnAt)

	// The original grant stays in the register untouched.
	require.Len(t, store.records, 2)
	assert.Equal(t, models.ConsentGranted, store.records[0].Status)
	require.Len(t, audit.entries, 2)
	assert.Equal(t, models.AuditActionConsentWithdraw, audit.entries[1].Action)
}

func TestConsentWithdrawMandatoryCategoryRejected(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	_, err := svc.Withdraw(context.Background(), dto.WithdrawConsentRequest{
		GuardianID: "guardian-1",
		StudentID:  "student-1",
		Category:   models.CategoryEmergencyAlerts,
	}, "user-1")
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrEmergencyPrefLocked.Code, apiErr.Code)
	assert.Empty(t, store.records)
}

func TestConsentSyncOfflineKeepsCaptureTime(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	capturedAt := time.Now().UTC().Add(-48 * time.Hour)
	record, err := svc.SyncOffline(context.Background(), dto.OfflineConsentRequest{
		GuardianID: "guardian-1",
		StudentID:  "student-1",
		Category:   models.CategoryAttendance,
		Status:     models.ConsentGranted,
		Source:     models.SourcePaperForm,
		CapturedAt: capturedAt,
	}, "user-1")
	require.NoError(t, err)

	assert.True(t, record.CreatedAt.Equal(capturedAt))
	require.NotNil(t, record.GrantedAt)
	assert.True(t, record.GrantedAt.Equal(capturedAt))
	require.NotNil(t, record.SyncedAt)
	assert.True(t, record.SyncedAt.After(capturedAt))
	require.Len(t, store.syncedIDs, 1)
	assert.Equal(t, record.ID, store.syncedIDs[0])
}

func TestConsentSyncOfflineValidatesSource(t *testing.T) {
	svc := NewConsentService(&mockConsentStore{}, nil, nil, nil)

	_, err := svc.SyncOffline(context.Background(), dto.OfflineConsentRequest{
		GuardianID: "guardian-1",
		StudentID:  "student-1",
		Category:   models.CategoryFees,
		Status:     models.ConsentGranted,
		Source:     models.SourceMessageReply,
		CapturedAt: time.Now().UTC(),
	}, "user-1")
	require.Error(t, err)
}

func TestConsentStatusForStudentClassifiesClarity(t *testing.T) {
	store := &mockConsentStore{}
	svc := NewConsentService(store, nil, nil, nil)

	_, err := svc.Record(context.Background(), recordRequest(models.CategoryAttendance, models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.NoError(t, err)
	_, err = svc.Record(context.Background(), recordRequest(models.CategoryAcademic, models.ConsentPending, models.SourcePaperForm), "user-1")
	require.NoError(t, err)

	items, err := svc.StatusForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byCategory := make(map[models.ConsentCategory]dto.ConsentStatusItem)
	for _, item := range items {
		byCategory[item.Category] = item
	}
	assert.Equal(t, string(ClarityClear), byCategory[models.CategoryAttendance].Clarity)
	assert.Equal(t, string(ClarityUnclear), byCategory[models.CategoryAcademic].Clarity)
}

func TestConsentStatusForStudentFlagsConflicts(t *testing.T) {
	store := &mockConsentStore{conflicting: true}
	svc := NewConsentService(store, nil, nil, nil)

	_, err := svc.Record(context.Background(), recordRequest(models.CategoryAttendance, models.ConsentGranted, models.SourcePaperForm), "user-1")
	require.NoError(t, err)

	items, err := svc.StatusForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, string(ClarityConflicting), items[0].Clarity)
}
