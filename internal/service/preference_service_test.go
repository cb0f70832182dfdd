package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type mockPreferenceStore struct {
	prefs   map[string]*models.ParentPreferences
	changes []models.PreferenceChange
	optOuts []models.OptOutRecord
}

func newMockPreferenceStore() *mockPreferenceStore {
	return &mockPreferenceStore{prefs: make(map[string]*models.ParentPreferences)}
}

func (m *mockPreferenceStore) GetByGuardian(_ context.Context, guardianID string) (*models.ParentPreferences, error) {
	if p, ok := m.prefs[guardianID]; ok {
		copied := *p
		return &copied, nil
	}
	return models.DefaultPreferences(guardianID), nil
}

func (m *mockPreferenceStore) Upsert(_ context.Context, prefs *models.ParentPreferences) error {
	copied := *prefs
	m.prefs[prefs.GuardianID] = &copied
	return nil
}

func (m *mockPreferenceStore) RecordChange(_ context.Context, change *models.PreferenceChange) error {
	m.changes = append(m.changes, *change)
	return nil
}

func (m *mockPreferenceStore) ListChanges(_ context.Context, guardianID string) ([]models.PreferenceChange, error) {
	var out []models.PreferenceChange
	for _, c := range m.changes {
		if c.GuardianID == guardianID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockPreferenceStore) CreateOptOut(_ context.Context, optOut *models.OptOutRecord) error {
	optOut.ID = "oo-1"
	m.optOuts = append(m.optOuts, *optOut)
	return nil
}

func (m *mockPreferenceStore) ListOptOuts(_ context.Context, guardianID, _ string) ([]models.OptOutRecord, error) {
	var out []models.OptOutRecord
	for _, o := range m.optOuts {
		if o.GuardianID == guardianID {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestPreferencesGetFallsBackToDefaults(t *testing.T) {
	svc := NewPreferenceService(newMockPreferenceStore(), nil, nil, nil)

	prefs, err := svc.Get(context.Background(), "guardian-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelWhatsApp, prefs.PreferredChannel)
	assert.True(t, prefs.ReceivesEmergency)
	assert.Equal(t, 10, prefs.WeeklyMessageCap)
}

func TestPreferencesUpdatePartialPatch(t *testing.T) {
	store := newMockPreferenceStore()
	svc := NewPreferenceService(store, nil, nil, nil)

	sms := models.ChannelSMS
	optOut := true
	prefs, err := svc.Update(context.Background(), "guardian-1", dto.UpdatePreferencesRequest{
		PreferredChannel: &sms,
		GlobalOptOut:     &optOut,
	}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.ChannelSMS, prefs.PreferredChannel)
	assert.True(t, prefs.GlobalOptOut)
	// Untouched fields keep their defaults.
	assert.True(t, prefs.ReceivesAttendance)
	assert.Equal(t, 10, prefs.WeeklyMessageCap)
}

func TestPreferencesUpdateRecordsHistory(t *testing.T) {
	store := newMockPreferenceStore()
	svc := NewPreferenceService(store, nil, nil, nil)

	attendance := false
	_, err := svc.Update(context.Background(), "guardian-1", dto.UpdatePreferencesRequest{
		ReceivesAttendance: &attendance,
	}, "user-1")
	require.NoError(t, err)

	require.Len(t, store.changes, 1)
	change := store.changes[0]
	assert.Equal(t, "guardian-1", change.GuardianID)
	assert.Equal(t, "user-1", change.ChangedBy)

	var oldPrefs, newPrefs models.ParentPreferences
	require.NoError(t, json.Unmarshal(change.OldValues, &oldPrefs))
	require.NoError(t, json.Unmarshal(change.NewValues, &newPrefs))
	assert.True(t, oldPrefs.ReceivesAttendance)
	assert.False(t, newPrefs.ReceivesAttendance)

	history, err := svc.History(context.Background(), "guardian-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPreferencesUpdateQuietHoursMustBePaired(t *testing.T) {
	svc := NewPreferenceService(newMockPreferenceStore(), nil, nil, nil)

	start := 21
	_, err := svc.Update(context.Background(), "guardian-1", dto.UpdatePreferencesRequest{
		QuietHoursStart: &start,
	}, "user-1")
	require.Error(t, err)

	end := 6
	prefs, err := svc.Update(context.Background(), "guardian-1", dto.UpdatePreferencesRequest{
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
	}, "user-1")
	require.NoError(t, err)
	assert.True(t, prefs.InQuietHours(23))
	assert.False(t, prefs.InQuietHours(12))
}

func TestPreferencesUpdateRejectsUnknownChannel(t *testing.T) {
	svc := NewPreferenceService(newMockPreferenceStore(), nil, nil, nil)

	fax := models.Channel("fax")
	_, err := svc.Update(context.Background(), "guardian-1", dto.UpdatePreferencesRequest{
		PreferredChannel: &fax,
	}, "user-1")
	require.Error(t, err)
}

func TestRecordOptOutScopeValidation(t *testing.T) {
	svc := NewPreferenceService(newMockPreferenceStore(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordOptOut(ctx, dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Scope:      models.ScopeCategory,
	}, "user-1")
	require.Error(t, err)

	_, err = svc.RecordOptOut(ctx, dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Scope:      models.ScopeStudentSpecific,
	}, "user-1")
	require.Error(t, err)

	_, err = svc.RecordOptOut(ctx, dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Scope:      models.ScopeTemporary,
	}, "user-1")
	require.Error(t, err)

	_, err = svc.RecordOptOut(ctx, dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Scope:      models.ScopeAllAutomated,
	}, "user-1")
	require.NoError(t, err)
}

func TestRecordOptOutEmergencyLocked(t *testing.T) {
	svc := NewPreferenceService(newMockPreferenceStore(), nil, nil, nil)

	emergency := models.CategoryEmergencyAlerts
	_, err := svc.RecordOptOut(context.Background(), dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Category:   &emergency,
		Scope:      models.ScopeCategory,
	}, "user-1")
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrEmergencyPrefLocked.Code, apiErr.Code)
}

func TestRecordOptOutRejectsPastExpiry(t *testing.T) {
	svc := NewPreferenceService(newMockPreferenceStore(), nil, nil, nil)

	past := time.Now().UTC().Add(-time.Hour)
	_, err := svc.RecordOptOut(context.Background(), dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Scope:      models.ScopeTemporary,
		ExpiresAt:  &past,
	}, "user-1")
	require.Error(t, err)
}

func TestActiveOptOutsFiltersExpired(t *testing.T) {
	store := newMockPreferenceStore()
	svc := NewPreferenceService(store, nil, nil, nil)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	_, err := svc.RecordOptOut(ctx, dto.RecordOptOutRequest{
		GuardianID: "guardian-1",
		Scope:      models.ScopeTemporary,
		ExpiresAt:  &future,
	}, "user-1")
	require.NoError(t, err)

	expired := time.Now().UTC().Add(-time.Hour)
	store.optOuts = append(store.optOuts, models.OptOutRecord{
		ID:         "oo-2",
		GuardianID: "guardian-1",
		Scope:      models.ScopeTemporary,
		ExpiresAt:  &expired,
	})

	active, err := svc.ActiveOptOuts(ctx, "guardian-1", "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "oo-1", active[0].ID)
}
