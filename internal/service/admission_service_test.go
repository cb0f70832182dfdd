package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/delivery"
	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
)

type stubQuota struct {
	allow  bool
	err    error
	calls  int
	checks int
}

func (s *stubQuota) Reserve(_ context.Context, _ string, _ int, _ time.Time) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func (s *stubQuota) Check(_ context.Context, _ string, _ int, _ time.Time) (bool, error) {
	s.checks++
	return s.allow, s.err
}

type stubFollowUpSink struct {
	mu       sync.Mutex
	requests []FollowUpRequest
}

func (s *stubFollowUpSink) CreateFollowUp(_ context.Context, _, _ string, _ models.ConsentCategory, req FollowUpRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func (s *stubFollowUpSink) recorded() []FollowUpRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FollowUpRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

type stubAuditSink struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (s *stubAuditSink) Append(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditSink) logged() []*models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditLog, len(s.entries))
	copy(out, s.entries)
	return out
}

func newAdmissionFixture() (*AdmissionService, *stubQuota, *stubFollowUpSink, *stubAuditSink) {
	quota := &stubQuota{allow: true}
	tasks := &stubFollowUpSink{}
	audit := &stubAuditSink{}
	svc := NewAdmissionService(quota, tasks, audit, AdmissionConfig{
		ManualSendCategories: []models.ConsentCategory{models.CategoryAcademic, models.CategoryAnnouncements},
	}, nil)
	return svc, quota, tasks, audit
}

func guardianCtx(id string, role models.GuardianRole) GuardianContext {
	return GuardianContext{
		Guardian:     models.Guardian{ID: id},
		Link:         models.GuardianStudentLink{GuardianID: id, StudentID: "student-1", Role: role},
		Preferences:  models.DefaultPreferences(id),
		Capabilities: delivery.Capabilities{WhatsApp: true, SMS: true, Email: true},
	}
}

func admitInput(category models.ConsentCategory) AdmitInput {
	return AdmitInput{
		Category:  category,
		StudentID: "student-1",
		Priority:  models.PriorityNormal,
		Now:       time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
}

func consentFor(gctx *GuardianContext, category models.ConsentCategory, status models.ConsentStatus) {
	now := time.Now().UTC()
	gctx.Consent = &models.ConsentRecord{
		ID:         "rec-" + gctx.Guardian.ID,
		GuardianID: gctx.Guardian.ID,
		StudentID:  "student-1",
		Category:   category,
		Status:     status,
		Source:     models.SourcePaperForm,
		CreatedAt:  now,
	}
}

func TestAdmitGlobalOptOutBlocksEverythingButEmergency(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	gctx.Preferences.GlobalOptOut = true
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonGlobalOptOut, decisions[0].Reason)

	input := admitInput(models.CategoryAttendance)
	input.IsEmergency = true
	decisions, err = svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonEmergencyBypass, decisions[0].Reason)
	assert.True(t, decisions[0].EmergencyOverride)
}

func TestAdmitEmergencyPrefersSMS(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryEmergencyAlerts), []GuardianContext{gctx})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.True(t, decisions[0].Allowed)
	require.NotNil(t, decisions[0].Channel)
	assert.Equal(t, models.ChannelSMS, *decisions[0].Channel)
}

func TestAdmitEmergencyWithoutAnyChannelBlocks(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	gctx.Capabilities = delivery.Capabilities{}

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryEmergencyAlerts), []GuardianContext{gctx})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonNoChannelAvailable, decisions[0].Reason)
}

func TestAdmitChannelNoneBlocksAutomatedSends(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	gctx.Preferences.PreferredChannel = models.ChannelNone
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonChannelNone, decisions[0].Reason)
}

func TestAdmitCategoryOptOut(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryFees, models.ConsentGranted)
	fees := models.CategoryFees
	gctx.OptOuts = []models.OptOutRecord{{
		ID:         "oo-1",
		GuardianID: "g1",
		Category:   &fees,
		Scope:      models.ScopeCategory,
	}}

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryFees), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonCategoryOptOut, decisions[0].Reason)

	// The opt-out is category scoped; announcements still go through.
	decisions, err = svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.True(t, decisions[0].Allowed)
}

func TestAdmitExpiredTemporaryOptOutIgnored(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)
	expired := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gctx.OptOuts = []models.OptOutRecord{{
		ID:         "oo-1",
		GuardianID: "g1",
		Scope:      models.ScopeTemporary,
		ExpiresAt:  &expired,
	}}

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.True(t, decisions[0].Allowed)
}

func TestAdmitWithdrawnConsentNeverOverridable(t *testing.T) {
	svc, _, _, audit := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAttendance, models.ConsentWithdrawn)

	input := admitInput(models.CategoryAttendance)
	input.Override = true
	input.OverrideReason = "urgent attendance issue"
	input.Actor = &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}

	decisions, err := svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonConsentWithdrawn, decisions[0].Reason)
	assert.Empty(t, audit.entries)
}

func TestAdmitOverrideAppliesForMissingConsent(t *testing.T) {
	svc, _, _, audit := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)

	input := admitInput(models.CategoryAttendance)
	input.Override = true
	input.OverrideReason = "term closure notice"
	input.Actor = &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}

	decisions, err := svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	require.True(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonOverride, decisions[0].Reason)
	assert.Equal(t, "override", decisions[0].AppliedRule)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionConsentOverride, audit.entries[0].Action)
}

func TestAdmitOverrideDeniedForUnprivilegedRole(t *testing.T) {
	svc, _, _, audit := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)

	// Teachers may not override attendance consent.
	input := admitInput(models.CategoryAttendance)
	input.Override = true
	input.Actor = &models.JWTClaims{UserID: "u1", Role: models.RoleTeacher}

	decisions, err := svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonConsentNotGranted, decisions[0].Reason)
	assert.Empty(t, audit.entries)
}

func TestAdmitMissingConsentEmitsFollowUp(t *testing.T) {
	svc, _, tasks, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAttendance), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	require.Len(t, tasks.requests, 1)
	assert.Equal(t, models.TaskCollectConsent, tasks.requests[0].Type)
}

func TestAdmitQuietHoursBlockAutomatedSends(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)
	start, end := 21, 6
	gctx.Preferences.QuietHoursStart = &start
	gctx.Preferences.QuietHoursEnd = &end

	input := admitInput(models.CategoryAnnouncements)
	input.Now = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	decisions, err := svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonQuietHours, decisions[0].Reason)

	input.Now = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	decisions, err = svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	assert.True(t, decisions[0].Allowed)
}

func TestAdmitManualSendSkipsPreferenceGates(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)
	start, end := 0, 23
	gctx.Preferences.QuietHoursStart = &start
	gctx.Preferences.QuietHoursEnd = &end

	input := admitInput(models.CategoryAnnouncements)
	input.ManualSend = true
	input.Actor = &models.JWTClaims{UserID: "u1", Role: models.RoleTeacher}
	input.Now = time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)

	decisions, err := svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	require.True(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonManualSend, decisions[0].Reason)
	assert.False(t, decisions[0].Automated)
}

func TestAdmitWeeklyCap(t *testing.T) {
	svc, quota, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)

	quota.allow = false
	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonWeeklyLimitExceeded, decisions[0].Reason)
	assert.Equal(t, 1, quota.calls)
}

func TestAdmitDryRunChecksQuotaWithoutReserving(t *testing.T) {
	svc, quota, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)

	input := admitInput(models.CategoryAnnouncements)
	input.DryRun = true
	decisions, err := svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	assert.True(t, decisions[0].Allowed)
	assert.Zero(t, quota.calls)
	assert.Equal(t, 1, quota.checks)

	quota.allow = false
	decisions, err = svc.Admit(context.Background(), input, []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonWeeklyLimitExceeded, decisions[0].Reason)
	assert.Zero(t, quota.calls)
}

func TestAdmitQuotaFailureAllowsSend(t *testing.T) {
	svc, quota, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)

	quota.err = errors.New("redis unavailable")
	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.True(t, decisions[0].Allowed)
}

func TestAdmitChannelFallbackSwapsPhoneChannels(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)
	gctx.Capabilities = delivery.Capabilities{SMS: true, Email: true}

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	require.True(t, decisions[0].Allowed)
	require.NotNil(t, decisions[0].Channel)
	assert.Equal(t, models.ChannelSMS, *decisions[0].Channel)
	assert.True(t, decisions[0].Fallback)
}

func TestAdmitEmailIsNeverASilentFallback(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	gctx := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&gctx, models.CategoryAnnouncements, models.ConsentGranted)
	gctx.Capabilities = delivery.Capabilities{Email: true}

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAnnouncements), []GuardianContext{gctx})
	require.NoError(t, err)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonChannelUnavailable, decisions[0].Reason)
}

func TestAdmitTwoGuardiansAnyAllows(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	g1 := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&g1, models.CategoryAttendance, models.ConsentGranted)
	g2 := guardianCtx("g2", models.RoleSecondaryGuardian)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAttendance), []GuardianContext{g1, g2})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Allowed)
	assert.True(t, decisions[1].Allowed)
}

func TestAdmitTwoGuardiansWithdrawnGuardianNeverReceives(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	g1 := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&g1, models.CategoryAttendance, models.ConsentWithdrawn)
	g2 := guardianCtx("g2", models.RoleSecondaryGuardian)
	consentFor(&g2, models.CategoryAttendance, models.ConsentGranted)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAttendance), []GuardianContext{g1, g2})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, dto.ReasonConsentWithdrawn, decisions[0].Reason)
	assert.True(t, decisions[1].Allowed)
}

func TestAdmitPrimaryDecidesBlocksSecondary(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture()
	g1 := guardianCtx("g1", models.RolePrimaryGuardian)
	consentFor(&g1, models.CategoryAcademic, models.ConsentWithdrawn)
	g2 := guardianCtx("g2", models.RoleSecondaryGuardian)
	consentFor(&g2, models.CategoryAcademic, models.ConsentGranted)

	decisions, err := svc.Admit(context.Background(), admitInput(models.CategoryAcademic), []GuardianContext{g1, g2})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.False(t, decisions[0].Allowed)
	assert.False(t, decisions[1].Allowed)
	assert.Equal(t, "primary_guardian_decides", decisions[1].AppliedRule)
}
