package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

func grantedRecord(category models.ConsentCategory) *models.ConsentRecord {
	now := time.Now().UTC()
	return &models.ConsentRecord{
		ID:         "rec-1",
		GuardianID: "guardian-1",
		StudentID:  "student-1",
		Category:   category,
		Status:     models.ConsentGranted,
		Source:     models.SourcePaperForm,
		GrantedAt:  &now,
		CreatedAt:  now,
	}
}

func TestResolveClearGrantedAllows(t *testing.T) {
	r := NewConsentResolver()
	res := r.Resolve(models.CategoryAttendance, grantedRecord(models.CategoryAttendance), false, false, time.Now().UTC())

	assert.Equal(t, ClarityClear, res.Clarity)
	assert.Equal(t, ActionAllow, res.Action)
	assert.Nil(t, res.FollowUp)
}

func TestResolveClearWithdrawnBlocksWithoutOverride(t *testing.T) {
	r := NewConsentResolver()
	record := grantedRecord(models.CategoryAttendance)
	withdrawnAt := time.Now().UTC()
	record.Status = models.ConsentWithdrawn
	record.WithdrawnAt = &withdrawnAt

	res := r.Resolve(models.CategoryAttendance, record, false, false, time.Now().UTC())

	assert.Equal(t, ClarityClear, res.Clarity)
	assert.Equal(t, ActionBlock, res.Action)
	assert.False(t, res.Overridable)
}

func TestResolveMissingUsesCategoryDefault(t *testing.T) {
	r := NewConsentResolver()
	now := time.Now().UTC()

	// Announcements default to granted on enrollment.
	res := r.Resolve(models.CategoryAnnouncements, nil, false, false, now)
	assert.Equal(t, ClarityMissing, res.Clarity)
	assert.Equal(t, ActionAllow, res.Action)

	// Attendance requires a captured decision.
	res = r.Resolve(models.CategoryAttendance, nil, false, false, now)
	assert.Equal(t, ClarityMissing, res.Clarity)
	assert.Equal(t, ActionBlock, res.Action)
	assert.True(t, res.Overridable)
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, models.TaskCollectConsent, res.FollowUp.Type)
}

func TestResolveExpired(t *testing.T) {
	r := NewConsentResolver()
	now := time.Now().UTC()
	expired := now.Add(-time.Hour)

	// Fee communications require explicit consent: expiry demands an override.
	record := grantedRecord(models.CategoryFees)
	record.ExpiresAt = &expired
	res := r.Resolve(models.CategoryFees, record, false, false, now)
	assert.Equal(t, ClarityExpired, res.Clarity)
	assert.Equal(t, ActionRequireOverride, res.Action)
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, models.TaskVerifyConsent, res.FollowUp.Type)

	// Academic updates tolerate an expired record pending review.
	record = grantedRecord(models.CategoryAcademic)
	record.ExpiresAt = &expired
	res = r.Resolve(models.CategoryAcademic, record, false, false, now)
	assert.Equal(t, ClarityExpired, res.Clarity)
	assert.Equal(t, ActionFlagForReview, res.Action)
}

func TestResolvePendingIsUnclear(t *testing.T) {
	r := NewConsentResolver()
	now := time.Now().UTC()

	record := grantedRecord(models.CategoryAttendance)
	record.Status = models.ConsentPending
	res := r.Resolve(models.CategoryAttendance, record, false, false, now)
	assert.Equal(t, ClarityUnclear, res.Clarity)
	assert.Equal(t, ActionBlock, res.Action)

	record = grantedRecord(models.CategoryAcademic)
	record.Status = models.ConsentPending
	res = r.Resolve(models.CategoryAcademic, record, false, false, now)
	assert.Equal(t, ClarityUnclear, res.Clarity)
	assert.Equal(t, ActionFlagForReview, res.Action)
}

func TestResolveConflictingRecords(t *testing.T) {
	r := NewConsentResolver()
	now := time.Now().UTC()

	res := r.Resolve(models.CategoryFees, grantedRecord(models.CategoryFees), true, false, now)
	assert.Equal(t, ClarityConflicting, res.Clarity)
	assert.Equal(t, ActionRequireOverride, res.Action)
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, models.TaskResolveConflict, res.FollowUp.Type)

	res = r.Resolve(models.CategoryAnnouncements, grantedRecord(models.CategoryAnnouncements), true, false, now)
	assert.Equal(t, ActionFlagForReview, res.Action)
}

func TestResolveMandatoryCategoryAlwaysAllows(t *testing.T) {
	r := NewConsentResolver()
	now := time.Now().UTC()

	res := r.Resolve(models.CategoryEmergencyAlerts, nil, false, false, now)
	assert.Equal(t, ActionAllow, res.Action)

	record := grantedRecord(models.CategoryEmergencyAlerts)
	record.Status = models.ConsentWithdrawn
	res = r.Resolve(models.CategoryEmergencyAlerts, record, false, false, now)
	assert.Equal(t, ActionAllow, res.Action)
}

func TestResolveEmergencyFlagAllowsAnyCategory(t *testing.T) {
	r := NewConsentResolver()
	res := r.Resolve(models.CategoryAttendance, nil, false, true, time.Now().UTC())
	assert.Equal(t, ActionAllow, res.Action)
}

func TestResolveFollowUpPriorityTracksCategory(t *testing.T) {
	r := NewConsentResolver()
	res := r.Resolve(models.CategoryAttendance, nil, false, false, time.Now().UTC())
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, models.TaskPriorityFor(models.CategoryAttendance), res.FollowUp.Priority)
	assert.Equal(t, res.FollowUp.Type.DueOffset(), res.FollowUp.DueIn)
}
