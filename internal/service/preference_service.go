package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type preferenceStore interface {
	GetByGuardian(ctx context.Context, guardianID string) (*models.ParentPreferences, error)
	Upsert(ctx context.Context, prefs *models.ParentPreferences) error
	RecordChange(ctx context.Context, change *models.PreferenceChange) error
	ListChanges(ctx context.Context, guardianID string) ([]models.PreferenceChange, error)
	CreateOptOut(ctx context.Context, optOut *models.OptOutRecord) error
	ListOptOuts(ctx context.Context, guardianID, studentID string) ([]models.OptOutRecord, error)
}

type preferenceAuditSink interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// PreferenceService manages guardian delivery preferences, the preference
// history, and scope-qualified opt-outs.
type PreferenceService struct {
	store     preferenceStore
	audit     preferenceAuditSink
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(store preferenceStore, audit preferenceAuditSink, validate *validator.Validate, logger *zap.Logger) *PreferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PreferenceService{store: store, audit: audit, validator: validate, logger: logger}
}

// Get returns a guardian's preferences, falling back to defaults when the
// guardian never expressed a choice.
func (s *PreferenceService) Get(ctx context.Context, guardianID string) (*models.ParentPreferences, error) {
	prefs, err := s.store.GetByGuardian(ctx, guardianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	return prefs, nil
}

// Update applies a partial preference mutation and records the change in the
// preference history. The emergency category cannot be toggled through any
// field of the request.
func (s *PreferenceService) Update(ctx context.Context, guardianID string, req dto.UpdatePreferencesRequest, actorID string) (*models.ParentPreferences, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preferences payload")
	}

	prefs, err := s.store.GetByGuardian(ctx, guardianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	oldValues, _ := json.Marshal(prefs)

	if req.PreferredChannel != nil {
		if !req.PreferredChannel.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown delivery channel")
		}
		prefs.PreferredChannel = *req.PreferredChannel
	}
	if req.GlobalOptOut != nil {
		prefs.GlobalOptOut = *req.GlobalOptOut
	}
	if req.ReceivesAttendance != nil {
		prefs.ReceivesAttendance = *req.ReceivesAttendance
	}
	if req.ReceivesAcademic != nil {
		prefs.ReceivesAcademic = *req.ReceivesAcademic
	}
	if req.ReceivesFeeUpdates != nil {
		prefs.ReceivesFeeUpdates = *req.ReceivesFeeUpdates
	}
	if req.ReceivesAnnouncement != nil {
		prefs.ReceivesAnnouncement = *req.ReceivesAnnouncement
	}
	if req.ReceivesEvents != nil {
		prefs.ReceivesEvents = *req.ReceivesEvents
	}
	if req.QuietHoursStart != nil {
		prefs.QuietHoursStart = req.QuietHoursStart
	}
	if req.QuietHoursEnd != nil {
		prefs.QuietHoursEnd = req.QuietHoursEnd
	}
	if (prefs.QuietHoursStart == nil) != (prefs.QuietHoursEnd == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "quiet hours need both a start and an end")
	}
	if req.WeeklyMessageCap != nil {
		prefs.WeeklyMessageCap = *req.WeeklyMessageCap
	}

	if err := s.store.Upsert(ctx, prefs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store preferences")
	}

	newValues, _ := json.Marshal(prefs)
	if err := s.store.RecordChange(ctx, &models.PreferenceChange{
		GuardianID: guardianID,
		ChangedBy:  actorID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}); err != nil {
		s.logger.Warn("failed to record preference change", zap.Error(err), zap.String("guardian_id", guardianID))
	}

	s.appendAudit(ctx, actorID, models.AuditActionPrefsUpdated, guardianID, newValues)
	return prefs, nil
}

// History returns the preference change log for a guardian, newest first.
func (s *PreferenceService) History(ctx context.Context, guardianID string) ([]models.PreferenceChange, error) {
	changes, err := s.store.ListChanges(ctx, guardianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preference history")
	}
	return changes, nil
}

// RecordOptOut creates a scope-qualified opt-out. Emergency alerts cannot be
// opted out of at any scope.
func (s *PreferenceService) RecordOptOut(ctx context.Context, req dto.RecordOptOutRequest, actorID string) (*models.OptOutRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid opt-out payload")
	}

	switch req.Scope {
	case models.ScopeAllAutomated:
	case models.ScopeCategory:
		if req.Category == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "category scope requires a category")
		}
	case models.ScopeStudentSpecific:
		if req.StudentID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student scope requires a student")
		}
	case models.ScopeTemporary:
		if req.ExpiresAt == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "temporary opt-outs require an expiry")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown opt-out scope")
	}

	if req.Category != nil {
		if !req.Category.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown consent category")
		}
		if *req.Category == models.CategoryEmergencyAlerts {
			return nil, appErrors.Clone(appErrors.ErrEmergencyPrefLocked, "emergency alerts cannot be opted out of")
		}
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "opt-out expiry is in the past")
	}

	optOut := &models.OptOutRecord{
		GuardianID: req.GuardianID,
		StudentID:  req.StudentID,
		Category:   req.Category,
		Scope:      req.Scope,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := s.store.CreateOptOut(ctx, optOut); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store opt-out")
	}

	payload, _ := json.Marshal(optOut)
	s.appendAudit(ctx, actorID, models.AuditActionOptOutRecorded, optOut.ID, payload)
	return optOut, nil
}

// ActiveOptOuts returns the opt-outs currently in force for a guardian and
// student pair.
func (s *PreferenceService) ActiveOptOuts(ctx context.Context, guardianID, studentID string) ([]models.OptOutRecord, error) {
	optOuts, err := s.store.ListOptOuts(ctx, guardianID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load opt-outs")
	}
	now := time.Now().UTC()
	active := optOuts[:0]
	for _, o := range optOuts {
		if o.Active(now) {
			active = append(active, o)
		}
	}
	return active, nil
}

func (s *PreferenceService) appendAudit(ctx context.Context, actorID, action, resourceID string, newValues []byte) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "preferences",
		ResourceID: &resourceID,
		NewValues:  newValues,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append preference audit entry", zap.Error(err))
	}
}
