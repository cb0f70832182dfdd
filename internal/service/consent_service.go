package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	"github.com/noah-isme/sma-notify-api/internal/repository"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type consentStore interface {
	Create(ctx context.Context, record *models.ConsentRecord) error
	Latest(ctx context.Context, guardianID, studentID string, category models.ConsentCategory) (*models.ConsentRecord, bool, error)
	FindByID(ctx context.Context, id string) (*models.ConsentRecord, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.ConsentRecord, error)
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error
}

type consentAuditSink interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// ConsentService manages the append-only consent register. Records are never
// updated in place; every change of mind is a new record.
type ConsentService struct {
	store     consentStore
	audit     consentAuditSink
	resolver  *ConsentResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewConsentService constructs a ConsentService.
func NewConsentService(store consentStore, audit consentAuditSink, validate *validator.Validate, logger *zap.Logger) *ConsentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ConsentService{
		store:     store,
		audit:     audit,
		resolver:  NewConsentResolver(),
		validator: validate,
		logger:    logger,
	}
}

// Record captures a consent decision taken while connected. The record is
// immediately marked synced.
func (s *ConsentService) Record(ctx context.Context, req dto.RecordConsentRequest, actorID string) (*models.ConsentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid consent payload")
	}
	if !req.Category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown consent category")
	}

	policy := models.PolicyFor(req.Category)
	if err := validateSource(policy, req.Status, req.Source); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.ConsentRecord{
		GuardianID: req.GuardianID,
		StudentID:  req.StudentID,
		Category:   req.Category,
		Status:     req.Status,
		Source:     req.Source,
		ExpiresAt:  req.ExpiresAt,
		RecordedBy: actorID,
		SyncedAt:   &now,
		CreatedAt:  now,
	}
	if req.Status == models.ConsentGranted {
		record.GrantedAt = &now
		if record.ExpiresAt == nil && policy.ExpiryPeriod > 0 {
			expires := now.Add(policy.ExpiryPeriod)
			record.ExpiresAt = &expires
		}
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store consent record")
	}

	s.appendAudit(ctx, actorID, models.AuditActionConsentRecorded, record.ID, map[string]any{
		"guardian_id": record.GuardianID,
		"student_id":  record.StudentID,
		"category":    record.Category,
		"status":      record.Status,
		"source":      record.Source,
	})
	return record, nil
}

// Withdraw revokes consent for one category by appending a withdrawal record.
// Mandatory categories cannot be withdrawn.
func (s *ConsentService) Withdraw(ctx context.Context, req dto.WithdrawConsentRequest, actorID string) (*models.ConsentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid withdrawal payload")
	}
	if !req.Category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown consent category")
	}

	policy := models.PolicyFor(req.Category)
	if policy.Mandatory {
		return nil, appErrors.Clone(appErrors.ErrEmergencyPrefLocked, "mandatory categories cannot be withdrawn")
	}

	now := time.Now().UTC()
	record := &models.ConsentRecord{
		GuardianID:  req.GuardianID,
		StudentID:   req.StudentID,
		Category:    req.Category,
		Status:      models.ConsentWithdrawn,
		Source:      models.SourcePhoneCall,
		WithdrawnAt: &now,
		RecordedBy:  actorID,
		SyncedAt:    &now,
		CreatedAt:   now,
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store withdrawal")
	}

	s.appendAudit(ctx, actorID, models.AuditActionConsentWithdraw, record.ID, map[string]any{
		"guardian_id": record.GuardianID,
		"student_id":  record.StudentID,
		"category":    record.Category,
		"reason":      req.Reason,
	})
	return record, nil
}

// SyncOffline ingests a consent decision that was captured on a disconnected
// device. The record keeps its original capture time and is marked synced once
// it lands in the register.
func (s *ConsentService) SyncOffline(ctx context.Context, req dto.OfflineConsentRequest, actorID string) (*models.ConsentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offline consent payload")
	}
	if !req.Category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown consent category")
	}

	policy := models.PolicyFor(req.Category)
	if err := validateSource(policy, req.Status, req.Source); err != nil {
		return nil, err
	}

	capturedAt := req.CapturedAt.UTC()
	record := &models.ConsentRecord{
		GuardianID: req.GuardianID,
		StudentID:  req.StudentID,
		Category:   req.Category,
		Status:     req.Status,
		Source:     req.Source,
		RecordedBy: actorID,
		CreatedAt:  capturedAt,
	}
	if req.Status == models.ConsentGranted {
		record.GrantedAt = &capturedAt
		if policy.ExpiryPeriod > 0 {
			expires := capturedAt.Add(policy.ExpiryPeriod)
			record.ExpiresAt = &expires
		}
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store offline consent record")
	}

	syncedAt := time.Now().UTC()
	if err := s.store.MarkSynced(ctx, record.ID, syncedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark consent record synced")
	}
	record.SyncedAt = &syncedAt

	s.appendAudit(ctx, actorID, models.AuditActionConsentSynced, record.ID, map[string]any{
		"guardian_id": record.GuardianID,
		"student_id":  record.StudentID,
		"category":    record.Category,
		"status":      record.Status,
		"captured_at": capturedAt,
	})
	return record, nil
}

// StatusForStudent returns the consent register for a student: the latest
// record per guardian and category with its clarity classification.
func (s *ConsentService) StatusForStudent(ctx context.Context, studentID string) ([]dto.ConsentStatusItem, error) {
	records, err := s.store.ListForStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consent register")
	}

	now := time.Now().UTC()
	items := make([]dto.ConsentStatusItem, 0, len(records))
	for i := range records {
		record := &records[i]
		_, conflicting, err := s.store.Latest(ctx, record.GuardianID, record.StudentID, record.Category)
		if err != nil && !repository.IsNotFound(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect consent record")
		}
		resolution := s.resolver.Resolve(record.Category, record, conflicting, false, now)
		items = append(items, dto.ConsentStatusItem{
			GuardianID: record.GuardianID,
			Category:   record.Category,
			Status:     record.Status,
			Clarity:    string(resolution.Clarity),
			Source:     record.Source,
			ExpiresAt:  record.ExpiresAt,
		})
	}
	return items, nil
}

// validateSource enforces the capture rules of the category policy: strict
// categories only accept written consent unless the policy admits verbal
// capture.
func validateSource(policy models.CategoryPolicy, status models.ConsentStatus, source models.ConsentSource) error {
	if status != models.ConsentGranted {
		return nil
	}
	verbal := source == models.SourceVerbalWitnessed || source == models.SourcePhoneCall || source == models.SourceMessageReply
	if policy.RequiresExplicit && verbal && !policy.VerbalAccepted {
		return appErrors.Clone(appErrors.ErrValidation, "category requires written consent")
	}
	return nil
}

func (s *ConsentService) appendAudit(ctx context.Context, actorID, action, resourceID string, values map[string]any) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(values)
	if err != nil {
		payload = nil
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "consent",
		ResourceID: &resourceID,
		NewValues:  payload,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append consent audit entry", zap.Error(err))
	}
}
