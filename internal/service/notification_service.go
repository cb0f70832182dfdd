package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/delivery"
	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	"github.com/noah-isme/sma-notify-api/internal/repository"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type notifGuardianStore interface {
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
	FindLink(ctx context.Context, guardianID, studentID string) (*models.GuardianStudentLink, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.GuardianStudentLink, error)
}

type notifPreferenceStore interface {
	GetByGuardian(ctx context.Context, guardianID string) (*models.ParentPreferences, error)
	ListOptOuts(ctx context.Context, guardianID, studentID string) ([]models.OptOutRecord, error)
}

type notifConsentStore interface {
	Latest(ctx context.Context, guardianID, studentID string, category models.ConsentCategory) (*models.ConsentRecord, bool, error)
}

type notifDeliveryStore interface {
	CreateMessage(ctx context.Context, msg *models.NotificationMessage) error
	CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	FindAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error)
	FindMessage(ctx context.Context, id string) (*models.NotificationMessage, error)
	ListPendingRetries(ctx context.Context, now time.Time) ([]models.DeliveryAttempt, error)
}

type quotaReleaser interface {
	Release(ctx context.Context, guardianID string, now time.Time) error
}

type notifAuditSink interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// NotificationService is the facade over admission and delivery: it gathers
// the guardian context, asks the admission controller for verdicts, and hands
// admitted sends to the orchestrator.
type NotificationService struct {
	guardians    notifGuardianStore
	preferences  notifPreferenceStore
	consents     notifConsentStore
	deliveries   notifDeliveryStore
	quota        quotaReleaser
	audit        notifAuditSink
	tasks        followUpSink
	admission    *AdmissionService
	orchestrator *delivery.Orchestrator
	transport    delivery.Transport
	validator    *validator.Validate
	logger       *zap.Logger

	channelPriority   []models.Channel
	emergencyPriority []models.Channel
}

// NotificationServiceDeps bundles the facade's collaborators.
type NotificationServiceDeps struct {
	Guardians    notifGuardianStore
	Preferences  notifPreferenceStore
	Consents     notifConsentStore
	Deliveries   notifDeliveryStore
	Quota        quotaReleaser
	Audit        notifAuditSink
	Tasks        followUpSink
	Admission    *AdmissionService
	Orchestrator *delivery.Orchestrator
	Transport    delivery.Transport
}

// NewNotificationService constructs the facade.
func NewNotificationService(deps NotificationServiceDeps, cfg AdmissionConfig, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	channelPriority := cfg.ChannelPriority
	if len(channelPriority) == 0 {
		channelPriority = []models.Channel{models.ChannelWhatsApp, models.ChannelSMS, models.ChannelEmail}
	}
	emergencyPriority := cfg.EmergencyChannelPriority
	if len(emergencyPriority) == 0 {
		emergencyPriority = []models.Channel{models.ChannelSMS, models.ChannelWhatsApp, models.ChannelEmail}
	}
	return &NotificationService{
		guardians:         deps.Guardians,
		preferences:       deps.Preferences,
		consents:          deps.Consents,
		deliveries:        deps.Deliveries,
		quota:             deps.Quota,
		audit:             deps.Audit,
		tasks:             deps.Tasks,
		admission:         deps.Admission,
		orchestrator:      deps.Orchestrator,
		transport:         deps.Transport,
		validator:         validate,
		logger:            logger,
		channelPriority:   channelPriority,
		emergencyPriority: emergencyPriority,
	}
}

// Admit runs the admission rules for a would-be message without sending
// anything. Useful for previewing who a send would reach and why.
func (s *NotificationService) Admit(ctx context.Context, req dto.AdmitRequest, actor *models.JWTClaims) ([]dto.Decision, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid admission payload")
	}
	input, contexts, err := s.prepare(ctx, req.Category, req.StudentID, req.Priority, req.IsEmergency, req.ManualSend, req.GuardianIDs, actor)
	if err != nil {
		return nil, err
	}
	input.DryRun = true
	return s.admission.Admit(ctx, input, contexts)
}

// Submit admits and dispatches a message. Blocked guardians appear in the
// decision list with their reason; each admitted guardian gets its own
// delivery lifecycle.
func (s *NotificationService) Submit(ctx context.Context, req dto.SubmitRequest, actor *models.JWTClaims) (*dto.SubmitResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submit payload")
	}
	input, contexts, err := s.prepare(ctx, req.Category, req.StudentID, req.Priority, req.IsEmergency, req.ManualSend, req.GuardianIDs, actor)
	if err != nil {
		return nil, err
	}

	decisions, err := s.admission.Admit(ctx, input, contexts)
	if err != nil {
		return nil, err
	}

	msg := &models.NotificationMessage{
		Category:    req.Category,
		StudentID:   req.StudentID,
		Body:        renderTemplate(req.Body, req.Params),
		Priority:    input.Priority,
		IsEmergency: req.IsEmergency,
	}
	if actor != nil {
		msg.CreatedBy = &actor.UserID
	}
	if err := s.deliveries.CreateMessage(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store message")
	}

	capsByGuardian := make(map[string]delivery.Capabilities, len(contexts))
	for _, gctx := range contexts {
		capsByGuardian[gctx.Guardian.ID] = gctx.Capabilities
	}

	summaries := make([]dto.DeliverySummary, 0, len(decisions))
	for _, decision := range decisions {
		if !decision.Allowed || decision.Channel == nil {
			continue
		}
		attempt := models.DeliveryAttempt{
			MessageID:  msg.ID,
			GuardianID: decision.GuardianID,
			Channel:    *decision.Channel,
			State:      models.StateIdle,
		}
		if err := s.deliveries.CreateAttempt(ctx, &attempt); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store delivery attempt")
		}
		channels := s.channelOrder(*decision.Channel, req.IsEmergency)
		if err := s.orchestrator.Submit(ctx, *msg, attempt, channels, capsByGuardian[decision.GuardianID]); err != nil {
			return nil, err
		}
		current, err := s.orchestrator.Status(attempt.ID)
		if err != nil {
			current = attempt
		}
		summaries = append(summaries, dto.DeliverySummary{
			DeliveryID: attempt.ID,
			GuardianID: decision.GuardianID,
			Channel:    attempt.Channel,
			State:      current.State,
		})
	}

	return &dto.SubmitResponse{
		MessageID:  msg.ID,
		Decisions:  decisions,
		Deliveries: summaries,
	}, nil
}

// Status returns a live snapshot of a delivery, falling back to the stored
// attempt row when the orchestrator no longer tracks it.
func (s *NotificationService) Status(ctx context.Context, deliveryID string) (*dto.DeliveryStatusResponse, error) {
	attempt, err := s.orchestrator.Status(deliveryID)
	if err != nil {
		stored, findErr := s.deliveries.FindAttempt(ctx, deliveryID)
		if findErr != nil {
			if errors.Is(findErr, sql.ErrNoRows) || repository.IsNotFound(findErr) {
				return nil, appErrors.ErrDeliveryNotFound
			}
			return nil, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load delivery")
		}
		attempt = *stored
	}
	return &dto.DeliveryStatusResponse{
		DeliveryID:    attempt.ID,
		MessageID:     attempt.MessageID,
		GuardianID:    attempt.GuardianID,
		Channel:       attempt.Channel,
		State:         attempt.State,
		AttemptCount:  attempt.AttemptCount,
		TotalAttempts: attempt.TotalAttempts,
		LastError:     attempt.LastError,
		NextRetryAt:   attempt.NextRetryAt,
		UpdatedAt:     attempt.UpdatedAt,
	}, nil
}

// Cancel aborts a pending delivery and returns the guardian's reserved weekly
// quota slot.
func (s *NotificationService) Cancel(ctx context.Context, deliveryID string) error {
	attempt, err := s.orchestrator.Status(deliveryID)
	if err != nil {
		return err
	}
	if err := s.orchestrator.Cancel(ctx, deliveryID); err != nil {
		return err
	}
	if s.quota != nil {
		if err := s.quota.Release(ctx, attempt.GuardianID, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to release quota slot", zap.Error(err), zap.String("guardian_id", attempt.GuardianID))
		}
	}
	return nil
}

// Confirm records transport receipt confirmation for a sent delivery.
func (s *NotificationService) Confirm(ctx context.Context, deliveryID string) error {
	return s.orchestrator.Confirm(ctx, deliveryID)
}

// Resend manually re-enters an exhausted delivery. The resend is audited
// against the requesting staff member.
func (s *NotificationService) Resend(ctx context.Context, deliveryID string, actor *models.JWTClaims) error {
	if err := s.orchestrator.Resend(ctx, deliveryID); err != nil {
		return err
	}
	if s.audit != nil {
		entry := &models.AuditLog{
			Action:     models.AuditActionManualResend,
			Resource:   "delivery",
			ResourceID: &deliveryID,
		}
		if actor != nil {
			entry.UserID = &actor.UserID
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Warn("failed to audit manual resend", zap.Error(err))
		}
	}
	return nil
}

// HandleTerminal reacts to a delivery reaching a terminal state. An exhausted
// delivery is audited and raises a follow-up task so office staff can reach
// the guardian another way.
func (s *NotificationService) HandleTerminal(attempt models.DeliveryAttempt) {
	if attempt.State != models.StateExhausted {
		return
	}
	ctx := context.Background()
	if s.audit != nil {
		entry := &models.AuditLog{
			Action:     models.AuditActionDeliveryFailed,
			Resource:   "delivery",
			ResourceID: &attempt.ID,
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Warn("failed to audit exhausted delivery", zap.Error(err), zap.String("delivery_id", attempt.ID))
		}
	}
	if s.tasks == nil {
		return
	}
	msg, err := s.deliveries.FindMessage(ctx, attempt.MessageID)
	if err != nil {
		s.logger.Warn("skipping exhaustion follow-up, message row missing",
			zap.Error(err), zap.String("delivery_id", attempt.ID))
		return
	}
	req := FollowUpRequest{
		Type:     models.TaskContactGuardian,
		Priority: models.TaskPriorityHigh,
		DueIn:    models.TaskContactGuardian.DueOffset(),
	}
	if err := s.tasks.CreateFollowUp(ctx, attempt.GuardianID, msg.StudentID, msg.Category, req); err != nil {
		s.logger.Warn("failed to create exhaustion follow-up", zap.Error(err), zap.String("delivery_id", attempt.ID))
	}
}

// RecoverPending re-registers deliveries that were awaiting a retry when the
// previous process died. Called once at startup after the orchestrator is
// running.
func (s *NotificationService) RecoverPending(ctx context.Context) error {
	attempts, err := s.deliveries.ListPendingRetries(ctx, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending retries")
	}
	recovered := 0
	for _, attempt := range attempts {
		msg, err := s.deliveries.FindMessage(ctx, attempt.MessageID)
		if err != nil {
			s.logger.Warn("skipping retry recovery, message row missing",
				zap.Error(err), zap.String("delivery_id", attempt.ID))
			continue
		}
		caps, err := s.transport.Capabilities(ctx, attempt.GuardianID)
		if err != nil {
			s.logger.Warn("capability probe failed during recovery",
				zap.Error(err), zap.String("guardian_id", attempt.GuardianID))
			caps = delivery.Capabilities{}
		}
		channels := s.channelOrder(attempt.Channel, msg.IsEmergency)
		if err := s.orchestrator.Restore(ctx, *msg, attempt, channels, caps); err != nil {
			s.logger.Warn("failed to restore delivery",
				zap.Error(err), zap.String("delivery_id", attempt.ID))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered pending deliveries", zap.Int("count", recovered))
	}
	return nil
}

// SetOnline flips delivery connectivity. Going offline parks in-flight
// deliveries durably; coming back replays them oldest-first per student.
func (s *NotificationService) SetOnline(ctx context.Context, online bool) {
	s.orchestrator.SetOnline(ctx, online)
}

// prepare loads the full guardian context for each recipient and normalises
// the admission input.
func (s *NotificationService) prepare(ctx context.Context, category models.ConsentCategory, studentID string, priority models.Priority, isEmergency, manualSend bool, guardianIDs []string, actor *models.JWTClaims) (AdmitInput, []GuardianContext, error) {
	if !category.Valid() {
		return AdmitInput{}, nil, appErrors.Clone(appErrors.ErrValidation, "unknown consent category")
	}
	if !priority.Valid() {
		priority = models.PriorityNormal
	}
	if isEmergency {
		priority = models.PriorityEmergency
	}

	contexts := make([]GuardianContext, 0, len(guardianIDs))
	for _, guardianID := range guardianIDs {
		gctx, err := s.guardianContext(ctx, guardianID, studentID, category)
		if err != nil {
			return AdmitInput{}, nil, err
		}
		contexts = append(contexts, *gctx)
	}

	input := AdmitInput{
		Category:    category,
		StudentID:   studentID,
		Priority:    priority,
		IsEmergency: isEmergency,
		ManualSend:  manualSend,
		Actor:       actor,
		Now:         time.Now().UTC(),
	}
	return input, contexts, nil
}

func (s *NotificationService) guardianContext(ctx context.Context, guardianID, studentID string, category models.ConsentCategory) (*GuardianContext, error) {
	guardian, err := s.guardians.FindByID(ctx, guardianID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "guardian not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
	}
	link, err := s.guardians.FindLink(ctx, guardianID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "guardian is not linked to this student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian link")
	}
	prefs, err := s.preferences.GetByGuardian(ctx, guardianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	consent, conflicting, err := s.consents.Latest(ctx, guardianID, studentID, category)
	if err != nil && !repository.IsNotFound(err) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consent")
	}
	optOuts, err := s.preferences.ListOptOuts(ctx, guardianID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load opt-outs")
	}
	caps, err := s.transport.Capabilities(ctx, guardianID)
	if err != nil {
		s.logger.Warn("capability probe failed", zap.Error(err), zap.String("guardian_id", guardianID))
		caps = delivery.Capabilities{}
	}
	return &GuardianContext{
		Guardian:           *guardian,
		Link:               *link,
		Preferences:        prefs,
		Consent:            consent,
		ConsentConflicting: conflicting,
		OptOuts:            optOuts,
		Capabilities:       caps,
	}, nil
}

// channelOrder puts the admitted channel first and appends the remaining
// priority-ordered channels as fallbacks.
func (s *NotificationService) channelOrder(first models.Channel, isEmergency bool) []models.Channel {
	priority := s.channelPriority
	if isEmergency {
		priority = s.emergencyPriority
	}
	channels := []models.Channel{first}
	for _, c := range priority {
		if c != first && c.Sendable() {
			channels = append(channels, c)
		}
	}
	return channels
}

// renderTemplate substitutes {{key}} placeholders in the body with the given
// parameter values. Unknown placeholders are left untouched.
func renderTemplate(body string, params map[string]string) string {
	for key, value := range params {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	return body
}
