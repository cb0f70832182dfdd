package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/delivery"
	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
)

// GuardianContext bundles everything admission needs to know about one
// guardian: the link to the student, stored preferences, the latest consent
// record for the category, active opt-outs, and channel reachability.
type GuardianContext struct {
	Guardian           models.Guardian
	Link               models.GuardianStudentLink
	Preferences        *models.ParentPreferences
	Consent            *models.ConsentRecord
	ConsentConflicting bool
	OptOuts            []models.OptOutRecord
	Capabilities       delivery.Capabilities
}

// AdmitInput is one admission question: may this message go to this
// student's guardians right now?
type AdmitInput struct {
	Category       models.ConsentCategory
	StudentID      string
	Priority       models.Priority
	IsEmergency    bool
	ManualSend     bool
	DryRun         bool
	Override       bool
	OverrideReason string
	Actor          *models.JWTClaims
	Now            time.Time
}

type quotaReserver interface {
	Reserve(ctx context.Context, guardianID string, limit int, now time.Time) (bool, error)
	Check(ctx context.Context, guardianID string, limit int, now time.Time) (bool, error)
}

type followUpSink interface {
	CreateFollowUp(ctx context.Context, guardianID, studentID string, category models.ConsentCategory, req FollowUpRequest) error
}

type admissionAuditSink interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// AdmissionService is the single gatekeeper for outbound guardian messages.
// Its rule order is load-bearing: each rule either returns a final decision
// or passes evaluation to the next one, and the order below is the contract.
type AdmissionService struct {
	resolver  *ConsentResolver
	conflicts *ConflictResolver
	quota     quotaReserver
	tasks     followUpSink
	audit     admissionAuditSink
	logger    *zap.Logger

	channelPriority   []models.Channel
	emergencyPriority []models.Channel
	manualCategories  map[models.ConsentCategory]struct{}
}

// AdmissionConfig carries the channel orderings and manual-send allow-list.
type AdmissionConfig struct {
	ChannelPriority          []models.Channel
	EmergencyChannelPriority []models.Channel
	ManualSendCategories     []models.ConsentCategory
}

// NewAdmissionService builds the admission controller.
func NewAdmissionService(quota quotaReserver, tasks followUpSink, audit admissionAuditSink, cfg AdmissionConfig, logger *zap.Logger) *AdmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	channelPriority := cfg.ChannelPriority
	if len(channelPriority) == 0 {
		channelPriority = []models.Channel{models.ChannelWhatsApp, models.ChannelSMS, models.ChannelEmail}
	}
	emergencyPriority := cfg.EmergencyChannelPriority
	if len(emergencyPriority) == 0 {
		emergencyPriority = []models.Channel{models.ChannelSMS, models.ChannelWhatsApp, models.ChannelEmail}
	}
	manual := make(map[models.ConsentCategory]struct{}, len(cfg.ManualSendCategories))
	for _, c := range cfg.ManualSendCategories {
		manual[c] = struct{}{}
	}
	return &AdmissionService{
		resolver:          NewConsentResolver(),
		conflicts:         NewConflictResolver(),
		quota:             quota,
		tasks:             tasks,
		audit:             audit,
		logger:            logger,
		channelPriority:   channelPriority,
		emergencyPriority: emergencyPriority,
		manualCategories:  manual,
	}
}

// evalState carries one guardian's evaluation through the rule chain.
type evalState struct {
	input      AdmitInput
	gctx       GuardianContext
	resolution Resolution
	conflict   *ConflictOutcome
	stance     GuardianStance
}

// admissionRule is one step of the ordered rule table. A nil result means
// "not applicable, continue".
type admissionRule struct {
	name string
	eval func(ctx context.Context, s *AdmissionService, st *evalState) *dto.Decision
}

// admissionRules is the rule table. The order reproduces the evaluation
// contract exactly: emergency bypass, manual-sender bypass, global opt-out,
// channel none, category opt-out, consent/conflict, quiet hours, weekly cap,
// channel resolution.
var admissionRules = []admissionRule{
	{name: "emergency_bypass", eval: ruleEmergencyBypass},
	{name: "manual_sender_bypass", eval: ruleManualSender},
	{name: "global_opt_out", eval: ruleGlobalOptOut},
	{name: "channel_none", eval: ruleChannelNone},
	{name: "category_opt_out", eval: ruleCategoryOptOut},
	{name: "consent", eval: ruleConsent},
	{name: "quiet_hours", eval: ruleQuietHours},
	{name: "weekly_cap", eval: ruleWeeklyCap},
	{name: "channel_resolution", eval: ruleChannelResolution},
}

// Admit evaluates the rule table for every guardian of the message's student
// and returns one decision per guardian. With DryRun set the weekly cap is
// checked without claiming a slot. It is safe for concurrent use.
func (s *AdmissionService) Admit(ctx context.Context, input AdmitInput, guardians []GuardianContext) ([]dto.Decision, error) {
	if input.Now.IsZero() {
		input.Now = time.Now().UTC()
	}

	// Consent stances are computed up front so the multi-guardian conflict
	// strategy sees every guardian's position.
	states := make([]*evalState, len(guardians))
	decisions := make([]GuardianDecision, 0, len(guardians))
	for i, gctx := range guardians {
		st := &evalState{input: input, gctx: gctx}
		st.resolution = s.resolver.Resolve(input.Category, gctx.Consent, gctx.ConsentConflicting, input.IsEmergency, input.Now)
		st.stance = stanceFor(st.resolution, gctx.Consent)
		states[i] = st
		decisions = append(decisions, GuardianDecision{
			GuardianID: gctx.Guardian.ID,
			Stance:     st.stance,
			IsPrimary:  gctx.Link.Role == models.RolePrimaryGuardian,
		})
	}

	var conflict *ConflictOutcome
	if len(guardians) > 1 {
		outcome := s.conflicts.Resolve(decisions, models.PolicyFor(input.Category).Strategy)
		conflict = &outcome
	}

	results := make([]dto.Decision, 0, len(guardians))
	for _, st := range states {
		st.conflict = conflict
		results = append(results, s.evaluate(ctx, st))
	}
	return results, nil
}

func (s *AdmissionService) evaluate(ctx context.Context, st *evalState) dto.Decision {
	for _, rule := range admissionRules {
		if decision := rule.eval(ctx, s, st); decision != nil {
			decision.GuardianID = st.gctx.Guardian.ID
			if decision.AppliedRule == "" {
				decision.AppliedRule = rule.name
			}
			if !decision.Allowed {
				s.emitFollowUp(ctx, st)
			}
			s.logger.Sugar().Debugw("admission decision",
				"guardian_id", decision.GuardianID,
				"category", st.input.Category,
				"allowed", decision.Allowed,
				"reason", decision.Reason,
				"rule", decision.AppliedRule)
			return *decision
		}
	}
	// The channel resolution rule always returns; reaching here is a bug in
	// the rule table itself.
	return dto.Decision{
		GuardianID: st.gctx.Guardian.ID,
		Allowed:    false,
		Reason:     dto.ReasonNoChannelAvailable,
	}
}

func ruleEmergencyBypass(_ context.Context, s *AdmissionService, st *evalState) *dto.Decision {
	if st.input.Category != models.CategoryEmergencyAlerts && !st.input.IsEmergency {
		return nil
	}
	// Emergencies ignore every later rule. Channel order is the dedicated
	// emergency ordering: SMS first, it reaches non-smartphones.
	for _, ch := range s.emergencyPriority {
		if st.gctx.Capabilities.Has(ch) {
			channel := ch
			return &dto.Decision{
				Allowed:           true,
				Channel:           &channel,
				Reason:            dto.ReasonEmergencyBypass,
				EmergencyOverride: true,
				Automated:         !st.input.ManualSend,
			}
		}
	}
	return &dto.Decision{Allowed: false, Reason: dto.ReasonNoChannelAvailable}
}

func ruleManualSender(_ context.Context, s *AdmissionService, st *evalState) *dto.Decision {
	if !st.input.ManualSend || st.input.Actor == nil {
		return nil
	}
	if _, ok := s.manualCategories[st.input.Category]; !ok {
		return nil
	}
	// A human composing a direct message is not automated outreach; it skips
	// preference gates but still needs a reachable channel.
	return resolveChannel(s, st, dto.ReasonManualSend, false)
}

func ruleGlobalOptOut(_ context.Context, _ *AdmissionService, st *evalState) *dto.Decision {
	if st.gctx.Preferences != nil && st.gctx.Preferences.GlobalOptOut {
		return &dto.Decision{Allowed: false, Reason: dto.ReasonGlobalOptOut, Automated: true}
	}
	if optOut := effectiveOptOut(st, models.ScopeAllAutomated); optOut != nil {
		return &dto.Decision{Allowed: false, Reason: dto.ReasonGlobalOptOut, Automated: true}
	}
	return nil
}

func ruleChannelNone(_ context.Context, _ *AdmissionService, st *evalState) *dto.Decision {
	if st.gctx.Preferences != nil && st.gctx.Preferences.PreferredChannel == models.ChannelNone {
		return &dto.Decision{Allowed: false, Reason: dto.ReasonChannelNone, Automated: true}
	}
	return nil
}

func ruleCategoryOptOut(_ context.Context, _ *AdmissionService, st *evalState) *dto.Decision {
	if st.gctx.Preferences != nil && !st.gctx.Preferences.CategoryEnabled(st.input.Category) {
		return &dto.Decision{Allowed: false, Reason: dto.ReasonCategoryOptOut, Automated: true}
	}
	for _, scope := range []models.OptOutScope{models.ScopeStudentSpecific, models.ScopeCategory, models.ScopeTemporary} {
		if optOut := effectiveOptOut(st, scope); optOut != nil {
			return &dto.Decision{Allowed: false, Reason: dto.ReasonCategoryOptOut, Automated: true}
		}
	}
	return nil
}

func ruleConsent(ctx context.Context, s *AdmissionService, st *evalState) *dto.Decision {
	if st.conflict != nil {
		// Multi-guardian: the category strategy decides for the student, but
		// an individually opted-out guardian still never receives a copy.
		if !st.conflict.Allowed {
			reason := dto.ReasonConsentNotGranted
			if st.stance == StanceOptedOut {
				reason = dto.ReasonConsentWithdrawn
			}
			return &dto.Decision{Allowed: false, Reason: reason, Automated: true, AppliedRule: st.conflict.AppliedRule}
		}
		if st.stance == StanceOptedOut {
			return &dto.Decision{Allowed: false, Reason: dto.ReasonConsentWithdrawn, Automated: true, AppliedRule: st.conflict.AppliedRule}
		}
		return nil
	}

	switch st.resolution.Action {
	case ActionAllow:
		return nil
	default:
		if override := s.tryOverride(ctx, st); override != nil {
			return override
		}
		reason := dto.ReasonConsentNotGranted
		if st.gctx.Consent != nil && st.gctx.Consent.Status == models.ConsentWithdrawn && st.resolution.Clarity == ClarityClear {
			reason = dto.ReasonConsentWithdrawn
		}
		return &dto.Decision{Allowed: false, Reason: reason, Automated: true}
	}
}

func ruleQuietHours(ctx context.Context, s *AdmissionService, st *evalState) *dto.Decision {
	if st.input.ManualSend {
		return nil
	}
	if st.gctx.Preferences == nil || !st.gctx.Preferences.InQuietHours(st.input.Now.Hour()) {
		return nil
	}
	if override := s.tryOverride(ctx, st); override != nil {
		return override
	}
	return &dto.Decision{Allowed: false, Reason: dto.ReasonQuietHours, Automated: true}
}

func ruleWeeklyCap(ctx context.Context, s *AdmissionService, st *evalState) *dto.Decision {
	if s.quota == nil || st.gctx.Preferences == nil || st.gctx.Preferences.WeeklyMessageCap <= 0 {
		return nil
	}
	claim := s.quota.Reserve
	if st.input.DryRun {
		// Previews must not spend a slot; the real reservation happens on
		// submit.
		claim = s.quota.Check
	}
	ok, err := claim(ctx, st.gctx.Guardian.ID, st.gctx.Preferences.WeeklyMessageCap, st.input.Now)
	if err != nil {
		s.logger.Sugar().Warnw("weekly quota check failed, allowing send",
			"guardian_id", st.gctx.Guardian.ID, "error", err)
		return nil
	}
	if ok {
		return nil
	}
	if override := s.tryOverride(ctx, st); override != nil {
		return override
	}
	return &dto.Decision{Allowed: false, Reason: dto.ReasonWeeklyLimitExceeded, Automated: true}
}

func ruleChannelResolution(_ context.Context, s *AdmissionService, st *evalState) *dto.Decision {
	return resolveChannel(s, st, dto.ReasonAllowed, true)
}

// resolveChannel tries the guardian's preferred channel, then the
// whatsapp↔sms swap. Email is never a silent fallback: a guardian who chose
// a phone channel does not get surprise emails.
func resolveChannel(s *AdmissionService, st *evalState, reason dto.BlockReason, automated bool) *dto.Decision {
	preferred := models.ChannelWhatsApp
	if st.gctx.Preferences != nil && st.gctx.Preferences.PreferredChannel.Sendable() {
		preferred = st.gctx.Preferences.PreferredChannel
	}
	if st.gctx.Capabilities.Has(preferred) {
		return &dto.Decision{Allowed: true, Channel: &preferred, Reason: reason, Automated: automated}
	}

	var fallback models.Channel
	switch preferred {
	case models.ChannelWhatsApp:
		fallback = models.ChannelSMS
	case models.ChannelSMS:
		fallback = models.ChannelWhatsApp
	}
	if fallback != "" && st.gctx.Capabilities.Has(fallback) {
		return &dto.Decision{Allowed: true, Channel: &fallback, Fallback: true, Reason: reason, Automated: automated}
	}
	return &dto.Decision{Allowed: false, Reason: dto.ReasonChannelUnavailable, Automated: automated}
}

// tryOverride applies the role-gated override path. It never applies to an
// explicit withdrawal, and every application lands in the audit log with the
// reason, category, and the clarity it overrode.
func (s *AdmissionService) tryOverride(ctx context.Context, st *evalState) *dto.Decision {
	if !st.input.Override || st.input.Actor == nil {
		return nil
	}
	policy := models.PolicyFor(st.input.Category)
	if !policy.CanOverride(st.input.Actor.Role) {
		return nil
	}
	if st.gctx.Consent != nil && st.gctx.Consent.Status == models.ConsentWithdrawn && !st.resolution.Overridable && st.resolution.Clarity == ClarityClear {
		return nil
	}

	if s.audit != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"reason":           st.input.OverrideReason,
			"category":         st.input.Category,
			"original_clarity": st.resolution.Clarity,
		})
		entry := &models.AuditLog{
			UserID:     &st.input.Actor.UserID,
			Action:     models.AuditActionConsentOverride,
			Resource:   "admission",
			ResourceID: &st.gctx.Guardian.ID,
			NewValues:  payload,
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Sugar().Warnw("failed to audit consent override", "guardian_id", st.gctx.Guardian.ID, "error", err)
		}
	}

	decision := resolveChannel(s, st, dto.ReasonOverride, true)
	decision.AppliedRule = "override"
	return decision
}

func (s *AdmissionService) emitFollowUp(ctx context.Context, st *evalState) {
	if s.tasks == nil || st.resolution.FollowUp == nil {
		return
	}
	err := s.tasks.CreateFollowUp(ctx, st.gctx.Guardian.ID, st.input.StudentID, st.input.Category, *st.resolution.FollowUp)
	if err != nil {
		s.logger.Sugar().Warnw("failed to create follow-up task",
			"guardian_id", st.gctx.Guardian.ID, "category", st.input.Category, "error", err)
	}
}

// stanceFor collapses a resolver verdict into the guardian's stance used by
// conflict resolution.
func stanceFor(res Resolution, record *models.ConsentRecord) GuardianStance {
	if res.Action == ActionAllow {
		return StanceOptedIn
	}
	if record != nil && record.Status == models.ConsentWithdrawn && res.Clarity == ClarityClear {
		return StanceOptedOut
	}
	return StanceNoPreference
}

// effectiveOptOut returns the most specific active opt-out with the given
// scope that applies to this message, or nil.
func effectiveOptOut(st *evalState, scope models.OptOutScope) *models.OptOutRecord {
	var found *models.OptOutRecord
	for i := range st.gctx.OptOuts {
		o := &st.gctx.OptOuts[i]
		if o.Scope != scope || !o.Active(st.input.Now) || !o.AppliesTo(st.input.StudentID, st.input.Category) {
			continue
		}
		if found == nil || models.MoreSpecific(o.Scope, found.Scope) {
			found = o
		}
	}
	return found
}
