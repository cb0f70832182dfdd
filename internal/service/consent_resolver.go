package service

import (
	"time"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// ConsentClarity classifies how much confidence a stored consent record gives
// us about the guardian's actual wishes.
type ConsentClarity string

const (
	ClarityClear       ConsentClarity = "clear"
	ClarityUnclear     ConsentClarity = "unclear"
	ClarityMissing     ConsentClarity = "missing"
	ClarityExpired     ConsentClarity = "expired"
	ClarityConflicting ConsentClarity = "conflicting"
)

// ConsentAction is the resolver's verdict for one guardian and category.
type ConsentAction string

const (
	ActionAllow           ConsentAction = "allow"
	ActionBlock           ConsentAction = "block"
	ActionFlagForReview   ConsentAction = "flag_for_review"
	ActionRequireOverride ConsentAction = "require_override"
)

// FollowUpRequest asks the task layer to chase a consent gap.
type FollowUpRequest struct {
	Type     models.TaskType
	Priority models.TaskPriority
	DueIn    time.Duration
}

// Resolution is the full resolver output: the clarity classification, the
// action to take, whether the action may be overridden at all, and the
// follow-up work the gap generates.
type Resolution struct {
	Clarity     ConsentClarity
	Action      ConsentAction
	Overridable bool
	FollowUp    *FollowUpRequest
}

// clarityActions maps clarity to the resolver action for categories that
// require explicit consent (strict) and those that do not (lenient). Clear
// records bypass this table: granted allows, withdrawn blocks outright.
var clarityActions = map[ConsentClarity]struct {
	strict  ConsentAction
	lenient ConsentAction
}{
	ClarityUnclear:     {strict: ActionBlock, lenient: ActionFlagForReview},
	ClarityExpired:     {strict: ActionRequireOverride, lenient: ActionFlagForReview},
	ClarityConflicting: {strict: ActionRequireOverride, lenient: ActionFlagForReview},
}

// ConsentResolver computes a single guardian's consent verdict from the raw
// stored record. It is pure and safe for concurrent use.
type ConsentResolver struct{}

// NewConsentResolver constructs the resolver.
func NewConsentResolver() *ConsentResolver {
	return &ConsentResolver{}
}

// Resolve classifies the record and picks an action. A nil record means no
// consent was ever captured. conflicting is supplied by the caller when
// multiple raw sources disagree. Emergency messages always resolve to allow.
func (r *ConsentResolver) Resolve(category models.ConsentCategory, record *models.ConsentRecord, conflicting bool, isEmergency bool, now time.Time) Resolution {
	policy := models.PolicyFor(category)

	if policy.Mandatory || isEmergency {
		return Resolution{Clarity: r.classify(record, conflicting, now), Action: ActionAllow}
	}

	clarity := r.classify(record, conflicting, now)

	switch clarity {
	case ClarityClear:
		if record.Status == models.ConsentWithdrawn {
			// Explicit withdrawal is final. No role may override it.
			return Resolution{Clarity: clarity, Action: ActionBlock, Overridable: false}
		}
		return Resolution{Clarity: clarity, Action: ActionAllow}
	case ClarityMissing:
		if policy.DefaultStatus == models.ConsentGranted {
			return Resolution{Clarity: clarity, Action: ActionAllow}
		}
		return Resolution{
			Clarity:     clarity,
			Action:      ActionBlock,
			Overridable: len(policy.OverrideRoles) > 0,
			FollowUp:    r.followUp(clarity, category),
		}
	default:
		entry := clarityActions[clarity]
		action := entry.lenient
		if policy.RequiresExplicit {
			action = entry.strict
		}
		return Resolution{
			Clarity:     clarity,
			Action:      action,
			Overridable: len(policy.OverrideRoles) > 0,
			FollowUp:    r.followUp(clarity, category),
		}
	}
}

func (r *ConsentResolver) classify(record *models.ConsentRecord, conflicting bool, now time.Time) ConsentClarity {
	if conflicting {
		return ClarityConflicting
	}
	if record == nil {
		return ClarityMissing
	}
	if record.Expired(now) {
		return ClarityExpired
	}
	switch record.Status {
	case models.ConsentGranted, models.ConsentWithdrawn:
		return ClarityClear
	default:
		return ClarityUnclear
	}
}

func (r *ConsentResolver) followUp(clarity ConsentClarity, category models.ConsentCategory) *FollowUpRequest {
	var taskType models.TaskType
	switch clarity {
	case ClarityConflicting:
		taskType = models.TaskResolveConflict
	case ClarityUnclear, ClarityExpired:
		taskType = models.TaskVerifyConsent
	default:
		taskType = models.TaskCollectConsent
	}
	return &FollowUpRequest{
		Type:     taskType,
		Priority: models.TaskPriorityFor(category),
		DueIn:    taskType.DueOffset(),
	}
}
