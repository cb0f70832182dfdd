package service

import "github.com/noah-isme/sma-notify-api/internal/models"

// GuardianStance is one guardian's effective position on receiving a message.
type GuardianStance string

const (
	StanceOptedIn      GuardianStance = "opted_in"
	StanceOptedOut     GuardianStance = "opted_out"
	StanceNoPreference GuardianStance = "no_preference"
)

// GuardianDecision tags a stance with the guardian it belongs to and whether
// that guardian is a primary guardian for the student.
type GuardianDecision struct {
	GuardianID string
	Stance     GuardianStance
	IsPrimary  bool
}

// ConflictOutcome merges multiple guardians' decisions into one verdict.
type ConflictOutcome struct {
	Allowed      bool
	AppliedRule  string
	OverriddenBy string
}

// ConflictResolver combines per-guardian decisions under a category's
// configured strategy. Pure and safe for concurrent use.
type ConflictResolver struct{}

// NewConflictResolver constructs the resolver.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Resolve applies the strategy. A single decision bypasses conflict handling
// entirely; zero decisions means nobody consented.
func (r *ConflictResolver) Resolve(decisions []GuardianDecision, strategy models.ConflictStrategy) ConflictOutcome {
	if len(decisions) == 0 {
		return ConflictOutcome{Allowed: false, AppliedRule: "consent_not_granted"}
	}
	if len(decisions) == 1 {
		return ConflictOutcome{
			Allowed:     decisions[0].Stance == StanceOptedIn,
			AppliedRule: "single_guardian",
		}
	}

	switch strategy {
	case models.StrategyAllGuardiansAllow, models.StrategyMostRestrictive:
		return r.allAllow(decisions)
	case models.StrategyPrimaryDecides:
		return r.primaryDecides(decisions)
	default:
		// any_guardian_allows and most_permissive are the same rule.
		return r.anyAllows(decisions)
	}
}

func (r *ConflictResolver) anyAllows(decisions []GuardianDecision) ConflictOutcome {
	for _, d := range decisions {
		if d.Stance == StanceOptedIn {
			return ConflictOutcome{Allowed: true, AppliedRule: "any_guardian_allows", OverriddenBy: d.GuardianID}
		}
	}
	return ConflictOutcome{Allowed: false, AppliedRule: "any_guardian_allows"}
}

func (r *ConflictResolver) allAllow(decisions []GuardianDecision) ConflictOutcome {
	optedIn := 0
	for _, d := range decisions {
		switch d.Stance {
		case StanceOptedOut:
			return ConflictOutcome{Allowed: false, AppliedRule: "all_guardians_allow", OverriddenBy: d.GuardianID}
		case StanceOptedIn:
			optedIn++
		}
	}
	return ConflictOutcome{Allowed: optedIn > 0, AppliedRule: "all_guardians_allow"}
}

func (r *ConflictResolver) primaryDecides(decisions []GuardianDecision) ConflictOutcome {
	for _, d := range decisions {
		if !d.IsPrimary {
			continue
		}
		return ConflictOutcome{
			Allowed:      d.Stance == StanceOptedIn,
			AppliedRule:  "primary_guardian_decides",
			OverriddenBy: d.GuardianID,
		}
	}
	// No primary guardian on record: fall back to the permissive rule.
	outcome := r.anyAllows(decisions)
	outcome.AppliedRule = "primary_guardian_decides:any_guardian_allows"
	return outcome
}
