package models

import "time"

// ConsentCategory is the closed set of communication categories a school may
// contact guardians about.
type ConsentCategory string

const (
	CategoryEmergencyAlerts  ConsentCategory = "emergency_alerts"
	CategoryAttendance       ConsentCategory = "attendance_notifications"
	CategoryAcademic         ConsentCategory = "academic_updates"
	CategoryFees             ConsentCategory = "fee_communications"
	CategoryAnnouncements    ConsentCategory = "school_announcements"
	CategoryEventInvitations ConsentCategory = "event_invitations"
)

// AllCategories lists every known category in a stable order.
var AllCategories = []ConsentCategory{
	CategoryEmergencyAlerts,
	CategoryAttendance,
	CategoryAcademic,
	CategoryFees,
	CategoryAnnouncements,
	CategoryEventInvitations,
}

// Valid reports whether the category is one of the known categories.
func (c ConsentCategory) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ConsentStatus is the lifecycle state of a consent record.
type ConsentStatus string

const (
	ConsentGranted      ConsentStatus = "granted"
	ConsentPending      ConsentStatus = "pending"
	ConsentWithdrawn    ConsentStatus = "withdrawn"
	ConsentNotRequested ConsentStatus = "not_requested"
)

// ConsentSource records how a consent decision was captured.
type ConsentSource string

const (
	SourcePaperForm         ConsentSource = "paper_form"
	SourceVerbalWitnessed   ConsentSource = "verbal_witnessed"
	SourcePhoneCall         ConsentSource = "phone_call"
	SourceMessageReply      ConsentSource = "message_reply"
	SourceEnrollmentDefault ConsentSource = "enrollment_default"
	SourceMigration         ConsentSource = "migration"
)

// ConflictStrategy merges several guardians' decisions into one outcome.
type ConflictStrategy string

const (
	StrategyAnyGuardianAllows    ConflictStrategy = "any_guardian_allows"
	StrategyAllGuardiansAllow    ConflictStrategy = "all_guardians_allow"
	StrategyPrimaryDecides       ConflictStrategy = "primary_guardian_decides"
	StrategyMostPermissive       ConflictStrategy = "most_permissive"
	StrategyMostRestrictive      ConflictStrategy = "most_restrictive"
)

// CategoryPolicy describes the consent rules attached to one category.
type CategoryPolicy struct {
	Category         ConsentCategory
	Mandatory        bool
	DefaultStatus    ConsentStatus
	RequiresExplicit bool
	VerbalAccepted   bool
	ExpiryPeriod     time.Duration
	Strategy         ConflictStrategy
	OverrideRoles    []UserRole
	ManualSendOK     bool
}

// categoryPolicies is the static policy table. Emergency alerts are mandatory
// and can never be opted out of; fee communications require a paper form and
// expire annually; event invitations are assumed from enrollment.
var categoryPolicies = map[ConsentCategory]CategoryPolicy{
	CategoryEmergencyAlerts: {
		Category:      CategoryEmergencyAlerts,
		Mandatory:     true,
		DefaultStatus: ConsentGranted,
		Strategy:      StrategyAnyGuardianAllows,
		ManualSendOK:  true,
	},
	CategoryAttendance: {
		Category:         CategoryAttendance,
		DefaultStatus:    ConsentPending,
		RequiresExplicit: true,
		VerbalAccepted:   true,
		Strategy:         StrategyAnyGuardianAllows,
		OverrideRoles:    []UserRole{RoleAdmin, RoleSuperAdmin},
		ManualSendOK:     true,
	},
	CategoryAcademic: {
		Category:       CategoryAcademic,
		DefaultStatus:  ConsentPending,
		VerbalAccepted: true,
		Strategy:       StrategyPrimaryDecides,
		OverrideRoles:  []UserRole{RoleTeacher, RoleAdmin, RoleSuperAdmin},
		ManualSendOK:   true,
	},
	CategoryFees: {
		Category:         CategoryFees,
		DefaultStatus:    ConsentNotRequested,
		RequiresExplicit: true,
		ExpiryPeriod:     365 * 24 * time.Hour,
		Strategy:         StrategyAllGuardiansAllow,
		OverrideRoles:    []UserRole{RoleAdmin, RoleSuperAdmin},
	},
	CategoryAnnouncements: {
		Category:       CategoryAnnouncements,
		DefaultStatus:  ConsentGranted,
		VerbalAccepted: true,
		Strategy:       StrategyMostPermissive,
		ManualSendOK:   true,
	},
	CategoryEventInvitations: {
		Category:      CategoryEventInvitations,
		DefaultStatus: ConsentGranted,
		Strategy:      StrategyMostPermissive,
		ManualSendOK:  true,
	},
}

// PolicyFor returns the policy table entry for a category. Unknown categories
// fall back to the most restrictive posture: explicit consent, no overrides.
func PolicyFor(category ConsentCategory) CategoryPolicy {
	if p, ok := categoryPolicies[category]; ok {
		return p
	}
	return CategoryPolicy{
		Category:         category,
		DefaultStatus:    ConsentNotRequested,
		RequiresExplicit: true,
		Strategy:         StrategyMostRestrictive,
	}
}

// CanOverride reports whether the given role may override a consent block for
// this category.
func (p CategoryPolicy) CanOverride(role UserRole) bool {
	for _, r := range p.OverrideRoles {
		if r == role {
			return true
		}
	}
	return false
}

// ConsentRecord is one captured consent decision for a (guardian, student,
// category) tuple. Records are immutable once written: a change of mind is a
// new record, never an update, so the audit trail owns the full history.
type ConsentRecord struct {
	ID          string          `db:"id" json:"id"`
	GuardianID  string          `db:"guardian_id" json:"guardian_id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	Category    ConsentCategory `db:"category" json:"category"`
	Status      ConsentStatus   `db:"status" json:"status"`
	Source      ConsentSource   `db:"source" json:"source"`
	GrantedAt   *time.Time      `db:"granted_at" json:"granted_at,omitempty"`
	WithdrawnAt *time.Time      `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	ExpiresAt   *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	RecordedBy  string          `db:"recorded_by" json:"recorded_by"`
	SyncedAt    *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Expired reports whether the record's expiry has passed at the given time.
func (r *ConsentRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}
