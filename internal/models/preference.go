package models

import "time"

// Channel is a delivery channel for outbound guardian messages.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelNone     Channel = "none"
)

// Valid reports whether the channel is a known value.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail, ChannelNone:
		return true
	}
	return false
}

// Sendable reports whether the channel can actually carry a message.
func (c Channel) Sendable() bool {
	return c.Valid() && c != ChannelNone
}

// ParentPreferences holds one guardian's delivery preferences. The emergency
// category flag is pinned to true: no code path may toggle it off.
type ParentPreferences struct {
	ID                   string    `db:"id" json:"id"`
	GuardianID           string    `db:"guardian_id" json:"guardian_id"`
	PreferredChannel     Channel   `db:"preferred_channel" json:"preferred_channel"`
	GlobalOptOut         bool      `db:"global_opt_out" json:"global_opt_out"`
	ReceivesEmergency    bool      `db:"receives_emergency" json:"receives_emergency"`
	ReceivesAttendance   bool      `db:"receives_attendance" json:"receives_attendance"`
	ReceivesAcademic     bool      `db:"receives_academic" json:"receives_academic"`
	ReceivesFeeUpdates   bool      `db:"receives_fee_updates" json:"receives_fee_updates"`
	ReceivesAnnouncement bool      `db:"receives_announcements" json:"receives_announcements"`
	ReceivesEvents       bool      `db:"receives_events" json:"receives_events"`
	QuietHoursStart      *int      `db:"quiet_hours_start" json:"quiet_hours_start,omitempty"`
	QuietHoursEnd        *int      `db:"quiet_hours_end" json:"quiet_hours_end,omitempty"`
	WeeklyMessageCap     int       `db:"weekly_message_cap" json:"weekly_message_cap"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultPreferences returns the preference row created for a guardian who has
// never expressed a choice.
func DefaultPreferences(guardianID string) *ParentPreferences {
	return &ParentPreferences{
		GuardianID:           guardianID,
		PreferredChannel:     ChannelWhatsApp,
		ReceivesEmergency:    true,
		ReceivesAttendance:   true,
		ReceivesAcademic:     true,
		ReceivesFeeUpdates:   true,
		ReceivesAnnouncement: true,
		ReceivesEvents:       true,
		WeeklyMessageCap:     10,
	}
}

// CategoryEnabled reports whether the guardian accepts messages in the given
// category. Emergency alerts are always enabled regardless of the stored flag.
func (p *ParentPreferences) CategoryEnabled(category ConsentCategory) bool {
	switch category {
	case CategoryEmergencyAlerts:
		return true
	case CategoryAttendance:
		return p.ReceivesAttendance
	case CategoryAcademic:
		return p.ReceivesAcademic
	case CategoryFees:
		return p.ReceivesFeeUpdates
	case CategoryAnnouncements:
		return p.ReceivesAnnouncement
	case CategoryEventInvitations:
		return p.ReceivesEvents
	}
	return false
}

// InQuietHours reports whether the given hour falls inside the guardian's
// quiet window, honoring windows that wrap midnight.
func (p *ParentPreferences) InQuietHours(hour int) bool {
	if p.QuietHoursStart == nil || p.QuietHoursEnd == nil {
		return false
	}
	start, end := *p.QuietHoursStart, *p.QuietHoursEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// OptOutScope qualifies the reach of an opt-out record.
type OptOutScope string

const (
	ScopeAllAutomated    OptOutScope = "all_automated"
	ScopeCategory        OptOutScope = "category"
	ScopeStudentSpecific OptOutScope = "student_specific"
	ScopeTemporary       OptOutScope = "temporary"
)

// optOutPrecedence orders scopes from most to least specific.
var optOutPrecedence = map[OptOutScope]int{
	ScopeStudentSpecific: 0,
	ScopeCategory:        1,
	ScopeAllAutomated:    2,
	ScopeTemporary:       3,
}

// MoreSpecific reports whether scope a takes precedence over scope b.
func MoreSpecific(a, b OptOutScope) bool {
	return optOutPrecedence[a] < optOutPrecedence[b]
}

// OptOutRecord is a scope-qualified opt-out, guardian-wide or per student.
type OptOutRecord struct {
	ID         string           `db:"id" json:"id"`
	GuardianID string           `db:"guardian_id" json:"guardian_id"`
	StudentID  *string          `db:"student_id" json:"student_id,omitempty"`
	Category   *ConsentCategory `db:"category" json:"category,omitempty"`
	Scope      OptOutScope      `db:"scope" json:"scope"`
	ExpiresAt  *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// Active reports whether the opt-out is still in force at the given time.
func (o *OptOutRecord) Active(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// AppliesTo reports whether the opt-out covers a message for the student and
// category. A nil student or category on the record means "any".
func (o *OptOutRecord) AppliesTo(studentID string, category ConsentCategory) bool {
	if o.StudentID != nil && *o.StudentID != studentID {
		return false
	}
	if o.Category != nil && *o.Category != category {
		return false
	}
	return true
}

// PreferenceChange is one history entry recorded when preferences mutate.
type PreferenceChange struct {
	ID         string    `db:"id" json:"id"`
	GuardianID string    `db:"guardian_id" json:"guardian_id"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
