package models

import "time"

// TaskType classifies a consent follow-up task.
type TaskType string

const (
	TaskCollectConsent  TaskType = "collect_consent"
	TaskVerifyConsent   TaskType = "verify_consent"
	TaskResolveConflict TaskType = "resolve_conflict"
	TaskContactGuardian TaskType = "contact_guardian"
)

// TaskPriority orders follow-up work for office staff.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityNormal TaskPriority = "normal"
)

// DueOffset returns how long staff have to act on a task of this type.
// Conflicts are the most urgent, plain collection the least.
func (t TaskType) DueOffset() time.Duration {
	switch t {
	case TaskResolveConflict, TaskContactGuardian:
		return 24 * time.Hour
	case TaskVerifyConsent:
		return 3 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// FollowUpTask is a work item generated when an admission is blocked on
// missing, unclear, or conflicting consent.
type FollowUpTask struct {
	ID          string          `db:"id" json:"id"`
	Type        TaskType        `db:"type" json:"type"`
	GuardianID  string          `db:"guardian_id" json:"guardian_id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	Category    ConsentCategory `db:"category" json:"category"`
	Priority    TaskPriority    `db:"priority" json:"priority"`
	Note        string          `db:"note" json:"note"`
	DueAt       time.Time       `db:"due_at" json:"due_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// TaskPriorityFor derives follow-up urgency from category sensitivity. Fee and
// attendance consent gaps block money and safeguarding flows, so they go to
// the top of the pile.
func TaskPriorityFor(category ConsentCategory) TaskPriority {
	switch category {
	case CategoryFees, CategoryAttendance:
		return TaskPriorityHigh
	}
	return TaskPriorityNormal
}
