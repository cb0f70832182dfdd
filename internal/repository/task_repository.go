package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// TaskRepository persists consent follow-up tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs the repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, type, guardian_id, student_id, category, priority, note, due_at, completed_at, created_at`

// Create inserts a follow-up task.
func (r *TaskRepository) Create(ctx context.Context, task *models.FollowUpTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO follow_up_tasks (` + taskColumns + `)
		VALUES (:id, :type, :guardian_id, :student_id, :category, :priority, :note, :due_at, :completed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create follow-up task: %w", err)
	}
	return nil
}

// ListOpen returns incomplete tasks ordered by priority then due date.
func (r *TaskRepository) ListOpen(ctx context.Context) ([]models.FollowUpTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM follow_up_tasks
		WHERE completed_at IS NULL
		ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, due_at ASC`
	tasks := []models.FollowUpTask{}
	if err := r.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return tasks, nil
}

// Complete stamps a task as done.
func (r *TaskRepository) Complete(ctx context.Context, id string, completedAt time.Time) error {
	const query = `UPDATE follow_up_tasks SET completed_at = $2 WHERE id = $1 AND completed_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, completedAt)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
