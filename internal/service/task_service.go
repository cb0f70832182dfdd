package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
	"github.com/noah-isme/sma-notify-api/pkg/jobs"
)

type taskStore interface {
	Create(ctx context.Context, task *models.FollowUpTask) error
	ListOpen(ctx context.Context) ([]models.FollowUpTask, error)
	Complete(ctx context.Context, id string, completedAt time.Time) error
}

// TaskService manages consent follow-up tasks. Creation runs through a
// background queue so admission never blocks on the task store.
type TaskService struct {
	store  taskStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewTaskService constructs a TaskService with its own follow-up queue. Call
// Start before use and Stop on shutdown.
func NewTaskService(store taskStore, cfg jobs.QueueConfig, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TaskService{store: store, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("follow-up-tasks", s.handleCreate, cfg)
	return s
}

// Start launches the background workers.
func (s *TaskService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains and stops the background workers.
func (s *TaskService) Stop() {
	s.queue.Stop()
}

// CreateFollowUp queues a follow-up task for a consent gap. Duplicate gaps
// simply produce duplicate tasks; office staff resolve them together.
func (s *TaskService) CreateFollowUp(ctx context.Context, guardianID, studentID string, category models.ConsentCategory, req FollowUpRequest) error {
	dueIn := req.DueIn
	if dueIn <= 0 {
		dueIn = req.Type.DueOffset()
	}
	task := &models.FollowUpTask{
		Type:       req.Type,
		GuardianID: guardianID,
		StudentID:  studentID,
		Category:   category,
		Priority:   req.Priority,
		Note:       fmt.Sprintf("consent follow-up for %s", category),
		DueAt:      time.Now().UTC().Add(dueIn),
	}
	return s.queue.Enqueue(jobs.Job{Type: "create_follow_up", Payload: task})
}

// ListOpen returns open follow-up tasks ordered by priority then due date.
func (s *TaskService) ListOpen(ctx context.Context) ([]models.FollowUpTask, error) {
	tasks, err := s.store.ListOpen(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list follow-up tasks")
	}
	return tasks, nil
}

// Complete marks a follow-up task done.
func (s *TaskService) Complete(ctx context.Context, id string) error {
	if err := s.store.Complete(ctx, id, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete task")
	}
	return nil
}

func (s *TaskService) handleCreate(ctx context.Context, job jobs.Job) error {
	task, ok := job.Payload.(*models.FollowUpTask)
	if !ok {
		s.logger.Error("follow-up job carried unexpected payload", zap.String("job_type", job.Type))
		return nil
	}
	return s.store.Create(ctx, task)
}
