package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
	"github.com/noah-isme/sma-notify-api/pkg/export"
	"github.com/noah-isme/sma-notify-api/pkg/jobs"
	"github.com/noah-isme/sma-notify-api/pkg/storage"
)

type exportConsentSource interface {
	StatusForStudent(ctx context.Context, studentID string) ([]dto.ConsentStatusItem, error)
}

type exportGuardianSource interface {
	Get(ctx context.Context, id string) (*models.Guardian, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// exportJob tracks one in-flight or finished export.
type exportJob struct {
	ID        string
	Status    string
	ResultURL string
	Err       string
}

// ExportService renders the consent register to CSV or PDF. Generation runs
// on a background queue; results land in file storage behind signed URLs.
type ExportService struct {
	consents  exportConsentSource
	guardians exportGuardianSource
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	queue     *jobs.Queue
	logger    *zap.Logger
	cfg       ExportConfig

	mu     sync.Mutex
	jobMap map[string]*exportJob
}

// NewExportService constructs an ExportService. Call Start before use and
// Stop on shutdown.
func NewExportService(consents exportConsentSource, guardians exportGuardianSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, queueCfg jobs.QueueConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	s := &ExportService{
		consents:  consents,
		guardians: guardians,
		storage:   store,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
		jobMap:    make(map[string]*exportJob),
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("consent-exports", s.handleGenerate, queueCfg)
	return s
}

// Start launches the export workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains and stops the export workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// Enqueue schedules a consent-register export and returns the job handle.
func (s *ExportService) Enqueue(ctx context.Context, req dto.ExportRequest) (*dto.ExportJobResponse, error) {
	if req.Format != dto.ExportCSV && req.Format != dto.ExportPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if req.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId is required")
	}

	job := &exportJob{ID: uuid.NewString(), Status: "queued"}
	s.mu.Lock()
	s.jobMap[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(req.Format), Payload: req}); err != nil {
		s.setStatus(job.ID, "failed", "", err.Error())
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export")
	}
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status}, nil
}

// Status returns job progress and, once done, the signed download URL.
func (s *ExportService) Status(id string) (*dto.ExportStatusResponse, error) {
	s.mu.Lock()
	job, ok := s.jobMap[id]
	s.mu.Unlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	resp := &dto.ExportStatusResponse{ID: job.ID, Status: job.Status}
	if job.ResultURL != "" {
		url := job.ResultURL
		resp.ResultURL = &url
	}
	if job.Err != "" {
		msg := job.Err
		resp.Error = &msg
	}
	return resp, nil
}

// OpenDownload validates a signed token and opens the rendered file.
func (s *ExportService) OpenDownload(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

// CleanupExpired removes rendered files older than the result TTL.
func (s *ExportService) CleanupExpired() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("cleaned up expired exports", zap.Int("count", len(removed)))
	}
}

func (s *ExportService) handleGenerate(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(dto.ExportRequest)
	if !ok {
		s.setStatus(job.ID, "failed", "", "unexpected payload")
		return nil
	}
	s.setStatus(job.ID, "processing", "", "")

	dataset, err := s.buildDataset(ctx, req.StudentID)
	if err != nil {
		s.setStatus(job.ID, "failed", "", err.Error())
		return err
	}

	var payload []byte
	switch req.Format {
	case dto.ExportCSV:
		payload, err = s.csv.Render(dataset)
	case dto.ExportPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Consent Register - Student %s", req.StudentID))
	}
	if err != nil {
		s.setStatus(job.ID, "failed", "", err.Error())
		return err
	}

	filename := fmt.Sprintf("consent-register-%s-%d.%s", req.StudentID, time.Now().UTC().Unix(), req.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		s.setStatus(job.ID, "failed", "", err.Error())
		return err
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		s.setStatus(job.ID, "failed", "", err.Error())
		return err
	}
	url := fmt.Sprintf("%s/exports/download?token=%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token)
	s.setStatus(job.ID, "done", url, "")
	return nil
}

// buildDataset flattens the consent register into export rows, resolving
// guardian names along the way.
func (s *ExportService) buildDataset(ctx context.Context, studentID string) (export.Dataset, error) {
	items, err := s.consents.StatusForStudent(ctx, studentID)
	if err != nil {
		return export.Dataset{}, err
	}

	dataset := export.Dataset{
		Headers: []string{"Guardian", "Category", "Status", "Clarity", "Source", "Expires"},
	}
	names := make(map[string]string)
	for _, item := range items {
		name, cached := names[item.GuardianID]
		if !cached {
			guardian, err := s.guardians.Get(ctx, item.GuardianID)
			if err != nil {
				name = item.GuardianID
			} else {
				name = guardian.FullName
			}
			names[item.GuardianID] = name
		}
		expires := ""
		if item.ExpiresAt != nil {
			expires = item.ExpiresAt.UTC().Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Guardian": name,
			"Category": string(item.Category),
			"Status":   string(item.Status),
			"Clarity":  item.Clarity,
			"Source":   string(item.Source),
			"Expires":  expires,
		})
	}
	return dataset, nil
}

func (s *ExportService) setStatus(id, status, url, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobMap[id]
	if !ok {
		return
	}
	job.Status = status
	job.ResultURL = url
	job.Err = errMsg
}
