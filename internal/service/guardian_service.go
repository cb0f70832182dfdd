package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type guardianStore interface {
	Create(ctx context.Context, guardian *models.Guardian) error
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
	Link(ctx context.Context, link *models.GuardianStudentLink) error
	ListForStudent(ctx context.Context, studentID string) ([]models.GuardianStudentLink, error)
	FindLink(ctx context.Context, guardianID, studentID string) (*models.GuardianStudentLink, error)
}

type guardianCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const guardianCacheTTL = 5 * time.Minute

// GuardianService manages guardian contacts and their links to students.
// Role limits and rights validation live in the repository layer so they
// hold for every caller. Profile and roster reads go through an optional
// cache since admission checks hit them on every send.
type GuardianService struct {
	store     guardianStore
	cache     guardianCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGuardianService constructs a GuardianService. The cache may be nil.
func NewGuardianService(store guardianStore, cache guardianCache, validate *validator.Validate, logger *zap.Logger) *GuardianService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GuardianService{store: store, cache: cache, validator: validate, logger: logger}
}

// Create registers a new guardian contact.
func (s *GuardianService) Create(ctx context.Context, req dto.CreateGuardianRequest) (*models.Guardian, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid guardian payload")
	}
	if req.Phone == nil && req.WhatsApp == nil && req.Email == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "guardian needs at least one contact method")
	}

	guardian := &models.Guardian{
		FullName: req.FullName,
		Phone:    req.Phone,
		WhatsApp: req.WhatsApp,
		Email:    req.Email,
		SchoolID: req.SchoolID,
	}
	if err := s.store.Create(ctx, guardian); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create guardian")
	}
	return guardian, nil
}

// Get returns one guardian by id.
func (s *GuardianService) Get(ctx context.Context, id string) (*models.Guardian, error) {
	guardian, _, err := s.GetWithSource(ctx, id)
	return guardian, err
}

// GetWithSource returns one guardian by id and reports whether the profile
// was served from cache.
func (s *GuardianService) GetWithSource(ctx context.Context, id string) (*models.Guardian, bool, error) {
	cacheKey := fmt.Sprintf("guardian:%s", id)
	if s.cache != nil {
		var cached models.Guardian
		err := s.cache.Get(ctx, cacheKey, &cached)
		if err == nil {
			return &cached, true, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("guardian cache read failed", zap.Error(err))
		}
	}

	guardian, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "guardian not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, guardian, guardianCacheTTL); err != nil {
			s.logger.Warn("guardian cache write failed", zap.Error(err))
		}
	}
	return guardian, false, nil
}

// Link attaches a guardian to a student with a role and rights. The store
// rejects links that exceed the per-student guardian limits or combine
// rights the role cannot hold.
func (s *GuardianService) Link(ctx context.Context, req dto.LinkGuardianRequest) (*models.GuardianStudentLink, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}

	link := &models.GuardianStudentLink{
		GuardianID:          req.GuardianID,
		StudentID:           req.StudentID,
		Role:                req.Role,
		CanPickup:           req.CanPickup,
		CanMakeDecisions:    req.CanMakeDecisions,
		CanReceiveReports:   req.CanReceiveReports,
		CanReceiveEmergency: req.CanReceiveEmergency,
		ReceivesAllComms:    req.ReceivesAllComms,
		ContactPriority:     req.ContactPriority,
	}
	if err := s.store.Link(ctx, link); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("guardians:student:%s", req.StudentID)); err != nil {
			s.logger.Warn("guardian roster cache invalidation failed", zap.Error(err))
		}
	}
	return link, nil
}

// ListForStudent returns all guardians linked to a student, ordered by
// contact priority, each paired with its link.
func (s *GuardianService) ListForStudent(ctx context.Context, studentID string) ([]dto.GuardianWithLink, error) {
	result, _, err := s.ListForStudentWithSource(ctx, studentID)
	return result, err
}

// ListForStudentWithSource returns a student's guardian roster and reports
// whether it was served from cache.
func (s *GuardianService) ListForStudentWithSource(ctx context.Context, studentID string) ([]dto.GuardianWithLink, bool, error) {
	cacheKey := fmt.Sprintf("guardians:student:%s", studentID)
	if s.cache != nil {
		var cached []dto.GuardianWithLink
		err := s.cache.Get(ctx, cacheKey, &cached)
		if err == nil {
			return cached, true, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("guardian roster cache read failed", zap.Error(err))
		}
	}

	links, err := s.store.ListForStudent(ctx, studentID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list guardians")
	}

	result := make([]dto.GuardianWithLink, 0, len(links))
	for _, link := range links {
		guardian, err := s.store.FindByID(ctx, link.GuardianID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("guardian link without guardian row", zap.String("guardian_id", link.GuardianID))
				continue
			}
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
		}
		result = append(result, dto.GuardianWithLink{Guardian: *guardian, Link: link})
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, result, guardianCacheTTL); err != nil {
			s.logger.Warn("guardian roster cache write failed", zap.Error(err))
		}
	}
	return result, false, nil
}
