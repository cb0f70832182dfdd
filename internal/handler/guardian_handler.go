package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/middleware"
	"github.com/noah-isme/sma-notify-api/internal/service"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
	"github.com/noah-isme/sma-notify-api/pkg/response"
)

// GuardianHandler exposes guardian contact management endpoints.
type GuardianHandler struct {
	service *service.GuardianService
}

// NewGuardianHandler creates a new handler.
func NewGuardianHandler(svc *service.GuardianService) *GuardianHandler {
	return &GuardianHandler{service: svc}
}

// Create godoc
// @Summary Register a guardian
// @Description Create a guardian contact with at least one reachable channel
// @Tags Guardians
// @Accept json
// @Produce json
// @Param payload body dto.CreateGuardianRequest true "Guardian payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /guardians [post]
func (h *GuardianHandler) Create(c *gin.Context) {
	var req dto.CreateGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid guardian payload"))
		return
	}

	guardian, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, guardian, nil)
}

// Get godoc
// @Summary Guardian detail
// @Tags Guardians
// @Produce json
// @Param id path string true "Guardian ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /guardians/{id} [get]
func (h *GuardianHandler) Get(c *gin.Context) {
	guardian, cached, err := h.service.GetWithSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, guardian, nil, middleware.ExtractMeta(c))
}

// Link godoc
// @Summary Link guardian to student
// @Description Attach a guardian with a role; limits and rights rules apply
// @Tags Guardians
// @Accept json
// @Produce json
// @Param payload body dto.LinkGuardianRequest true "Link payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /guardians/link [post]
func (h *GuardianHandler) Link(c *gin.Context) {
	var req dto.LinkGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}

	link, err := h.service.Link(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, link, nil)
}

// ListForStudent godoc
// @Summary Guardians of a student
// @Description All linked guardians ordered by contact priority
// @Tags Guardians
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/guardians [get]
func (h *GuardianHandler) ListForStudent(c *gin.Context) {
	guardians, cached, err := h.service.ListForStudentWithSource(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, guardians, nil, middleware.ExtractMeta(c))
}
