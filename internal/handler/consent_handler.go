package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/service"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
	"github.com/noah-isme/sma-notify-api/pkg/response"
)

// ConsentHandler exposes the consent register endpoints.
type ConsentHandler struct {
	service *service.ConsentService
}

// NewConsentHandler creates a new handler.
func NewConsentHandler(svc *service.ConsentService) *ConsentHandler {
	return &ConsentHandler{service: svc}
}

func (h *ConsentHandler) actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// Record godoc
// @Summary Record consent
// @Description Append a consent decision to the register
// @Tags Consent
// @Accept json
// @Produce json
// @Param payload body dto.RecordConsentRequest true "Consent payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /consents [post]
func (h *ConsentHandler) Record(c *gin.Context) {
	var req dto.RecordConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid consent payload"))
		return
	}

	record, err := h.service.Record(c.Request.Context(), req, h.actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, record, nil)
}

// Withdraw godoc
// @Summary Withdraw consent
// @Description Append a withdrawal record for one category
// @Tags Consent
// @Accept json
// @Produce json
// @Param payload body dto.WithdrawConsentRequest true "Withdrawal payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /consents/withdraw [post]
func (h *ConsentHandler) Withdraw(c *gin.Context) {
	var req dto.WithdrawConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid withdrawal payload"))
		return
	}

	record, err := h.service.Withdraw(c.Request.Context(), req, h.actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, record, nil)
}

// Sync godoc
// @Summary Sync offline consent
// @Description Ingest a consent decision captured while disconnected
// @Tags Consent
// @Accept json
// @Produce json
// @Param payload body dto.OfflineConsentRequest true "Offline consent payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /consents/sync [post]
func (h *ConsentHandler) Sync(c *gin.Context) {
	var req dto.OfflineConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offline consent payload"))
		return
	}

	record, err := h.service.SyncOffline(c.Request.Context(), req, h.actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, record, nil)
}

// Register godoc
// @Summary Student consent register
// @Description Latest consent per guardian and category with clarity
// @Tags Consent
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/consents [get]
func (h *ConsentHandler) Register(c *gin.Context) {
	items, err := h.service.StatusForStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
