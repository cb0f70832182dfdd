package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/service"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
	"github.com/noah-isme/sma-notify-api/pkg/response"
)

// NotificationHandler exposes admission and delivery endpoints.
type NotificationHandler struct {
	service *service.NotificationService
}

// NewNotificationHandler creates a new handler.
func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// Admit godoc
// @Summary Preview admission decisions
// @Description Evaluate who a message would reach and why, without sending
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.AdmitRequest true "Admission payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications/admit [post]
func (h *NotificationHandler) Admit(c *gin.Context) {
	var req dto.AdmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid admission payload"))
		return
	}

	decisions, err := h.service.Admit(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, decisions, nil)
}

// Submit godoc
// @Summary Submit a notification
// @Description Admit a message and dispatch one delivery per admitted guardian
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Submit payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications [post]
func (h *NotificationHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submit payload"))
		return
	}

	res, err := h.service.Submit(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, res, nil)
}

// Status godoc
// @Summary Delivery status
// @Description Poll one delivery's lifecycle state
// @Tags Notifications
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /deliveries/{id} [get]
func (h *NotificationHandler) Status(c *gin.Context) {
	res, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Cancel godoc
// @Summary Cancel a delivery
// @Description Abort a pending delivery and release its quota slot
// @Tags Notifications
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /deliveries/{id}/cancel [post]
func (h *NotificationHandler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Confirm godoc
// @Summary Confirm a delivery
// @Description Record transport receipt confirmation for a sent delivery
// @Tags Notifications
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /deliveries/{id}/confirm [post]
func (h *NotificationHandler) Confirm(c *gin.Context) {
	if err := h.service.Confirm(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resend godoc
// @Summary Resend an exhausted delivery
// @Description Manually re-enter an exhausted delivery with fresh retry budgets
// @Tags Notifications
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /deliveries/{id}/resend [post]
func (h *NotificationHandler) Resend(c *gin.Context) {
	if err := h.service.Resend(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetConnectivity godoc
// @Summary Toggle delivery connectivity
// @Description Park deliveries offline or replay the offline queue
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body object true "Connectivity payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /deliveries/connectivity [post]
func (h *NotificationHandler) SetConnectivity(c *gin.Context) {
	var payload struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "online flag required"))
		return
	}
	h.service.SetOnline(c.Request.Context(), *payload.Online)
	response.NoContent(c)
}
