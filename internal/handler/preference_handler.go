package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/service"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
	"github.com/noah-isme/sma-notify-api/pkg/response"
)

// PreferenceHandler exposes guardian preference and opt-out endpoints.
type PreferenceHandler struct {
	service *service.PreferenceService
}

// NewPreferenceHandler creates a new handler.
func NewPreferenceHandler(svc *service.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{service: svc}
}

// Get godoc
// @Summary Guardian preferences
// @Description Return stored preferences, or defaults if none were set
// @Tags Preferences
// @Produce json
// @Param id path string true "Guardian ID"
// @Success 200 {object} response.Envelope
// @Router /guardians/{id}/preferences [get]
func (h *PreferenceHandler) Get(c *gin.Context) {
	prefs, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prefs, nil)
}

// Update godoc
// @Summary Update preferences
// @Description Apply a partial preference mutation; emergency alerts cannot be disabled
// @Tags Preferences
// @Accept json
// @Produce json
// @Param id path string true "Guardian ID"
// @Param payload body dto.UpdatePreferencesRequest true "Preference payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /guardians/{id}/preferences [put]
func (h *PreferenceHandler) Update(c *gin.Context) {
	var req dto.UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preferences payload"))
		return
	}

	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	prefs, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prefs, nil)
}

// History godoc
// @Summary Preference history
// @Description Preference change log, newest first
// @Tags Preferences
// @Produce json
// @Param id path string true "Guardian ID"
// @Success 200 {object} response.Envelope
// @Router /guardians/{id}/preferences/history [get]
func (h *PreferenceHandler) History(c *gin.Context) {
	changes, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, changes, nil)
}

// RecordOptOut godoc
// @Summary Record an opt-out
// @Description Create a scope-qualified opt-out; emergency alerts are exempt
// @Tags Preferences
// @Accept json
// @Produce json
// @Param payload body dto.RecordOptOutRequest true "Opt-out payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /opt-outs [post]
func (h *PreferenceHandler) RecordOptOut(c *gin.Context) {
	var req dto.RecordOptOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid opt-out payload"))
		return
	}

	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	optOut, err := h.service.RecordOptOut(c.Request.Context(), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, optOut, nil)
}

// ActiveOptOuts godoc
// @Summary Active opt-outs
// @Description Opt-outs currently in force for a guardian and student
// @Tags Preferences
// @Produce json
// @Param id path string true "Guardian ID"
// @Param studentId query string false "Student ID"
// @Success 200 {object} response.Envelope
// @Router /guardians/{id}/opt-outs [get]
func (h *PreferenceHandler) ActiveOptOuts(c *gin.Context) {
	optOuts, err := h.service.ActiveOptOuts(c.Request.Context(), c.Param("id"), c.Query("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, optOuts, nil)
}
