package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

type reactivationService interface {
	Reactivate(ctx context.Context, studentID string, req dto.ReactivateStudentRequest, actor *models.JWTClaims) (*dto.ReactivationResult, error)
}

type eligibilityService interface {
	CommitteeEligibility(ctx context.Context, studentID, year string, actor *models.JWTClaims) (*dto.CommitteeEligibility, error)
}

// StudentHandler exposes student-scoped supervision endpoints.
type StudentHandler struct {
	reactivation reactivationService
	eligibility  eligibilityService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(reactivation reactivationService, eligibility eligibilityService) *StudentHandler {
	return &StudentHandler{reactivation: reactivation, eligibility: eligibility}
}

// Reactivate godoc
// @Summary Reactivate a student who did not defend
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.ReactivateStudentRequest true "Reactivation options"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /students/{id}/reactivate [post]
func (h *StudentHandler) Reactivate(c *gin.Context) {
	var req dto.ReactivateStudentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reactivation payload"))
			return
		}
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := h.reactivation.Reactivate(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithWarnings(c, http.StatusCreated, result, result.Warnings)
}

// Eligibility godoc
// @Summary Check whether a student may be scheduled for defense
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param academicYear query string false "Academic year, defaults to the current one"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/committee-eligibility [get]
func (h *StudentHandler) Eligibility(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := h.eligibility.CommitteeEligibility(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("academicYear")), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
