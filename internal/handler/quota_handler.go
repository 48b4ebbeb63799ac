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

type quotaService interface {
	Policy(ctx context.Context, departmentID, year string) (*dto.QuotaPolicyResponse, error)
	SetPolicy(ctx context.Context, departmentID string, req dto.QuotaPolicyRequest, actor *models.JWTClaims) (*dto.QuotaPolicyResponse, error)
	TeacherLoad(ctx context.Context, teacherID, year string) (*dto.SupervisorLoadResponse, error)
}

// QuotaHandler exposes department quota policies and supervisor loads.
type QuotaHandler struct {
	service quotaService
}

// NewQuotaHandler constructs the handler.
func NewQuotaHandler(service quotaService) *QuotaHandler {
	return &QuotaHandler{service: service}
}

// GetPolicy godoc
// @Summary Get the quota policy of a department
// @Tags Quotas
// @Produce json
// @Param id path string true "Department ID"
// @Param academicYear query string false "Academic year, defaults to the current one"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /departments/{id}/quota-policy [get]
func (h *QuotaHandler) GetPolicy(c *gin.Context) {
	policy, err := h.service.Policy(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("academicYear")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// SetPolicy godoc
// @Summary Replace the quota policy of a department
// @Tags Quotas
// @Accept json
// @Produce json
// @Param id path string true "Department ID"
// @Param payload body dto.QuotaPolicyRequest true "Policy"
// @Success 200 {object} response.Envelope
// @Router /departments/{id}/quota-policy [put]
func (h *QuotaHandler) SetPolicy(c *gin.Context) {
	var req dto.QuotaPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid quota policy payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	policy, err := h.service.SetPolicy(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// TeacherLoad godoc
// @Summary Get the quota and consumed load of a supervisor
// @Tags Quotas
// @Produce json
// @Param id path string true "Teacher ID"
// @Param academicYear query string false "Academic year, defaults to the current one"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/load [get]
func (h *QuotaHandler) TeacherLoad(c *gin.Context) {
	load, err := h.service.TeacherLoad(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("academicYear")))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithWarnings(c, http.StatusOK, load, load.Warnings)
}
