package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

type encadrementService interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Encadrement, error)
	List(ctx context.Context, query dto.EncadrementQuery, actor *models.JWTClaims) ([]models.Encadrement, *response.Pagination, error)
	Request(ctx context.Context, req dto.CreateEncadrementRequest, actor *models.JWTClaims) (*dto.EncadrementResult, error)
	Accept(ctx context.Context, id string, actor *models.JWTClaims) (*dto.EncadrementResult, error)
	Refuse(ctx context.Context, id string, req dto.RefuseEncadrementRequest, actor *models.JWTClaims) (*dto.EncadrementResult, error)
	Validate(ctx context.Context, id string, actor *models.JWTClaims) (*dto.EncadrementResult, error)
	Reassign(ctx context.Context, id string, req dto.ReassignEncadrementRequest, actor *models.JWTClaims) (*dto.EncadrementResult, error)
}

// EncadrementHandler exposes the supervision workflow.
type EncadrementHandler struct {
	service encadrementService
}

// NewEncadrementHandler constructs the handler.
func NewEncadrementHandler(service encadrementService) *EncadrementHandler {
	return &EncadrementHandler{service: service}
}

// List godoc
// @Summary List supervisions
// @Tags Encadrements
// @Produce json
// @Param academicYear query string false "Academic year (YYYY-YYYY)"
// @Param status query string false "Status filter"
// @Param studentId query string false "Student filter"
// @Param supervisorId query string false "Supervisor filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /encadrements [get]
func (h *EncadrementHandler) List(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	query := dto.EncadrementQuery{
		AcademicYear: strings.TrimSpace(c.Query("academicYear")),
		Status:       strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		StudentID:    c.Query("studentId"),
		SupervisorID: c.Query("supervisorId"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		query.PageSize = size
	}
	items, pagination, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get supervision detail
// @Tags Encadrements
// @Produce json
// @Param id path string true "Encadrement ID"
// @Success 200 {object} response.Envelope
// @Router /encadrements/{id} [get]
func (h *EncadrementHandler) Get(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Request godoc
// @Summary Request a supervisor
// @Tags Encadrements
// @Accept json
// @Produce json
// @Param payload body dto.CreateEncadrementRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /encadrements [post]
func (h *EncadrementHandler) Request(c *gin.Context) {
	var req dto.CreateEncadrementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid encadrement payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := h.service.Request(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithWarnings(c, http.StatusCreated, result, result.Warnings)
}

// Accept godoc
// @Summary Accept a supervision request
// @Tags Encadrements
// @Produce json
// @Param id path string true "Encadrement ID"
// @Success 200 {object} response.Envelope
// @Router /encadrements/{id}/accept [post]
func (h *EncadrementHandler) Accept(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EncadrementResult, error) {
		return h.service.Accept(ctx, id, claims)
	})
}

// Refuse godoc
// @Summary Refuse a supervision request
// @Tags Encadrements
// @Accept json
// @Produce json
// @Param id path string true "Encadrement ID"
// @Param payload body dto.RefuseEncadrementRequest true "Refusal comment"
// @Success 200 {object} response.Envelope
// @Router /encadrements/{id}/refuse [post]
func (h *EncadrementHandler) Refuse(c *gin.Context) {
	var req dto.RefuseEncadrementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refusal payload"))
		return
	}
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EncadrementResult, error) {
		return h.service.Refuse(ctx, id, req, claims)
	})
}

// Validate godoc
// @Summary Validate an accepted supervision
// @Tags Encadrements
// @Produce json
// @Param id path string true "Encadrement ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /encadrements/{id}/validate [post]
func (h *EncadrementHandler) Validate(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EncadrementResult, error) {
		return h.service.Validate(ctx, id, claims)
	})
}

// Reassign godoc
// @Summary Move a supervision to another teacher
// @Tags Encadrements
// @Accept json
// @Produce json
// @Param id path string true "Encadrement ID"
// @Param payload body dto.ReassignEncadrementRequest true "Reassignment payload"
// @Success 200 {object} response.Envelope
// @Router /encadrements/{id}/reassign [post]
func (h *EncadrementHandler) Reassign(c *gin.Context) {
	var req dto.ReassignEncadrementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reassignment payload"))
		return
	}
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EncadrementResult, error) {
		return h.service.Reassign(ctx, id, req, claims)
	})
}

func (h *EncadrementHandler) transition(c *gin.Context, apply func(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EncadrementResult, error)) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := apply(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithWarnings(c, http.StatusOK, result, result.Warnings)
}

func respondWithWarnings(c *gin.Context, status int, data interface{}, warnings []string) {
	if len(warnings) == 0 {
		response.JSON(c, status, data, nil)
		return
	}
	response.JSON(c, status, data, nil, map[string]interface{}{"warnings": warnings})
}
