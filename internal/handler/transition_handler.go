package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

type transitionService interface {
	Current(ctx context.Context, actor *models.JWTClaims) (*models.AcademicTransition, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.AcademicTransition, error)
	Propose(ctx context.Context, req dto.ProposeTransitionRequest, actor *models.JWTClaims) (*models.AcademicTransition, error)
	Detect(ctx context.Context, now time.Time, actor *models.JWTClaims) (*models.AcademicTransition, bool, error)
	Reject(ctx context.Context, id string, req dto.RejectTransitionRequest, actor *models.JWTClaims) (*models.AcademicTransition, error)
	Preview(ctx context.Context, id string, actor *models.JWTClaims) (*models.TransitionPreview, error)
	Confirm(ctx context.Context, id string, req dto.ConfirmTransitionRequest, actor *models.JWTClaims) (*models.AcademicTransition, error)
	Execute(ctx context.Context, id string, actor *models.JWTClaims, progress func(models.TransitionStepResult)) (*models.TransitionReport, error)
}

// TransitionHandler exposes the academic year rollover workflow.
type TransitionHandler struct {
	service transitionService
	now     func() time.Time
}

// NewTransitionHandler constructs the handler.
func NewTransitionHandler(service transitionService) *TransitionHandler {
	return &TransitionHandler{service: service, now: time.Now}
}

// Current godoc
// @Summary Get the pending academic transition
// @Tags Transitions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transitions/current [get]
func (h *TransitionHandler) Current(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	transition, err := h.service.Current(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transition, nil)
}

// Get godoc
// @Summary Get an academic transition
// @Tags Transitions
// @Produce json
// @Param id path string true "Transition ID"
// @Success 200 {object} response.Envelope
// @Router /transitions/{id} [get]
func (h *TransitionHandler) Get(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	transition, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transition, nil)
}

// Propose godoc
// @Summary Propose a manual year transition
// @Tags Transitions
// @Accept json
// @Produce json
// @Param payload body dto.ProposeTransitionRequest false "Proposal"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transitions [post]
func (h *TransitionHandler) Propose(c *gin.Context) {
	var req dto.ProposeTransitionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
			return
		}
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	transition, err := h.service.Propose(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, transition)
}

// Detect godoc
// @Summary Run rollover detection now
// @Tags Transitions
// @Produce json
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /transitions/detect [post]
func (h *TransitionHandler) Detect(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	transition, created, err := h.service.Detect(c.Request.Context(), h.now(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(c, status, transition, nil, map[string]interface{}{"created": created})
}

// Reject godoc
// @Summary Reject a proposed transition
// @Tags Transitions
// @Accept json
// @Produce json
// @Param id path string true "Transition ID"
// @Param payload body dto.RejectTransitionRequest true "Rejection comment"
// @Success 200 {object} response.Envelope
// @Router /transitions/{id}/reject [post]
func (h *TransitionHandler) Reject(c *gin.Context) {
	var req dto.RejectTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	transition, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transition, nil)
}

// Preview godoc
// @Summary Estimate the impact of a transition
// @Tags Transitions
// @Produce json
// @Param id path string true "Transition ID"
// @Success 200 {object} response.Envelope
// @Router /transitions/{id}/preview [get]
func (h *TransitionHandler) Preview(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	preview, err := h.service.Preview(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Confirm godoc
// @Summary Confirm a transition with the typed token
// @Tags Transitions
// @Accept json
// @Produce json
// @Param id path string true "Transition ID"
// @Param payload body dto.ConfirmTransitionRequest true "Confirmation"
// @Success 200 {object} response.Envelope
// @Router /transitions/{id}/confirm [post]
func (h *TransitionHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid confirmation payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	transition, err := h.service.Confirm(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transition, nil)
}

// Execute godoc
// @Summary Execute a confirmed transition
// @Description Responds 207 when a step failed. With Accept: text/event-stream each step is streamed as it runs.
// @Tags Transitions
// @Produce json
// @Param id path string true "Transition ID"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /transitions/{id}/execute [post]
func (h *TransitionHandler) Execute(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		h.executeStream(c, claims)
		return
	}
	report, err := h.service.Execute(c.Request.Context(), c.Param("id"), claims, nil)
	if err != nil && report == nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{}
	if err != nil {
		meta["finalize_error"] = appErrors.FromError(err).Message
	}
	response.JSON(c, reportStatus(report), report, nil, meta)
}

func (h *TransitionHandler) executeStream(c *gin.Context, claims *models.JWTClaims) {
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	report, err := h.service.Execute(c.Request.Context(), c.Param("id"), claims, func(step models.TransitionStepResult) {
		c.SSEvent("step", step)
		c.Writer.Flush()
	})
	if err != nil && report == nil {
		c.SSEvent("error", appErrors.FromError(err))
		c.Writer.Flush()
		return
	}
	c.SSEvent("report", report)
	c.Writer.Flush()
}

func reportStatus(report *models.TransitionReport) int {
	if report.Status == models.ReportStatusPartial {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}
