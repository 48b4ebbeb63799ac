package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

type themeService interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Theme, error)
	Propose(ctx context.Context, req dto.ProposeThemeRequest, actor *models.JWTClaims) (*models.Theme, error)
	Decide(ctx context.Context, id string, req dto.ThemeDecisionRequest, actor *models.JWTClaims) (*models.Theme, error)
	Reopen(ctx context.Context, id string, req dto.ReopenThemeRequest, actor *models.JWTClaims) (*models.Theme, error)
}

// ThemeHandler exposes thesis topic endpoints.
type ThemeHandler struct {
	service themeService
}

// NewThemeHandler constructs the handler.
func NewThemeHandler(service themeService) *ThemeHandler {
	return &ThemeHandler{service: service}
}

// Get godoc
// @Summary Get a theme
// @Tags Themes
// @Produce json
// @Param id path string true "Theme ID"
// @Success 200 {object} response.Envelope
// @Router /themes/{id} [get]
func (h *ThemeHandler) Get(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	theme, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, theme, nil)
}

// Propose godoc
// @Summary Propose a thesis theme
// @Tags Themes
// @Accept json
// @Produce json
// @Param payload body dto.ProposeThemeRequest true "Theme proposal"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /themes [post]
func (h *ThemeHandler) Propose(c *gin.Context) {
	var req dto.ProposeThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid theme payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	theme, err := h.service.Propose(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, theme)
}

// Decide godoc
// @Summary Validate, validate with reserves or refuse a theme
// @Tags Themes
// @Accept json
// @Produce json
// @Param id path string true "Theme ID"
// @Param payload body dto.ThemeDecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /themes/{id}/decision [post]
func (h *ThemeHandler) Decide(c *gin.Context) {
	var req dto.ThemeDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	theme, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, theme, nil)
}

// Reopen godoc
// @Summary Reopen a decided theme
// @Tags Themes
// @Accept json
// @Produce json
// @Param id path string true "Theme ID"
// @Param payload body dto.ReopenThemeRequest true "Reopen motif"
// @Success 200 {object} response.Envelope
// @Router /themes/{id}/reopen [post]
func (h *ThemeHandler) Reopen(c *gin.Context) {
	var req dto.ReopenThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reopen payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	theme, err := h.service.Reopen(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, theme, nil)
}
