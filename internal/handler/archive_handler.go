package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/export"
	"github.com/noah-isme/memoire-api/pkg/response"
	"github.com/noah-isme/memoire-api/pkg/storage"
)

type archiveService interface {
	List(ctx context.Context, actor *models.JWTClaims) ([]models.ArchiveSnapshot, error)
	Get(ctx context.Context, year string, actor *models.JWTClaims) (*models.ArchiveSnapshot, error)
	Archive(ctx context.Context, req dto.CreateArchiveRequest, actor *models.JWTClaims) (*models.ArchiveSnapshot, bool, error)
	Purge(ctx context.Context, year string, actor *models.JWTClaims) (*models.PurgeResult, error)
	Export(ctx context.Context, year string, req dto.ExportArchiveRequest, actor *models.JWTClaims) (*dto.ArchiveExportResponse, error)
	OpenExport(token string) (*storage.StoredFile, export.Format, error)
}

// ArchiveHandler manages year snapshot endpoints.
type ArchiveHandler struct {
	service archiveService
}

// NewArchiveHandler constructs the handler.
func NewArchiveHandler(service archiveService) *ArchiveHandler {
	return &ArchiveHandler{service: service}
}

// List godoc
// @Summary List archived years
// @Tags Archives
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /archives [get]
func (h *ArchiveHandler) List(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get the snapshot of a year
// @Tags Archives
// @Produce json
// @Param year path string true "Academic year (YYYY-YYYY)"
// @Success 200 {object} response.Envelope
// @Router /archives/{year} [get]
func (h *ArchiveHandler) Get(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	snapshot, err := h.service.Get(c.Request.Context(), c.Param("year"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Create godoc
// @Summary Archive a closed academic year
// @Description Idempotent: an existing snapshot is returned with 200.
// @Tags Archives
// @Accept json
// @Produce json
// @Param payload body dto.CreateArchiveRequest true "Year to archive"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /archives [post]
func (h *ArchiveHandler) Create(c *gin.Context) {
	var req dto.CreateArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid archive payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	snapshot, created, err := h.service.Archive(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(c, status, snapshot, nil)
}

// Purge godoc
// @Summary Delete the live data of an archived year
// @Tags Archives
// @Produce json
// @Param year path string true "Academic year (YYYY-YYYY)"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /archives/{year}/purge [post]
func (h *ArchiveHandler) Purge(c *gin.Context) {
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := h.service.Purge(c.Request.Context(), c.Param("year"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Render a snapshot as CSV, PDF or XLSX
// @Tags Archives
// @Accept json
// @Produce json
// @Param year path string true "Academic year (YYYY-YYYY)"
// @Param payload body dto.ExportArchiveRequest true "Export format"
// @Success 201 {object} response.Envelope
// @Router /archives/{year}/exports [post]
func (h *ArchiveHandler) Export(c *gin.Context) {
	var req dto.ExportArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}
	claims, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := h.service.Export(c.Request.Context(), c.Param("year"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a rendered export via signed token
// @Tags Archives
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /archives/exports/download [get]
func (h *ArchiveHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, format, err := h.service.OpenExport(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Name))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, file.Size, format.ContentType(), file, nil)
}
