package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/repository"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/export"
	"github.com/noah-isme/memoire-api/pkg/storage"
)

type snapshotStore interface {
	FindByYear(ctx context.Context, year string) (*models.ArchiveSnapshot, error)
	Records(ctx context.Context, snapshotID string) ([]models.ArchivedEncadrement, error)
	List(ctx context.Context) ([]models.ArchiveSnapshot, error)
	CreateSnapshot(ctx context.Context, params repository.SnapshotParams) (*models.ArchiveSnapshot, bool, error)
	Purge(ctx context.Context, year string) (*models.PurgeResult, error)
}

type snapshotExporter interface {
	Generate(ctx context.Context, subject, name string, format export.Format, data export.Dataset, title string) (*ExportResult, error)
	ParseToken(token string, allowExpired bool) (subject, relPath string, expiresAt time.Time, err error)
	Open(relPath string) (*storage.StoredFile, error)
}

var archiveExportHeaders = []string{"Student", "Major", "Supervisor", "Theme", "Final status", "Defense", "Grade"}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	InvalidateYear(ctx context.Context, year string) error
}

// ArchiveService snapshots closed academic years and purges their live rows.
type ArchiveService struct {
	store     snapshotStore
	exporter  snapshotExporter
	years     academicYearSource
	cache     snapshotCache
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// ArchiveServiceConfig holds cache parameters.
type ArchiveServiceConfig struct {
	CacheTTL time.Duration
}

// NewArchiveService constructs the service with defaults. cache, exporter and audit may be nil.
func NewArchiveService(store snapshotStore, exporter snapshotExporter, years academicYearSource, cache snapshotCache, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ArchiveServiceConfig) *ArchiveService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &ArchiveService{
		store:     store,
		exporter:  exporter,
		years:     years,
		cache:     cache,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cacheTTL:  cfg.CacheTTL,
	}
}

// List returns every snapshot without records.
func (s *ArchiveService) List(ctx context.Context, actor *models.JWTClaims) ([]models.ArchiveSnapshot, error) {
	if err := requireArchiveReader(actor); err != nil {
		return nil, err
	}
	snapshots, err := s.store.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list archives")
	}
	return snapshots, nil
}

// Get returns the snapshot of year with its records.
func (s *ArchiveService) Get(ctx context.Context, year string, actor *models.JWTClaims) (*models.ArchiveSnapshot, error) {
	if err := requireArchiveReader(actor); err != nil {
		return nil, err
	}
	year, err := parseYear(year)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.withRecords(ctx, year)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no archive snapshot for %s", year))
	}
	return snapshot, nil
}

// Find returns the snapshot of year without records, or nil when it does not exist.
func (s *ArchiveService) Find(ctx context.Context, year string) (*models.ArchiveSnapshot, error) {
	snapshot, err := s.store.FindByYear(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load archive")
	}
	return snapshot, nil
}

// Archive snapshots a closed year. Archiving an already archived year returns
// the existing snapshot with created set to false.
func (s *ArchiveService) Archive(ctx context.Context, req dto.CreateArchiveRequest, actor *models.JWTClaims) (*models.ArchiveSnapshot, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "only administrators can archive a year")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid archive payload")
	}
	year, err := parseYear(req.AcademicYear)
	if err != nil {
		return nil, false, err
	}
	if err := s.requireClosed(ctx, year); err != nil {
		return nil, false, err
	}
	return s.Snapshot(ctx, year, strings.TrimSpace(req.Comment), nil, actor)
}

// requireClosed rejects the current and future years. A snapshot taken while
// the year is still open would miss the records validated after it.
func (s *ArchiveService) requireClosed(ctx context.Context, year string) error {
	if s.years == nil {
		return nil
	}
	current, err := s.years.CurrentAcademicYear(ctx)
	if err != nil {
		return err
	}
	requested, err := models.ParseAcademicYear(year)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	open, err := models.ParseAcademicYear(current)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid current academic year")
	}
	if !requested.Before(open) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "only closed academic years can be archived, "+current+" is still open")
	}
	return nil
}

// Snapshot creates the snapshot of year if missing. It performs no
// authorization and is shared by Archive and the year transition.
func (s *ArchiveService) Snapshot(ctx context.Context, year, comment string, transitionID *string, actor *models.JWTClaims) (*models.ArchiveSnapshot, bool, error) {
	createdBy := "system"
	if actor != nil && actor.UserID != "" {
		createdBy = actor.UserID
	}
	snapshot, created, err := s.store.CreateSnapshot(ctx, repository.SnapshotParams{
		AcademicYear: year,
		Comment:      strPtr(comment),
		TransitionID: transitionID,
		CreatedBy:    createdBy,
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive year")
	}
	if created {
		s.invalidate(ctx, year)
		writeAudit(ctx, s.audit, s.logger, "archive-service", actor, models.AuditActionArchiveCreate, "archive_snapshot", snapshot.ID, nil, snapshot)
		s.logger.Info("archive snapshot created",
			zap.String("academic_year", year),
			zap.String("snapshot_id", snapshot.ID),
			zap.Int("encadrements", snapshot.EncadrementCount),
		)
	}
	return snapshot, created, nil
}

// Purge deletes the live rows of an archived year. It refuses to run before
// a snapshot exists and never touches the current year.
func (s *ArchiveService) Purge(ctx context.Context, year string, actor *models.JWTClaims) (*models.PurgeResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can purge a year")
	}
	year, err := parseYear(year)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.FindByYear(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load archive")
	}
	if existing == nil {
		return nil, noSnapshotYet(year)
	}
	if s.years != nil {
		current, err := s.years.CurrentAcademicYear(ctx)
		if err != nil {
			return nil, err
		}
		if current == year {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "the current academic year cannot be purged")
		}
	}

	result, err := s.store.Purge(ctx, year)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotMissing) {
			return nil, noSnapshotYet(year)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge year")
	}
	s.invalidate(ctx, year)
	writeAudit(ctx, s.audit, s.logger, "archive-service", actor, models.AuditActionArchivePurge, "archive_snapshot", year, nil, result)
	s.logger.Info("academic year purged",
		zap.String("academic_year", year),
		zap.Int64("encadrements", result.Encadrements),
		zap.Int64("themes", result.Themes),
		zap.Int64("defenses", result.Defenses),
	)
	return result, nil
}

// Export renders a snapshot and returns a signed download link.
func (s *ArchiveService) Export(ctx context.Context, year string, req dto.ExportArchiveRequest, actor *models.JWTClaims) (*dto.ArchiveExportResponse, error) {
	if err := requireArchiveReader(actor); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "archive export is not configured")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	snapshot, err := s.Get(ctx, year, actor)
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Generate(ctx, snapshot.AcademicYear, "archive_"+snapshot.AcademicYear, format,
		snapshotDataset(snapshot), fmt.Sprintf("Archive %s", snapshot.AcademicYear))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export archive")
	}
	s.metrics.RecordArchiveExport(string(format))
	writeAudit(ctx, s.audit, s.logger, "archive-service", actor, models.AuditActionArchiveExport, "archive_snapshot", snapshot.ID, nil, map[string]string{
		"format": string(format),
		"file":   result.FileName,
	})
	return &dto.ArchiveExportResponse{
		AcademicYear: snapshot.AcademicYear,
		Format:       string(format),
		FileName:     result.FileName,
		DownloadURL:  result.URL,
		ExpiresAt:    result.ExpiresAt,
	}, nil
}

// OpenExport resolves a signed download token to the stored file.
func (s *ArchiveService) OpenExport(token string) (*storage.StoredFile, export.Format, error) {
	if s.exporter == nil {
		return nil, "", appErrors.Clone(appErrors.ErrPreconditionFailed, "archive export is not configured")
	}
	_, relPath, _, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link is invalid or expired")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file not found")
	}
	format := export.Format(strings.TrimPrefix(filepath.Ext(relPath), "."))
	return file, format, nil
}

func (s *ArchiveService) withRecords(ctx context.Context, year string) (*models.ArchiveSnapshot, error) {
	key := archiveCacheKey(year)
	if s.cache != nil {
		var cached models.ArchiveSnapshot
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}
	snapshot, err := s.store.FindByYear(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load archive")
	}
	if snapshot == nil {
		return nil, nil
	}
	records, err := s.store.Records(ctx, snapshot.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load archive records")
	}
	snapshot.Records = records
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, snapshot, s.cacheTTL, YearTag(year))
	}
	return snapshot, nil
}

func (s *ArchiveService) invalidate(ctx context.Context, year string) {
	if s.cache != nil {
		_ = s.cache.InvalidateYear(ctx, year)
	}
}

func noSnapshotYet(year string) error {
	return appErrors.Clone(appErrors.ErrNoSnapshotYet, fmt.Sprintf("%s has not been archived yet, archive it before purging", year))
}

func archiveCacheKey(year string) string {
	return "archive:" + year
}

func requireArchiveReader(actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() && actor.Role != models.RoleHead {
		return appErrors.Clone(appErrors.ErrForbidden, "archives are restricted to administrators and department heads")
	}
	return nil
}

func parseYear(raw string) (string, error) {
	year, err := models.ParseAcademicYear(raw)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return year.String(), nil
}

func snapshotDataset(snapshot *models.ArchiveSnapshot) export.Dataset {
	rows := make([]map[string]string, 0, len(snapshot.Records))
	for _, record := range snapshot.Records {
		grade := ""
		if record.Grade != nil {
			grade = strconv.FormatFloat(*record.Grade, 'f', 2, 64)
		}
		rows = append(rows, map[string]string{
			"Student":      record.StudentName,
			"Major":        record.Major,
			"Supervisor":   derefString(record.SupervisorName),
			"Theme":        derefString(record.ThemeTitle),
			"Final status": record.FinalStatus,
			"Defense":      derefString(record.DefenseStatus),
			"Grade":        grade,
		})
	}
	return export.Dataset{Headers: archiveExportHeaders, Rows: rows}
}

