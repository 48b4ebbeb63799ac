package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

type themeStore interface {
	FindByID(ctx context.Context, id string) (*models.Theme, error)
	FindByStudentYear(ctx context.Context, studentID, year string) (*models.Theme, error)
	Propose(ctx context.Context, theme *models.Theme) (bool, error)
	UpdateStatus(ctx context.Context, theme *models.Theme, from models.ThemeStatus) (bool, error)
}

type encadrementLister interface {
	List(ctx context.Context, filter models.EncadrementFilter) ([]models.Encadrement, int, error)
}

// ThemeService manages thesis topic proposals and decisions.
type ThemeService struct {
	themes       themeStore
	students     studentReader
	encadrements encadrementLister
	years        academicYearSource
	notifier     notifier
	audit        auditLogger
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewThemeService constructs a ThemeService.
func NewThemeService(themes themeStore, students studentReader, encadrements encadrementLister, years academicYearSource, notify notifier, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *ThemeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = noopNotifier{}
	}
	return &ThemeService{
		themes:       themes,
		students:     students,
		encadrements: encadrements,
		years:        years,
		notifier:     notify,
		audit:        audit,
		validator:    validate,
		logger:       logger,
		now:          time.Now,
	}
}

// Get returns a theme. Students only see their own.
func (s *ThemeService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Theme, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	theme, err := s.themes.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "theme", "load theme")
	}
	if actor.Role == models.RoleStudent && theme.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "theme not found")
	}
	return theme, nil
}

// Propose submits a topic for the student. A refused topic may be replaced,
// any other live topic must be reopened by the supervisor first.
func (s *ThemeService) Propose(ctx context.Context, req dto.ProposeThemeRequest, actor *models.JWTClaims) (*models.Theme, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid theme payload")
	}
	if !actor.IsAdmin() && !(actor.Role == models.RoleStudent && actor.UserID == req.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only propose their own theme")
	}
	year, err := resolveAcademicYear(ctx, s.years, req.AcademicYear)
	if err != nil {
		return nil, err
	}
	if _, err := s.writableStudent(ctx, req.StudentID); err != nil {
		return nil, err
	}

	theme := &models.Theme{
		ID:           uuid.NewString(),
		StudentID:    req.StudentID,
		AcademicYear: year,
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
	}
	created, err := s.themes.Propose(ctx, theme)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to propose theme")
	}
	if !created {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("student already has a theme under review or approved for %s", year))
	}

	writeAudit(ctx, s.audit, s.logger, "theme-service", actor, models.AuditActionThemePropose, "theme", theme.ID, nil, theme)
	s.logger.Info("theme proposed", zap.String("theme_id", theme.ID), zap.String("student_id", theme.StudentID))
	return theme, nil
}

// Decide records the supervisor decision on a proposal. Refusals and reserves
// must carry a comment.
func (s *ThemeService) Decide(ctx context.Context, id string, req dto.ThemeDecisionRequest, actor *models.JWTClaims) (*models.Theme, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid theme decision")
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" && req.Decision != models.ThemeStatusValidated {
		return nil, appErrors.Clone(appErrors.ErrMissingRequiredComment, fmt.Sprintf("a comment is required for decision %s", req.Decision))
	}

	theme, student, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	supervises, err := s.supervises(ctx, theme, actor)
	if err != nil {
		return nil, err
	}
	if !supervises && !actor.IsAdmin() && !actor.HeadOf(student.DepartmentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the supervisor or the department head can decide on this theme")
	}
	if theme.Status != models.ThemeStatusProposed {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("cannot decide on a theme in status %s", theme.Status))
	}

	before := *theme
	now := s.now().UTC()
	theme.Status = req.Decision
	theme.SupervisorComment = strPtr(comment)
	theme.DecidedBy = &actor.UserID
	theme.DecidedAt = &now
	theme.UpdatedAt = now
	if err := s.save(ctx, theme, before.Status); err != nil {
		return nil, err
	}

	writeAudit(ctx, s.audit, s.logger, "theme-service", actor, models.AuditActionThemeDecision, "theme", theme.ID, before, theme)
	s.notifier.Notify(ctx, models.NotificationThemeDecided, []string{theme.StudentID}, map[string]interface{}{
		"theme_id": theme.ID,
		"status":   theme.Status,
		"comment":  comment,
	})
	s.logger.Info("theme decided", zap.String("theme_id", theme.ID), zap.String("status", string(theme.Status)))
	return theme, nil
}

// Reopen returns a decided theme to Proposed. Only the current supervisor may
// reopen and the motif is mandatory.
func (s *ThemeService) Reopen(ctx context.Context, id string, req dto.ReopenThemeRequest, actor *models.JWTClaims) (*models.Theme, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	motif, err := requireComment(req.Motif, "reopen motif")
	if err != nil {
		return nil, err
	}
	theme, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	supervises, err := s.supervises(ctx, theme, actor)
	if err != nil {
		return nil, err
	}
	if !supervises {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the supervisor can reopen a theme")
	}
	if theme.Status == models.ThemeStatusProposed {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "theme is already awaiting a decision")
	}

	before := *theme
	now := s.now().UTC()
	theme.Status = models.ThemeStatusProposed
	theme.ReopenMotif = &motif
	theme.SupervisorComment = nil
	theme.DecidedBy = nil
	theme.DecidedAt = nil
	theme.UpdatedAt = now
	if err := s.save(ctx, theme, before.Status); err != nil {
		return nil, err
	}

	writeAudit(ctx, s.audit, s.logger, "theme-service", actor, models.AuditActionThemeReopen, "theme", theme.ID, before, theme)
	s.notifier.Notify(ctx, models.NotificationThemeReopened, []string{theme.StudentID}, map[string]interface{}{
		"theme_id": theme.ID,
		"motif":    motif,
	})
	return theme, nil
}

// CommitteeEligibility reports whether a defense may be scheduled: the
// supervision must be validated by the head and the theme approved.
func (s *ThemeService) CommitteeEligibility(ctx context.Context, studentID, year string, actor *models.JWTClaims) (*dto.CommitteeEligibility, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only check their own eligibility")
	}
	year, err := resolveAcademicYear(ctx, s.years, year)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, notFoundOr(err, "student", "load student")
	}

	result := &dto.CommitteeEligibility{StudentID: studentID, AcademicYear: year}
	active, err := s.activeEncadrement(ctx, studentID, year)
	if err != nil {
		return nil, err
	}
	if active == nil {
		result.Reasons = append(result.Reasons, "no active supervision for the year")
	} else {
		status := active.Status
		result.EncadrementStatus = &status
		if status != models.EncadrementStatusValidated {
			result.Reasons = append(result.Reasons, fmt.Sprintf("supervision is %s, not validated by the head", status))
		}
	}

	theme, err := s.themes.FindByStudentYear(ctx, studentID, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load theme")
	}
	if theme == nil {
		result.Reasons = append(result.Reasons, "no theme proposed for the year")
	} else {
		status := theme.Status
		result.ThemeStatus = &status
		if !status.Approved() {
			result.Reasons = append(result.Reasons, fmt.Sprintf("theme is %s, not approved", status))
		}
	}
	result.Eligible = len(result.Reasons) == 0
	return result, nil
}

func (s *ThemeService) load(ctx context.Context, id string) (*models.Theme, *models.Student, error) {
	theme, err := s.themes.FindByID(ctx, id)
	if err != nil {
		return nil, nil, notFoundOr(err, "theme", "load theme")
	}
	student, err := s.writableStudent(ctx, theme.StudentID)
	if err != nil {
		return nil, nil, err
	}
	return theme, student, nil
}

func (s *ThemeService) writableStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "student", "load student")
	}
	if student.Alumni {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is alumni (read-only)")
	}
	return student, nil
}

func (s *ThemeService) save(ctx context.Context, theme *models.Theme, from models.ThemeStatus) error {
	updated, err := s.themes.UpdateStatus(ctx, theme, from)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update theme")
	}
	if !updated {
		return appErrors.Clone(appErrors.ErrConflict, "theme was modified concurrently")
	}
	return nil
}

// supervises reports whether actor is the supervisor of the theme's student
// in the theme's year.
func (s *ThemeService) supervises(ctx context.Context, theme *models.Theme, actor *models.JWTClaims) (bool, error) {
	if !actor.Role.IsTeacher() {
		return false, nil
	}
	active, err := s.activeEncadrement(ctx, theme.StudentID, theme.AcademicYear)
	if err != nil {
		return false, err
	}
	return active.SupervisedBy(actor.UserID), nil
}

func (s *ThemeService) activeEncadrement(ctx context.Context, studentID, year string) (*models.Encadrement, error) {
	items, _, err := s.encadrements.List(ctx, models.EncadrementFilter{StudentID: studentID, AcademicYear: year, Limit: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervision")
	}
	for i := range items {
		if items[i].Status.Active() {
			return &items[i], nil
		}
	}
	return nil, nil
}
