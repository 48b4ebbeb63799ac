package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/repository"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

type reactivationStore interface {
	LatestBefore(ctx context.Context, studentID, year string) (*models.Encadrement, error)
	WithTx(ctx context.Context, fn func(tx repository.SupervisionTx) error) error
}

type defenseChecker interface {
	HasDefended(ctx context.Context, studentID string) (bool, error)
}

// ReactivationServiceDeps groups the collaborators of ReactivationService.
type ReactivationServiceDeps struct {
	Store    reactivationStore
	Defenses defenseChecker
	Students studentReader
	Teachers teacherReader
	Quotas   quotaResolver
	Years    academicYearSource
	Notifier notifier
	Audit    auditLogger
	Metrics  *MetricsService
	Logger   *zap.Logger
}

// ReactivationService reopens supervision in the current year for students
// who did not defend in a previous one.
type ReactivationService struct {
	store    reactivationStore
	defenses defenseChecker
	students studentReader
	teachers teacherReader
	quotas   quotaResolver
	years    academicYearSource
	notifier notifier
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewReactivationService constructs the service.
func NewReactivationService(deps ReactivationServiceDeps) *ReactivationService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	return &ReactivationService{
		store:    deps.Store,
		defenses: deps.Defenses,
		students: deps.Students,
		teachers: deps.Teachers,
		quotas:   deps.Quotas,
		years:    deps.Years,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Reactivate creates a Requested record in the current year linked to the
// student's latest prior record. A prior supervisor at full quota is dropped
// instead of failing the call; the result reports the downgrade.
func (s *ReactivationService) Reactivate(ctx context.Context, studentID string, req dto.ReactivateStudentRequest, actor *models.JWTClaims) (result *dto.ReactivationResult, err error) {
	defer func() { s.metrics.RecordEncadrementTransition("reactivate", err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, notFoundOr(err, "student", "load student")
	}
	if !actor.IsAdmin() && !actor.HeadOf(student.DepartmentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the head of the student's department can reactivate a student")
	}
	if student.Alumni {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is alumni (read-only)")
	}
	year, err := s.years.CurrentAcademicYear(ctx)
	if err != nil {
		return nil, err
	}
	defended, err := s.defenses.HasDefended(ctx, student.ID)
	if err != nil {
		return nil, internalOr(err, "check defense")
	}
	if defended {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student has already defended")
	}
	prior, err := s.store.LatestBefore(ctx, student.ID, year)
	if err != nil {
		return nil, internalOr(err, "load previous encadrement")
	}
	if prior == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student has no supervision before %s to reactivate", year))
	}

	result = &dto.ReactivationResult{}
	var (
		supervisor *models.Teacher
		quota      dto.ResolvedQuota
	)
	if req.KeepSupervisor {
		supervisor, quota, err = s.priorSupervisor(ctx, prior, year, result)
		if err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	record := &models.Encadrement{
		ID:                    uuid.NewString(),
		StudentID:             student.ID,
		AcademicYear:          year,
		Status:                models.EncadrementStatusRequested,
		Comment:               strPtr(strings.TrimSpace(req.Comment)),
		PreviousEncadrementID: &prior.ID,
		Reactivated:           true,
		RequestedBy:           actor.UserID,
		RequestedAt:           now,
		UpdatedAt:             now,
	}

	result.SupervisorDowngraded = req.KeepSupervisor
	err = s.store.WithTx(ctx, func(tx repository.SupervisionTx) error {
		if err := tx.LockStudentYear(ctx, student.ID, year); err != nil {
			return err
		}
		active, err := tx.ActiveEncadrement(ctx, student.ID, year)
		if err != nil {
			return err
		}
		if active != nil {
			return appErrors.Clone(appErrors.ErrDuplicateActiveRequest,
				fmt.Sprintf("student already has a %s supervision for %s", strings.ToLower(string(active.Status)), year))
		}
		if supervisor != nil {
			switch err := enforceQuota(ctx, tx, s.metrics, s.logger, supervisor, year, quota, "reactivate"); {
			case err == nil:
				record.SupervisorID = &supervisor.ID
				result.SupervisorKept = true
				result.SupervisorDowngraded = false
			case errors.Is(err, appErrors.ErrQuotaExceeded):
				result.Warnings = append(result.Warnings, err.Error()+", the student was reactivated without a supervisor")
			default:
				return err
			}
		}
		if err := tx.InsertEncadrement(ctx, record); err != nil {
			return err
		}
		if req.KeepTheme {
			theme, err := s.copyTheme(ctx, tx, prior, year, now, result)
			if err != nil {
				return err
			}
			result.Theme = theme
		}
		return nil
	})
	if err != nil {
		return nil, internalOr(err, "reactivate student")
	}
	result.Encadrement = record

	s.logger.Info("student reactivated",
		zap.String("student_id", student.ID),
		zap.String("academic_year", year),
		zap.String("encadrement_id", record.ID),
		zap.Bool("supervisor_kept", result.SupervisorKept),
		zap.Bool("supervisor_downgraded", result.SupervisorDowngraded),
	)
	writeAudit(ctx, s.audit, s.logger, "reactivation-service", actor, models.AuditActionStudentReactivate, "encadrement", record.ID, prior, result)
	recipients := []string{student.ID}
	if record.SupervisorID != nil {
		recipients = append(recipients, *record.SupervisorID)
	}
	s.notifier.Notify(ctx, models.NotificationStudentReactivated, recipients, map[string]interface{}{
		"encadrement_id":        record.ID,
		"academic_year":         year,
		"supervisor_kept":       result.SupervisorKept,
		"supervisor_downgraded": result.SupervisorDowngraded,
	})
	return result, nil
}

// priorSupervisor loads the supervisor to keep. A missing teacher degrades like a full quota.
func (s *ReactivationService) priorSupervisor(ctx context.Context, prior *models.Encadrement, year string, result *dto.ReactivationResult) (*models.Teacher, dto.ResolvedQuota, error) {
	if prior.SupervisorID == nil {
		result.Warnings = append(result.Warnings, "the previous supervision had no supervisor to keep")
		return nil, dto.ResolvedQuota{}, nil
	}
	teacher, err := s.teachers.FindByID(ctx, *prior.SupervisorID)
	if err != nil {
		mapped := notFoundOr(err, "supervisor", "load supervisor")
		if errors.Is(mapped, appErrors.ErrNotFound) {
			result.Warnings = append(result.Warnings, "the previous supervisor no longer exists")
			return nil, dto.ResolvedQuota{}, nil
		}
		return nil, dto.ResolvedQuota{}, mapped
	}
	quota, err := s.quotas.Resolve(ctx, teacher, year)
	if err != nil {
		return nil, dto.ResolvedQuota{}, err
	}
	if quota.Warning != "" {
		result.Warnings = append(result.Warnings, quota.Warning)
	}
	return teacher, quota, nil
}

func (s *ReactivationService) copyTheme(ctx context.Context, tx repository.SupervisionTx, prior *models.Encadrement, year string, now time.Time, result *dto.ReactivationResult) (*models.Theme, error) {
	previous, err := tx.ThemeForStudent(ctx, prior.StudentID, prior.AcademicYear)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("no theme found for %s, nothing was copied", prior.AcademicYear))
		return nil, nil
	}
	theme := &models.Theme{
		ID:           uuid.NewString(),
		StudentID:    prior.StudentID,
		AcademicYear: year,
		Title:        previous.Title,
		Description:  previous.Description,
		Status:       models.ThemeStatusProposed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inserted, err := tx.InsertTheme(ctx, theme)
	if err != nil {
		return nil, err
	}
	if !inserted {
		result.Warnings = append(result.Warnings, fmt.Sprintf("a theme already exists for %s, the previous one was not copied", year))
		return nil, nil
	}
	return theme, nil
}
