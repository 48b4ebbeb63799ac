package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/repository"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/response"
)

type encadrementStore interface {
	FindByID(ctx context.Context, id string) (*models.Encadrement, error)
	List(ctx context.Context, filter models.EncadrementFilter) ([]models.Encadrement, int, error)
	WithTx(ctx context.Context, fn func(tx repository.SupervisionTx) error) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type quotaResolver interface {
	Resolve(ctx context.Context, teacher *models.Teacher, year string) (dto.ResolvedQuota, error)
}

// EncadrementService applies the supervision lifecycle: request, accept,
// refuse, validate and reassign. Every transition runs in one transaction that
// holds the student-year lock and, when a quota is consumed, the supervisor-year lock.
type EncadrementService struct {
	store     encadrementStore
	students  studentReader
	teachers  teacherReader
	quotas    quotaResolver
	years     academicYearSource
	notifier  notifier
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// EncadrementServiceDeps groups the collaborators of EncadrementService.
type EncadrementServiceDeps struct {
	Store     encadrementStore
	Students  studentReader
	Teachers  teacherReader
	Quotas    quotaResolver
	Years     academicYearSource
	Notifier  notifier
	Audit     auditLogger
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewEncadrementService constructs an EncadrementService.
func NewEncadrementService(deps EncadrementServiceDeps) *EncadrementService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	return &EncadrementService{
		store:     deps.Store,
		students:  deps.Students,
		teachers:  deps.Teachers,
		quotas:    deps.Quotas,
		years:     deps.Years,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Get returns one record visible to the caller.
func (s *EncadrementService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Encadrement, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	item, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "encadrement", "load encadrement")
	}
	if actor.Role == models.RoleStudent && item.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "encadrement not found")
	}
	return item, nil
}

// List returns records scoped to what the caller may see.
func (s *EncadrementService) List(ctx context.Context, query dto.EncadrementQuery, actor *models.JWTClaims) ([]models.Encadrement, *response.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.EncadrementFilter{
		AcademicYear: query.AcademicYear,
		Status:       models.EncadrementStatus(query.Status),
		StudentID:    query.StudentID,
		SupervisorID: query.SupervisorID,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown encadrement status")
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTeacher:
		filter.SupervisorID = actor.UserID
	case models.RoleHead:
		filter.DepartmentID = actor.DepartmentID
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	filter.Limit = size
	filter.Offset = (page - 1) * size

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list encadrements")
	}
	return items, &response.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Request records a student's choice of supervisor. Pending requests do not
// count against quota, so a full supervisor can still be requested; the result
// then carries a warning and the quota is enforced at validation.
func (s *EncadrementService) Request(ctx context.Context, req dto.CreateEncadrementRequest, actor *models.JWTClaims) (result *dto.EncadrementResult, err error) {
	defer func() { s.metrics.RecordEncadrementTransition("request", err) }()
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid encadrement request")
	}
	if !actor.IsAdmin() && !(actor.Role == models.RoleStudent && actor.UserID == req.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only request a supervisor for themselves")
	}
	year, err := resolveAcademicYear(ctx, s.years, req.AcademicYear)
	if err != nil {
		return nil, err
	}
	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	supervisor, err := s.teachers.FindByID(ctx, req.SupervisorID)
	if err != nil {
		return nil, notFoundOr(err, "supervisor", "load supervisor")
	}
	quota, err := s.quotas.Resolve(ctx, supervisor, year)
	if err != nil {
		return nil, err
	}

	var (
		record  *models.Encadrement
		atQuota bool
	)
	err = s.store.WithTx(ctx, func(tx repository.SupervisionTx) error {
		if err := tx.LockStudentYear(ctx, student.ID, year); err != nil {
			return err
		}
		active, err := tx.ActiveEncadrement(ctx, student.ID, year)
		if err != nil {
			return err
		}
		if active != nil && !(active.Status == models.EncadrementStatusRequested && active.SupervisorID == nil) {
			return appErrors.Clone(appErrors.ErrDuplicateActiveRequest,
				fmt.Sprintf("student already has an active supervision request for %s (status %s)", year, active.Status))
		}
		consumed, err := tx.LockSupervisorLoad(ctx, supervisor.ID, year)
		if err != nil {
			return err
		}
		atQuota = !quota.Quota.Allows(consumed)

		now := s.now().UTC()
		if active != nil {
			active.SupervisorID = &supervisor.ID
			active.UpdatedAt = now
			record = active
			return tx.UpdateEncadrement(ctx, active)
		}
		record = &models.Encadrement{
			ID:           uuid.NewString(),
			StudentID:    student.ID,
			SupervisorID: &supervisor.ID,
			AcademicYear: year,
			Status:       models.EncadrementStatusRequested,
			RequestedBy:  actor.UserID,
			RequestedAt:  now,
			UpdatedAt:    now,
		}
		return tx.InsertEncadrement(ctx, record)
	})
	if err != nil {
		return nil, internalOr(err, "request supervisor")
	}

	s.afterTransition(ctx, actor, models.AuditActionEncadrementRequest, models.NotificationEncadrementRequested, nil, record, student.ID, supervisor.ID)
	result = &dto.EncadrementResult{Encadrement: record}
	if quota.Warning != "" {
		result.Warnings = append(result.Warnings, quota.Warning)
	}
	if atQuota {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s has already reached the quota of %d validated supervisions, validation will be refused until a slot frees up", supervisor.FullName, quota.Quota.Limit))
	}
	return result, nil
}

// Accept is performed by the named supervisor. No quota check happens here.
// When the supervisor heads their own department the record is validated in
// the same step, which does consume quota. A head already at quota still
// accepts and the record waits at AcceptedBySupervisor like any other.
func (s *EncadrementService) Accept(ctx context.Context, id string, actor *models.JWTClaims) (result *dto.EncadrementResult, err error) {
	defer func() { s.metrics.RecordEncadrementTransition("accept", err) }()
	current, err := s.prepare(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if current.SupervisorID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "encadrement has no supervisor to accept it")
	}
	if !current.SupervisedBy(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requested supervisor can accept")
	}

	var (
		supervisor   *models.Teacher
		quota        dto.ResolvedQuota
		selfValidate bool
		atQuota      bool
	)
	if actor.Role == models.RoleHead {
		if supervisor, err = s.teachers.FindByID(ctx, *current.SupervisorID); err != nil {
			return nil, notFoundOr(err, "supervisor", "load supervisor")
		}
		selfValidate = actor.HeadOf(supervisor.DepartmentID)
	}
	if selfValidate {
		if quota, err = s.quotas.Resolve(ctx, supervisor, current.AcademicYear); err != nil {
			return nil, err
		}
	}

	var before models.Encadrement
	record, err := s.mutate(ctx, current, func(tx repository.SupervisionTx, rec *models.Encadrement) error {
		before = *rec
		if !rec.SupervisedBy(actor.UserID) {
			return appErrors.Clone(appErrors.ErrForbidden, "only the requested supervisor can accept")
		}
		if rec.Status != models.EncadrementStatusRequested {
			return invalidTransition(rec.Status, models.EncadrementStatusAccepted)
		}
		now := s.now().UTC()
		rec.AcceptedAt = &now
		rec.UpdatedAt = now
		rec.Status = models.EncadrementStatusAccepted
		if selfValidate {
			err := s.checkQuota(ctx, tx, supervisor, rec.AcademicYear, quota, "accept")
			if errors.Is(err, appErrors.ErrQuotaExceeded) {
				atQuota = true
				return tx.UpdateEncadrement(ctx, rec)
			}
			if err != nil {
				return err
			}
			rec.Status = models.EncadrementStatusValidated
			rec.ValidatedAt = &now
			rec.ValidatedBy = &actor.UserID
			if err := tx.IncrementSupervisorLoad(ctx, supervisor.ID, rec.AcademicYear); err != nil {
				return err
			}
		}
		return tx.UpdateEncadrement(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	event := models.NotificationEncadrementAccepted
	if record.Status == models.EncadrementStatusValidated {
		event = models.NotificationEncadrementValidated
	}
	s.afterTransition(ctx, actor, models.AuditActionEncadrementAccept, event, &before, record, record.StudentID, *record.SupervisorID)
	result = &dto.EncadrementResult{Encadrement: record}
	if quota.Warning != "" {
		result.Warnings = append(result.Warnings, quota.Warning)
	}
	if atQuota {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s has already reached the quota of %d validated supervisions, the record stays accepted until a slot frees up", supervisor.FullName, quota.Quota.Limit))
	}
	return result, nil
}

// Refuse closes a request. The comment is mandatory and shown to the student.
func (s *EncadrementService) Refuse(ctx context.Context, id string, req dto.RefuseEncadrementRequest, actor *models.JWTClaims) (result *dto.EncadrementResult, err error) {
	defer func() { s.metrics.RecordEncadrementTransition("refuse", err) }()
	comment, err := requireComment(req.Comment, "refusal comment")
	if err != nil {
		return nil, err
	}
	current, err := s.prepare(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if current.SupervisorID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "encadrement has no supervisor to refuse it")
	}

	var before models.Encadrement
	record, err := s.mutate(ctx, current, func(tx repository.SupervisionTx, rec *models.Encadrement) error {
		before = *rec
		if !rec.SupervisedBy(actor.UserID) {
			return appErrors.Clone(appErrors.ErrForbidden, "only the requested supervisor can refuse")
		}
		if rec.Status != models.EncadrementStatusRequested {
			return invalidTransition(rec.Status, models.EncadrementStatusRefused)
		}
		now := s.now().UTC()
		rec.Status = models.EncadrementStatusRefused
		rec.Comment = &comment
		rec.ClosedAt = &now
		rec.UpdatedAt = now
		return tx.UpdateEncadrement(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, actor, models.AuditActionEncadrementRefuse, models.NotificationEncadrementRefused, &before, record, record.StudentID, *record.SupervisorID)
	return &dto.EncadrementResult{Encadrement: record}, nil
}

// Validate is performed by the head of the supervisor's department on an
// accepted record. The quota check here is authoritative since validation
// consumes a slot.
func (s *EncadrementService) Validate(ctx context.Context, id string, actor *models.JWTClaims) (result *dto.EncadrementResult, err error) {
	defer func() { s.metrics.RecordEncadrementTransition("validate", err) }()
	current, err := s.prepare(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.Role != models.RoleHead {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the department head can validate")
	}
	if current.SupervisorID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "encadrement has no supervisor to validate")
	}
	supervisor, err := s.teachers.FindByID(ctx, *current.SupervisorID)
	if err != nil {
		return nil, notFoundOr(err, "supervisor", "load supervisor")
	}
	if !actor.IsAdmin() && !actor.HeadOf(supervisor.DepartmentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the head of the supervisor's department can validate")
	}
	quota, err := s.quotas.Resolve(ctx, supervisor, current.AcademicYear)
	if err != nil {
		return nil, err
	}

	var before models.Encadrement
	record, err := s.mutate(ctx, current, func(tx repository.SupervisionTx, rec *models.Encadrement) error {
		before = *rec
		if rec.Status != models.EncadrementStatusAccepted {
			return invalidTransition(rec.Status, models.EncadrementStatusValidated)
		}
		if !rec.SupervisedBy(supervisor.ID) {
			return appErrors.Clone(appErrors.ErrConflict, "encadrement supervisor changed concurrently")
		}
		if err := s.checkQuota(ctx, tx, supervisor, rec.AcademicYear, quota, "validate"); err != nil {
			return err
		}
		now := s.now().UTC()
		rec.Status = models.EncadrementStatusValidated
		rec.ValidatedAt = &now
		rec.ValidatedBy = &actor.UserID
		rec.UpdatedAt = now
		if err := tx.UpdateEncadrement(ctx, rec); err != nil {
			return err
		}
		return tx.IncrementSupervisorLoad(ctx, supervisor.ID, rec.AcademicYear)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, actor, models.AuditActionEncadrementValidate, models.NotificationEncadrementValidated, &before, record, record.StudentID, supervisor.ID)
	result = &dto.EncadrementResult{Encadrement: record}
	if quota.Warning != "" {
		result.Warnings = append(result.Warnings, quota.Warning)
	}
	return result, nil
}

// Reassign closes an accepted record and opens a new request for another
// supervisor in one transaction. If the new request fails its duplicate or
// quota checks nothing is written.
func (s *EncadrementService) Reassign(ctx context.Context, id string, req dto.ReassignEncadrementRequest, actor *models.JWTClaims) (result *dto.EncadrementResult, err error) {
	defer func() { s.metrics.RecordEncadrementTransition("reassign", err) }()
	motif, err := requireComment(req.Motif, "reassignment motif")
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassignment payload")
	}
	current, err := s.prepare(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.Role != models.RoleHead {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the department head can reassign")
	}
	if current.SupervisorID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "encadrement has no supervisor to reassign from")
	}
	if !actor.IsAdmin() {
		supervisor, err := s.teachers.FindByID(ctx, *current.SupervisorID)
		if err != nil {
			return nil, notFoundOr(err, "supervisor", "load supervisor")
		}
		if !actor.HeadOf(supervisor.DepartmentID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the head of the supervisor's department can reassign")
		}
	}
	if *current.SupervisorID == req.NewSupervisorID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new supervisor must differ from the current one")
	}
	newSupervisor, err := s.teachers.FindByID(ctx, req.NewSupervisorID)
	if err != nil {
		return nil, notFoundOr(err, "supervisor", "load supervisor")
	}
	quota, err := s.quotas.Resolve(ctx, newSupervisor, current.AcademicYear)
	if err != nil {
		return nil, err
	}

	var (
		before      models.Encadrement
		replacement *models.Encadrement
	)
	record, err := s.mutate(ctx, current, func(tx repository.SupervisionTx, rec *models.Encadrement) error {
		before = *rec
		if rec.Status != models.EncadrementStatusAccepted {
			return invalidTransition(rec.Status, models.EncadrementStatusReassigned)
		}
		now := s.now().UTC()
		rec.Status = models.EncadrementStatusReassigned
		rec.Comment = &motif
		rec.ClosedAt = &now
		rec.UpdatedAt = now
		if err := tx.UpdateEncadrement(ctx, rec); err != nil {
			return err
		}

		active, err := tx.ActiveEncadrement(ctx, rec.StudentID, rec.AcademicYear)
		if err != nil {
			return err
		}
		if active != nil {
			return appErrors.Clone(appErrors.ErrDuplicateActiveRequest,
				fmt.Sprintf("student already has another active supervision record %s", active.ID))
		}
		if err := s.checkQuota(ctx, tx, newSupervisor, rec.AcademicYear, quota, "reassign"); err != nil {
			return err
		}
		previousID := rec.ID
		replacement = &models.Encadrement{
			ID:                    uuid.NewString(),
			StudentID:             rec.StudentID,
			SupervisorID:          &newSupervisor.ID,
			AcademicYear:          rec.AcademicYear,
			Status:                models.EncadrementStatusRequested,
			Comment:               &motif,
			PreviousEncadrementID: &previousID,
			RequestedBy:           actor.UserID,
			RequestedAt:           now,
			UpdatedAt:             now,
		}
		return tx.InsertEncadrement(ctx, replacement)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, actor, models.AuditActionEncadrementReassign, models.NotificationEncadrementReassigned, &before, record,
		record.StudentID, *before.SupervisorID, newSupervisor.ID)
	result = &dto.EncadrementResult{Encadrement: record, Replacement: replacement}
	if quota.Warning != "" {
		result.Warnings = append(result.Warnings, quota.Warning)
	}
	return result, nil
}

// prepare loads a record outside the transaction so that the student-year
// lock can be taken before the record lock. Records of alumni are refused.
func (s *EncadrementService) prepare(ctx context.Context, id string, actor *models.JWTClaims) (*models.Encadrement, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "encadrement", "load encadrement")
	}
	if _, err := s.loadStudent(ctx, current.StudentID); err != nil {
		return nil, err
	}
	return current, nil
}

// mutate locks the student-year and the record, then applies fn to the fresh row.
func (s *EncadrementService) mutate(ctx context.Context, current *models.Encadrement, fn func(tx repository.SupervisionTx, rec *models.Encadrement) error) (*models.Encadrement, error) {
	var record *models.Encadrement
	err := s.store.WithTx(ctx, func(tx repository.SupervisionTx) error {
		if err := tx.LockStudentYear(ctx, current.StudentID, current.AcademicYear); err != nil {
			return err
		}
		rec, err := tx.EncadrementForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}
		if err := fn(tx, rec); err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, notFoundOr(err, "encadrement", "update encadrement")
	}
	return record, nil
}

// checkQuota locks the supervisor-year counter and rejects when one more
// validated supervision would exceed the quota.
func (s *EncadrementService) checkQuota(ctx context.Context, tx repository.SupervisionTx, supervisor *models.Teacher, year string, quota dto.ResolvedQuota, operation string) error {
	return enforceQuota(ctx, tx, s.metrics, s.logger, supervisor, year, quota, operation)
}

// enforceQuota locks the supervisor load row and fails with QuotaExceeded when
// one more validated supervision would break the quota.
func enforceQuota(ctx context.Context, tx repository.SupervisionTx, metrics *MetricsService, logger *zap.Logger, supervisor *models.Teacher, year string, quota dto.ResolvedQuota, operation string) error {
	consumed, err := tx.LockSupervisorLoad(ctx, supervisor.ID, year)
	if err != nil {
		return err
	}
	if quota.Quota.Allows(consumed) {
		return nil
	}
	metrics.RecordQuotaRejection(operation)
	logger.Info("supervisor quota reached",
		zap.String("operation", operation),
		zap.String("teacher_id", supervisor.ID),
		zap.String("academic_year", year),
		zap.Int("consumed", consumed),
		zap.Int("quota", quota.Quota.Limit),
	)
	return appErrors.Clone(appErrors.ErrQuotaExceeded,
		fmt.Sprintf("%s has reached the quota of %d validated supervisions for %s (%d validated, source %s)",
			supervisor.FullName, quota.Quota.Limit, year, consumed, quota.Source))
}

func (s *EncadrementService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "student", "load student")
	}
	if student.Alumni {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is alumni (read-only)")
	}
	return student, nil
}

func (s *EncadrementService) afterTransition(ctx context.Context, actor *models.JWTClaims, action string, event models.NotificationType, before, after *models.Encadrement, recipients ...string) {
	s.logger.Info("encadrement transition",
		zap.String("action", action),
		zap.String("encadrement_id", after.ID),
		zap.String("student_id", after.StudentID),
		zap.String("status", string(after.Status)),
		zap.String("actor_id", actor.UserID),
	)
	var old interface{}
	if before != nil {
		old = before
	}
	writeAudit(ctx, s.audit, s.logger, "encadrement-service", actor, action, "encadrement", after.ID, old, after)
	s.notifier.Notify(ctx, event, recipients, map[string]interface{}{
		"encadrement_id": after.ID,
		"status":         after.Status,
		"academic_year":  after.AcademicYear,
		"comment":        derefString(after.Comment),
	})
}

func invalidTransition(from, to models.EncadrementStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("cannot move encadrement from %s to %s", from, to))
}

