package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/repository"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/lock"
)

const (
	transitionLockKey      = "academic-transition"
	systemActor            = "system"
	defaultConfirmToken    = "CONFIRMER"
	defaultRolloverMonth   = 9
	defaultTransitionLease = 30 * time.Minute
)

type transitionStore interface {
	Create(ctx context.Context, transition *models.AcademicTransition) error
	FindByID(ctx context.Context, id string) (*models.AcademicTransition, error)
	FindPending(ctx context.Context) (*models.AcademicTransition, error)
	UpdateState(ctx context.Context, transition *models.AcademicTransition, from models.TransitionStatus) (bool, error)
}

type encadrementCounter interface {
	CountByStatuses(ctx context.Context, year string, statuses []models.EncadrementStatus) (int, error)
	ResetSupervisorLoads(ctx context.Context, year string) (int64, error)
}

type alumniPromoter interface {
	CountPromotable(ctx context.Context, year string) (int, error)
	PromoteDefended(ctx context.Context, year string) (int64, error)
}

type teacherCounter interface {
	Count(ctx context.Context) (int, error)
}

type yearArchiver interface {
	Snapshot(ctx context.Context, year, comment string, transitionID *string, actor *models.JWTClaims) (*models.ArchiveSnapshot, bool, error)
	Find(ctx context.Context, year string) (*models.ArchiveSnapshot, error)
}

type yearPointer interface {
	academicYearSource
	AdvanceAcademicYear(ctx context.Context, year string, actor *models.JWTClaims) error
	AutoDetectEnabled(ctx context.Context) (bool, error)
}

type broadcaster interface {
	Broadcast(ctx context.Context, eventType models.NotificationType, payload map[string]interface{}) error
}

// TransitionServiceConfig tunes the rollover.
type TransitionServiceConfig struct {
	ConfirmationToken string
	RolloverMonth     int
	LockTTL           time.Duration
	Location          *time.Location
}

// TransitionServiceDeps groups the collaborators of TransitionService.
type TransitionServiceDeps struct {
	Store        transitionStore
	Encadrements encadrementCounter
	Students     alumniPromoter
	Teachers     teacherCounter
	Archiver     yearArchiver
	Years        yearPointer
	Broadcaster  broadcaster
	Locker       lock.Locker
	Audit        auditLogger
	Metrics      *MetricsService
	Validator    *validator.Validate
	Logger       *zap.Logger
	Config       TransitionServiceConfig
}

// TransitionService drives the academic year rollover: propose, preview,
// confirm, then execute the archive/promote/reset/advance/notify steps.
type TransitionService struct {
	store        transitionStore
	encadrements encadrementCounter
	students     alumniPromoter
	teachers     teacherCounter
	archiver     yearArchiver
	years        yearPointer
	broadcaster  broadcaster
	locker       lock.Locker
	audit        auditLogger
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          TransitionServiceConfig
	now          func() time.Time
}

// NewTransitionService constructs the orchestrator with defaults.
func NewTransitionService(deps TransitionServiceDeps) *TransitionService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	cfg := deps.Config
	if strings.TrimSpace(cfg.ConfirmationToken) == "" {
		cfg.ConfirmationToken = defaultConfirmToken
	}
	if cfg.RolloverMonth < 1 || cfg.RolloverMonth > 12 {
		cfg.RolloverMonth = defaultRolloverMonth
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultTransitionLease
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &TransitionService{
		store:        deps.Store,
		encadrements: deps.Encadrements,
		students:     deps.Students,
		teachers:     deps.Teachers,
		archiver:     deps.Archiver,
		years:        deps.Years,
		broadcaster:  deps.Broadcaster,
		locker:       deps.Locker,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		validator:    deps.Validator,
		logger:       deps.Logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Current returns the pending transition.
func (s *TransitionService) Current(ctx context.Context, actor *models.JWTClaims) (*models.AcademicTransition, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	pending, err := s.store.FindPending(ctx)
	if err != nil {
		return nil, internalOr(err, "load pending transition")
	}
	if pending == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no academic transition is pending")
	}
	return pending, nil
}

// Get returns one transition.
func (s *TransitionService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.AcademicTransition, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Propose opens a manual transition from the current year to the next one.
func (s *TransitionService) Propose(ctx context.Context, req dto.ProposeTransitionRequest, actor *models.JWTClaims) (*models.AcademicTransition, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	current, err := s.years.CurrentAcademicYear(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := resolveAcademicYear(ctx, s.years, req.PreviousYear)
	if err != nil {
		return nil, err
	}
	if previous != current {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("only the current academic year %s can be rolled over, got %s", current, previous))
	}
	parsed, _ := models.ParseAcademicYear(previous)
	next := parsed.Next().String()
	if strings.TrimSpace(req.NewYear) != "" {
		requested, err := parseYear(req.NewYear)
		if err != nil {
			return nil, err
		}
		if requested != next {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be followed by %s, got %s", previous, next, requested))
		}
	}

	transition := &models.AcademicTransition{
		ID:            uuid.NewString(),
		PreviousYear:  previous,
		NewYear:       next,
		DetectionType: models.DetectionTypeManual,
		Status:        models.TransitionStatusProposed,
		Comment:       strPtr(strings.TrimSpace(req.Comment)),
		ProposedBy:    actor.UserID,
	}
	if err := s.create(ctx, transition); err != nil {
		return nil, err
	}
	writeAudit(ctx, s.audit, s.logger, "transition-service", actor, models.AuditActionTransitionPropose, "academic_transition", transition.ID, nil, transition)
	s.logger.Info("academic transition proposed",
		zap.String("transition_id", transition.ID),
		zap.String("previous_year", previous),
		zap.String("new_year", next),
	)
	return transition, nil
}

// Detect proposes the rollover automatically once now has reached the rollover
// month of the current year. It returns the pending transition when one already
// exists and nil when nothing is due. created reports whether a row was inserted.
func (s *TransitionService) Detect(ctx context.Context, now time.Time, actor *models.JWTClaims) (*models.AcademicTransition, bool, error) {
	if actor != nil && !actor.IsAdmin() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "only administrators can manage academic transitions")
	}
	enabled, err := s.years.AutoDetectEnabled(ctx)
	if err != nil {
		return nil, false, err
	}
	if !enabled {
		return nil, false, nil
	}
	pending, err := s.store.FindPending(ctx)
	if err != nil {
		return nil, false, internalOr(err, "load pending transition")
	}
	if pending != nil {
		return pending, false, nil
	}
	current, err := s.years.CurrentAcademicYear(ctx)
	if err != nil {
		return nil, false, err
	}
	year, err := models.ParseAcademicYear(current)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored academic year is malformed")
	}
	if now.Before(year.RolloverAt(s.cfg.RolloverMonth, s.cfg.Location)) {
		return nil, false, nil
	}

	transition := &models.AcademicTransition{
		ID:            uuid.NewString(),
		PreviousYear:  current,
		NewYear:       year.Next().String(),
		DetectionType: models.DetectionTypeAuto,
		Status:        models.TransitionStatusProposed,
		ProposedBy:    systemActor,
	}
	if err := s.create(ctx, transition); err != nil {
		if errors.Is(err, appErrors.ErrTransitionAlreadyPending) {
			pending, findErr := s.store.FindPending(ctx)
			if findErr == nil && pending != nil {
				return pending, false, nil
			}
		}
		return nil, false, err
	}
	writeAudit(ctx, s.audit, s.logger, "transition-service", actor, models.AuditActionTransitionPropose, "academic_transition", transition.ID, nil, transition)
	s.logger.Info("academic transition detected",
		zap.String("transition_id", transition.ID),
		zap.String("previous_year", transition.PreviousYear),
		zap.String("new_year", transition.NewYear),
	)
	return transition, true, nil
}

// Reject closes a proposal without executing it.
func (s *TransitionService) Reject(ctx context.Context, id string, req dto.RejectTransitionRequest, actor *models.JWTClaims) (*models.AcademicTransition, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	transition, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if transition.Status != models.TransitionStatusProposed {
		return nil, invalidTransitionState(transition.Status, models.TransitionStatusRejected)
	}
	now := s.now().UTC()
	transition.Status = models.TransitionStatusRejected
	transition.RejectedBy = &actor.UserID
	transition.RejectedAt = &now
	if comment := strings.TrimSpace(req.Comment); comment != "" {
		transition.Comment = &comment
	}
	if err := s.update(ctx, transition, models.TransitionStatusProposed); err != nil {
		return nil, err
	}
	writeAudit(ctx, s.audit, s.logger, "transition-service", actor, models.AuditActionTransitionReject, "academic_transition", transition.ID, nil, transition)
	return transition, nil
}

// Preview estimates the impact of executing a transition. It never writes.
func (s *TransitionService) Preview(ctx context.Context, id string, actor *models.JWTClaims) (*models.TransitionPreview, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	transition, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	archivable, err := s.encadrements.CountByStatuses(ctx, transition.PreviousYear, models.ArchivableEncadrementStatuses)
	if err != nil {
		return nil, internalOr(err, "count archivable encadrements")
	}
	unsettled, err := s.encadrements.CountByStatuses(ctx, transition.PreviousYear, []models.EncadrementStatus{
		models.EncadrementStatusRequested,
		models.EncadrementStatusAccepted,
	})
	if err != nil {
		return nil, internalOr(err, "count unsettled encadrements")
	}
	promotable, err := s.students.CountPromotable(ctx, transition.PreviousYear)
	if err != nil {
		return nil, internalOr(err, "count promotable students")
	}
	teachers, err := s.teachers.Count(ctx)
	if err != nil {
		return nil, internalOr(err, "count teachers")
	}
	snapshot, err := s.archiver.Find(ctx, transition.PreviousYear)
	if err != nil {
		return nil, err
	}
	return &models.TransitionPreview{
		TransitionID:          transition.ID,
		PreviousYear:          transition.PreviousYear,
		NewYear:               transition.NewYear,
		EncadrementsToArchive: archivable,
		StudentsToPromote:     promotable,
		TeacherQuotasToReset:  teachers,
		UnsettledEncadrements: unsettled,
		SnapshotExists:        snapshot != nil,
	}, nil
}

// Confirm checks the typed token and records the execution options.
func (s *TransitionService) Confirm(ctx context.Context, id string, req dto.ConfirmTransitionRequest, actor *models.JWTClaims) (*models.AcademicTransition, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid confirmation payload")
	}
	if strings.TrimSpace(req.ConfirmationToken) != s.cfg.ConfirmationToken {
		return nil, appErrors.Clone(appErrors.ErrConfirmationMismatch, fmt.Sprintf("type %s to confirm the transition", s.cfg.ConfirmationToken))
	}
	transition, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if transition.Status != models.TransitionStatusProposed {
		return nil, invalidTransitionState(transition.Status, models.TransitionStatusValidated)
	}
	now := s.now().UTC()
	transition.Status = models.TransitionStatusValidated
	transition.ArchiveAlumni = req.ArchiveAlumni
	transition.NotifyUsers = req.NotifyUsers
	transition.ValidatedBy = &actor.UserID
	transition.ValidatedAt = &now
	if err := s.update(ctx, transition, models.TransitionStatusProposed); err != nil {
		return nil, err
	}
	writeAudit(ctx, s.audit, s.logger, "transition-service", actor, models.AuditActionTransitionConfirm, "academic_transition", transition.ID, nil, transition)
	return transition, nil
}

// Execute runs the rollover steps in order under the system-wide lock. It
// stops at the first failing step and reports the remaining ones as skipped;
// completed steps are not reversed and re-running Execute resumes safely.
// progress, when set, is called as each step starts and finishes.
func (s *TransitionService) Execute(ctx context.Context, id string, actor *models.JWTClaims, progress func(models.TransitionStepResult)) (*models.TransitionReport, error) {
	if err := requireAdmin(actor, "academic transitions"); err != nil {
		return nil, err
	}
	lease, err := s.locker.Acquire(ctx, transitionLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			return nil, appErrors.Clone(appErrors.ErrTransitionInProgress, "an academic transition is already executing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire transition lock")
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("failed to release transition lock", zap.Error(releaseErr))
		}
	}()

	transition, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transition.Status.Executable() {
		return nil, invalidTransitionState(transition.Status, models.TransitionStatusInProgress)
	}
	if transition.Status == models.TransitionStatusValidated {
		started := s.now().UTC()
		transition.Status = models.TransitionStatusInProgress
		transition.StartedAt = &started
		if err := s.update(ctx, transition, models.TransitionStatusValidated); err != nil {
			return nil, err
		}
	}

	// Sub-steps outlive a cancelled request so that a run is never abandoned half way.
	runCtx := context.WithoutCancel(ctx)
	report := &models.TransitionReport{
		TransitionID: transition.ID,
		PreviousYear: transition.PreviousYear,
		NewYear:      transition.NewYear,
		Status:       models.ReportStatusCompleted,
	}
	for _, step := range s.plan(transition, actor, report) {
		if report.Status == models.ReportStatusPartial {
			report.Steps = append(report.Steps, s.skip(step.name, "previous step failed", progress))
			continue
		}
		if step.run == nil {
			report.Steps = append(report.Steps, s.skip(step.name, step.skipReason, progress))
			continue
		}
		result := s.runStep(runCtx, lease, step, progress)
		report.Steps = append(report.Steps, result)
		if result.Status == models.StepStatusFailed {
			report.Status = models.ReportStatusPartial
		}
	}
	report.GeneratedAt = s.now().UTC()

	if err := s.finish(runCtx, transition, report); err != nil {
		return report, err
	}
	writeAudit(runCtx, s.audit, s.logger, "transition-service", actor, models.AuditActionTransitionExecute, "academic_transition", transition.ID, nil, report)
	s.logger.Info("academic transition executed",
		zap.String("transition_id", transition.ID),
		zap.String("status", string(report.Status)),
		zap.Int("archived", report.ArchivedEncadrements),
		zap.Int("promoted", report.PromotedAlumni),
		zap.Int("reset", report.ResetQuotas),
	)
	return report, nil
}

type transitionStep struct {
	name       models.TransitionStep
	skipReason string
	run        func(ctx context.Context) (count int, detail string, err error)
}

func (s *TransitionService) plan(transition *models.AcademicTransition, actor *models.JWTClaims, report *models.TransitionReport) []transitionStep {
	steps := []transitionStep{
		{name: models.TransitionStepArchive, run: func(ctx context.Context) (int, string, error) {
			snapshot, created, err := s.archiver.Snapshot(ctx, transition.PreviousYear, "", &transition.ID, actor)
			if err != nil {
				return 0, "", err
			}
			report.SnapshotID = snapshot.ID
			report.SnapshotCreated = created
			report.ArchivedEncadrements = snapshot.EncadrementCount
			if !created {
				return snapshot.EncadrementCount, "snapshot already existed", nil
			}
			return snapshot.EncadrementCount, "", nil
		}},
		{name: models.TransitionStepPromoteAlumni, skipReason: "alumni promotion not requested"},
		{name: models.TransitionStepResetQuotas, run: func(ctx context.Context) (int, string, error) {
			reset, err := s.encadrements.ResetSupervisorLoads(ctx, transition.NewYear)
			if err != nil {
				return 0, "", err
			}
			report.ResetQuotas = int(reset)
			return int(reset), "", nil
		}},
		{name: models.TransitionStepAdvanceYear, run: func(ctx context.Context) (int, string, error) {
			if err := s.years.AdvanceAcademicYear(ctx, transition.NewYear, actor); err != nil {
				return 0, "", err
			}
			return 1, "current academic year is " + transition.NewYear, nil
		}},
		{name: models.TransitionStepNotify, skipReason: "notifications not requested"},
	}
	if transition.ArchiveAlumni {
		steps[1].run = func(ctx context.Context) (int, string, error) {
			promoted, err := s.students.PromoteDefended(ctx, transition.PreviousYear)
			if err != nil {
				return 0, "", err
			}
			report.PromotedAlumni = int(promoted)
			return int(promoted), "", nil
		}
	}
	if transition.NotifyUsers && s.broadcaster != nil {
		steps[4].run = func(ctx context.Context) (int, string, error) {
			err := s.broadcaster.Broadcast(ctx, models.NotificationYearTransition, map[string]interface{}{
				"transition_id": transition.ID,
				"previous_year": transition.PreviousYear,
				"new_year":      transition.NewYear,
			})
			if err != nil {
				return 0, "", err
			}
			return 1, "", nil
		}
	}
	return steps
}

// runStep renews the transition lock before running step. A lost lease fails
// the step without running it since another Execute may own the transition.
func (s *TransitionService) runStep(ctx context.Context, lease lock.Lease, step transitionStep, progress func(models.TransitionStepResult)) models.TransitionStepResult {
	started := s.now().UTC()
	if progress != nil {
		progress(models.TransitionStepResult{Step: step.name, Status: models.StepStatusRunning, StartedAt: &started})
	}
	var (
		count  int
		detail string
		err    error
	)
	if err = lease.Extend(ctx, s.cfg.LockTTL); err != nil {
		err = fmt.Errorf("renew transition lock: %w", err)
	} else {
		count, detail, err = step.run(ctx)
	}
	finished := s.now().UTC()
	result := models.TransitionStepResult{
		Step:       step.name,
		Status:     models.StepStatusCompleted,
		Count:      count,
		Detail:     detail,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	if err != nil {
		result.Status = models.StepStatusFailed
		result.Error = err.Error()
		s.logger.Error("academic transition step failed", zap.String("step", string(step.name)), zap.Error(err))
	} else {
		s.logger.Info("academic transition step completed", zap.String("step", string(step.name)), zap.Int("count", count))
	}
	s.metrics.ObserveTransitionStep(string(step.name), string(result.Status), finished.Sub(started))
	if progress != nil {
		progress(result)
	}
	return result
}

func (s *TransitionService) skip(name models.TransitionStep, reason string, progress func(models.TransitionStepResult)) models.TransitionStepResult {
	result := models.TransitionStepResult{Step: name, Status: models.StepStatusSkipped, Detail: reason}
	s.metrics.ObserveTransitionStep(string(name), string(result.Status), 0)
	if progress != nil {
		progress(result)
	}
	return result
}

func (s *TransitionService) finish(ctx context.Context, transition *models.AcademicTransition, report *models.TransitionReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode transition report")
	}
	transition.LastReport = types.NullJSONText{JSONText: raw, Valid: true}
	if report.Status == models.ReportStatusCompleted {
		completed := report.GeneratedAt
		transition.Status = models.TransitionStatusCompleted
		transition.CompletedAt = &completed
	}
	return s.update(ctx, transition, models.TransitionStatusInProgress)
}

func (s *TransitionService) create(ctx context.Context, transition *models.AcademicTransition) error {
	pending, err := s.store.FindPending(ctx)
	if err != nil {
		return internalOr(err, "load pending transition")
	}
	if pending != nil {
		return pendingExists(pending)
	}
	transition.ProposedAt = s.now().UTC()
	transition.UpdatedAt = transition.ProposedAt
	if err := s.store.Create(ctx, transition); err != nil {
		if errors.Is(err, repository.ErrPendingTransitionExists) {
			return appErrors.Clone(appErrors.ErrTransitionAlreadyPending, "another academic transition is already pending")
		}
		return internalOr(err, "create transition")
	}
	return nil
}

func (s *TransitionService) load(ctx context.Context, id string) (*models.AcademicTransition, error) {
	transition, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "academic transition", "load transition")
	}
	return transition, nil
}

func (s *TransitionService) update(ctx context.Context, transition *models.AcademicTransition, from models.TransitionStatus) error {
	ok, err := s.store.UpdateState(ctx, transition, from)
	if err != nil {
		return internalOr(err, "update transition")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrConflict, "academic transition was modified concurrently")
	}
	return nil
}

func pendingExists(pending *models.AcademicTransition) error {
	return appErrors.Clone(appErrors.ErrTransitionAlreadyPending,
		fmt.Sprintf("transition %s to %s is already %s", pending.PreviousYear, pending.NewYear, strings.ToLower(string(pending.Status))))
}

func invalidTransitionState(from, to models.TransitionStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("academic transition cannot move from %s to %s", from, to))
}

func requireAdmin(actor *models.JWTClaims, what string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, what+" are restricted to administrators")
	}
	return nil
}
