package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/repository"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
	"github.com/noah-isme/memoire-api/pkg/lock"
)

type memTransitions struct {
	mu    sync.Mutex
	items map[string]models.AcademicTransition
}

func (m *memTransitions) Create(_ context.Context, transition *models.AcademicTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Status.Pending() {
			return repository.ErrPendingTransitionExists
		}
	}
	m.items[transition.ID] = *transition
	return nil
}

func (m *memTransitions) FindByID(_ context.Context, id string) (*models.AcademicTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &item, nil
}

func (m *memTransitions) FindPending(context.Context) (*models.AcademicTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.Status.Pending() {
			cp := item
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTransitions) UpdateState(_ context.Context, transition *models.AcademicTransition, from models.TransitionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[transition.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	m.items[transition.ID] = *transition
	return true, nil
}

type rolloverCounters struct {
	archivable int
	unsettled  int
	promotable int
	promoted   int64
	teachers   int
	resets     []string
	resetErr   error
}

func (c *rolloverCounters) CountByStatuses(_ context.Context, _ string, statuses []models.EncadrementStatus) (int, error) {
	if len(statuses) == len(models.ArchivableEncadrementStatuses) && statuses[0] == models.ArchivableEncadrementStatuses[0] {
		return c.archivable, nil
	}
	return c.unsettled, nil
}

func (c *rolloverCounters) ResetSupervisorLoads(_ context.Context, year string) (int64, error) {
	if c.resetErr != nil {
		return 0, c.resetErr
	}
	c.resets = append(c.resets, year)
	return int64(c.teachers), nil
}

func (c *rolloverCounters) CountPromotable(context.Context, string) (int, error) {
	return c.promotable, nil
}

func (c *rolloverCounters) PromoteDefended(context.Context, string) (int64, error) {
	promoted := c.promoted
	c.promoted = 0
	return promoted, nil
}

func (c *rolloverCounters) Count(context.Context) (int, error) {
	return c.teachers, nil
}

type memYears struct {
	mu       sync.Mutex
	current  string
	auto     bool
	advances int
}

func (y *memYears) CurrentAcademicYear(context.Context) (string, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.current, nil
}

func (y *memYears) AdvanceAcademicYear(_ context.Context, year string, _ *models.JWTClaims) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.current != year {
		y.current = year
		y.advances++
	}
	return nil
}

func (y *memYears) AutoDetectEnabled(context.Context) (bool, error) {
	return y.auto, nil
}

type flakyBroadcaster struct {
	failures int
	sent     []models.NotificationType
}

func (b *flakyBroadcaster) Broadcast(_ context.Context, eventType models.NotificationType, _ map[string]interface{}) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("notification queue is full")
	}
	b.sent = append(b.sent, eventType)
	return nil
}

type transitionFixture struct {
	svc       *TransitionService
	store     *memTransitions
	snapshots *memSnapshots
	counters  *rolloverCounters
	years     *memYears
	broadcast *flakyBroadcaster
	locker    lock.Locker
	audit     *auditRecorder
}

func newTransitionFixture(t *testing.T) *transitionFixture {
	t.Helper()
	f := &transitionFixture{
		store:     &memTransitions{items: map[string]models.AcademicTransition{}},
		snapshots: newMemSnapshots(),
		counters:  &rolloverCounters{archivable: 12, unsettled: 2, promotable: 7, promoted: 7, teachers: 4},
		years:     &memYears{current: testYear, auto: true},
		broadcast: &flakyBroadcaster{},
		locker:    lock.NewLocalLocker(),
		audit:     &auditRecorder{},
	}
	f.snapshots.live[testYear] = 12
	archiver := NewArchiveService(f.snapshots, nil, f.years, nil, nil, nil, nil, nil, ArchiveServiceConfig{})
	f.svc = NewTransitionService(TransitionServiceDeps{
		Store:        f.store,
		Encadrements: f.counters,
		Students:     f.counters,
		Teachers:     f.counters,
		Archiver:     archiver,
		Years:        f.years,
		Broadcaster:  f.broadcast,
		Locker:       f.locker,
		Audit:        f.audit,
		Config:       TransitionServiceConfig{ConfirmationToken: "CONFIRMER", RolloverMonth: 9},
	})
	return f
}

func (f *transitionFixture) confirmed(t *testing.T, archiveAlumni, notify bool) *models.AcademicTransition {
	t.Helper()
	ctx := context.Background()
	proposed, err := f.svc.Propose(ctx, dto.ProposeTransitionRequest{}, adminClaims())
	require.NoError(t, err)
	confirmed, err := f.svc.Confirm(ctx, proposed.ID, dto.ConfirmTransitionRequest{
		ConfirmationToken: "CONFIRMER",
		ArchiveAlumni:     archiveAlumni,
		NotifyUsers:       notify,
	}, adminClaims())
	require.NoError(t, err)
	return confirmed
}

func stepStatuses(report *models.TransitionReport) []models.StepStatus {
	statuses := make([]models.StepStatus, 0, len(report.Steps))
	for _, step := range report.Steps {
		statuses = append(statuses, step.Status)
	}
	return statuses
}

func TestTransitionExecuteRetryArchivesOnce(t *testing.T) {
	f := newTransitionFixture(t)
	f.broadcast.failures = 1
	ctx := context.Background()

	transition := f.confirmed(t, true, true)
	assert.Equal(t, "2024-2025", transition.PreviousYear)
	assert.Equal(t, "2025-2026", transition.NewYear)

	report, err := f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPartial, report.Status)
	assert.Equal(t, []models.StepStatus{
		models.StepStatusCompleted,
		models.StepStatusCompleted,
		models.StepStatusCompleted,
		models.StepStatusCompleted,
		models.StepStatusFailed,
	}, stepStatuses(report))
	assert.Contains(t, report.Steps[4].Error, "queue is full")
	assert.True(t, report.SnapshotCreated)
	assert.Equal(t, 12, report.ArchivedEncadrements)
	assert.Equal(t, 7, report.PromotedAlumni)
	assert.Equal(t, 4, report.ResetQuotas)
	assert.Equal(t, "2025-2026", f.years.current)

	stored := f.store.items[transition.ID]
	assert.Equal(t, models.TransitionStatusInProgress, stored.Status)
	require.True(t, stored.LastReport.Valid)
	var persisted models.TransitionReport
	require.NoError(t, json.Unmarshal(stored.LastReport.JSONText, &persisted))
	assert.Equal(t, models.ReportStatusPartial, persisted.Status)

	retry, err := f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusCompleted, retry.Status)
	assert.False(t, retry.SnapshotCreated)
	assert.Equal(t, report.SnapshotID, retry.SnapshotID)
	assert.Equal(t, "snapshot already existed", retry.Steps[0].Detail)
	assert.Equal(t, 0, retry.PromotedAlumni)

	assert.Equal(t, 1, f.snapshots.creates)
	assert.Equal(t, 1, f.years.advances)
	assert.Equal(t, []string{"2025-2026", "2025-2026"}, f.counters.resets)
	assert.Equal(t, []models.NotificationType{models.NotificationYearTransition}, f.broadcast.sent)

	stored = f.store.items[transition.ID]
	assert.Equal(t, models.TransitionStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	_, err = f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
}

func TestTransitionExecuteStopsAtFirstFailure(t *testing.T) {
	f := newTransitionFixture(t)
	f.counters.resetErr = errors.New("connection reset")
	ctx := context.Background()

	transition := f.confirmed(t, false, true)

	var events []models.TransitionStepResult
	report, err := f.svc.Execute(ctx, transition.ID, adminClaims(), func(step models.TransitionStepResult) {
		events = append(events, step)
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPartial, report.Status)
	assert.Equal(t, []models.StepStatus{
		models.StepStatusCompleted,
		models.StepStatusSkipped,
		models.StepStatusFailed,
		models.StepStatusSkipped,
		models.StepStatusSkipped,
	}, stepStatuses(report))
	assert.Equal(t, testYear, f.years.current)
	assert.Empty(t, f.broadcast.sent)

	require.NotEmpty(t, events)
	assert.Equal(t, models.StepStatusRunning, events[0].Status)
	assert.Equal(t, models.TransitionStepArchive, events[0].Step)
	assert.Len(t, events, 7)
}

func TestTransitionSingleton(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Propose(ctx, dto.ProposeTransitionRequest{PreviousYear: testYear, NewYear: "2025-2026"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.DetectionTypeManual, first.DetectionType)

	_, err = f.svc.Propose(ctx, dto.ProposeTransitionRequest{}, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrTransitionAlreadyPending)

	current, err := f.svc.Current(ctx, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	_, err = f.svc.Reject(ctx, first.ID, dto.RejectTransitionRequest{Comment: "trop tôt"}, adminClaims())
	require.NoError(t, err)

	_, err = f.svc.Current(ctx, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	second, err := f.svc.Propose(ctx, dto.ProposeTransitionRequest{}, adminClaims())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, []string{
		models.AuditActionTransitionPropose,
		models.AuditActionTransitionReject,
		models.AuditActionTransitionPropose,
	}, f.audit.actions())
}

func TestTransitionProposeValidation(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, dto.ProposeTransitionRequest{}, headClaims())
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Propose(ctx, dto.ProposeTransitionRequest{PreviousYear: "2023-2024"}, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.svc.Propose(ctx, dto.ProposeTransitionRequest{NewYear: "2026-2027"}, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTransitionConfirmGate(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()

	proposed, err := f.svc.Propose(ctx, dto.ProposeTransitionRequest{}, adminClaims())
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, proposed.ID, adminClaims(), nil)
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	_, err = f.svc.Confirm(ctx, proposed.ID, dto.ConfirmTransitionRequest{ConfirmationToken: "confirmer"}, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrConfirmationMismatch)
	assert.Equal(t, models.TransitionStatusProposed, f.store.items[proposed.ID].Status)

	confirmed, err := f.svc.Confirm(ctx, proposed.ID, dto.ConfirmTransitionRequest{ConfirmationToken: " CONFIRMER ", NotifyUsers: true}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.TransitionStatusValidated, confirmed.Status)
	assert.True(t, confirmed.NotifyUsers)
	assert.False(t, confirmed.ArchiveAlumni)

	_, err = f.svc.Confirm(ctx, proposed.ID, dto.ConfirmTransitionRequest{ConfirmationToken: "CONFIRMER"}, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	_, err = f.svc.Reject(ctx, proposed.ID, dto.RejectTransitionRequest{}, adminClaims())
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
}

func TestTransitionExecuteHoldsSystemLock(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()
	transition := f.confirmed(t, false, false)

	lease, err := f.locker.Acquire(ctx, transitionLockKey, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.ErrorIs(t, err, appErrors.ErrTransitionInProgress)
	assert.Equal(t, models.TransitionStatusValidated, f.store.items[transition.ID].Status)

	require.NoError(t, lease.Release(ctx))
	report, err := f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusCompleted, report.Status)
	assert.Equal(t, models.StepStatusSkipped, report.Steps[1].Status)
	assert.Equal(t, models.StepStatusSkipped, report.Steps[4].Status)
}

type fencedLocker struct {
	mu        sync.Mutex
	extends   int
	failAfter int
}

func (l *fencedLocker) Acquire(context.Context, string, time.Duration) (lock.Lease, error) {
	return &fencedLease{locker: l}, nil
}

type fencedLease struct{ locker *fencedLocker }

func (l *fencedLease) Extend(context.Context, time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.extends++
	if l.locker.extends > l.locker.failAfter {
		return lock.ErrLeaseLost
	}
	return nil
}

func (l *fencedLease) Release(context.Context) error { return nil }

func TestTransitionExecuteRenewsLockPerStep(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()
	transition := f.confirmed(t, false, false)
	locker := &fencedLocker{failAfter: 10}
	f.svc.locker = locker

	report, err := f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusCompleted, report.Status)
	assert.Equal(t, 3, locker.extends)
}

func TestTransitionExecuteStopsWhenLockLost(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()
	transition := f.confirmed(t, false, false)
	f.svc.locker = &fencedLocker{failAfter: 1}

	report, err := f.svc.Execute(ctx, transition.ID, adminClaims(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPartial, report.Status)
	assert.Equal(t, models.StepStatusCompleted, report.Steps[0].Status)
	assert.Equal(t, models.StepStatusFailed, report.Steps[2].Status)
	assert.Contains(t, report.Steps[2].Error, lock.ErrLeaseLost.Error())
	assert.Equal(t, models.StepStatusSkipped, report.Steps[3].Status)
	assert.Empty(t, f.counters.resets)
	assert.Equal(t, testYear, f.years.current)
	assert.Zero(t, f.years.advances)
	assert.Equal(t, models.TransitionStatusInProgress, f.store.items[transition.ID].Status)
}

func TestTransitionPreviewIsReadOnly(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()
	proposed, err := f.svc.Propose(ctx, dto.ProposeTransitionRequest{}, adminClaims())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		preview, err := f.svc.Preview(ctx, proposed.ID, adminClaims())
		require.NoError(t, err)
		assert.Equal(t, 12, preview.EncadrementsToArchive)
		assert.Equal(t, 2, preview.UnsettledEncadrements)
		assert.Equal(t, 7, preview.StudentsToPromote)
		assert.Equal(t, 4, preview.TeacherQuotasToReset)
		assert.False(t, preview.SnapshotExists)
	}
	assert.Zero(t, f.snapshots.creates)
	assert.Empty(t, f.counters.resets)
	assert.Equal(t, testYear, f.years.current)
}

func TestTransitionDetect(t *testing.T) {
	f := newTransitionFixture(t)
	ctx := context.Background()

	transition, created, err := f.svc.Detect(ctx, time.Date(2025, 8, 31, 23, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Nil(t, transition)
	assert.False(t, created)

	transition, created, err = f.svc.Detect(ctx, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.NotNil(t, transition)
	assert.True(t, created)
	assert.Equal(t, models.DetectionTypeAuto, transition.DetectionType)
	assert.Equal(t, "system", transition.ProposedBy)
	assert.Equal(t, "2025-2026", transition.NewYear)

	again, created, err := f.svc.Detect(ctx, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), adminClaims())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, transition.ID, again.ID)

	_, _, err = f.svc.Detect(ctx, time.Now(), teacherClaims("tA"))
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestTransitionDetectDisabled(t *testing.T) {
	f := newTransitionFixture(t)
	f.years.auto = false

	transition, created, err := f.svc.Detect(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Nil(t, transition)
	assert.False(t, created)
	assert.Empty(t, f.store.items)
}
