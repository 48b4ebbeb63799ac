package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

const testYear = "2024-2025"

type encadrementFixture struct {
	store    *memSupervision
	people   *memPeople
	policies *memPolicies
	audit    *auditRecorder
	notes    *notifierRecorder
	svc      *EncadrementService
}

func newEncadrementFixture(t *testing.T) *encadrementFixture {
	t.Helper()
	people := &memPeople{
		students: map[string]*models.Student{
			"s1":  {ID: "s1", FullName: "Amina", DepartmentID: "info"},
			"s2":  {ID: "s2", FullName: "Yacine", DepartmentID: "info"},
			"s3":  {ID: "s3", FullName: "Lina", DepartmentID: "info"},
			"old": {ID: "old", FullName: "Karim", DepartmentID: "info", Alumni: true},
		},
		teachers: map[string]*models.Teacher{
			"tA":   {ID: "tA", FullName: "Dr A", Grade: "MCA", DepartmentID: "info"},
			"tB":   {ID: "tB", FullName: "Dr B", Grade: "MCA", DepartmentID: "info"},
			"head": {ID: "head", FullName: "Pr H", Grade: "PR", DepartmentID: "info", IsHead: true},
		},
	}
	policies := &memPolicies{}
	policy, err := models.NewFixedPolicy("info", testYear, 2)
	require.NoError(t, err)
	require.NoError(t, policies.Replace(context.Background(), policy))

	store := newMemSupervision()
	audit := &auditRecorder{}
	notes := &notifierRecorder{}
	quotas := NewQuotaService(policies, memTeachers{people}, nil, fixedYear(testYear), nil, nil, nil, nil)
	svc := NewEncadrementService(EncadrementServiceDeps{
		Store:    store,
		Students: memStudents{people},
		Teachers: memTeachers{people},
		Quotas:   quotas,
		Years:    fixedYear(testYear),
		Notifier: notes,
		Audit:    audit,
		Metrics:  NewMetricsService(),
	})
	svc.now = func() time.Time { return time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC) }
	return &encadrementFixture{store: store, people: people, policies: policies, audit: audit, notes: notes, svc: svc}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, DepartmentID: "info"}
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher, DepartmentID: "info"}
}

func headClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "head", Role: models.RoleHead, DepartmentID: "info"}
}

func seeded(id, studentID, supervisorID string, status models.EncadrementStatus) models.Encadrement {
	sup := supervisorID
	return models.Encadrement{
		ID:           id,
		StudentID:    studentID,
		SupervisorID: &sup,
		AcademicYear: testYear,
		Status:       status,
		RequestedBy:  studentID,
		RequestedAt:  time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEncadrementRequestIgnoresPendingButValidateEnforcesQuota(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.put(
		seeded("v1", "x1", "tA", models.EncadrementStatusValidated),
		seeded("v2", "x2", "tA", models.EncadrementStatusValidated),
	)
	f.store.setLoad("tA", testYear, 2)

	requested, err := f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tA"}, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusRequested, requested.Encadrement.Status)
	assert.Equal(t, testYear, requested.Encadrement.AcademicYear)
	require.Len(t, requested.Warnings, 1)
	assert.Contains(t, requested.Warnings[0], "quota of 2")

	_, err = f.svc.Accept(ctx, requested.Encadrement.ID, teacherClaims("tA"))
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, requested.Encadrement.ID, headClaims())
	require.ErrorIs(t, err, appErrors.ErrQuotaExceeded)
	assert.Equal(t, models.EncadrementStatusAccepted, f.store.get(requested.Encadrement.ID).Status)
	assert.Equal(t, 2, f.store.load("tA", testYear))
}

func TestEncadrementFullLifecycle(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()

	res, err := f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tA"}, studentClaims("s1"))
	require.NoError(t, err)
	id := res.Encadrement.ID

	accepted, err := f.svc.Accept(ctx, id, teacherClaims("tA"))
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusAccepted, accepted.Encadrement.Status)
	assert.NotNil(t, accepted.Encadrement.AcceptedAt)

	validated, err := f.svc.Validate(ctx, id, headClaims())
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusValidated, validated.Encadrement.Status)
	require.NotNil(t, validated.Encadrement.ValidatedBy)
	assert.Equal(t, "head", *validated.Encadrement.ValidatedBy)
	assert.Equal(t, 1, f.store.load("tA", testYear))

	assert.Equal(t, []string{
		models.AuditActionEncadrementRequest,
		models.AuditActionEncadrementAccept,
		models.AuditActionEncadrementValidate,
	}, f.audit.actions())
	assert.Equal(t, []models.NotificationType{
		models.NotificationEncadrementRequested,
		models.NotificationEncadrementAccepted,
		models.NotificationEncadrementValidated,
	}, f.notes.types())
}

func TestEncadrementRequestRejectsDuplicateAndAlumni(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tA"}, studentClaims("s1"))
	require.NoError(t, err)

	_, err = f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tB"}, studentClaims("s1"))
	require.ErrorIs(t, err, appErrors.ErrDuplicateActiveRequest)

	_, err = f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s2", SupervisorID: "tB"}, studentClaims("s1"))
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "old", SupervisorID: "tB"}, studentClaims("old"))
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s2", SupervisorID: "tB", AcademicYear: "2024-2026"}, studentClaims("s2"))
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestEncadrementRequestAfterRefusal(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()

	res, err := f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tA"}, studentClaims("s1"))
	require.NoError(t, err)

	_, err = f.svc.Refuse(ctx, res.Encadrement.ID, dto.RefuseEncadrementRequest{Comment: "  "}, teacherClaims("tA"))
	require.ErrorIs(t, err, appErrors.ErrMissingRequiredComment)

	_, err = f.svc.Refuse(ctx, res.Encadrement.ID, dto.RefuseEncadrementRequest{Comment: "sujet hors domaine"}, teacherClaims("tB"))
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	refused, err := f.svc.Refuse(ctx, res.Encadrement.ID, dto.RefuseEncadrementRequest{Comment: "sujet hors domaine"}, teacherClaims("tA"))
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusRefused, refused.Encadrement.Status)
	assert.Equal(t, "sujet hors domaine", *refused.Encadrement.Comment)

	_, err = f.svc.Accept(ctx, res.Encadrement.ID, teacherClaims("tA"))
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	again, err := f.svc.Request(ctx, dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tB"}, studentClaims("s1"))
	require.NoError(t, err)
	assert.NotEqual(t, res.Encadrement.ID, again.Encadrement.ID)
}

func TestEncadrementValidateRequiresAcceptedAndHead(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.put(seeded("e1", "s1", "tA", models.EncadrementStatusRequested))

	_, err := f.svc.Validate(ctx, "e1", teacherClaims("tA"))
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Validate(ctx, "e1", headClaims())
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	_, err = f.svc.Validate(ctx, "missing", headClaims())
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEncadrementHeadSupervisorValidatesOnAccept(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.put(seeded("e1", "s1", "head", models.EncadrementStatusRequested))

	res, err := f.svc.Accept(ctx, "e1", headClaims())
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusValidated, res.Encadrement.Status)
	assert.NotNil(t, res.Encadrement.AcceptedAt)
	assert.NotNil(t, res.Encadrement.ValidatedAt)
	assert.Equal(t, 1, f.store.load("head", testYear))
	assert.Equal(t, []models.NotificationType{models.NotificationEncadrementValidated}, f.notes.types())
}

func TestEncadrementHeadAtQuotaStillAccepts(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.setLoad("head", testYear, 2)
	f.store.setLoad("tA", testYear, 2)
	f.store.put(
		seeded("e1", "s1", "head", models.EncadrementStatusRequested),
		seeded("e2", "s2", "tA", models.EncadrementStatusRequested),
	)

	res, err := f.svc.Accept(ctx, "e1", headClaims())
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusAccepted, res.Encadrement.Status)
	assert.NotNil(t, res.Encadrement.AcceptedAt)
	assert.Nil(t, res.Encadrement.ValidatedAt)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "quota of 2")
	assert.Equal(t, 2, f.store.load("head", testYear))
	assert.Equal(t, models.EncadrementStatusAccepted, f.store.get("e1").Status)

	peer, err := f.svc.Accept(ctx, "e2", teacherClaims("tA"))
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusAccepted, peer.Encadrement.Status)

	_, err = f.svc.Validate(ctx, "e1", headClaims())
	require.ErrorIs(t, err, appErrors.ErrQuotaExceeded)
	assert.Equal(t, 2, f.store.load("head", testYear))
	assert.Equal(t, []models.NotificationType{
		models.NotificationEncadrementAccepted,
		models.NotificationEncadrementAccepted,
	}, f.notes.types())
}

func TestEncadrementHeadOfSupervisorDepartmentDecides(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.people.teachers["tM"] = &models.Teacher{ID: "tM", FullName: "Dr M", Grade: "MCB", DepartmentID: "math"}
	f.people.teachers["tN"] = &models.Teacher{ID: "tN", FullName: "Dr N", Grade: "MCB", DepartmentID: "math"}
	f.store.put(
		seeded("e1", "s1", "tM", models.EncadrementStatusAccepted),
		seeded("e2", "s2", "tM", models.EncadrementStatusAccepted),
	)
	mathHead := &models.JWTClaims{UserID: "hm", Role: models.RoleHead, DepartmentID: "math"}
	reassign := dto.ReassignEncadrementRequest{NewSupervisorID: "tN", Motif: "co-encadrement"}

	_, err := f.svc.Validate(ctx, "e1", headClaims())
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Reassign(ctx, "e2", reassign, headClaims())
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	validated, err := f.svc.Validate(ctx, "e1", mathHead)
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusValidated, validated.Encadrement.Status)
	assert.Equal(t, 1, f.store.load("tM", testYear))

	moved, err := f.svc.Reassign(ctx, "e2", reassign, mathHead)
	require.NoError(t, err)
	require.NotNil(t, moved.Replacement)
	assert.True(t, moved.Replacement.SupervisedBy("tN"))
}

func TestEncadrementReassign(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.put(seeded("e1", "s1", "tA", models.EncadrementStatusAccepted))

	_, err := f.svc.Reassign(ctx, "e1", dto.ReassignEncadrementRequest{NewSupervisorID: "tB"}, headClaims())
	require.ErrorIs(t, err, appErrors.ErrMissingRequiredComment)

	res, err := f.svc.Reassign(ctx, "e1", dto.ReassignEncadrementRequest{NewSupervisorID: "tB", Motif: "quota atteint"}, headClaims())
	require.NoError(t, err)
	assert.Equal(t, models.EncadrementStatusReassigned, res.Encadrement.Status)
	require.NotNil(t, res.Replacement)
	assert.Equal(t, models.EncadrementStatusRequested, res.Replacement.Status)
	assert.True(t, res.Replacement.SupervisedBy("tB"))
	assert.Equal(t, "e1", *res.Replacement.PreviousEncadrementID)

	active := f.store.activeFor("s1", testYear)
	require.Len(t, active, 1)
	assert.Equal(t, res.Replacement.ID, active[0].ID)
}

func TestEncadrementReassignIsAtomic(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.put(seeded("e1", "s1", "tA", models.EncadrementStatusAccepted))
	f.store.setLoad("tB", testYear, 2)

	_, err := f.svc.Reassign(ctx, "e1", dto.ReassignEncadrementRequest{NewSupervisorID: "tB", Motif: "quota atteint"}, headClaims())
	require.ErrorIs(t, err, appErrors.ErrQuotaExceeded)

	original := f.store.get("e1")
	assert.Equal(t, models.EncadrementStatusAccepted, original.Status)
	assert.Nil(t, original.ClosedAt)
	assert.Len(t, f.store.all(), 1)
	assert.Empty(t, f.notes.types())
}

func TestEncadrementReassignFromRequestedFails(t *testing.T) {
	f := newEncadrementFixture(t)
	f.store.put(seeded("e1", "s1", "tA", models.EncadrementStatusRequested))

	_, err := f.svc.Reassign(context.Background(), "e1", dto.ReassignEncadrementRequest{NewSupervisorID: "tB", Motif: "conflit"}, headClaims())
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
	assert.Equal(t, models.EncadrementStatusRequested, f.store.get("e1").Status)
	assert.Len(t, f.store.all(), 1)
}

func TestEncadrementSupervisorlessRecordAcceptsNoTransition(t *testing.T) {
	f := newEncadrementFixture(t)
	f.store.put(models.Encadrement{ID: "e1", StudentID: "s1", AcademicYear: testYear, Status: models.EncadrementStatusRequested, Reactivated: true})

	_, err := f.svc.Accept(context.Background(), "e1", teacherClaims("tA"))
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	res, err := f.svc.Request(context.Background(), dto.CreateEncadrementRequest{StudentID: "s1", SupervisorID: "tA"}, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, "e1", res.Encadrement.ID)
	assert.True(t, res.Encadrement.SupervisedBy("tA"))
}

func TestEncadrementConcurrentValidationsRespectQuota(t *testing.T) {
	f := newEncadrementFixture(t)
	ctx := context.Background()
	f.store.setLoad("tA", testYear, 1)
	f.store.put(
		seeded("e1", "s1", "tA", models.EncadrementStatusAccepted),
		seeded("e2", "s2", "tA", models.EncadrementStatusAccepted),
		seeded("e3", "s3", "tA", models.EncadrementStatusAccepted),
	)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for _, id := range []string{"e1", "e2", "e3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Validate(ctx, id, headClaims())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if appErrors.ErrQuotaExceeded.Is(err) {
				rejected++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, rejected)
	assert.Equal(t, 2, f.store.load("tA", testYear))
}

func TestEncadrementListScopesByRole(t *testing.T) {
	f := newEncadrementFixture(t)
	f.store.put(
		seeded("e1", "s1", "tA", models.EncadrementStatusRequested),
		seeded("e2", "s2", "tB", models.EncadrementStatusRequested),
	)

	items, page, err := f.svc.List(context.Background(), dto.EncadrementQuery{}, studentClaims("s2"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "e2", items[0].ID)
	assert.Equal(t, 20, page.PageSize)

	items, _, err = f.svc.List(context.Background(), dto.EncadrementQuery{StudentID: "s2"}, teacherClaims("tA"))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, _, err = f.svc.List(context.Background(), dto.EncadrementQuery{Status: "PENDING"}, headClaims())
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Get(context.Background(), "e1", studentClaims("s2"))
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
