package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memoire-api/internal/models"
)

func newEncadrementRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func encadrementRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "supervisor_id", "academic_year", "status", "comment",
		"previous_encadrement_id", "reactivated", "requested_by", "validated_by", "requested_at", "accepted_at",
		"validated_at", "closed_at", "updated_at"})
}

func TestEncadrementRepositoryList(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND e.academic_year = $1 AND e.status = $2 AND s.department_id = $3 ORDER BY e.requested_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("2024-2025", "REQUESTED", "dept-info").
		WillReturnRows(encadrementRows().
			AddRow("e1", "s1", "t1", "2024-2025", "REQUESTED", nil, nil, false, "s1", nil, now, nil, nil, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM encadrements e JOIN students s")).
		WithArgs("2024-2025", "REQUESTED", "dept-info").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.EncadrementFilter{
		AcademicYear: "2024-2025",
		Status:       "REQUESTED",
		DepartmentID: "dept-info",
		Limit:        500,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.True(t, items[0].SupervisedBy("t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncadrementRepositoryLatestBeforeNone(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("e.academic_year < $2")).
		WithArgs("s1", "2024-2025").
		WillReturnRows(encadrementRows())

	item, err := repo.LatestBefore(context.Background(), "s1", "2024-2025")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestEncadrementRepositoryCountByStatuses(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("status IN ($2,$3)")).
		WithArgs("2024-2025", "REQUESTED", "ACCEPTED_BY_SUPERVISOR").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	total, err := repo.CountByStatuses(context.Background(), "2024-2025", []models.EncadrementStatus{
		models.EncadrementStatusRequested,
		models.EncadrementStatusAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	total, err = repo.CountByStatuses(context.Background(), "2024-2025", nil)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncadrementRepositoryResetSupervisorLoads(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO supervisor_loads")).
		WithArgs("2025-2026", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT teacher_id FROM supervisor_loads WHERE academic_year = \$1 ORDER BY teacher_id FOR UPDATE`).
		WithArgs("2025-2026").
		WillReturnRows(sqlmock.NewRows([]string{"teacher_id"}).AddRow("t1").AddRow("t2"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervisor_loads l")).
		WithArgs("2025-2026", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 9))
	mock.ExpectCommit()

	reset, err := repo.ResetSupervisorLoads(context.Background(), "2025-2026")
	require.NoError(t, err)
	assert.Equal(t, int64(9), reset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncadrementRepositoryResetSupervisorLoadsRollsBack(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO supervisor_loads")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := repo.ResetSupervisorLoads(context.Background(), "2025-2026")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock supervisor loads")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncadrementRepositoryConsumedLoad(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE((SELECT consumed FROM supervisor_loads")).
		WithArgs("t1", "2024-2025").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))

	consumed, err := repo.ConsumedLoad(context.Background(), "t1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 3, consumed)
}

func TestEncadrementRepositoryWithTxCommits(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("encadrement:s1:2024-2025").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("s1", "2024-2025").
		WillReturnRows(encadrementRows())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO supervisor_loads")).
		WithArgs("t1", "2024-2025", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT consumed FROM supervisor_loads WHERE teacher_id = $1 AND academic_year = $2 FOR UPDATE")).
		WithArgs("t1", "2024-2025").
		WillReturnRows(sqlmock.NewRows([]string{"consumed"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO encadrements")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervisor_loads SET consumed = consumed + 1")).
		WithArgs("t1", "2024-2025", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var consumed int
	err := repo.WithTx(context.Background(), func(tx SupervisionTx) error {
		if err := tx.LockStudentYear(context.Background(), "s1", "2024-2025"); err != nil {
			return err
		}
		active, err := tx.ActiveEncadrement(context.Background(), "s1", "2024-2025")
		if err != nil {
			return err
		}
		assert.Nil(t, active)
		if consumed, err = tx.LockSupervisorLoad(context.Background(), "t1", "2024-2025"); err != nil {
			return err
		}
		supervisor := "t1"
		if err := tx.InsertEncadrement(context.Background(), &models.Encadrement{
			ID:           "e1",
			StudentID:    "s1",
			SupervisorID: &supervisor,
			AcademicYear: "2024-2025",
			Status:       models.EncadrementStatusRequested,
			RequestedBy:  "s1",
		}); err != nil {
			return err
		}
		return tx.IncrementSupervisorLoad(context.Background(), "t1", "2024-2025")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, consumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncadrementRepositoryWithTxRollsBack(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	sentinel := errors.New("quota exceeded")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(SupervisionTx) error { return sentinel })
	require.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupervisionTxInsertThemeConflict(t *testing.T) {
	db, mock, cleanup := newEncadrementRepoMock(t)
	defer cleanup()
	repo := NewEncadrementRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM themes WHERE student_id = $1 AND academic_year = $2")).
		WithArgs("s1", "2023-2024").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "academic_year", "title", "description", "status",
			"supervisor_comment", "reopen_motif", "decided_by", "decided_at", "created_at", "updated_at"}).
			AddRow("th1", "s1", "2023-2024", "Sujet", "Desc", "VALIDATED", nil, nil, "t1", now, now, now))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (student_id, academic_year) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var inserted bool
	err := repo.WithTx(context.Background(), func(tx SupervisionTx) error {
		previous, err := tx.ThemeForStudent(context.Background(), "s1", "2023-2024")
		if err != nil {
			return err
		}
		require.NotNil(t, previous)
		next := *previous
		next.ID = "th2"
		next.AcademicYear = "2024-2025"
		inserted, err = tx.InsertTheme(context.Background(), &next)
		return err
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
