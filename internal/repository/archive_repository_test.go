package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArchiveRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func snapshotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "academic_year", "encadrement_count", "student_count", "teacher_count",
		"defense_count", "average_grade", "comment", "transition_id", "created_by", "created_at"})
}

func TestArchiveRepositoryFindByYearMissing(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM archive_snapshots WHERE academic_year = $1")).
		WithArgs("2022-2023").
		WillReturnRows(snapshotRows())

	snapshot, err := repo.FindByYear(context.Background(), "2022-2023")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryCreateSnapshotReturnsExisting(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	created := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("archive:2023-2024").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM archive_snapshots WHERE academic_year = $1")).
		WithArgs("2023-2024").
		WillReturnRows(snapshotRows().AddRow("snap-1", "2023-2024", 12, 12, 4, 10, 13.5, nil, nil, "admin", created))
	mock.ExpectCommit()

	snapshot, wasCreated, err := repo.CreateSnapshot(context.Background(), SnapshotParams{AcademicYear: "2023-2024", CreatedBy: "admin"})
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "snap-1", snapshot.ID)
	assert.Equal(t, 12, snapshot.EncadrementCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryCreateSnapshot(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
		WithArgs("archive:2023-2024").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM archive_snapshots WHERE academic_year = $1")).
		WithArgs("2023-2024").
		WillReturnRows(snapshotRows())
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT supervisor_id) AS teacher_count")).
		WithArgs("2023-2024").
		WillReturnRows(sqlmock.NewRows([]string{"encadrement_count", "student_count", "teacher_count"}).AddRow(4, 3, 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM defenses WHERE academic_year = $1")).
		WithArgs("2023-2024").
		WillReturnRows(sqlmock.NewRows([]string{"defense_count", "average_grade"}).AddRow(2, 14.25))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO archive_snapshots")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO archive_snapshot_records")).
		WithArgs(sqlmock.AnyArg(), "2023-2024").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	comment := "clôture"
	snapshot, wasCreated, err := repo.CreateSnapshot(context.Background(), SnapshotParams{
		AcademicYear: "2023-2024",
		Comment:      &comment,
		CreatedBy:    "admin",
	})
	require.NoError(t, err)
	assert.True(t, wasCreated)
	assert.NotEmpty(t, snapshot.ID)
	assert.Equal(t, 4, snapshot.EncadrementCount)
	assert.Equal(t, 3, snapshot.StudentCount)
	assert.Equal(t, 2, snapshot.TeacherCount)
	assert.Equal(t, 2, snapshot.DefenseCount)
	require.NotNil(t, snapshot.AverageGrade)
	assert.InDelta(t, 14.25, *snapshot.AverageGrade, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryCreateSnapshotRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM archive_snapshots WHERE academic_year = $1")).
		WillReturnRows(snapshotRows())
	mock.ExpectQuery(regexp.QuoteMeta("AS teacher_count")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, _, err := repo.CreateSnapshot(context.Background(), SnapshotParams{AcademicYear: "2023-2024"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryPurgeWithoutSnapshot(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM archive_snapshots")).
		WithArgs("2023-2024").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.Purge(context.Background(), "2023-2024")
	require.ErrorIs(t, err, ErrSnapshotMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryPurge(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()
	repo := NewArchiveRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM archive_snapshots")).
		WithArgs("2023-2024").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM defenses WHERE academic_year = $1")).
		WithArgs("2023-2024").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM themes WHERE academic_year = $1")).
		WithArgs("2023-2024").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM encadrements WHERE academic_year = $1")).
		WithArgs("2023-2024").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	result, err := repo.Purge(context.Background(), "2023-2024")
	require.NoError(t, err)
	assert.Equal(t, "2023-2024", result.AcademicYear)
	assert.Equal(t, int64(2), result.Defenses)
	assert.Equal(t, int64(3), result.Themes)
	assert.Equal(t, int64(5), result.Encadrements)
	assert.NoError(t, mock.ExpectationsWereMet())
}
