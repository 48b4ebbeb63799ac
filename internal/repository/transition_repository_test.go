package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memoire-api/internal/models"
)

func newTransitionRepoMock(t *testing.T) (*TransitionRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewTransitionRepository(sqlx.NewDb(db, "postgres")), mock, func() { db.Close() }
}

func transitionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "previous_year", "new_year", "detection_type", "status", "archive_alumni",
		"notify_users", "comment", "proposed_by", "validated_by", "rejected_by", "proposed_at", "validated_at",
		"rejected_at", "started_at", "completed_at", "last_report", "updated_at"})
}

func TestTransitionRepositoryCreateRejectsSecondPending(t *testing.T) {
	repo, mock, cleanup := newTransitionRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO academic_transitions")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &models.AcademicTransition{
		ID:           "tr-2",
		PreviousYear: "2024-2025",
		NewYear:      "2025-2026",
		Status:       models.TransitionStatusProposed,
		ProposedAt:   time.Now(),
	})
	require.ErrorIs(t, err, ErrPendingTransitionExists)
}

func TestTransitionRepositoryFindPending(t *testing.T) {
	repo, mock, cleanup := newTransitionRepoMock(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ('PROPOSED', 'VALIDATED', 'IN_PROGRESS')")).
		WillReturnRows(transitionRows().AddRow("tr-1", "2024-2025", "2025-2026", "AUTO", "VALIDATED", true, true,
			nil, "system", "admin", nil, now, now, nil, nil, nil, nil, now))

	pending, err := repo.FindPending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.TransitionStatusValidated, pending.Status)
	assert.False(t, pending.LastReport.Valid)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN")).
		WillReturnRows(transitionRows())
	pending, err = repo.FindPending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRepositoryUpdateStateDetectsRace(t *testing.T) {
	repo, mock, cleanup := newTransitionRepoMock(t)
	defer cleanup()

	transition := &models.AcademicTransition{ID: "tr-1", Status: models.TransitionStatusInProgress}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_transitions SET status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $14")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateState(context.Background(), transition, models.TransitionStatusValidated)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, transition.UpdatedAt.IsZero())

	ok, err = repo.UpdateState(context.Background(), transition, models.TransitionStatusValidated)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
