package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

// ErrSnapshotMissing is returned by Purge when the year was never archived.
var ErrSnapshotMissing = errors.New("no archive snapshot for year")

const snapshotColumns = `id, academic_year, encadrement_count, student_count, teacher_count, defense_count, average_grade,
comment, transition_id, created_by, created_at`

const archivableStatusList = `('VALIDATED_BY_HEAD', 'REFUSED_BY_SUPERVISOR', 'REASSIGNED')`

// ArchiveRepository stores immutable year snapshots and purges live rows.
type ArchiveRepository struct {
	db *sqlx.DB
}

// NewArchiveRepository constructs the repository.
func NewArchiveRepository(db *sqlx.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// SnapshotParams describes a snapshot to create.
type SnapshotParams struct {
	AcademicYear string
	Comment      *string
	TransitionID *string
	CreatedBy    string
}

// FindByYear returns the snapshot of a year without its records, or nil.
func (r *ArchiveRepository) FindByYear(ctx context.Context, year string) (*models.ArchiveSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM archive_snapshots WHERE academic_year = $1`
	var snapshot models.ArchiveSnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return &snapshot, nil
}

// Records returns the archived supervision lines of a snapshot.
func (r *ArchiveRepository) Records(ctx context.Context, snapshotID string) ([]models.ArchivedEncadrement, error) {
	const query = `SELECT id, snapshot_id, encadrement_id, student_id, student_name, supervisor_id, supervisor_name, major,
theme_title, final_status, defense_status, grade
FROM archive_snapshot_records WHERE snapshot_id = $1 ORDER BY student_name ASC, encadrement_id ASC`
	var records []models.ArchivedEncadrement
	if err := r.db.SelectContext(ctx, &records, query, snapshotID); err != nil {
		return nil, fmt.Errorf("list snapshot records: %w", err)
	}
	return records, nil
}

// List returns every snapshot, newest year first.
func (r *ArchiveRepository) List(ctx context.Context) ([]models.ArchiveSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM archive_snapshots ORDER BY academic_year DESC`
	var snapshots []models.ArchiveSnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// CreateSnapshot archives the settled records of a year. When a snapshot already
// exists it is returned unchanged with created set to false.
func (r *ArchiveRepository) CreateSnapshot(ctx context.Context, params SnapshotParams) (snapshot *models.ArchiveSnapshot, created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "archive:"+params.AcademicYear); err != nil {
		return nil, false, fmt.Errorf("lock archive year: %w", err)
	}

	existing := models.ArchiveSnapshot{}
	err = tx.GetContext(ctx, &existing, `SELECT `+snapshotColumns+` FROM archive_snapshots WHERE academic_year = $1`, params.AcademicYear)
	switch {
	case err == nil:
		if err = tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit snapshot lookup: %w", err)
		}
		return &existing, false, nil
	case err != sql.ErrNoRows:
		return nil, false, fmt.Errorf("find snapshot: %w", err)
	}

	snapshot = &models.ArchiveSnapshot{
		ID:           uuid.NewString(),
		AcademicYear: params.AcademicYear,
		Comment:      params.Comment,
		TransitionID: params.TransitionID,
		CreatedBy:    params.CreatedBy,
		CreatedAt:    nowUTC(),
	}

	var counts struct {
		Encadrements int `db:"encadrement_count"`
		Students     int `db:"student_count"`
		Teachers     int `db:"teacher_count"`
	}
	countQuery := `SELECT COUNT(*) AS encadrement_count, COUNT(DISTINCT student_id) AS student_count,
COUNT(DISTINCT supervisor_id) AS teacher_count
FROM encadrements WHERE academic_year = $1 AND status IN ` + archivableStatusList
	if err = tx.GetContext(ctx, &counts, countQuery, params.AcademicYear); err != nil {
		return nil, false, fmt.Errorf("count archivable encadrements: %w", err)
	}
	snapshot.EncadrementCount = counts.Encadrements
	snapshot.StudentCount = counts.Students
	snapshot.TeacherCount = counts.Teachers

	var defenses struct {
		Count   int      `db:"defense_count"`
		Average *float64 `db:"average_grade"`
	}
	const defenseQuery = `SELECT COUNT(*) AS defense_count, ROUND(AVG(grade)::numeric, 2) AS average_grade
FROM defenses WHERE academic_year = $1`
	if err = tx.GetContext(ctx, &defenses, defenseQuery, params.AcademicYear); err != nil {
		return nil, false, fmt.Errorf("aggregate defenses: %w", err)
	}
	snapshot.DefenseCount = defenses.Count
	snapshot.AverageGrade = defenses.Average

	insertQuery := `INSERT INTO archive_snapshots (` + snapshotColumns + `)
VALUES (:id, :academic_year, :encadrement_count, :student_count, :teacher_count, :defense_count, :average_grade,
:comment, :transition_id, :created_by, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, snapshot); err != nil {
		return nil, false, fmt.Errorf("insert snapshot: %w", err)
	}

	recordsQuery := `INSERT INTO archive_snapshot_records (id, snapshot_id, encadrement_id, student_id, student_name,
supervisor_id, supervisor_name, major, theme_title, final_status, defense_status, grade)
SELECT md5($1 || e.id), $1, e.id, e.student_id, s.full_name, e.supervisor_id, t.full_name, s.major, th.title,
       e.status, d.status, d.grade
FROM encadrements e
JOIN students s ON s.id = e.student_id
LEFT JOIN teachers t ON t.id = e.supervisor_id
LEFT JOIN themes th ON th.student_id = e.student_id AND th.academic_year = e.academic_year
LEFT JOIN defenses d ON d.student_id = e.student_id AND d.academic_year = e.academic_year
WHERE e.academic_year = $2 AND e.status IN ` + archivableStatusList
	if _, err = tx.ExecContext(ctx, recordsQuery, snapshot.ID, params.AcademicYear); err != nil {
		return nil, false, fmt.Errorf("insert snapshot records: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Purge deletes live defenses, themes and supervision records of an archived year.
func (r *ArchiveRepository) Purge(ctx context.Context, year string) (result *models.PurgeResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purge transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM archive_snapshots WHERE academic_year = $1 FOR SHARE)`, year); err != nil {
		return nil, fmt.Errorf("check snapshot: %w", err)
	}
	if !exists {
		err = ErrSnapshotMissing
		return nil, err
	}

	result = &models.PurgeResult{AcademicYear: year}
	steps := []struct {
		query string
		dest  *int64
	}{
		{`DELETE FROM defenses WHERE academic_year = $1`, &result.Defenses},
		{`DELETE FROM themes WHERE academic_year = $1`, &result.Themes},
		{`DELETE FROM encadrements WHERE academic_year = $1`, &result.Encadrements},
	}
	for _, step := range steps {
		res, execErr := tx.ExecContext(ctx, step.query, year)
		if execErr != nil {
			err = fmt.Errorf("purge %s: %w", year, execErr)
			return nil, err
		}
		if *step.dest, err = res.RowsAffected(); err != nil {
			return nil, fmt.Errorf("purge rows: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return result, nil
}
