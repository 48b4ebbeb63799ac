package models

import "time"

// ArchiveSnapshot is the immutable rollup of one closed academic year.
type ArchiveSnapshot struct {
	ID               string                `db:"id" json:"id"`
	AcademicYear     string                `db:"academic_year" json:"academic_year"`
	EncadrementCount int                   `db:"encadrement_count" json:"encadrement_count"`
	StudentCount     int                   `db:"student_count" json:"student_count"`
	TeacherCount     int                   `db:"teacher_count" json:"teacher_count"`
	DefenseCount     int                   `db:"defense_count" json:"defense_count"`
	AverageGrade     *float64              `db:"average_grade" json:"average_grade,omitempty"`
	Comment          *string               `db:"comment" json:"comment,omitempty"`
	TransitionID     *string               `db:"transition_id" json:"transition_id,omitempty"`
	CreatedBy        string                `db:"created_by" json:"created_by"`
	CreatedAt        time.Time             `db:"created_at" json:"created_at"`
	Records          []ArchivedEncadrement `db:"-" json:"records,omitempty"`
}

// ArchivedEncadrement is one denormalised supervision line of a snapshot.
type ArchivedEncadrement struct {
	ID             string   `db:"id" json:"id"`
	SnapshotID     string   `db:"snapshot_id" json:"snapshot_id"`
	EncadrementID  string   `db:"encadrement_id" json:"encadrement_id"`
	StudentID      string   `db:"student_id" json:"student_id"`
	StudentName    string   `db:"student_name" json:"student_name"`
	SupervisorID   *string  `db:"supervisor_id" json:"supervisor_id,omitempty"`
	SupervisorName *string  `db:"supervisor_name" json:"supervisor_name,omitempty"`
	Major          string   `db:"major" json:"major"`
	ThemeTitle     *string  `db:"theme_title" json:"theme_title,omitempty"`
	FinalStatus    string   `db:"final_status" json:"final_status"`
	DefenseStatus  *string  `db:"defense_status" json:"defense_status,omitempty"`
	Grade          *float64 `db:"grade" json:"grade,omitempty"`
}

// PurgeResult counts live rows removed for a year.
type PurgeResult struct {
	AcademicYear string `json:"academic_year"`
	Encadrements int64  `json:"encadrements"`
	Themes       int64  `json:"themes"`
	Defenses     int64  `json:"defenses"`
}
