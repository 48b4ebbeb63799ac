package models

import "time"

// Teacher is a potential supervisor.
type Teacher struct {
	ID            string    `db:"id" json:"id"`
	FullName      string    `db:"full_name" json:"full_name"`
	Email         string    `db:"email" json:"email"`
	Grade         string    `db:"grade" json:"grade"`
	Specialty     *string   `db:"specialty" json:"specialty,omitempty"`
	QuotaOverride *int      `db:"quota_override" json:"quota_override,omitempty"`
	DepartmentID  string    `db:"department_id" json:"department_id"`
	IsHead        bool      `db:"is_head" json:"is_head"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Student is enrolled in a thesis track. Alumni are read-only.
type Student struct {
	ID           string     `db:"id" json:"id"`
	FullName     string     `db:"full_name" json:"full_name"`
	Email        string     `db:"email" json:"email"`
	Level        string     `db:"level" json:"level"`
	Major        string     `db:"major" json:"major"`
	DepartmentID string     `db:"department_id" json:"department_id"`
	Alumni       bool       `db:"alumni" json:"alumni"`
	AlumniAt     *time.Time `db:"alumni_at" json:"alumni_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DefenseStatus is the committee outcome recorded by the jury module.
type DefenseStatus string

const (
	DefenseStatusScheduled DefenseStatus = "SCHEDULED"
	DefenseStatusDefended  DefenseStatus = "DEFENDED"
	DefenseStatusAdjourned DefenseStatus = "ADJOURNED"
)

// Defense is the committee record for one student and year.
type Defense struct {
	ID           string        `db:"id" json:"id"`
	StudentID    string        `db:"student_id" json:"student_id"`
	AcademicYear string        `db:"academic_year" json:"academic_year"`
	Status       DefenseStatus `db:"status" json:"status"`
	Grade        *float64      `db:"grade" json:"grade,omitempty"`
	DefendedAt   *time.Time    `db:"defended_at" json:"defended_at,omitempty"`
}
