package models

import "time"

// ThemeStatus enumerates thesis topic states.
type ThemeStatus string

const (
	ThemeStatusProposed              ThemeStatus = "PROPOSED"
	ThemeStatusValidated             ThemeStatus = "VALIDATED"
	ThemeStatusValidatedWithReserves ThemeStatus = "VALIDATED_WITH_RESERVES"
	ThemeStatusRefused               ThemeStatus = "REFUSED"
)

// Approved reports whether the topic is accepted for committee purposes.
func (s ThemeStatus) Approved() bool {
	return s == ThemeStatusValidated || s == ThemeStatusValidatedWithReserves
}

// Decision reports whether s is a decision a supervisor can record on a proposal.
func (s ThemeStatus) Decision() bool {
	return s.Approved() || s == ThemeStatusRefused
}

// Theme is the thesis topic of a student for one academic year.
type Theme struct {
	ID                string      `db:"id" json:"id"`
	StudentID         string      `db:"student_id" json:"student_id"`
	AcademicYear      string      `db:"academic_year" json:"academic_year"`
	Title             string      `db:"title" json:"title"`
	Description       string      `db:"description" json:"description"`
	Status            ThemeStatus `db:"status" json:"status"`
	SupervisorComment *string     `db:"supervisor_comment" json:"supervisor_comment,omitempty"`
	ReopenMotif       *string     `db:"reopen_motif" json:"reopen_motif,omitempty"`
	DecidedBy         *string     `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt         *time.Time  `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}
