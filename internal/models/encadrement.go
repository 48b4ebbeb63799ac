package models

import "time"

// EncadrementStatus enumerates supervision lifecycle states.
type EncadrementStatus string

const (
	EncadrementStatusRequested  EncadrementStatus = "REQUESTED"
	EncadrementStatusAccepted   EncadrementStatus = "ACCEPTED_BY_SUPERVISOR"
	EncadrementStatusValidated  EncadrementStatus = "VALIDATED_BY_HEAD"
	EncadrementStatusRefused    EncadrementStatus = "REFUSED_BY_SUPERVISOR"
	EncadrementStatusReassigned EncadrementStatus = "REASSIGNED"
)

// ActiveEncadrementStatuses block a new request for the same student and year.
var ActiveEncadrementStatuses = []EncadrementStatus{
	EncadrementStatusRequested,
	EncadrementStatusAccepted,
	EncadrementStatusValidated,
}

// ArchivableEncadrementStatuses are the settled states copied into a snapshot.
var ArchivableEncadrementStatuses = []EncadrementStatus{
	EncadrementStatusValidated,
	EncadrementStatusRefused,
	EncadrementStatusReassigned,
}

var encadrementTransitions = map[EncadrementStatus][]EncadrementStatus{
	// Requested -> Validated is the head-supervisor shortcut.
	EncadrementStatusRequested: {EncadrementStatusAccepted, EncadrementStatusRefused, EncadrementStatusValidated},
	EncadrementStatusAccepted:  {EncadrementStatusValidated, EncadrementStatusReassigned},
}

// Valid reports whether s is a known status.
func (s EncadrementStatus) Valid() bool {
	switch s {
	case EncadrementStatusRequested, EncadrementStatusAccepted, EncadrementStatusValidated,
		EncadrementStatusRefused, EncadrementStatusReassigned:
		return true
	}
	return false
}

// Active reports whether s counts against the one-request-per-year rule.
func (s EncadrementStatus) Active() bool {
	for _, status := range ActiveEncadrementStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s EncadrementStatus) Terminal() bool {
	_, ok := encadrementTransitions[s]
	return !ok
}

// CanTransitionTo reports whether from -> to is a legal move.
func (s EncadrementStatus) CanTransitionTo(to EncadrementStatus) bool {
	for _, allowed := range encadrementTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Encadrement is one student to supervisor supervision record for one year.
type Encadrement struct {
	ID                    string            `db:"id" json:"id"`
	StudentID             string            `db:"student_id" json:"student_id"`
	SupervisorID          *string           `db:"supervisor_id" json:"supervisor_id,omitempty"`
	AcademicYear          string            `db:"academic_year" json:"academic_year"`
	Status                EncadrementStatus `db:"status" json:"status"`
	Comment               *string           `db:"comment" json:"comment,omitempty"`
	PreviousEncadrementID *string           `db:"previous_encadrement_id" json:"previous_encadrement_id,omitempty"`
	Reactivated           bool              `db:"reactivated" json:"reactivated"`
	RequestedBy           string            `db:"requested_by" json:"requested_by"`
	ValidatedBy           *string           `db:"validated_by" json:"validated_by,omitempty"`
	RequestedAt           time.Time         `db:"requested_at" json:"requested_at"`
	AcceptedAt            *time.Time        `db:"accepted_at" json:"accepted_at,omitempty"`
	ValidatedAt           *time.Time        `db:"validated_at" json:"validated_at,omitempty"`
	ClosedAt              *time.Time        `db:"closed_at" json:"closed_at,omitempty"`
	UpdatedAt             time.Time         `db:"updated_at" json:"updated_at"`
}

// SupervisedBy reports whether teacherID is the named supervisor.
func (e *Encadrement) SupervisedBy(teacherID string) bool {
	return e != nil && e.SupervisorID != nil && teacherID != "" && *e.SupervisorID == teacherID
}

// EncadrementFilter narrows encadrement listings.
type EncadrementFilter struct {
	AcademicYear string
	Status       EncadrementStatus
	StudentID    string
	SupervisorID string
	DepartmentID string
	Limit        int
	Offset       int
}

// SupervisorLoad counts validated supervisions held by a teacher in a year.
type SupervisorLoad struct {
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	Consumed     int       `db:"consumed" json:"consumed"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
