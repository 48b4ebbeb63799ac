package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TransitionStatus enumerates academic year transition states.
type TransitionStatus string

const (
	TransitionStatusProposed   TransitionStatus = "PROPOSED"
	TransitionStatusValidated  TransitionStatus = "VALIDATED"
	TransitionStatusRejected   TransitionStatus = "REJECTED"
	TransitionStatusInProgress TransitionStatus = "IN_PROGRESS"
	TransitionStatusCompleted  TransitionStatus = "COMPLETED"
)

// PendingTransitionStatuses block a new proposal.
var PendingTransitionStatuses = []TransitionStatus{
	TransitionStatusProposed,
	TransitionStatusValidated,
	TransitionStatusInProgress,
}

// Pending reports whether s is non-terminal.
func (s TransitionStatus) Pending() bool {
	for _, status := range PendingTransitionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Executable reports whether Execute may start or resume from s.
func (s TransitionStatus) Executable() bool {
	return s == TransitionStatusValidated || s == TransitionStatusInProgress
}

// DetectionType records how a transition was proposed.
type DetectionType string

const (
	DetectionTypeAuto   DetectionType = "AUTO"
	DetectionTypeManual DetectionType = "MANUAL"
)

// AcademicTransition is the rollover from one academic year to the next.
type AcademicTransition struct {
	ID            string             `db:"id" json:"id"`
	PreviousYear  string             `db:"previous_year" json:"previous_year"`
	NewYear       string             `db:"new_year" json:"new_year"`
	DetectionType DetectionType      `db:"detection_type" json:"detection_type"`
	Status        TransitionStatus   `db:"status" json:"status"`
	ArchiveAlumni bool               `db:"archive_alumni" json:"archive_alumni"`
	NotifyUsers   bool               `db:"notify_users" json:"notify_users"`
	Comment       *string            `db:"comment" json:"comment,omitempty"`
	ProposedBy    string             `db:"proposed_by" json:"proposed_by"`
	ValidatedBy   *string            `db:"validated_by" json:"validated_by,omitempty"`
	RejectedBy    *string            `db:"rejected_by" json:"rejected_by,omitempty"`
	ProposedAt    time.Time          `db:"proposed_at" json:"proposed_at"`
	ValidatedAt   *time.Time         `db:"validated_at" json:"validated_at,omitempty"`
	RejectedAt    *time.Time         `db:"rejected_at" json:"rejected_at,omitempty"`
	StartedAt     *time.Time         `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	LastReport    types.NullJSONText `db:"last_report" json:"last_report,omitempty"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// TransitionStep names one Execute sub-step, in execution order.
type TransitionStep string

const (
	TransitionStepArchive       TransitionStep = "ARCHIVE_PREVIOUS_YEAR"
	TransitionStepPromoteAlumni TransitionStep = "PROMOTE_ALUMNI"
	TransitionStepResetQuotas   TransitionStep = "RESET_SUPERVISOR_QUOTAS"
	TransitionStepAdvanceYear   TransitionStep = "ADVANCE_CURRENT_YEAR"
	TransitionStepNotify        TransitionStep = "NOTIFY_USERS"
)

// StepStatus is the outcome of one sub-step.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// ReportStatus summarises an Execute run.
type ReportStatus string

const (
	ReportStatusCompleted ReportStatus = "COMPLETED"
	ReportStatusPartial   ReportStatus = "PARTIAL"
)

// TransitionStepResult describes one sub-step of an Execute run.
type TransitionStepResult struct {
	Step       TransitionStep `json:"step"`
	Status     StepStatus     `json:"status"`
	Count      int            `json:"count"`
	Detail     string         `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// TransitionReport is returned by Execute and persisted on the transition.
type TransitionReport struct {
	TransitionID         string                 `json:"transition_id"`
	PreviousYear         string                 `json:"previous_year"`
	NewYear              string                 `json:"new_year"`
	Status               ReportStatus           `json:"status"`
	SnapshotID           string                 `json:"snapshot_id,omitempty"`
	SnapshotCreated      bool                   `json:"snapshot_created"`
	ArchivedEncadrements int                    `json:"archived_encadrements"`
	PromotedAlumni       int                    `json:"promoted_alumni"`
	ResetQuotas          int                    `json:"reset_quotas"`
	Steps                []TransitionStepResult `json:"steps"`
	GeneratedAt          time.Time              `json:"generated_at"`
}

// TransitionPreview is the read-only impact estimate shown before confirmation.
type TransitionPreview struct {
	TransitionID          string `json:"transition_id"`
	PreviousYear          string `json:"previous_year"`
	NewYear               string `json:"new_year"`
	EncadrementsToArchive int    `json:"encadrements_to_archive"`
	StudentsToPromote     int    `json:"students_to_promote"`
	TeacherQuotasToReset  int    `json:"teacher_quotas_to_reset"`
	UnsettledEncadrements int    `json:"unsettled_encadrements"`
	SnapshotExists        bool   `json:"snapshot_exists"`
}
