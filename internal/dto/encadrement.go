package dto

import "github.com/noah-isme/memoire-api/internal/models"

// CreateEncadrementRequest is submitted by a student choosing a supervisor.
type CreateEncadrementRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	SupervisorID string `json:"supervisor_id" validate:"required"`
	AcademicYear string `json:"academic_year"`
}

// RefuseEncadrementRequest carries the mandatory refusal comment.
type RefuseEncadrementRequest struct {
	Comment string `json:"comment"`
}

// ReassignEncadrementRequest moves an accepted supervision to another teacher.
type ReassignEncadrementRequest struct {
	NewSupervisorID string `json:"new_supervisor_id" validate:"required"`
	Motif           string `json:"motif"`
}

// EncadrementQuery captures list filters from the query string.
type EncadrementQuery struct {
	AcademicYear string
	Status       string
	StudentID    string
	SupervisorID string
	Page         int
	PageSize     int
}

// EncadrementResult wraps a transition outcome. Replacement is set by reassignments.
type EncadrementResult struct {
	Encadrement *models.Encadrement `json:"encadrement"`
	Replacement *models.Encadrement `json:"replacement,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}
