package dto

import "github.com/noah-isme/memoire-api/internal/models"

// ReactivateStudentRequest reopens supervision for a student who did not defend.
type ReactivateStudentRequest struct {
	KeepTheme      bool   `json:"keep_theme"`
	KeepSupervisor bool   `json:"keep_supervisor"`
	Comment        string `json:"comment"`
}

// ReactivationResult describes the record created in the current year.
type ReactivationResult struct {
	Encadrement          *models.Encadrement `json:"encadrement"`
	Theme                *models.Theme       `json:"theme,omitempty"`
	SupervisorKept       bool                `json:"supervisor_kept"`
	SupervisorDowngraded bool                `json:"supervisor_downgraded"`
	Warnings             []string            `json:"warnings,omitempty"`
}
