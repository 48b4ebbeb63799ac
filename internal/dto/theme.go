package dto

import "github.com/noah-isme/memoire-api/internal/models"

// ProposeThemeRequest submits a thesis topic.
type ProposeThemeRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	AcademicYear string `json:"academic_year"`
	Title        string `json:"title" validate:"required,max=255"`
	Description  string `json:"description"`
}

// ThemeDecisionRequest records a supervisor decision on a proposal.
type ThemeDecisionRequest struct {
	Decision models.ThemeStatus `json:"decision" validate:"required,oneof=VALIDATED VALIDATED_WITH_RESERVES REFUSED"`
	Comment  string             `json:"comment"`
}

// ReopenThemeRequest carries the mandatory reopen motif.
type ReopenThemeRequest struct {
	Motif string `json:"motif"`
}

// CommitteeEligibility tells whether a student may be scheduled for defense.
type CommitteeEligibility struct {
	StudentID         string                    `json:"student_id"`
	AcademicYear      string                    `json:"academic_year"`
	Eligible          bool                      `json:"eligible"`
	EncadrementStatus *models.EncadrementStatus `json:"encadrement_status,omitempty"`
	ThemeStatus       *models.ThemeStatus       `json:"theme_status,omitempty"`
	Reasons           []string                  `json:"reasons,omitempty"`
}
