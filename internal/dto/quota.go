package dto

import (
	"time"

	"github.com/noah-isme/memoire-api/internal/models"
)

// QuotaPolicyRequest replaces the quota policy of a department for one year.
type QuotaPolicyRequest struct {
	AcademicYear string           `json:"academic_year"`
	Mode         models.QuotaMode `json:"mode" validate:"required,oneof=PER_GRADE FIXED UNLIMITED"`
	GradeLimits  map[string]int   `json:"grade_limits,omitempty"`
	FixedLimit   *int             `json:"fixed_limit,omitempty" validate:"omitempty,min=0"`
}

// QuotaPolicyResponse is the decoded policy.
type QuotaPolicyResponse struct {
	DepartmentID string           `json:"department_id"`
	AcademicYear string           `json:"academic_year"`
	Mode         models.QuotaMode `json:"mode"`
	GradeLimits  map[string]int   `json:"grade_limits,omitempty"`
	FixedLimit   *int             `json:"fixed_limit,omitempty"`
	UpdatedBy    *string          `json:"updated_by,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ResolvedQuota is the cap applying to one teacher.
type ResolvedQuota struct {
	TeacherID    string             `json:"teacher_id"`
	AcademicYear string             `json:"academic_year"`
	Quota        models.Quota       `json:"quota"`
	Source       models.QuotaSource `json:"source"`
	Warning      string             `json:"warning,omitempty"`
}

// SupervisorLoadResponse reports how much of a teacher's quota is used.
type SupervisorLoadResponse struct {
	TeacherID    string             `json:"teacher_id"`
	AcademicYear string             `json:"academic_year"`
	Grade        string             `json:"grade"`
	Quota        models.Quota       `json:"quota"`
	Source       models.QuotaSource `json:"source"`
	Consumed     int                `json:"consumed"`
	Remaining    *int               `json:"remaining"`
	Warnings     []string           `json:"warnings,omitempty"`
}
