package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// QuotaMode selects how a department caps supervisor load.
type QuotaMode string

const (
	QuotaModePerGrade  QuotaMode = "PER_GRADE"
	QuotaModeFixed     QuotaMode = "FIXED"
	QuotaModeUnlimited QuotaMode = "UNLIMITED"
)

// QuotaSource records where a resolved quota came from.
type QuotaSource string

const (
	QuotaSourceOverride     QuotaSource = "TEACHER_OVERRIDE"
	QuotaSourcePerGrade     QuotaSource = "PER_GRADE"
	QuotaSourceFixed        QuotaSource = "FIXED"
	QuotaSourceUnlimited    QuotaSource = "UNLIMITED"
	QuotaSourceUnconfigured QuotaSource = "UNCONFIGURED"
)

// Quota is a maximum number of validated supervisions, possibly unbounded.
type Quota struct {
	Limit     int
	Unlimited bool
}

// LimitedQuota returns a bounded quota.
func LimitedQuota(limit int) Quota {
	return Quota{Limit: limit}
}

// UnlimitedQuota returns a quota without cap.
func UnlimitedQuota() Quota {
	return Quota{Unlimited: true}
}

// Allows reports whether one more validated supervision fits on top of consumed.
func (q Quota) Allows(consumed int) bool {
	return q.Unlimited || consumed < q.Limit
}

// Remaining returns free slots, or -1 when unlimited.
func (q Quota) Remaining(consumed int) int {
	if q.Unlimited {
		return -1
	}
	if consumed >= q.Limit {
		return 0
	}
	return q.Limit - consumed
}

func (q Quota) String() string {
	if q.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(q.Limit)
}

// MarshalJSON renders {"limit":n,"unlimited":false} or {"limit":null,"unlimited":true}.
func (q Quota) MarshalJSON() ([]byte, error) {
	var limit *int
	if !q.Unlimited {
		l := q.Limit
		limit = &l
	}
	return json.Marshal(struct {
		Limit     *int `json:"limit"`
		Unlimited bool `json:"unlimited"`
	}{limit, q.Unlimited})
}

// QuotaRule resolves the cap for a teacher grade under one policy mode.
type QuotaRule interface {
	Mode() QuotaMode
	QuotaFor(grade string) (Quota, QuotaSource)
}

type perGradeRule map[string]int

func (r perGradeRule) Mode() QuotaMode { return QuotaModePerGrade }

// Grades missing from the table are uncapped.
func (r perGradeRule) QuotaFor(grade string) (Quota, QuotaSource) {
	if limit, ok := r[grade]; ok {
		return LimitedQuota(limit), QuotaSourcePerGrade
	}
	return UnlimitedQuota(), QuotaSourcePerGrade
}

type fixedRule int

func (r fixedRule) Mode() QuotaMode { return QuotaModeFixed }

func (r fixedRule) QuotaFor(string) (Quota, QuotaSource) {
	return LimitedQuota(int(r)), QuotaSourceFixed
}

type unlimitedRule struct{}

func (unlimitedRule) Mode() QuotaMode { return QuotaModeUnlimited }

func (unlimitedRule) QuotaFor(string) (Quota, QuotaSource) {
	return UnlimitedQuota(), QuotaSourceUnlimited
}

// QuotaPolicy is the persisted quota configuration of a department for a year.
// Only the columns of the active mode are populated.
type QuotaPolicy struct {
	DepartmentID string             `db:"department_id" json:"department_id"`
	AcademicYear string             `db:"academic_year" json:"academic_year"`
	Mode         QuotaMode          `db:"mode" json:"mode"`
	GradeLimits  types.NullJSONText `db:"grade_limits" json:"-"`
	FixedLimit   *int               `db:"fixed_limit" json:"fixed_limit,omitempty"`
	UpdatedBy    *string            `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

// NewPerGradePolicy builds a per-grade policy.
func NewPerGradePolicy(departmentID, year string, limits map[string]int) (*QuotaPolicy, error) {
	if len(limits) == 0 {
		return nil, fmt.Errorf("per-grade policy needs at least one grade")
	}
	for grade, limit := range limits {
		if grade == "" {
			return nil, fmt.Errorf("grade name must not be empty")
		}
		if limit < 0 {
			return nil, fmt.Errorf("limit for grade %s must not be negative", grade)
		}
	}
	raw, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("encode grade limits: %w", err)
	}
	return &QuotaPolicy{
		DepartmentID: departmentID,
		AcademicYear: year,
		Mode:         QuotaModePerGrade,
		GradeLimits:  types.NullJSONText{JSONText: raw, Valid: true},
	}, nil
}

// NewFixedPolicy builds a fixed policy.
func NewFixedPolicy(departmentID, year string, limit int) (*QuotaPolicy, error) {
	if limit < 0 {
		return nil, fmt.Errorf("fixed limit must not be negative")
	}
	return &QuotaPolicy{DepartmentID: departmentID, AcademicYear: year, Mode: QuotaModeFixed, FixedLimit: &limit}, nil
}

// NewUnlimitedPolicy builds an unlimited policy.
func NewUnlimitedPolicy(departmentID, year string) *QuotaPolicy {
	return &QuotaPolicy{DepartmentID: departmentID, AcademicYear: year, Mode: QuotaModeUnlimited}
}

// Limits decodes the per-grade table. It is empty for other modes.
func (p *QuotaPolicy) Limits() (map[string]int, error) {
	limits := map[string]int{}
	if p == nil || !p.GradeLimits.Valid || len(p.GradeLimits.JSONText) == 0 {
		return limits, nil
	}
	if err := p.GradeLimits.Unmarshal(&limits); err != nil {
		return nil, fmt.Errorf("decode grade limits: %w", err)
	}
	return limits, nil
}

// Rule turns the stored row into its mode-specific rule.
func (p *QuotaPolicy) Rule() (QuotaRule, error) {
	switch p.Mode {
	case QuotaModePerGrade:
		limits, err := p.Limits()
		if err != nil {
			return nil, err
		}
		return perGradeRule(limits), nil
	case QuotaModeFixed:
		if p.FixedLimit == nil {
			return nil, fmt.Errorf("fixed policy for %s/%s has no limit", p.DepartmentID, p.AcademicYear)
		}
		return fixedRule(*p.FixedLimit), nil
	case QuotaModeUnlimited:
		return unlimitedRule{}, nil
	default:
		return nil, fmt.Errorf("unknown quota mode %q", p.Mode)
	}
}
