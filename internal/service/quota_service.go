package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

type quotaPolicyStore interface {
	Get(ctx context.Context, departmentID, year string) (*models.QuotaPolicy, error)
	Replace(ctx context.Context, policy *models.QuotaPolicy) error
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type supervisorLoadReader interface {
	ConsumedLoad(ctx context.Context, teacherID, year string) (int, error)
}

type policyCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, keys ...string) error
}

// ResolveQuota computes the cap of teacher under policy. A teacher override
// always wins. A nil policy yields ErrConfigurationMissing.
func ResolveQuota(policy *models.QuotaPolicy, teacher *models.Teacher) (models.Quota, models.QuotaSource, error) {
	if teacher != nil && teacher.QuotaOverride != nil {
		return models.LimitedQuota(*teacher.QuotaOverride), models.QuotaSourceOverride, nil
	}
	if policy == nil {
		return models.UnlimitedQuota(), models.QuotaSourceUnconfigured, appErrors.ErrConfigurationMissing
	}
	rule, err := policy.Rule()
	if err != nil {
		return models.Quota{}, "", err
	}
	grade := ""
	if teacher != nil {
		grade = teacher.Grade
	}
	quota, source := rule.QuotaFor(grade)
	return quota, source, nil
}

// QuotaService resolves and configures supervisor quotas.
type QuotaService struct {
	policies  quotaPolicyStore
	teachers  teacherReader
	loads     supervisorLoadReader
	years     academicYearSource
	cache     policyCache
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewQuotaService constructs a QuotaService. cache and audit may be nil.
func NewQuotaService(policies quotaPolicyStore, teachers teacherReader, loads supervisorLoadReader, years academicYearSource, cache policyCache, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *QuotaService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaService{
		policies:  policies,
		teachers:  teachers,
		loads:     loads,
		years:     years,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cacheTTL:  15 * time.Minute,
	}
}

// Policy returns the decoded policy of a department.
func (s *QuotaService) Policy(ctx context.Context, departmentID, year string) (*dto.QuotaPolicyResponse, error) {
	year, err := resolveAcademicYear(ctx, s.years, year)
	if err != nil {
		return nil, err
	}
	policy, err := s.loadPolicy(ctx, departmentID, year)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, appErrors.Clone(appErrors.ErrConfigurationMissing, fmt.Sprintf("no quota policy configured for department %s in %s", departmentID, year))
	}
	return policyResponse(policy)
}

// SetPolicy replaces the policy of a department. Values belonging to the
// previous mode are discarded.
func (s *QuotaService) SetPolicy(ctx context.Context, departmentID string, req dto.QuotaPolicyRequest, actor *models.JWTClaims) (*dto.QuotaPolicyResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() && !actor.HeadOf(departmentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the department head can configure quotas")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota policy payload")
	}
	year, err := resolveAcademicYear(ctx, s.years, req.AcademicYear)
	if err != nil {
		return nil, err
	}

	var policy *models.QuotaPolicy
	switch req.Mode {
	case models.QuotaModePerGrade:
		policy, err = models.NewPerGradePolicy(departmentID, year, req.GradeLimits)
	case models.QuotaModeFixed:
		if req.FixedLimit == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "fixed_limit is required in FIXED mode")
		}
		policy, err = models.NewFixedPolicy(departmentID, year, *req.FixedLimit)
	default:
		policy = models.NewUnlimitedPolicy(departmentID, year)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	policy.UpdatedBy = userIDPtr(actor)

	previous, err := s.policies.Get(ctx, departmentID, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota policy")
	}
	if err := s.policies.Replace(ctx, policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save quota policy")
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, policyCacheKey(departmentID, year))
	}

	resp, err := policyResponse(policy)
	if err != nil {
		return nil, err
	}
	var before interface{}
	if previous != nil {
		before, _ = policyResponse(previous)
	}
	writeAudit(ctx, s.audit, s.logger, "quota-service", actor, models.AuditActionQuotaPolicyUpdate, "quota_policy", departmentID+":"+year, before, resp)
	s.logger.Info("quota policy replaced",
		zap.String("department_id", departmentID),
		zap.String("academic_year", year),
		zap.String("mode", string(policy.Mode)),
	)
	return resp, nil
}

// Resolve returns the quota of teacher for year. A department without policy
// resolves to unlimited with a warning.
func (s *QuotaService) Resolve(ctx context.Context, teacher *models.Teacher, year string) (dto.ResolvedQuota, error) {
	result := dto.ResolvedQuota{TeacherID: teacher.ID, AcademicYear: year}
	policy, err := s.loadPolicy(ctx, teacher.DepartmentID, year)
	if err != nil {
		return result, err
	}
	quota, source, err := ResolveQuota(policy, teacher)
	switch {
	case errors.Is(err, appErrors.ErrConfigurationMissing):
		result.Warning = fmt.Sprintf("no quota policy configured for department %s in %s, treating supervisor as unlimited", teacher.DepartmentID, year)
		s.logger.Warn("quota policy missing",
			zap.String("department_id", teacher.DepartmentID),
			zap.String("academic_year", year),
			zap.String("teacher_id", teacher.ID),
		)
	case err != nil:
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve quota")
	}
	result.Quota = quota
	result.Source = source
	return result, nil
}

// TeacherLoad reports quota usage of a teacher.
func (s *QuotaService) TeacherLoad(ctx context.Context, teacherID, year string) (*dto.SupervisorLoadResponse, error) {
	year, err := resolveAcademicYear(ctx, s.years, year)
	if err != nil {
		return nil, err
	}
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		return nil, notFoundOr(err, "teacher", "load teacher")
	}
	resolved, err := s.Resolve(ctx, teacher, year)
	if err != nil {
		return nil, err
	}
	consumed, err := s.loads.ConsumedLoad(ctx, teacherID, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervisor load")
	}
	resp := &dto.SupervisorLoadResponse{
		TeacherID:    teacherID,
		AcademicYear: year,
		Grade:        teacher.Grade,
		Quota:        resolved.Quota,
		Source:       resolved.Source,
		Consumed:     consumed,
	}
	if !resolved.Quota.Unlimited {
		remaining := resolved.Quota.Remaining(consumed)
		resp.Remaining = &remaining
	}
	if resolved.Warning != "" {
		resp.Warnings = []string{resolved.Warning}
	}
	return resp, nil
}

func (s *QuotaService) loadPolicy(ctx context.Context, departmentID, year string) (*models.QuotaPolicy, error) {
	key := policyCacheKey(departmentID, year)
	if s.cache != nil {
		var cached dto.QuotaPolicyResponse
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			if policy, err := policyFromResponse(cached); err == nil {
				return policy, nil
			}
		}
	}
	policy, err := s.policies.Get(ctx, departmentID, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota policy")
	}
	if policy != nil && s.cache != nil {
		if resp, err := policyResponse(policy); err == nil {
			_ = s.cache.Set(ctx, key, resp, s.cacheTTL, YearTag(year))
		}
	}
	return policy, nil
}

func policyCacheKey(departmentID, year string) string {
	return "quota-policy:" + departmentID + ":" + year
}

func policyResponse(policy *models.QuotaPolicy) (*dto.QuotaPolicyResponse, error) {
	resp := &dto.QuotaPolicyResponse{
		DepartmentID: policy.DepartmentID,
		AcademicYear: policy.AcademicYear,
		Mode:         policy.Mode,
		FixedLimit:   policy.FixedLimit,
		UpdatedBy:    policy.UpdatedBy,
		UpdatedAt:    policy.UpdatedAt,
	}
	if policy.Mode == models.QuotaModePerGrade {
		limits, err := policy.Limits()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored quota policy is corrupt")
		}
		resp.GradeLimits = limits
	}
	return resp, nil
}

func policyFromResponse(resp dto.QuotaPolicyResponse) (*models.QuotaPolicy, error) {
	var (
		policy *models.QuotaPolicy
		err    error
	)
	switch resp.Mode {
	case models.QuotaModePerGrade:
		policy, err = models.NewPerGradePolicy(resp.DepartmentID, resp.AcademicYear, resp.GradeLimits)
	case models.QuotaModeFixed:
		if resp.FixedLimit == nil {
			return nil, fmt.Errorf("cached fixed policy without limit")
		}
		policy, err = models.NewFixedPolicy(resp.DepartmentID, resp.AcademicYear, *resp.FixedLimit)
	case models.QuotaModeUnlimited:
		policy = models.NewUnlimitedPolicy(resp.DepartmentID, resp.AcademicYear)
	default:
		return nil, fmt.Errorf("cached policy with unknown mode %q", resp.Mode)
	}
	if err != nil {
		return nil, err
	}
	policy.UpdatedBy = resp.UpdatedBy
	policy.UpdatedAt = resp.UpdatedAt
	return policy, nil
}
