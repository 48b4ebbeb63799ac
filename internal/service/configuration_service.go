package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/dto"
	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

type configurationRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error)
	Get(ctx context.Context, key string) (*models.Configuration, error)
	Upsert(ctx context.Context, cfg *models.Configuration) error
	BulkUpsert(ctx context.Context, cfgs []models.Configuration) error
}

// Configuration keys read by the supervision engine.
const (
	ConfigKeyCurrentAcademicYear  = "current_academic_year"
	ConfigKeyTransitionAutoDetect = "transition_auto_detect"
	ConfigKeyInstitutionName      = "institution_display_name"
	ConfigKeyEnableArchivesUI     = "enable_archives_ui"
)

const (
	configurationSourceStored  = "stored"
	configurationSourceDefault = "default"
)

// setting describes one editable key. builtin is used when neither a row nor
// an operator default exists.
type setting struct {
	key         string
	kind        models.ConfigurationType
	description string
	builtin     string
}

var settings = []setting{
	{key: ConfigKeyCurrentAcademicYear, kind: models.ConfigurationTypeAcademicYear, description: "Academic year new supervision requests are attached to"},
	{key: ConfigKeyTransitionAutoDetect, kind: models.ConfigurationTypeBoolean, description: "Propose the year transition automatically once the rollover month is reached", builtin: "true"},
	{key: ConfigKeyInstitutionName, kind: models.ConfigurationTypeString, description: "Institution name printed on archive exports"},
	{key: ConfigKeyEnableArchivesUI, kind: models.ConfigurationTypeBoolean, description: "Show the archives section in the web client", builtin: "true"},
}

var allowedConfigurationKeys = func() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}
	return keys
}()

func lookupSetting(key string) (setting, error) {
	for _, s := range settings {
		if s.key == key {
			return s, nil
		}
	}
	return setting{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported configuration key %q", key))
}

// normalize validates raw against the setting type and returns its canonical form.
func (s setting) normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch s.kind {
	case models.ConfigurationTypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "false":
			return strings.ToLower(raw), nil
		}
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects true or false", s.key))
	case models.ConfigurationTypeAcademicYear:
		year, err := models.ParseAcademicYear(raw)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid value for %s", s.key))
		}
		return year.String(), nil
	case models.ConfigurationTypeString:
		if raw == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must not be blank", s.key))
		}
		return raw, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unsupported configuration type")
}

func (s setting) item(value, source string, stored *models.Configuration) dto.ConfigurationItem {
	item := dto.ConfigurationItem{
		Key:         s.key,
		Value:       value,
		Type:        string(s.kind),
		Description: s.description,
		Source:      source,
	}
	if stored != nil && stored.Description != nil && *stored.Description != "" {
		item.Description = *stored.Description
	}
	return item
}

// ConfigurationServiceConfig carries operator defaults, typically the
// academic year to start from on a fresh database.
type ConfigurationServiceConfig struct {
	Defaults map[string]string
}

// ConfigurationService manages runtime settings, the current academic year
// pointer among them. Every change is audited.
type ConfigurationService struct {
	repo      configurationRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	defaults  map[string]string
}

// NewConfigurationService constructs a ConfigurationService.
func NewConfigurationService(repo configurationRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg ConfigurationServiceConfig) *ConfigurationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := make(map[string]string, len(settings))
	for _, s := range settings {
		if s.builtin != "" {
			defaults[s.key] = s.builtin
		}
	}
	for key, value := range cfg.Defaults {
		if value != "" {
			defaults[key] = value
		}
	}
	return &ConfigurationService{repo: repo, audit: audit, validator: validate, logger: logger, defaults: defaults}
}

// List returns every known setting, stored or defaulted. Unknown rows are hidden.
func (s *ConfigurationService) List(ctx context.Context) ([]dto.ConfigurationItem, error) {
	rows, err := s.repo.ListByKeys(ctx, allowedConfigurationKeys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list configurations")
	}
	stored := make(map[string]*models.Configuration, len(rows))
	for i := range rows {
		stored[rows[i].Key] = &rows[i]
	}
	items := make([]dto.ConfigurationItem, 0, len(settings))
	for _, def := range settings {
		if row, ok := stored[def.key]; ok {
			items = append(items, def.item(row.Value, configurationSourceStored, row))
			continue
		}
		items = append(items, def.item(s.defaults[def.key], configurationSourceDefault, nil))
	}
	return items, nil
}

// Get returns one setting, falling back to its default.
func (s *ConfigurationService) Get(ctx context.Context, key string) (*dto.ConfigurationItem, error) {
	def, err := lookupSetting(key)
	if err != nil {
		return nil, err
	}
	row, err := s.stored(ctx, key)
	if err != nil {
		return nil, err
	}
	if row != nil {
		item := def.item(row.Value, configurationSourceStored, row)
		return &item, nil
	}
	value, ok := s.defaults[key]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
	}
	item := def.item(value, configurationSourceDefault, nil)
	return &item, nil
}

// Update validates and stores one setting.
func (s *ConfigurationService) Update(ctx context.Context, key, value string, actor *models.JWTClaims) (*dto.ConfigurationItem, error) {
	def, err := lookupSetting(key)
	if err != nil {
		return nil, err
	}
	normalized, err := def.normalize(value)
	if err != nil {
		return nil, err
	}
	previous, err := s.stored(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkStoredType(def, previous); err != nil {
		return nil, err
	}

	row := newConfigurationRow(def, normalized, actor)
	if err := s.repo.Upsert(ctx, &row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update configuration")
	}
	s.recordChange(ctx, actor, key, previous, normalized)

	item := def.item(normalized, configurationSourceStored, nil)
	return &item, nil
}

// BulkUpdate validates every item first and stores them in one transaction,
// so a single bad value leaves all settings untouched.
func (s *ConfigurationService) BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) ([]dto.ConfigurationItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	keys := make([]string, len(req.Items))
	for i, item := range req.Items {
		keys[i] = item.Key
	}
	existing, err := s.repo.ListByKeys(ctx, keys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing configurations")
	}
	previous := make(map[string]*models.Configuration, len(existing))
	for i := range existing {
		previous[existing[i].Key] = &existing[i]
	}

	rows := make([]models.Configuration, 0, len(req.Items))
	defs := make([]setting, 0, len(req.Items))
	for _, item := range req.Items {
		def, err := lookupSetting(item.Key)
		if err != nil {
			return nil, err
		}
		normalized, err := def.normalize(item.Value)
		if err != nil {
			return nil, err
		}
		if err := checkStoredType(def, previous[item.Key]); err != nil {
			return nil, err
		}
		rows = append(rows, newConfigurationRow(def, normalized, actor))
		defs = append(defs, def)
	}

	if err := s.repo.BulkUpsert(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bulk update configurations")
	}

	items := make([]dto.ConfigurationItem, len(rows))
	for i, row := range rows {
		items[i] = defs[i].item(row.Value, configurationSourceStored, nil)
		s.recordChange(ctx, actor, row.Key, previous[row.Key], row.Value)
	}
	return items, nil
}

// CurrentAcademicYear returns the year pointer, falling back to the configured default.
func (s *ConfigurationService) CurrentAcademicYear(ctx context.Context) (string, error) {
	value, err := s.value(ctx, ConfigKeyCurrentAcademicYear)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", appErrors.Clone(appErrors.ErrPreconditionFailed, "current academic year is not configured")
	}
	if _, err := models.ParseAcademicYear(value); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored academic year is malformed")
	}
	return value, nil
}

// AdvanceAcademicYear moves the pointer to year. It is a no-op when the pointer already holds year.
func (s *ConfigurationService) AdvanceAcademicYear(ctx context.Context, year string, actor *models.JWTClaims) error {
	current, err := s.value(ctx, ConfigKeyCurrentAcademicYear)
	if err != nil {
		return err
	}
	if current == year {
		return nil
	}
	_, err = s.Update(ctx, ConfigKeyCurrentAcademicYear, year, actor)
	return err
}

// AcademicYear reports the current pointer, its successor and whether
// rollover detection runs automatically.
func (s *ConfigurationService) AcademicYear(ctx context.Context) (*dto.AcademicYearView, error) {
	current, err := s.CurrentAcademicYear(ctx)
	if err != nil {
		return nil, err
	}
	year, _ := models.ParseAcademicYear(current)
	autoDetect, err := s.AutoDetectEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.AcademicYearView{
		Current:    current,
		Next:       year.Next().String(),
		AutoDetect: autoDetect,
	}, nil
}

// AutoDetectEnabled reports whether rollover proposals may be created automatically.
func (s *ConfigurationService) AutoDetectEnabled(ctx context.Context) (bool, error) {
	value, err := s.value(ctx, ConfigKeyTransitionAutoDetect)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// stored returns the persisted row of key, or nil when none exists.
func (s *ConfigurationService) stored(ctx context.Context, key string) (*models.Configuration, error) {
	row, err := s.repo.Get(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get configuration")
	}
	return row, nil
}

func (s *ConfigurationService) value(ctx context.Context, key string) (string, error) {
	row, err := s.stored(ctx, key)
	if err != nil {
		return "", err
	}
	if row != nil {
		return row.Value, nil
	}
	return s.defaults[key], nil
}

func (s *ConfigurationService) recordChange(ctx context.Context, actor *models.JWTClaims, key string, previous *models.Configuration, value string) {
	if s.audit == nil {
		return
	}
	oldValue := ""
	if previous != nil {
		oldValue = previous.Value
	}
	oldBytes, _ := json.Marshal(map[string]string{"key": key, "value": oldValue})
	newBytes, _ := json.Marshal(map[string]string{"key": key, "value": value})
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionConfigUpdate,
		Resource:   "configuration",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "configuration-service",
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record configuration audit", zap.String("key", key), zap.Error(err))
	}
}

func checkStoredType(def setting, previous *models.Configuration) error {
	if previous != nil && previous.Type != def.kind {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("configuration type mismatch for %s", def.key))
	}
	return nil
}

func newConfigurationRow(def setting, value string, actor *models.JWTClaims) models.Configuration {
	return models.Configuration{
		Key:         def.key,
		Value:       value,
		Type:        def.kind,
		Description: strPtr(def.description),
		UpdatedBy:   userIDPtr(actor),
	}
}
