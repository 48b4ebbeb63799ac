package models

import "time"

// ConfigurationType tells how a configuration value is validated and normalised.
type ConfigurationType string

const (
	ConfigurationTypeString       ConfigurationType = "STRING"
	ConfigurationTypeBoolean      ConfigurationType = "BOOLEAN"
	ConfigurationTypeAcademicYear ConfigurationType = "ACADEMIC_YEAR"
)

// Configuration is a runtime setting. The current academic year pointer lives here.
type Configuration struct {
	Key         string            `db:"key" json:"key"`
	Value       string            `db:"value" json:"value"`
	Type        ConfigurationType `db:"type" json:"type"`
	Description *string           `db:"description" json:"description,omitempty"`
	UpdatedBy   *string           `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// Enabled reads a boolean setting. Anything but "true" is off.
func (c *Configuration) Enabled() bool {
	return c != nil && c.Type == ConfigurationTypeBoolean && c.Value == "true"
}
