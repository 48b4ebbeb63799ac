package dto

// ConfigurationItem is a setting as exposed to administrators. Source is
// "stored" when a row exists and "default" otherwise.
type ConfigurationItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// UpdateConfigurationRequest changes one setting.
type UpdateConfigurationRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// BulkUpdateConfigurationRequest changes several settings atomically.
type BulkUpdateConfigurationRequest struct {
	Items []UpdateConfigurationRequest `json:"items" validate:"required,min=1,dive"`
}

// AcademicYearView summarises the year pointer for clients.
type AcademicYearView struct {
	Current    string `json:"current"`
	Next       string `json:"next"`
	AutoDetect bool   `json:"auto_detect"`
}
