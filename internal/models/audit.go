package models

import "time"

// Audit actions recorded by the supervision engine.
const (
	AuditActionConfigUpdate        = "CONFIG_UPDATE"
	AuditActionQuotaPolicyUpdate   = "QUOTA_POLICY_UPDATE"
	AuditActionEncadrementRequest  = "ENCADREMENT_REQUEST"
	AuditActionEncadrementAccept   = "ENCADREMENT_ACCEPT"
	AuditActionEncadrementRefuse   = "ENCADREMENT_REFUSE"
	AuditActionEncadrementValidate = "ENCADREMENT_VALIDATE"
	AuditActionEncadrementReassign = "ENCADREMENT_REASSIGN"
	AuditActionThemePropose        = "THEME_PROPOSE"
	AuditActionThemeDecision       = "THEME_DECISION"
	AuditActionThemeReopen         = "THEME_REOPEN"
	AuditActionTransitionPropose   = "TRANSITION_PROPOSE"
	AuditActionTransitionReject    = "TRANSITION_REJECT"
	AuditActionTransitionConfirm   = "TRANSITION_CONFIRM"
	AuditActionTransitionExecute   = "TRANSITION_EXECUTE"
	AuditActionArchiveCreate       = "ARCHIVE_CREATE"
	AuditActionArchivePurge        = "ARCHIVE_PURGE"
	AuditActionArchiveExport       = "ARCHIVE_EXPORT"
	AuditActionArchiveDownload     = "ARCHIVE_DOWNLOAD"
	AuditActionStudentReactivate   = "STUDENT_REACTIVATE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
