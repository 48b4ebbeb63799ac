package models

import "time"

// NotificationType identifies a supervision event pushed to users.
type NotificationType string

const (
	NotificationEncadrementRequested  NotificationType = "ENCADREMENT_REQUESTED"
	NotificationEncadrementAccepted   NotificationType = "ENCADREMENT_ACCEPTED"
	NotificationEncadrementRefused    NotificationType = "ENCADREMENT_REFUSED"
	NotificationEncadrementValidated  NotificationType = "ENCADREMENT_VALIDATED"
	NotificationEncadrementReassigned NotificationType = "ENCADREMENT_REASSIGNED"
	NotificationThemeDecided          NotificationType = "THEME_DECIDED"
	NotificationThemeReopened         NotificationType = "THEME_REOPENED"
	NotificationStudentReactivated    NotificationType = "STUDENT_REACTIVATED"
	NotificationYearTransition        NotificationType = "YEAR_TRANSITION_COMPLETED"
)

// RecipientBroadcast addresses every user.
const RecipientBroadcast = "*"

// NotificationEvent is published on the notification channel.
type NotificationEvent struct {
	ID         string                 `json:"id"`
	Type       NotificationType       `json:"type"`
	Recipients []string               `json:"recipients"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
