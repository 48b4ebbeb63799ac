package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/models"
	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// academicYearSource supplies the current academic year pointer.
type academicYearSource interface {
	CurrentAcademicYear(ctx context.Context) (string, error)
}

type notifier interface {
	Notify(ctx context.Context, eventType models.NotificationType, recipients []string, payload map[string]interface{})
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.NotificationType, []string, map[string]interface{}) {}

// resolveAcademicYear validates an explicit year or falls back to the current one.
func resolveAcademicYear(ctx context.Context, years academicYearSource, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		year, err := models.ParseAcademicYear(requested)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		return year.String(), nil
	}
	if years == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "academic_year is required")
	}
	return years.CurrentAcademicYear(ctx)
}

// notFoundOr maps sql.ErrNoRows to a NotFound error and anything else to Internal.
func notFoundOr(err error, resource, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, resource+" not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+action)
}

// internalOr keeps typed errors and wraps the rest as Internal.
func internalOr(err error, action string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+action)
}

func requireComment(comment, what string) (string, error) {
	trimmed := strings.TrimSpace(comment)
	if trimmed == "" {
		return "", appErrors.Clone(appErrors.ErrMissingRequiredComment, what+" is required")
	}
	return trimmed, nil
}

func writeAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, agent string, actor *models.JWTClaims, action, resource, resourceID string, oldValues, newValues interface{}) {
	if audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:    userIDPtr(actor),
		Action:    action,
		Resource:  resource,
		IPAddress: "system",
		UserAgent: agent,
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	return &actor.UserID
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	result := value
	return &result
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
