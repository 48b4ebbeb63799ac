package main

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memoire-api/internal/bootstrap"
	"github.com/noah-isme/memoire-api/internal/handler"
	"github.com/noah-isme/memoire-api/internal/middleware"
	"github.com/noah-isme/memoire-api/internal/models"
)

func registerRoutes(r *gin.Engine, app *bootstrap.App) {
	svc := app.Services
	audit := app.Repositories.Audit

	dependents := map[string]handler.Pinger{"postgres": app.DB}
	if app.Redis != nil {
		dependents["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}
	probes := handler.NewProbeHandler(svc.Metrics, dependents)
	encadrements := handler.NewEncadrementHandler(svc.Encadrements)
	themes := handler.NewThemeHandler(svc.Themes)
	quotas := handler.NewQuotaHandler(svc.Quotas)
	students := handler.NewStudentHandler(svc.Reactivation, svc.Themes)
	transitions := handler.NewTransitionHandler(svc.Transitions)
	archives := handler.NewArchiveHandler(svc.Archives)
	configuration := handler.NewConfigurationHandler(svc.Configuration)

	r.GET("/health", probes.Health)
	r.GET("/ready", probes.Ready)
	r.GET("/metrics", probes.Prometheus)

	api := r.Group(app.Config.APIPrefix)

	// Signed download links carry their own authorization.
	api.GET("/archives/exports/download", middleware.Audit(audit, models.AuditActionArchiveDownload, "archive_export", ""), archives.Download)

	secured := api.Group("")
	secured.Use(middleware.Authenticate(svc.Auth))

	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleHead, models.RoleTeacher)

	enc := secured.Group("/encadrements")
	enc.GET("", encadrements.List)
	enc.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin), encadrements.Request)
	enc.GET("/:id", encadrements.Get)
	enc.POST("/:id/accept", staff, encadrements.Accept)
	enc.POST("/:id/refuse", staff, encadrements.Refuse)
	enc.POST("/:id/validate", middleware.RequireRoles(models.RoleHead, models.RoleAdmin, models.RoleSuperAdmin), encadrements.Validate)
	enc.POST("/:id/reassign", middleware.RequireRoles(models.RoleHead, models.RoleAdmin, models.RoleSuperAdmin), encadrements.Reassign)

	th := secured.Group("/themes")
	th.POST("", themes.Propose)
	th.GET("/:id", themes.Get)
	th.POST("/:id/decision", staff, themes.Decide)
	th.POST("/:id/reopen", staff, themes.Reopen)

	secured.GET("/departments/:id/quota-policy", staff, quotas.GetPolicy)
	secured.PUT("/departments/:id/quota-policy", middleware.RequireRoles(models.RoleHead, models.RoleAdmin, models.RoleSuperAdmin), quotas.SetPolicy)
	secured.GET("/teachers/:id/load", middleware.RequireRolesOrSelf("id", models.RoleHead, models.RoleAdmin, models.RoleSuperAdmin), quotas.TeacherLoad)

	secured.POST("/students/:id/reactivate", middleware.RequireRoles(models.RoleHead, models.RoleAdmin, models.RoleSuperAdmin), students.Reactivate)
	secured.GET("/students/:id/committee-eligibility", students.Eligibility)

	tr := secured.Group("/transitions", admins)
	tr.POST("", transitions.Propose)
	tr.GET("/current", transitions.Current)
	tr.POST("/detect", transitions.Detect)
	tr.GET("/:id", transitions.Get)
	tr.POST("/:id/reject", transitions.Reject)
	tr.GET("/:id/preview", transitions.Preview)
	tr.POST("/:id/confirm", transitions.Confirm)
	tr.POST("/:id/execute", transitions.Execute)

	ar := secured.Group("/archives")
	ar.GET("", staff, archives.List)
	ar.POST("", admins, archives.Create)
	ar.GET("/:year", staff, archives.Get)
	ar.POST("/:year/purge", admins, archives.Purge)
	ar.POST("/:year/exports", staff, archives.Export)

	cfg := secured.Group("/configuration", admins)
	cfg.GET("", configuration.List)
	cfg.GET("/academic-year", configuration.AcademicYear)
	cfg.GET("/:key", configuration.Get)
	cfg.PUT("/:key", configuration.Update)
	cfg.PUT("", configuration.BulkUpdate)
}
