package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/memoire-api/api/swagger"
	"github.com/noah-isme/memoire-api/internal/bootstrap"
	"github.com/noah-isme/memoire-api/internal/middleware"
	"github.com/noah-isme/memoire-api/pkg/config"
	"github.com/noah-isme/memoire-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/memoire-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/memoire-api/pkg/middleware/requestid"
)

const (
	exportCleanupInterval = time.Hour
	detectInterval        = 6 * time.Hour
)

// @title Memoire Supervision API
// @version 1.0.0
// @description Thesis supervision assignment, quota enforcement and academic year transitions.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Close()

	app.Services.Notifications.Start(ctx)
	defer app.Services.Notifications.Stop()

	go runExportCleanup(ctx, app)
	go runTransitionDetection(ctx, app)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.Services.Metrics))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r, app)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func runExportCleanup(ctx context.Context, app *bootstrap.App) {
	ticker := time.NewTicker(exportCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := app.Services.Exports.Cleanup(app.Config.Archives.ExportRetention)
			if err != nil {
				app.Logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				app.Logger.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}

// runTransitionDetection proposes the rollover once the configured month is reached.
func runTransitionDetection(ctx context.Context, app *bootstrap.App) {
	detect := func() {
		transition, created, err := app.Services.Transitions.Detect(ctx, time.Now(), nil)
		if err != nil {
			app.Logger.Warn("transition detection failed", zap.Error(err))
			return
		}
		if created && transition != nil {
			app.Logger.Info("academic transition proposed",
				zap.String("transition_id", transition.ID),
				zap.String("new_year", transition.NewYear),
			)
		}
	}

	detect()
	ticker := time.NewTicker(detectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detect()
		}
	}
}
