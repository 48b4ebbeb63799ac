package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/repository"
	"github.com/noah-isme/memoire-api/internal/service"
	"github.com/noah-isme/memoire-api/pkg/cache"
	"github.com/noah-isme/memoire-api/pkg/config"
	"github.com/noah-isme/memoire-api/pkg/database"
	"github.com/noah-isme/memoire-api/pkg/export"
	"github.com/noah-isme/memoire-api/pkg/lock"
	"github.com/noah-isme/memoire-api/pkg/storage"
)

// Repositories groups the Postgres and Redis stores.
type Repositories struct {
	Configurations *repository.ConfigurationRepository
	Audit          *repository.AuditRepository
	Students       *repository.StudentRepository
	Teachers       *repository.TeacherRepository
	Defenses       *repository.DefenseRepository
	Encadrements   *repository.EncadrementRepository
	Themes         *repository.ThemeRepository
	QuotaPolicies  *repository.QuotaPolicyRepository
	Transitions    *repository.TransitionRepository
	Archives       *repository.ArchiveRepository
	Cache          *repository.CacheRepository
}

// Services groups the domain services.
type Services struct {
	Auth          *service.AuthService
	Metrics       *service.MetricsService
	Cache         *service.CacheService
	Configuration *service.ConfigurationService
	Notifications *service.NotificationService
	Exports       *service.ExportService
	Quotas        *service.QuotaService
	Encadrements  *service.EncadrementService
	Themes        *service.ThemeService
	Archives      *service.ArchiveService
	Transitions   *service.TransitionService
	Reactivation  *service.ReactivationService
}

// App owns the process-wide resources.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *sqlx.DB
	Redis        *redis.Client
	Repositories Repositories
	Services     Services
}

// New opens the database and Redis connections and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// Redis only backs caching, locking and fan-out; all three degrade locally.
		logger.Warn("redis unavailable, continuing without it", zap.Error(err))
		redisClient = nil
	}

	app := &App{Config: cfg, Logger: logger, DB: db, Redis: redisClient}
	app.Repositories = newRepositories(db, redisClient, logger)
	if err := app.buildServices(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func newRepositories(db *sqlx.DB, redisClient *redis.Client, logger *zap.Logger) Repositories {
	return Repositories{
		Configurations: repository.NewConfigurationRepository(db),
		Audit:          repository.NewAuditRepository(db),
		Students:       repository.NewStudentRepository(db),
		Teachers:       repository.NewTeacherRepository(db),
		Defenses:       repository.NewDefenseRepository(db),
		Encadrements:   repository.NewEncadrementRepository(db),
		Themes:         repository.NewThemeRepository(db),
		QuotaPolicies:  repository.NewQuotaPolicyRepository(db),
		Transitions:    repository.NewTransitionRepository(db),
		Archives:       repository.NewArchiveRepository(db),
		Cache:          repository.NewCacheRepository(redisClient, logger),
	}
}

func (a *App) buildServices() error {
	cfg := a.Config
	repos := a.Repositories
	logger := a.Logger
	validate := validator.New()

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(repos.Cache, metrics, cfg.Cache.DefaultTTL, logger, cfg.Cache.Enabled && a.Redis != nil)

	defaults := map[string]string{}
	if cfg.Supervision.DefaultAcademicYear != "" {
		defaults[service.ConfigKeyCurrentAcademicYear] = cfg.Supervision.DefaultAcademicYear
	}
	configuration := service.NewConfigurationService(repos.Configurations, repos.Audit, validate, logger, service.ConfigurationServiceConfig{Defaults: defaults})

	var sink service.NotificationSink = service.NewLogNotificationSink(logger)
	if a.Redis != nil {
		sink = service.NewRedisNotificationSink(a.Redis, cfg.Notifications.Channel)
	}
	notifications := service.NewNotificationService(sink, metrics, logger, service.NotificationServiceConfig{
		Enabled:    cfg.Notifications.Enabled,
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	})

	files, err := storage.NewLocalStorage(cfg.Archives.ExportDir)
	if err != nil {
		return fmt.Errorf("init export storage: %w", err)
	}
	exports := service.NewExportService(
		files,
		storage.NewSignedURLSigner(cfg.Archives.SignedURLSecret, cfg.Archives.SignedURLTTL),
		export.NewRenderer(),
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Archives.SignedURLTTL},
		logger,
	)

	quotas := service.NewQuotaService(repos.QuotaPolicies, repos.Teachers, repos.Encadrements, configuration, cacheSvc, repos.Audit, validate, logger)

	encadrements := service.NewEncadrementService(service.EncadrementServiceDeps{
		Store:     repos.Encadrements,
		Students:  repos.Students,
		Teachers:  repos.Teachers,
		Quotas:    quotas,
		Years:     configuration,
		Notifier:  notifications,
		Audit:     repos.Audit,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logger,
	})

	themes := service.NewThemeService(repos.Themes, repos.Students, repos.Encadrements, configuration, notifications, repos.Audit, validate, logger)

	archives := service.NewArchiveService(repos.Archives, exports, configuration, cacheSvc, repos.Audit, metrics, validate, logger, service.ArchiveServiceConfig{
		CacheTTL: cfg.Cache.DefaultTTL,
	})

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Transition.UseRedisLock && a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis, "memoire:lock:")
	}

	transitions := service.NewTransitionService(service.TransitionServiceDeps{
		Store:        repos.Transitions,
		Encadrements: repos.Encadrements,
		Students:     repos.Students,
		Teachers:     repos.Teachers,
		Archiver:     archives,
		Years:        configuration,
		Broadcaster:  notifications,
		Locker:       locker,
		Audit:        repos.Audit,
		Metrics:      metrics,
		Validator:    validate,
		Logger:       logger,
		Config: service.TransitionServiceConfig{
			ConfirmationToken: cfg.Transition.ConfirmationToken,
			RolloverMonth:     cfg.Transition.RolloverMonth,
			LockTTL:           cfg.Transition.LockTTL,
			Location:          time.Local,
		},
	})

	reactivation := service.NewReactivationService(service.ReactivationServiceDeps{
		Store:    repos.Encadrements,
		Defenses: repos.Defenses,
		Students: repos.Students,
		Teachers: repos.Teachers,
		Quotas:   quotas,
		Years:    configuration,
		Notifier: notifications,
		Audit:    repos.Audit,
		Metrics:  metrics,
		Logger:   logger,
	})

	a.Services = Services{
		Auth: service.NewAuthService(logger, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
		}),
		Metrics:       metrics,
		Cache:         cacheSvc,
		Configuration: configuration,
		Notifications: notifications,
		Exports:       exports,
		Quotas:        quotas,
		Encadrements:  encadrements,
		Themes:        themes,
		Archives:      archives,
		Transitions:   transitions,
		Reactivation:  reactivation,
	}
	return nil
}

// Close releases the connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("close postgres", zap.Error(err))
		}
	}
}
