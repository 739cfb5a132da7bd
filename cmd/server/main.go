package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	lmsapp "github.com/campus/lmssync/internal/application/lms"
	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/auth"
	"github.com/campus/lmssync/internal/infrastructure/cache"
	"github.com/campus/lmssync/internal/infrastructure/config"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/moodle"
	"github.com/campus/lmssync/internal/infrastructure/persistence"
	"github.com/campus/lmssync/internal/infrastructure/scheduler"
	"github.com/campus/lmssync/internal/infrastructure/storage"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
	"github.com/campus/lmssync/internal/interfaces/http/handler"
	"github.com/campus/lmssync/internal/interfaces/http/middleware"
	"github.com/campus/lmssync/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry comes up first so the logger can tee into the OTLP log pipeline
	tel, log, err := setupTelemetry(ctx, cfg)
	if err != nil {
		panic("Failed to initialize telemetry: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting LMS sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
		zap.Bool("sync_enabled", cfg.Moodle.SyncEnabled),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatal("Failed to get underlying sql.DB", zap.Error(err))
	}

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.App.Env == "development",
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Warn("Failed to enable database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Repositories
	repos := lmsapp.Repositories{
		Users:       persistence.NewGormUserMappingRepository(db.DB),
		Courses:     persistence.NewGormCourseMappingRepository(db.DB),
		Enrollments: persistence.NewGormEnrollmentMappingRepository(db.DB),
		Grades:      persistence.NewGormGradeRecordRepository(db.DB),
		Logs:        persistence.NewGormSyncLogRepository(db.DB),
	}
	sis := persistence.NewGormSISRepository(db.DB)

	// LMS gateway
	var gateway lms.Gateway = moodle.Unconfigured{}
	if cfg.Moodle.Configured() {
		client, err := moodle.NewClient(&moodle.Config{
			BaseURL:          cfg.Moodle.URL,
			Token:            cfg.Moodle.Token,
			Timeout:          cfg.Moodle.Timeout,
			BulkTimeout:      cfg.Moodle.BulkTimeout,
			MaxResponseBytes: cfg.Moodle.MaxResponseBytes,
		})
		if err != nil {
			log.Fatal("Invalid LMS configuration", zap.Error(err))
		}
		gateway = client
	} else {
		log.Warn("LMS endpoint not configured, outbound calls will fail")
	}

	// Entity locks
	lockers := cache.NewLockerFactory(cfg.Sync, cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	locker, closeLocker, err := lockers.CreateLocker(ctx)
	if err != nil {
		log.Fatal("Failed to create entity locker", zap.Error(err))
	}
	defer func() {
		if err := closeLocker(); err != nil {
			log.Error("Error closing entity locker", zap.Error(err))
		}
	}()

	// Profile picture storage is optional
	var pictureStore lmsapp.ProfilePictureStore
	if cfg.Storage.Enabled {
		s3Store, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize object storage", zap.Error(err))
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			log.Warn("Object storage bucket check failed", zap.Error(err))
		}
		pictureStore = s3Store
	}

	scale, err := gradingScale(cfg.Grading)
	if err != nil {
		log.Fatal("Invalid grading table", zap.Error(err))
	}

	// Application services
	settings := lmsapp.Settings{
		SyncEnabled:       cfg.Moodle.SyncEnabled,
		Configured:        cfg.Moodle.Configured(),
		DefaultCategoryID: cfg.Moodle.DefaultCategoryID,
		BatchWorkers:      cfg.Sync.BatchWorkers,
		RecentWindow:      cfg.Sync.RecentWindow,
	}
	opts := []lmsapp.Option{
		lmsapp.WithLogger(log),
		lmsapp.WithMetrics(tel.syncMetrics),
		lmsapp.WithGradingScale(scale),
	}
	syncService := lmsapp.NewSyncService(gateway, repos, sis, locker, settings, opts...)
	batchService := lmsapp.NewBatchService(syncService, sis, repos, settings, opts...)
	gradeService := lmsapp.NewGradeService(gateway, repos, sis, locker, settings, opts...)
	statsService := lmsapp.NewStatsService(gateway, repos, settings, opts...)
	var pictureService handler.PictureSyncer
	if pictureStore != nil {
		pictureService = lmsapp.NewProfilePictureService(gateway, repos.Users, pictureStore, settings, opts...)
	}

	tel.syncMetrics.StartPeriodicCollection(ctx, statsService, cfg.Telemetry.MetricsInterval)
	defer tel.syncMetrics.Stop()

	// Grade import scheduler
	importScheduler, err := scheduler.NewGradeImportScheduler(scheduler.GradeImportConfig{
		Enabled:     cfg.Scheduler.GradeImportEnabled,
		Interval:    cfg.Scheduler.GradeImportInterval,
		JobTimeout:  cfg.Scheduler.GradeImportTimeout,
		MaxRetries:  cfg.Scheduler.GradeImportMaxRetries,
		RetryDelay:  cfg.Scheduler.GradeImportRetryBase,
		HistorySize: cfg.Scheduler.HistorySize,
	}, gradeService, log)
	if err != nil {
		log.Fatal("Failed to create grade import scheduler", zap.Error(err))
	}
	if err := importScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start grade import scheduler", zap.Error(err))
	}

	// Handlers
	lmsHandler := handler.NewLMSHandler(handler.LMSHandlerDeps{
		Sync:       syncService,
		Batch:      batchService,
		Grades:     gradeService,
		Stats:      statsService,
		Pictures:   pictureService,
		ImportJobs: importScheduler,
	})
	webhookHandler := handler.NewWebhookHandler(gradeService)
	healthHandler := handler.NewHealthHandler(sqlDB, version)

	// HTTP engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	tracingCfg := middleware.DefaultTracingConfig()
	tracingCfg.ServiceName = cfg.Telemetry.ServiceName
	tracingCfg.Enabled = cfg.Telemetry.Enabled

	profilingCfg := middleware.DefaultProfilingConfig()
	profilingCfg.Enabled = cfg.Telemetry.ProfilingEnabled

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsCfg.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsCfg.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(tracingCfg))
	engine.Use(middleware.SpanEnricher())
	engine.Use(middleware.Profiling(profilingCfg))
	engine.Use(middleware.HTTPMetrics(tel.meter))
	engine.Use(middleware.Secure(middleware.DefaultSecurityConfig()))
	engine.Use(middleware.CORSWithConfig(corsCfg))

	router.RegisterHealth(engine, healthHandler)

	// The webhook API has its own secret, the admin API requires a JWT
	jwtCfg := middleware.DefaultJWTConfig(auth.NewJWTService(cfg.JWT))
	jwtCfg.RequiredRole = cfg.JWT.AdminRole
	jwtCfg.Logger = log

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(router.NewWebhookGroup(webhookHandler,
		middleware.BodyLimit(cfg.HTTP.WebhookMaxBodySize),
		middleware.WebhookSecret(cfg.Moodle.WebhookSecret, log),
	)).Register(router.NewAdminGroup(lmsHandler,
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.JWTAuthMiddlewareWithConfig(jwtCfg),
	))
	r.Setup()
	for _, route := range r.Routes() {
		log.Debug("Route registered",
			zap.String("group", route.Group),
			zap.String("method", route.Method),
			zap.String("path", route.Path),
		)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := importScheduler.Stop(shutdownCtx); err != nil {
		log.Warn("Grade import scheduler did not stop cleanly", zap.Error(err))
	}
	tel.shutdown(shutdownCtx)

	log.Info("Server exited gracefully")
}
