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

	_ "github.com/noah-isme/sma-notify-api/api/swagger"
	"github.com/noah-isme/sma-notify-api/internal/delivery"
	"github.com/noah-isme/sma-notify-api/internal/handler"
	"github.com/noah-isme/sma-notify-api/internal/middleware"
	"github.com/noah-isme/sma-notify-api/internal/models"
	"github.com/noah-isme/sma-notify-api/internal/repository"
	"github.com/noah-isme/sma-notify-api/internal/service"
	"github.com/noah-isme/sma-notify-api/pkg/cache"
	"github.com/noah-isme/sma-notify-api/pkg/config"
	"github.com/noah-isme/sma-notify-api/pkg/database"
	"github.com/noah-isme/sma-notify-api/pkg/jobs"
	"github.com/noah-isme/sma-notify-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-notify-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-notify-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-notify-api/pkg/storage"
)

// @title SMA Notify API
// @version 0.1.0
// @description Guardian notification consent and delivery service
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	guardianRepo := repository.NewGuardianRepository(db, cfg.Guardian.MaxPerStudent, cfg.Guardian.MaxPrimaryPerStudent)
	consentRepo := repository.NewConsentRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)
	quotaRepo := repository.NewQuotaRepository(redisClient)
	offlineRepo, err := repository.NewOfflineQueueRepository(cfg.Delivery.OfflineQueueDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init offline queue", "error", err)
	}

	// Services.
	metricsService := service.NewMetricsService()

	authService := service.NewAuthService(userRepo, auditRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sma-notify-api",
	})

	guardianService := service.NewGuardianService(guardianRepo, repository.NewCacheRepository(redisClient, logr), nil, logr)
	consentService := service.NewConsentService(consentRepo, auditRepo, nil, logr)
	preferenceService := service.NewPreferenceService(preferenceRepo, auditRepo, nil, logr)

	taskService := service.NewTaskService(taskRepo, jobs.QueueConfig{
		Workers:    cfg.Tasks.Workers,
		BufferSize: cfg.Tasks.BufferSize,
	}, logr)
	taskService.Start(ctx)
	defer taskService.Stop()

	admissionCfg := service.AdmissionConfig{
		ChannelPriority:          toChannels(cfg.Delivery.ChannelPriority),
		EmergencyChannelPriority: toChannels(cfg.Delivery.EmergencyChannelPriority),
		ManualSendCategories:     toCategories(cfg.Delivery.ManualSendCategories),
	}
	admissionService := service.NewAdmissionService(quotaRepo, taskService, auditRepo, admissionCfg, logr)

	transport := delivery.NewGatewayTransport(guardianRepo, logr)
	orchestrator := delivery.NewOrchestrator(transport, deliveryRepo, offlineRepo, delivery.Config{
		Workers:     cfg.Delivery.WorkerConcurrency,
		SendTimeout: cfg.Delivery.SendTimeout,
		RetryTick:   cfg.Delivery.RetryTick,
	}, logr)
	orchestrator.SetObserver(metricsService)

	notificationService := service.NewNotificationService(service.NotificationServiceDeps{
		Guardians:    guardianRepo,
		Preferences:  preferenceRepo,
		Consents:     consentRepo,
		Deliveries:   deliveryRepo,
		Quota:        quotaRepo,
		Audit:        auditRepo,
		Tasks:        taskService,
		Admission:    admissionService,
		Orchestrator: orchestrator,
		Transport:    transport,
	}, admissionCfg, nil, logr)
	orchestrator.SetTerminalFunc(notificationService.HandleTerminal)
	orchestrator.Start(ctx)
	defer orchestrator.Stop()
	if err := notificationService.RecoverPending(ctx); err != nil {
		logr.Sugar().Errorw("failed to recover pending deliveries", "error", err)
	}

	var exportService *service.ExportService
	if cfg.Exports.Enabled {
		exportStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportService = service.NewExportService(consentService, guardianService, exportStorage, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, jobs.QueueConfig{MaxRetries: cfg.Exports.WorkerRetries}, logr)
		exportService.Start(ctx)
		defer exportService.Stop()
	}

	// Router.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	metricsHandler := handler.NewMetricsHandler(metricsService)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authService)
	guardianHandler := handler.NewGuardianHandler(guardianService)
	consentHandler := handler.NewConsentHandler(consentService)
	preferenceHandler := handler.NewPreferenceHandler(preferenceService)
	notificationHandler := handler.NewNotificationHandler(notificationService)
	taskHandler := handler.NewTaskHandler(taskService)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	secured := api.Group("")
	secured.Use(middleware.JWT(authService))

	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)
	admin := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	secured.POST("/guardians", admin, middleware.Audit(auditRepo, "GUARDIAN_CREATED", "guardian"), guardianHandler.Create)
	secured.GET("/guardians/:id", staff, guardianHandler.Get)
	secured.POST("/guardians/link", admin, middleware.Audit(auditRepo, "GUARDIAN_LINKED", "guardian"), guardianHandler.Link)
	secured.GET("/students/:studentId/guardians", staff, guardianHandler.ListForStudent)

	secured.POST("/consents", staff, consentHandler.Record)
	secured.POST("/consents/withdraw", staff, consentHandler.Withdraw)
	secured.POST("/consents/sync", staff, consentHandler.Sync)
	secured.GET("/students/:studentId/consents", staff, consentHandler.Register)

	secured.GET("/guardians/:id/preferences", staff, preferenceHandler.Get)
	secured.PUT("/guardians/:id/preferences", admin, preferenceHandler.Update)
	secured.GET("/guardians/:id/preferences/history", admin, preferenceHandler.History)
	secured.GET("/guardians/:id/opt-outs", staff, preferenceHandler.ActiveOptOuts)
	secured.POST("/opt-outs", admin, preferenceHandler.RecordOptOut)

	secured.POST("/notifications/admit", staff, notificationHandler.Admit)
	secured.POST("/notifications", staff, notificationHandler.Submit)
	secured.GET("/deliveries/:id", staff, notificationHandler.Status)
	secured.POST("/deliveries/:id/cancel", staff, notificationHandler.Cancel)
	secured.POST("/deliveries/:id/confirm", staff, notificationHandler.Confirm)
	secured.POST("/deliveries/:id/resend", admin, notificationHandler.Resend)
	secured.POST("/deliveries/connectivity", admin, middleware.Audit(auditRepo, "CONNECTIVITY_CHANGED", "delivery"), notificationHandler.SetConnectivity)

	secured.GET("/tasks", staff, taskHandler.ListOpen)
	secured.POST("/tasks/:id/complete", staff, middleware.Audit(auditRepo, "TASK_COMPLETED", "task"), taskHandler.Complete)

	if exportService != nil {
		exportHandler := handler.NewExportHandler(exportService)
		secured.POST("/exports/consent-register", admin, exportHandler.Enqueue)
		secured.GET("/exports/:id", admin, exportHandler.Status)
		api.GET("/exports/download", exportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func toChannels(raw []string) []models.Channel {
	channels := make([]models.Channel, 0, len(raw))
	for _, r := range raw {
		channels = append(channels, models.Channel(r))
	}
	return channels
}

func toCategories(raw []string) []models.ConsentCategory {
	categories := make([]models.ConsentCategory, 0, len(raw))
	for _, r := range raw {
		categories = append(categories, models.ConsentCategory(r))
	}
	return categories
}
