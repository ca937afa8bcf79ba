package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/uni-request-api/api/swagger"
	"github.com/noah-isme/uni-request-api/internal/handler"
	"github.com/noah-isme/uni-request-api/internal/repository"
	"github.com/noah-isme/uni-request-api/internal/router"
	"github.com/noah-isme/uni-request-api/internal/service"
	"github.com/noah-isme/uni-request-api/pkg/cache"
	"github.com/noah-isme/uni-request-api/pkg/config"
	"github.com/noah-isme/uni-request-api/pkg/database"
	"github.com/noah-isme/uni-request-api/pkg/jobs"
	"github.com/noah-isme/uni-request-api/pkg/logger"
	"github.com/noah-isme/uni-request-api/pkg/mailer"
	"github.com/noah-isme/uni-request-api/pkg/scheduler"
)

// @title University Request API
// @version 1.0.0
// @description Student requests and complaints with routing, workflow and escalation
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis, cfg.Cache)
	if err != nil {
		logr.Fatal("redis connect failed", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	requestRepo := repository.NewStudentRequestRepository(db)
	userRepo := repository.NewUserRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheSvc := service.NewCacheService(repository.NewAudienceCache(redisClient, "uni-request:"), metricsSvc, cfg.Cache.RecipientTTL, logr, cfg.Cache.Enabled)
	recipients := service.NewRecipientResolver(userRepo, cacheSvc, logr)

	var notifyOpts []service.NotificationServiceOption
	var emailQueue *jobs.Queue[service.EmailNotification]
	if cfg.Notifications.EmailEnabled {
		sender := mailer.NewSendGrid(cfg.Notifications.SendGridAPIKey, cfg.Notifications.FromName, cfg.Notifications.FromEmail)
		dispatcher := service.NewEmailDispatcher(userRepo, sender, logr)
		emailQueue = jobs.NewQueue[service.EmailNotification]("notification-email", dispatcher.Handle, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		emailQueue.Start(ctx)
		notifyOpts = append(notifyOpts, service.WithEmailQueue(emailQueue))
	}
	notifications := service.NewNotificationService(notificationRepo, metricsSvc, logr, notifyOpts...)

	routing := service.NewRequestRoutingService(requestRepo, recipients, notifications, metricsSvc, logr)
	workflow := service.NewRequestWorkflowService(requestRepo, recipients, notifications, logr)

	cron := scheduler.New(logr, scheduler.LoadLocation(cfg.Requests.Timezone), scheduler.WithObserver(metricsSvc.ObserveJob))
	requestScheduler := service.NewRequestScheduler(cron, routing, requestRepo, logr)
	if cfg.Requests.SchedulerEnabled {
		if err := requestScheduler.Register(cfg.Requests); err != nil {
			logr.Fatal("register request jobs failed", zap.Error(err))
		}
		cron.Start(ctx)
	}

	requests := service.NewStudentRequestService(service.StudentRequestServiceDeps{
		Requests:    requestRepo,
		Comments:    commentRepo,
		Users:       userRepo,
		Routing:     routing,
		Workflow:    workflow,
		Notifier:    notifications,
		Audit:       auditRepo,
		Exporter:    service.NewExportService(),
		Metrics:     metricsSvc,
		Validator:   validator.New(),
		Logger:      logr,
		ExportLimit: cfg.Requests.ExportLimit,
	})

	auth := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	}, logr)

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = redisPinger{client: redisClient}
	}

	engine := router.New(router.Deps{
		Config:        cfg,
		Logger:        logr,
		Metrics:       metricsSvc,
		Tokens:        auth,
		Audit:         auditRepo,
		Requests:      handler.NewStudentRequestHandler(requests, requestScheduler),
		Notifications: handler.NewNotificationHandler(notifications),
		Observability: handler.NewMetricsHandler(metricsSvc, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	if cfg.Requests.SchedulerEnabled {
		cron.Stop()
	}
	if emailQueue != nil {
		emailQueue.Stop()
	}
	logr.Info("shutdown complete")
}
