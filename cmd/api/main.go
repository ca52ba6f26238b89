package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/careline-id/careline/internal/audit"
	"github.com/careline-id/careline/internal/channel"
	"github.com/careline-id/careline/internal/config"
	"github.com/careline-id/careline/internal/handler"
	"github.com/careline-id/careline/internal/infra/postgresql"
	"github.com/careline-id/careline/internal/infra/postgresql/migrations"
	infraredis "github.com/careline-id/careline/internal/infra/redis"
	"github.com/careline-id/careline/internal/linker"
	"github.com/careline-id/careline/internal/notify"
	"github.com/careline-id/careline/internal/observability"
	"github.com/careline-id/careline/internal/queue"
	"github.com/careline-id/careline/internal/repository"
	"github.com/careline-id/careline/internal/service"
	"github.com/careline-id/careline/internal/transport"
	"github.com/careline-id/careline/internal/triage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	auditSink, err := audit.NewRabbitMQSink(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("audit sink initialization failed", zap.Error(err))
	}
	defer auditSink.Close()

	followupQueue, err := queue.NewFollowupQueue(rdb, logger)
	if err != nil {
		logger.Fatal("followup queue initialization failed", zap.Error(err))
	}

	whatsApp, err := channel.NewWhatsAppClient(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIToken)
	if err != nil {
		logger.Fatal("whatsapp client initialization failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	volunteerSink, err := notify.NewWebhookSink(cfg.VolunteerWebhookURL)
	if err != nil {
		logger.Fatal("volunteer sink initialization failed", zap.Error(err))
	}

	var remote triage.RemoteClassifier
	if cfg.ClassifierURL != "" {
		httpClassifier, err := triage.NewHTTPClassifier(cfg.ClassifierURL)
		if err != nil {
			logger.Fatal("remote classifier initialization failed", zap.Error(err))
		}
		remote = httpClassifier
	}

	classifier, err := triage.NewClassifier(volunteerSink, remote, logger)
	if err != nil {
		logger.Fatal("classifier initialization failed", zap.Error(err))
	}

	reminderRepo := repository.NewGormReminderLogRepo(db)
	confirmationRepo := repository.NewGormConfirmationRepo(db)

	replyLinker, err := linker.NewLinker(reminderRepo, confirmationRepo, logger)
	if err != nil {
		logger.Fatal("linker initialization failed", zap.Error(err))
	}

	planner, err := service.NewFollowupPlanner(followupQueue, logger)
	if err != nil {
		logger.Fatal("followup planner initialization failed", zap.Error(err))
	}

	reminderService, err := service.NewReminderService(reminderRepo, planner, auditSink, logger)
	if err != nil {
		logger.Fatal("reminder service initialization failed", zap.Error(err))
	}

	renderer, err := service.NewRenderer()
	if err != nil {
		logger.Fatal("renderer initialization failed", zap.Error(err))
	}

	poller, err := service.NewFollowupPoller(
		followupQueue,
		renderer,
		whatsApp,
		rateLimiter,
		auditSink,
		cfg.PollInterval(),
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("followup poller initialization failed", zap.Error(err))
	}

	inboundService, err := service.NewInboundService(replyLinker, classifier, planner, auditSink, logger)
	if err != nil {
		logger.Fatal("inbound service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	poller.SetMetrics(metrics)
	inboundService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterReplyRoutes(app, inboundService); err != nil {
		logger.Fatal("failed to register reply routes", zap.Error(err))
	}
	if err := handler.RegisterFollowupRoutes(app, followupQueue, reminderService, poller); err != nil {
		logger.Fatal("failed to register followup routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("careline api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		logger.Info("followup poller started", zap.Duration("interval", cfg.PollInterval()))
		return poller.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
	}
}
