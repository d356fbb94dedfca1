package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/Geniusmania/ticket-chat-system/internal/api/http"
	"github.com/Geniusmania/ticket-chat-system/internal/api/http/handlers"
	"github.com/Geniusmania/ticket-chat-system/internal/auth"
	"github.com/Geniusmania/ticket-chat-system/internal/config"
	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
	"github.com/Geniusmania/ticket-chat-system/internal/mail"
	"github.com/Geniusmania/ticket-chat-system/internal/markdown"
	"github.com/Geniusmania/ticket-chat-system/internal/observability"
	"github.com/Geniusmania/ticket-chat-system/internal/persistence"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	"github.com/Geniusmania/ticket-chat-system/internal/service"
	"github.com/Geniusmania/ticket-chat-system/internal/storage"
	"github.com/Geniusmania/ticket-chat-system/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	if pg.Pool == nil {
		logger.Fatal("POSTGRES_DSN is required")
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		applied, err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger)
		if err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Int("count", applied))
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		bus     realtime.Bus
		revoker auth.Revoker
	)
	if cfg.Realtime.Driver == "memory" {
		bus = realtime.NewMemoryBus()
		revoker = auth.NewMemoryRevoker(0, cfg.Auth.AccessTokenTTL())
	} else {
		bus = realtime.NewRedisBus(redis.Client, logger)
		revoker = auth.NewRedisRevoker(redis.Client)
	}
	defer bus.Close() //nolint:errcheck
	hub := realtime.NewHub(bus, logger)

	pool := pg.Pool
	userRepo := repository.NewUserRepository(pool, hub)
	ticketRepo := repository.NewTicketRepository(pool, hub)
	messageRepo := repository.NewMessageRepository(pool, hub)
	attachmentRepo := repository.NewAttachmentRepository(pool, hub)
	articleRepo := repository.NewKnowledgeBaseRepository(pool, hub)
	auditRepo := repository.NewAuditLogRepository(pool, hub)
	tokenRepo := repository.NewAuthTokenRepository(pool)

	seed, err := fallback.LoadSeed()
	if err != nil {
		logger.Fatal("failed to load seed dataset", zap.Error(err))
	}
	if !cfg.Store.SeedFallback {
		seed = nil
	}
	fallbackOpts := fallback.Options{
		Attempts:        cfg.Store.ReadRetryAttempts,
		InitialInterval: cfg.Store.ReadRetryInitial,
		CacheSize:       cfg.Store.FallbackCacheSize,
	}

	objects, err := storage.NewFileStore(cfg.Storage.RootDir, cfg.Storage.MaxUploadBytes, logger)
	if err != nil {
		logger.Fatal("failed to open object store", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	mailer := mail.NewService(mail.NewSender(cfg.Mail, logger), cfg.App.Name)
	metrics := observability.NewMetrics()

	jobs := worker.NewPool(worker.Options{}, logger)
	jobs.Start(ctx)

	auditService := service.NewAuditService(auditRepo, logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		UserRepo:   userRepo,
		Audit:      auditService,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:      userRepo,
		AuthTokenRepo: tokenRepo,
		TokenManager:  tokens,
		Revoker:       revoker,
		Mailer:        mailer,
		Broadcaster:   hub,
		Audit:         auditService,
		Logger:        logger,
	})
	userService := service.NewUserService(userRepo, auditService, logger)
	dashboardService := service.NewDashboardService(ticketRepo)
	kbService, err := service.NewKnowledgeBaseService(service.KnowledgeBaseDependencies{
		ArticleRepo: articleRepo,
		Renderer:    markdown.NewRenderer(),
		Audit:       auditService,
		Seed:        seed,
		Fallback:    fallbackOpts,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to build knowledge base service", zap.Error(err))
	}
	service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		TicketRepo: ticketRepo,
		UserRepo:   userRepo,
		Mailer:     mailer,
		Queue:      jobs,
		BaseURL:    cfg.App.PublicBaseURL,
		Logger:     logger,
	}).RegisterHandlers()

	engine, err := conversation.NewEngine(conversation.Dependencies{
		Store: &conversation.RepositoryStore{
			Tickets:     ticketRepo,
			Users:       userRepo,
			Messages:    messageRepo,
			Attachments: attachmentRepo,
		},
		Objects:    objects,
		Status:     service.StatusTransitions{Tickets: ticketService},
		Audit:      auditService,
		Channels:   hub,
		Dispatcher: dispatcher,
		Logger:     logger,
		Config: conversation.Config{
			Bucket:         cfg.Storage.Bucket,
			TypingTTL:      cfg.Realtime.TypingTTL,
			TypingDebounce: cfg.Realtime.TypingDebounce,
			PreviewLength:  cfg.Realtime.PreviewLength,
		},
		Seed:     seed,
		Fallback: fallbackOpts,
	})
	if err != nil {
		logger.Fatal("failed to build conversation engine", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: int(cfg.Storage.MaxUploadBytes) * 4,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService, engine, logger),
		Admin:          handlers.NewAdminHandler(ticketService, userService, auditService),
		KnowledgeBase:  handlers.NewKnowledgeBaseHandler(kbService),
		Dashboard:      handlers.NewDashboardHandler(dashboardService),
		Realtime:       handlers.NewRealtimeHandler(engine, hub, metrics, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, userRepo, revoker, logger),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := jobs.Stop(stopCtx); err != nil {
		logger.Warn("worker shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
