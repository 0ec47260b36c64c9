package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/civic-requests/internal/api/http"
	"github.com/spec-kit/civic-requests/internal/api/http/handlers"
	"github.com/spec-kit/civic-requests/internal/auth"
	"github.com/spec-kit/civic-requests/internal/config"
	"github.com/spec-kit/civic-requests/internal/events"
	"github.com/spec-kit/civic-requests/internal/observability"
	"github.com/spec-kit/civic-requests/internal/persistence"
	"github.com/spec-kit/civic-requests/internal/repository"
	"github.com/spec-kit/civic-requests/internal/service"
	"github.com/spec-kit/civic-requests/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
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
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.PoolHandle() != nil {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()

	var (
		requestRepo  repository.RequestRepository
		agentRepo    repository.AgentRepository
		timelineRepo repository.TimelineRepository
		userRepo     repository.UserRepository
		idemStore    repository.IdempotencyStore
	)
	if pool != nil {
		requestRepo = repository.NewRequestRepository(pool)
		agentRepo = repository.NewAgentRepository(pool)
		timelineRepo = repository.NewTimelineRepository(pool)
		userRepo = repository.NewUserRepository(pool)
	} else {
		// no database configured; run everything in memory
		logger.Warn("running with in-memory repositories")
		requestRepo = repository.NewMemoryRequestRepository()
		agentRepo = repository.NewMemoryAgentRepository()
		timelineRepo = repository.NewMemoryTimelineRepository()
		userRepo = repository.NewMemoryUserRepository()
	}
	if redis.Client != nil && redis.Ping(ctx) == nil {
		idemStore = repository.NewRedisIdempotencyStore(redis.Client)
	} else {
		idemStore = repository.NewMemoryIdempotencyStore()
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	requestService := service.NewRequestService(service.RequestDependencies{
		RequestRepo:      requestRepo,
		TimelineRepo:     timelineRepo,
		IdempotencyStore: idemStore,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		RequestRepo:  requestRepo,
		AgentRepo:    agentRepo,
		TimelineRepo: timelineRepo,
		Dispatcher:   dispatcher,
		PoolLimit:    cfg.Assignment.PoolLimit,
	})
	identityService := service.NewIdentityService(*cfg, userRepo)
	authMiddleware := auth.NewAuthMiddleware(identityService.TokenManager(), userRepo)

	sweeper := worker.NewSLASweeper(worker.SweeperDependencies{
		Requests:   requestRepo,
		Timelines:  timelineRepo,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Interval:   cfg.SLA.SweepInterval(),
	})
	sweeper.Start(ctx)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(identityService),
		Requests:       handlers.NewRequestsHandler(requestService, assignmentService),
		Agents:         handlers.NewAgentsHandler(agentRepo),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
