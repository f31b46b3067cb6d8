package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-judge-api/internal/config"
	"github.com/noah-isme/gema-judge-api/internal/database"
	"github.com/noah-isme/gema-judge-api/internal/handler"
	"github.com/noah-isme/gema-judge-api/internal/middleware"
	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/observability"
	"github.com/noah-isme/gema-judge-api/internal/queue"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/internal/router"
	"github.com/noah-isme/gema-judge-api/internal/service"
	"github.com/noah-isme/gema-judge-api/pkg/judge0"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("judge-api", cfg.AppEnv, cfg.Debug)

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := db.AutoMigrate(models.JudgeModels()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient := connectCache(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	producer, err := queue.NewProducer(cfg.Queue.Brokers, cfg.Queue.Topic, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create queue producer")
	}
	defer producer.Close()

	judgeClient, err := judge0.NewClient(judge0.Config{
		BaseURL:        cfg.Judge0.URL,
		AuthToken:      cfg.Judge0.AuthToken,
		ProbeTimeout:   cfg.Judge0.ProbeTimeout,
		RequestTimeout: cfg.Judge0.RequestTimeout,
		PollInterval:   cfg.Judge0.PollInterval,
		PollBudget:     cfg.Judge0.PollBudget,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create judge client")
	}

	catalog, err := cfg.Artifacts.Catalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure artifact store")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	problemRepo := repository.NewProblemRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	bestAttemptRepo := repository.NewBestAttemptRepository(db)
	artifactRepo := repository.NewTestArtifactRepository(db)

	submissionService := service.NewSubmissionService(submissionRepo, problemRepo, producer, validate, cfg.Debug, logger)
	leaderboardService := service.NewLeaderboardService(problemRepo, studentRepo, submissionRepo, bestAttemptRepo, redisClient, cfg.LeaderboardTTL, logger)
	artifactIndexService := service.NewArtifactIndexService(catalog, problemRepo, artifactRepo, logger)

	checks := map[string]handler.DependencyCheck{
		"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"judge0":   judgeClient.Ping,
		"queue":    producer.Ping,
	}
	if redisClient != nil {
		checks["cache"] = func(ctx context.Context) error { return database.PingRedis(ctx, redisClient) }
	}
	dependencyHealth := handler.NewDependencyHealthHandler(checks, cfg.Judge0.ProbeTimeout, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: logger, AllowOrigins: cfg.CORSAllowOrigins, Debug: cfg.Debug})
	deps := router.Dependencies{
		SubmissionHandler:       handler.NewJudgeSubmissionHandler(submissionService, logger),
		LeaderboardHandler:      handler.NewLeaderboardHandler(leaderboardService, logger),
		DependencyHealthHandler: dependencyHealth,
		ArtifactIndexHandler:    handler.NewArtifactIndexHandler(artifactIndexService, logger),
		JWTMiddleware:           middleware.JWTProtected(cfg.JWTSecret),
		OptionalJWTMiddleware:   middleware.JWTOptional(cfg.JWTSecret),
	}
	if redisClient != nil {
		deps.RateLimitStorage = middleware.NewRedisLimiterStorage(redisClient)
	}
	router.Register(app, cfg, deps)

	if err := serve(app, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func serve(app *fiber.App, cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().Str("address", cfg.HTTPAddress()).Msg("judge api listening")
		return app.Listen(cfg.HTTPAddress())
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			return err
		}
		return nil
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connectCache returns nil when no cache is configured or reachable; leaderboards then hit the database.
func connectCache(cfg config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("redis url not configured, leaderboard cache disabled")
		return nil
	}

	client, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, leaderboard cache disabled")
		return nil
	}
	return client
}
