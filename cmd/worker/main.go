package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-judge-api/internal/config"
	"github.com/noah-isme/gema-judge-api/internal/database"
	"github.com/noah-isme/gema-judge-api/internal/observability"
	"github.com/noah-isme/gema-judge-api/internal/queue"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/internal/service"
	"github.com/noah-isme/gema-judge-api/pkg/docker"
	"github.com/noah-isme/gema-judge-api/pkg/judge0"
	"github.com/noah-isme/gema-judge-api/pkg/sandbox"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("judge-worker", cfg.AppEnv, cfg.Debug)

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	redisClient := connectCache(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn := connectEvents(cfg, logger)
	if natsConn != nil {
		defer natsConn.Drain()
	}

	store, err := cfg.Artifacts.Catalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure artifact store")
	}

	runner, err := sandboxRunner(cfg.Sandbox, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure sandbox runner")
	}

	executor, err := sandbox.NewExecutor(sandbox.Config{
		Timeout:       cfg.Sandbox.Timeout,
		PythonCommand: cfg.Sandbox.PythonCommand,
		WorkspaceRoot: cfg.Sandbox.WorkspaceRoot,
		Runner:        runner,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create local sandbox")
	}

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

	submissionRepo := repository.NewSubmissionRepository(db)
	problemRepo := repository.NewProblemRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	bestAttemptRepo := repository.NewBestAttemptRepository(db)
	artifactRepo := repository.NewTestArtifactRepository(db)

	leaderboard := service.NewLeaderboardService(problemRepo, studentRepo, submissionRepo, bestAttemptRepo, redisClient, cfg.LeaderboardTTL, logger)
	evaluation := service.NewEvaluationService(service.EvaluationDependencies{
		Submissions: submissionRepo,
		Loader:      service.NewTestSuiteLoader(artifactRepo, store, logger),
		Templates:   service.FileTemplateSource{Root: cfg.Artifacts.TemplateRoot},
		Remote:      judgeClient,
		Local:       executor,
		Aggregator:  service.NewScoreAggregator(submissionRepo, bestAttemptRepo, logger),
		Leaderboard: leaderboard,
		Events:      service.NewJudgedEventPublisher(natsConn, cfg.JudgedEventsTopic, logger),
	}, logger)
	retrier := service.NewEvaluationRetrier(evaluation, service.EvaluationConfig{
		MaxRetries:     cfg.Evaluation.MaxRetries,
		RetryBaseDelay: cfg.Evaluation.RetryBaseDelay,
		RetryMaxDelay:  cfg.Evaluation.RetryMaxDelay,
	}, logger)

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:     cfg.Queue.Brokers,
		Topic:       cfg.Queue.Topic,
		GroupID:     cfg.Queue.GroupID,
		Concurrency: cfg.Queue.Concurrency,
	}, func(ctx context.Context, msg queue.Message) error {
		_, err := retrier.Evaluate(ctx, msg.SubmissionID)
		return err
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create queue consumer")
	}

	if err := run(cfg, consumer, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker stopped")
}

func run(cfg config.Config, consumer *queue.Consumer, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/metrics", observability.MetricsHandler())

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return consumer.Run(groupCtx)
	})

	group.Go(func() error {
		logger.Info().Str("address", cfg.MetricsAddress()).Msg("worker metrics listening")
		return metricsApp.Listen(cfg.MetricsAddress())
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsApp.ShutdownWithContext(shutdownCtx)
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sandboxRunner(cfg config.SandboxConfig, logger zerolog.Logger) (sandbox.Runner, error) {
	if cfg.Runner != "docker" {
		return sandbox.NewProcessRunner(), nil
	}

	return docker.NewContainerRunner(docker.Config{
		Host:          cfg.DockerHost,
		Image:         cfg.PythonImage,
		MemoryLimitMB: int64(cfg.MemoryMB),
		CPUShares:     int64(cfg.CPUShares),
		Logger:        logger,
	})
}

func connectCache(cfg config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}

	client, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, leaderboard invalidation disabled")
		return nil
	}
	return client
}

func connectEvents(cfg config.Config, logger zerolog.Logger) *nats.Conn {
	if cfg.NATSURL == "" {
		logger.Warn().Msg("nats url not configured, judged events disabled")
		return nil
	}

	conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" worker")
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, judged events disabled")
		return nil
	}
	return conn
}
