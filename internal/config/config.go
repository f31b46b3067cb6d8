package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-judge-api/pkg/storage"
)

// Config holds runtime configuration values for the judge API and worker.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	Debug             bool
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	CORSAllowOrigins  string
	LeaderboardTTL    time.Duration
	SubmitRateLimit   int
	SubmitRateWindow  time.Duration
	MetricsPort       string
	Judge0            Judge0Config
	Sandbox           SandboxConfig
	Queue             QueueConfig
	Artifacts         ArtifactConfig
	Evaluation        EvaluationConfig
	JudgedEventsTopic string
}

// Judge0Config configures the remote judge client.
type Judge0Config struct {
	URL            string
	AuthToken      string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollBudget     time.Duration
}

// SandboxConfig configures the local fallback executor.
type SandboxConfig struct {
	Runner        string
	Timeout       time.Duration
	PythonCommand string
	WorkspaceRoot string
	DockerHost    string
	PythonImage   string
	MemoryMB      int
	CPUShares     int
}

// QueueConfig configures the Kafka backed evaluation queue.
type QueueConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
}

// ArtifactConfig selects where test case artifacts are read from.
type ArtifactConfig struct {
	Backend        string
	Root           string
	TemplateRoot   string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	MinIOBucket    string
}

// Catalog opens the configured artifact backend.
func (c ArtifactConfig) Catalog() (storage.ArtifactCatalog, error) {
	return storage.NewCatalog(c.Backend, c.Root, storage.MinIOConfig{
		Endpoint:  c.MinIOEndpoint,
		AccessKey: c.MinIOAccessKey,
		SecretKey: c.MinIOSecretKey,
		UseSSL:    c.MinIOUseSSL,
		Bucket:    c.MinIOBucket,
	})
}

// EvaluationConfig tunes the retry policy around a single evaluation.
type EvaluationConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	return listenAddress(c.AppPort)
}

// MetricsAddress returns the address the worker metrics listener binds to.
func (c Config) MetricsAddress() string {
	return listenAddress(c.MetricsPort)
}

func listenAddress(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}

	return fmt.Sprintf(":%s", port)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Judge API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.debug", false)
	v.SetDefault("metrics.port", "9090")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("leaderboard.cache_ttl", "30s")
	v.SetDefault("submit.rate_limit", 10)
	v.SetDefault("submit.rate_window", "1m")
	v.SetDefault("judge0.url", "http://localhost:2358")
	v.SetDefault("judge0.probe_timeout", "10s")
	v.SetDefault("judge0.request_timeout", "30s")
	v.SetDefault("judge0.poll_interval", "1s")
	v.SetDefault("judge0.poll_budget", "120s")
	v.SetDefault("sandbox.runner", "process")
	v.SetDefault("sandbox.timeout", "5s")
	v.SetDefault("sandbox.python_command", "python3")
	v.SetDefault("sandbox.python_image", "python:3.11-alpine")
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("queue.brokers", "localhost:9092")
	v.SetDefault("queue.topic", "judge.submissions")
	v.SetDefault("queue.group_id", "gema-judge-worker")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("events.judged_topic", "gema.judge.submission_judged")
	v.SetDefault("artifacts.backend", "file")
	v.SetDefault("artifacts.root", "media/testcases")
	v.SetDefault("artifacts.template_root", "media/testcases")
	v.SetDefault("artifacts.minio_bucket", "testcases")
	v.SetDefault("evaluation.max_retries", 3)
	v.SetDefault("evaluation.retry_base_delay", "2s")
	v.SetDefault("evaluation.retry_max_delay", "30s")

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"leaderboard.cache_ttl",
		"submit.rate_window",
		"judge0.probe_timeout",
		"judge0.request_timeout",
		"judge0.poll_interval",
		"judge0.poll_budget",
		"sandbox.timeout",
		"evaluation.retry_base_delay",
		"evaluation.retry_max_delay",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		Debug:            v.GetBool("app.debug"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		CORSAllowOrigins: v.GetString("cors.allow_origins"),
		LeaderboardTTL:   durations["leaderboard.cache_ttl"],
		SubmitRateLimit:  v.GetInt("submit.rate_limit"),
		SubmitRateWindow: durations["submit.rate_window"],
		MetricsPort:      v.GetString("metrics.port"),
		Judge0: Judge0Config{
			URL:            strings.TrimRight(v.GetString("judge0.url"), "/"),
			AuthToken:      v.GetString("judge0.auth_token"),
			ProbeTimeout:   durations["judge0.probe_timeout"],
			RequestTimeout: durations["judge0.request_timeout"],
			PollInterval:   durations["judge0.poll_interval"],
			PollBudget:     durations["judge0.poll_budget"],
		},
		Sandbox: SandboxConfig{
			Runner:        strings.ToLower(v.GetString("sandbox.runner")),
			Timeout:       durations["sandbox.timeout"],
			PythonCommand: v.GetString("sandbox.python_command"),
			WorkspaceRoot: v.GetString("sandbox.workspace_root"),
			DockerHost:    v.GetString("docker_host"),
			PythonImage:   v.GetString("sandbox.python_image"),
			MemoryMB:      v.GetInt("sandbox.memory_mb"),
			CPUShares:     v.GetInt("sandbox.cpu_shares"),
		},
		Queue: QueueConfig{
			Brokers:     splitList(v.GetString("queue.brokers")),
			Topic:       v.GetString("queue.topic"),
			GroupID:     v.GetString("queue.group_id"),
			Concurrency: v.GetInt("queue.concurrency"),
		},
		Artifacts: ArtifactConfig{
			Backend:        strings.ToLower(v.GetString("artifacts.backend")),
			Root:           v.GetString("artifacts.root"),
			TemplateRoot:   v.GetString("artifacts.template_root"),
			MinIOEndpoint:  v.GetString("artifacts.minio_endpoint"),
			MinIOAccessKey: v.GetString("artifacts.minio_access_key"),
			MinIOSecretKey: v.GetString("artifacts.minio_secret_key"),
			MinIOUseSSL:    v.GetBool("artifacts.minio_use_ssl"),
			MinIOBucket:    v.GetString("artifacts.minio_bucket"),
		},
		Evaluation: EvaluationConfig{
			MaxRetries:     v.GetInt("evaluation.max_retries"),
			RetryBaseDelay: durations["evaluation.retry_base_delay"],
			RetryMaxDelay:  durations["evaluation.retry_max_delay"],
		},
		JudgedEventsTopic: v.GetString("events.judged_topic"),
	}

	if cfg.Sandbox.Runner != "process" && cfg.Sandbox.Runner != "docker" {
		return Config{}, fmt.Errorf("unknown sandbox runner %q", cfg.Sandbox.Runner)
	}

	if cfg.Artifacts.Backend != "file" && cfg.Artifacts.Backend != "minio" {
		return Config{}, fmt.Errorf("unknown artifact backend %q", cfg.Artifacts.Backend)
	}

	if len(cfg.Queue.Brokers) == 0 {
		return Config{}, fmt.Errorf("at least one queue broker must be provided")
	}

	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 1
	}

	if cfg.Evaluation.MaxRetries < 0 {
		cfg.Evaluation.MaxRetries = 0
	}

	if cfg.Sandbox.MemoryMB <= 0 {
		cfg.Sandbox.MemoryMB = 256
	}

	if cfg.Sandbox.CPUShares <= 0 {
		cfg.Sandbox.CPUShares = 512
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
