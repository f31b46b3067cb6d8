package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-judge-api/internal/config"
	"github.com/noah-isme/gema-judge-api/internal/utils"
)

const defaultDependencyTimeout = 5 * time.Second

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}

// DependencyCheck probes one backing service.
type DependencyCheck func(ctx context.Context) error

// DependencyStatus is the probe result for one dependency.
type DependencyStatus struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// DependencyHealthResponse aggregates dependency probes.
type DependencyHealthResponse struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// DependencyHealthHandler reports database, remote judge and queue reachability.
type DependencyHealthHandler struct {
	checks  map[string]DependencyCheck
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDependencyHealthHandler builds a dependency health handler.
func NewDependencyHealthHandler(checks map[string]DependencyCheck, timeout time.Duration, logger zerolog.Logger) *DependencyHealthHandler {
	if timeout <= 0 {
		timeout = defaultDependencyTimeout
	}
	return &DependencyHealthHandler{
		checks:  checks,
		timeout: timeout,
		logger:  logger.With().Str("component", "dependency_health_handler").Logger(),
	}
}

// Handle runs every probe concurrently; any failure degrades the response to 503.
func (h *DependencyHealthHandler) Handle(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	parent := c.UserContext()
	var (
		mu      sync.Mutex
		results = make(map[string]DependencyStatus, len(names))
		group   errgroup.Group
	)

	for _, name := range names {
		name := name
		check := h.checks[name]
		group.Go(func() error {
			ctx, cancel := context.WithTimeout(parent, h.timeout)
			defer cancel()

			started := time.Now()
			err := check(ctx)
			status := DependencyStatus{
				Status:    "ok",
				LatencyMs: float64(time.Since(started)) / float64(time.Millisecond),
			}
			if err != nil {
				status.Status = "error"
				status.Error = err.Error()
			}

			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	response := DependencyHealthResponse{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Dependencies: results,
	}
	for _, name := range names {
		if results[name].Status != "ok" {
			response.Status = "degraded"
			h.logger.Warn().Str("dependency", name).Str("error", results[name].Error).Msg("dependency unhealthy")
		}
	}

	if response.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
			Success: false,
			Data:    response,
			Message: "dependencies degraded",
		})
	}
	return utils.SendSuccess(c, "dependencies healthy", response)
}
