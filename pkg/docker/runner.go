package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-judge-api/pkg/sandbox"
)

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "container_runner",
		Name:      "run_duration_seconds",
		Help:      "Duration of judge case runs inside containers",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	runTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "container_runner",
		Name:      "run_timeouts_total",
		Help:      "Number of container runs that hit the wall-clock limit",
	}, []string{"image"})

	runFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "container_runner",
		Name:      "run_failures_total",
		Help:      "Number of container runs that failed before producing a verdict",
	}, []string{"image"})
)

const (
	workspaceMount = "/workspace"
	stdinFileName  = "input.txt"
)

// Config groups container runner settings.
type Config struct {
	Host          string
	Image         string
	MemoryLimitMB int64
	CPUShares     int64
	Logger        zerolog.Logger
}

// ContainerRunner executes judge cases inside throwaway Docker containers.
// The workspace is bind mounted and stdin is redirected from a file in it.
type ContainerRunner struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

var _ sandbox.Runner = (*ContainerRunner)(nil)

// NewContainerRunner constructs a Docker backed runner.
func NewContainerRunner(cfg Config) (*ContainerRunner, error) {
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, errors.New("container image is required")
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &ContainerRunner{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-judge-api/pkg/docker"),
		logger: logger.With().Str("component", "container_runner").Logger(),
	}, nil
}

// Run executes the prepared program with networking disabled and resource limits applied.
func (r *ContainerRunner) Run(parent context.Context, spec sandbox.RunSpec) (sandbox.RunOutput, error) {
	image := r.cfg.Image
	ctx, span := r.tracer.Start(parent, "docker.container_runner.run", trace.WithAttributes(
		attribute.String("docker.image", image),
	))
	defer span.End()

	if err := os.WriteFile(filepath.Join(spec.Dir, stdinFileName), []byte(spec.Stdin), 0o644); err != nil {
		return sandbox.RunOutput{}, fmt.Errorf("write stdin: %w", err)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    r.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: r.cfg.CPUShares,
		},
		NetworkMode: "none",
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Dir,
			Target: workspaceMount,
		}},
	}

	containerCfg := &container.Config{
		Image:        image,
		Cmd:          []string{"sh", "-c", shellCommand(spec)},
		WorkingDir:   workspaceMount,
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()
	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return sandbox.RunOutput{}, r.fail(span, image, fmt.Errorf("container create: %w", err))
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return sandbox.RunOutput{}, r.fail(span, image, fmt.Errorf("container start: %w", err))
	}

	output := sandbox.RunOutput{}
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		output.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	runDuration.WithLabelValues(image).Observe(time.Since(start).Seconds())

	if waitErr != nil {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) || parent.Err() != nil {
			return sandbox.RunOutput{}, r.fail(span, image, fmt.Errorf("container wait: %w", waitErr))
		}

		runTimeouts.WithLabelValues(image).Inc()
		killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
		}
		span.SetStatus(codes.Error, "execution timed out")
		output.TimedOut = true
		output.ExitCode = -1
		return output, nil
	}

	logCtx, cancelLogs := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLogs()
	logReader, err := r.client.ContainerLogs(logCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return sandbox.RunOutput{}, r.fail(span, image, fmt.Errorf("container logs: %w", err))
	}
	defer logReader.Close()

	stdout, stderr, err := splitLogs(logReader)
	if err != nil {
		return sandbox.RunOutput{}, r.fail(span, image, fmt.Errorf("read container logs: %w", err))
	}
	output.Stdout = stdout
	output.Stderr = stderr

	return output, nil
}

// Close shuts down the runner's underlying client.
func (r *ContainerRunner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *ContainerRunner) fail(span trace.Span, image string, err error) error {
	runFailures.WithLabelValues(image).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func shellCommand(spec sandbox.RunSpec) string {
	parts := make([]string, 0, len(spec.Command)+1)
	for _, arg := range spec.Command {
		parts = append(parts, shellQuote(arg))
	}
	parts = append(parts, shellQuote(spec.FileName))
	return strings.Join(parts, " ") + " < " + stdinFileName
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func splitLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}
