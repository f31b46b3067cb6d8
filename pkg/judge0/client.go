package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "judge0",
		Name:      "requests_total",
		Help:      "Requests issued to the remote judge grouped by operation and outcome",
	}, []string{"operation", "outcome"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "judge0",
		Name:      "poll_duration_seconds",
		Help:      "Time spent polling the remote judge for verdicts",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// ErrNoTokens indicates that not a single test case could be submitted.
var ErrNoTokens = errors.New("judge0: no submissions were created")

const (
	defaultProbeTimeout   = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = time.Second
	defaultPollBudget     = 120 * time.Second
	pollRetryPause        = 2 * time.Second
	batchFields           = "token,stdout,stderr,status,time,memory,compile_output,message"
)

// Config groups remote judge client settings.
type Config struct {
	BaseURL        string
	AuthToken      string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollBudget     time.Duration
	HTTPClient     *http.Client
	Logger         zerolog.Logger
}

// Client talks to a Judge0 compatible HTTP service.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewClient constructs a judge client with tracing enabled on its transport.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("judge0 base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse judge0 base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = defaultPollBudget
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tracer: otel.Tracer("github.com/noah-isme/gema-judge-api/pkg/judge0"),
		logger: logger.With().Str("component", "judge0_client").Logger(),
	}, nil
}

// Ping performs the liveness probe against the judge.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/about", nil)
	if err != nil {
		requestsTotal.WithLabelValues("about", "error").Inc()
		return fmt.Errorf("judge0 probe: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues("about", "error").Inc()
		return fmt.Errorf("judge0 probe: unexpected status %d", resp.StatusCode)
	}

	requestsTotal.WithLabelValues("about", "ok").Inc()
	return nil
}

// Run submits one job per test case and polls until every job is terminal or the budget runs out.
func (c *Client) Run(parent context.Context, req RunRequest) (RunResult, error) {
	ctx, span := c.tracer.Start(parent, "judge0.run", trace.WithAttributes(
		attribute.Int("judge0.language_id", req.LanguageID),
		attribute.Int("judge0.tests", len(req.Tests)),
	))
	defer span.End()

	logger := c.logger.With().Str("submission_id", req.SubmissionID).Logger()

	result := RunResult{
		Tokens:   make([]string, len(req.Tests)),
		Outcomes: make([]*Outcome, len(req.Tests)),
	}

	for i, test := range req.Tests {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		token, err := c.create(ctx, createRequest{
			SourceCode:     req.Source,
			LanguageID:     req.LanguageID,
			Stdin:          test.Stdin,
			ExpectedOutput: test.ExpectedOutput,
		})
		if err != nil {
			logger.Error().Err(err).Int("test_index", i).Msg("judge0 submission create failed")
			continue
		}
		result.Tokens[i] = token
		result.Created++
	}

	if result.Created == 0 {
		span.SetStatus(codes.Error, ErrNoTokens.Error())
		return result, ErrNoTokens
	}

	logger.Info().Int("token_count", result.Created).Int("tests", len(req.Tests)).Msg("judge0 submissions created")

	if err := c.poll(ctx, req.Tests, &result, logger); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	for i, token := range result.Tokens {
		if token != "" && result.Outcomes[i] == nil {
			result.Unresolved++
		}
	}
	span.SetAttributes(
		attribute.Int("judge0.unresolved", result.Unresolved),
		attribute.Int("judge0.submission_failures", result.Failed()),
	)

	return result, nil
}

func (c *Client) create(ctx context.Context, payload createRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.do(reqCtx, http.MethodPost, c.cfg.BaseURL+"/submissions?base64_encoded=false&wait=false", body)
	if err != nil {
		requestsTotal.WithLabelValues("create", "error").Inc()
		return "", err
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues("create", "error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded createResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		requestsTotal.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("decode submission response: %w", err)
	}
	if decoded.Token == "" {
		requestsTotal.WithLabelValues("create", "no_token").Inc()
		return "", errors.New("response did not include a token")
	}

	requestsTotal.WithLabelValues("create", "ok").Inc()
	return decoded.Token, nil
}

func (c *Client) poll(ctx context.Context, tests []TestCase, result *RunResult, logger zerolog.Logger) error {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		result.PollTime = elapsed.Seconds()
		pollDuration.Observe(elapsed.Seconds())
	}()

	for {
		pending := c.pending(result)
		if len(pending) == 0 {
			return nil
		}

		wait := c.cfg.PollInterval
		if err := c.fetchBatch(ctx, tests, result, pending); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn().Err(err).Float64("elapsed_s", time.Since(start).Seconds()).Msg("judge0 poll request failed")
			wait = pollRetryPause
		}

		if len(c.pending(result)) == 0 {
			return nil
		}

		if time.Since(start) >= c.cfg.PollBudget {
			logger.Warn().
				Float64("waited_s", time.Since(start).Seconds()).
				Int("completed_results", result.Resolved()).
				Int("total_results", len(result.Outcomes)).
				Msg("judge0 poll budget exhausted")
			return nil
		}

		if remaining := c.cfg.PollBudget - time.Since(start); wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// pending lists the indexes whose jobs were created but have no verdict yet.
func (c *Client) pending(result *RunResult) []int {
	indexes := make([]int, 0, len(result.Tokens))
	for i, token := range result.Tokens {
		if token != "" && result.Outcomes[i] == nil {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func (c *Client) fetchBatch(ctx context.Context, tests []TestCase, result *RunResult, pending []int) error {
	tokens := make([]string, len(pending))
	byToken := make(map[string]int, len(pending))
	for i, idx := range pending {
		tokens[i] = result.Tokens[idx]
		byToken[result.Tokens[idx]] = idx
	}

	query := url.Values{}
	query.Set("tokens", strings.Join(tokens, ","))
	query.Set("base64_encoded", "false")
	query.Set("fields", batchFields)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.do(reqCtx, http.MethodGet, c.cfg.BaseURL+"/submissions/batch?"+query.Encode(), nil)
	if err != nil {
		requestsTotal.WithLabelValues("batch", "error").Inc()
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues("batch", "error").Inc()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues("batch", "error").Inc()
		return fmt.Errorf("read batch response: %w", err)
	}

	items, err := decodeBatch(body)
	if err != nil {
		requestsTotal.WithLabelValues("batch", "error").Inc()
		return fmt.Errorf("decode batch response: %w", err)
	}
	requestsTotal.WithLabelValues("batch", "ok").Inc()

	for position, raw := range items {
		var probe struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(raw, &probe)

		idx, ok := byToken[probe.Token]
		if !ok {
			if position >= len(pending) {
				continue
			}
			idx = pending[position]
		}
		if result.Outcomes[idx] != nil {
			continue
		}

		outcome, terminal, err := toOutcome(raw, tests[idx].ExpectedOutput)
		if err != nil {
			c.logger.Warn().Err(err).Int("test_index", idx).Msg("judge0 batch item could not be decoded")
			continue
		}
		if !terminal {
			continue
		}
		if outcome.Token == "" {
			outcome.Token = result.Tokens[idx]
		}
		result.Outcomes[idx] = outcome
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	}

	return c.http.Do(req)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
