package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/observability"
)

const (
	retryMultiplier    = 2.0
	retryRandomization = 0.5
)

// EvaluationConfig tunes how often transient evaluation failures are retried.
type EvaluationConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// EvaluationRetrier re-runs an evaluation while it fails with a transient error.
type EvaluationRetrier struct {
	service EvaluationService
	cfg     EvaluationConfig
	logger  zerolog.Logger
}

// NewEvaluationRetrier wraps service with exponential backoff.
func NewEvaluationRetrier(service EvaluationService, cfg EvaluationConfig, logger zerolog.Logger) *EvaluationRetrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	return &EvaluationRetrier{
		service: service,
		cfg:     cfg,
		logger:  logger.With().Str("component", "evaluation_retrier").Logger(),
	}
}

// Evaluate runs the evaluation, retrying up to MaxRetries times on transient errors.
// The final error is returned once retries are exhausted or a non transient error occurs.
func (r *EvaluationRetrier) Evaluate(ctx context.Context, submissionID uuid.UUID) (models.Submission, error) {
	var (
		submission models.Submission
		attempt    int
	)

	operation := func() error {
		result, err := r.service.Evaluate(ctx, submissionID, attempt)
		attempt++
		submission = result
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		observability.EvaluationRetries().Inc()
		r.logger.Warn().
			Err(err).
			Str("submission_id", submissionID.String()).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("transient evaluation failure, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(r.policy(), ctx), notify)
	if err != nil && IsTransient(err) {
		r.logger.Error().
			Err(err).
			Str("submission_id", submissionID.String()).
			Int("attempts", attempt).
			Msg("evaluation retries exhausted")
	}
	return submission, err
}

func (r *EvaluationRetrier) policy() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = r.cfg.RetryBaseDelay
	exponential.Multiplier = retryMultiplier
	exponential.RandomizationFactor = retryRandomization
	exponential.MaxInterval = r.cfg.RetryMaxDelay
	exponential.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exponential, uint64(r.cfg.MaxRetries))
}
