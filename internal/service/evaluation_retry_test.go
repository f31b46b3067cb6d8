package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

type scriptedEvaluation struct {
	errs     []error
	attempts []int
}

func (s *scriptedEvaluation) Evaluate(_ context.Context, id uuid.UUID, attempt int) (models.Submission, error) {
	s.attempts = append(s.attempts, attempt)
	idx := len(s.attempts) - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return models.Submission{ID: id, Status: models.SubmissionStatusError}, s.errs[idx]
	}
	return models.Submission{ID: id, Status: models.SubmissionStatusDone}, nil
}

func transientFailure() error {
	return newEvaluationError(KindUnexpected, "Failed to store evaluation results", storageError("save outcome", errors.New("database is locked")), nil)
}

func fastRetryConfig() EvaluationConfig {
	return EvaluationConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestEvaluationRetrierRetriesTransientFailures(t *testing.T) {
	scripted := &scriptedEvaluation{errs: []error{transientFailure(), transientFailure()}}
	retrier := NewEvaluationRetrier(scripted, fastRetryConfig(), zerolog.Nop())

	submission, err := retrier.Evaluate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusDone, submission.Status)
	require.Equal(t, []int{0, 1, 2}, scripted.attempts)
}

func TestEvaluationRetrierStopsOnPermanentFailure(t *testing.T) {
	permanent := newEvaluationError(KindNoTestArtifacts, "No test cases available for this problem", nil, nil)
	scripted := &scriptedEvaluation{errs: []error{permanent}}
	retrier := NewEvaluationRetrier(scripted, fastRetryConfig(), zerolog.Nop())

	_, err := retrier.Evaluate(context.Background(), uuid.New())
	requireKind(t, err, KindNoTestArtifacts)
	require.Len(t, scripted.attempts, 1)
}

func TestEvaluationRetrierGivesUpAfterMaxRetries(t *testing.T) {
	scripted := &scriptedEvaluation{errs: []error{transientFailure(), transientFailure(), transientFailure(), transientFailure(), transientFailure()}}
	retrier := NewEvaluationRetrier(scripted, fastRetryConfig(), zerolog.Nop())

	submission, err := retrier.Evaluate(context.Background(), uuid.New())
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.Equal(t, models.SubmissionStatusError, submission.Status)
	require.Equal(t, []int{0, 1, 2, 3}, scripted.attempts)
}

func TestEvaluationRetrierHonoursCancellation(t *testing.T) {
	scripted := &scriptedEvaluation{errs: []error{transientFailure(), transientFailure()}}
	retrier := NewEvaluationRetrier(scripted, EvaluationConfig{MaxRetries: 3, RetryBaseDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retrier.Evaluate(ctx, uuid.New())
	require.Error(t, err)
	require.Len(t, scripted.attempts, 1)
}
