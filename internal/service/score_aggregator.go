package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
)

// ScoreAggregator maintains best attempts from judged submissions.
type ScoreAggregator interface {
	Update(ctx context.Context, submission models.Submission) (bool, error)
}

type scoreAggregator struct {
	submissions  repository.SubmissionRepository
	bestAttempts repository.BestAttemptRepository
	logger       zerolog.Logger
	now          func() time.Time
}

// NewScoreAggregator constructs the best attempt updater.
func NewScoreAggregator(submissions repository.SubmissionRepository, bestAttempts repository.BestAttemptRepository, logger zerolog.Logger) ScoreAggregator {
	return &scoreAggregator{
		submissions:  submissions,
		bestAttempts: bestAttempts,
		logger:       logger.With().Str("component", "score_aggregator").Logger(),
		now:          time.Now,
	}
}

// Update records a full-score DONE submission against the student's best attempt.
// It reports whether the stored record changed. Partial and anonymous runs are ignored.
func (a *scoreAggregator) Update(ctx context.Context, submission models.Submission) (bool, error) {
	if submission.StudentID == nil || !submission.IsSolved() {
		return false, nil
	}

	results, err := a.submissions.ListResults(ctx, submission.ID)
	if err != nil {
		return false, fmt.Errorf("list submission results: %w", err)
	}

	cumulative := cumulativeTimeMs(results, submission.Diagnostics)
	lowFidelity := diagnosticBool(submission.Diagnostics, "local_execution")

	solvedAt := a.now()
	if submission.CompletedAt != nil {
		solvedAt = *submission.CompletedAt
	} else if !submission.UpdatedAt.IsZero() {
		solvedAt = submission.UpdatedAt
	}

	changed := false
	_, err = a.bestAttempts.Apply(ctx, *submission.StudentID, submission.ProblemID, func(attempt *models.BestAttempt) bool {
		changed = applyBestAttempt(attempt, submission, cumulative, lowFidelity, solvedAt)
		return changed
	})
	if err != nil {
		return false, fmt.Errorf("apply best attempt: %w", err)
	}

	if changed {
		a.logger.Info().
			Str("submission_id", submission.ID.String()).
			Uint("student_id", *submission.StudentID).
			Uint("problem_id", submission.ProblemID).
			Float64("cumulative_time_ms", cumulative).
			Bool("low_fidelity", lowFidelity).
			Msg("best attempt updated")
	}

	return changed, nil
}

// applyBestAttempt mutates the record and reports whether anything changed.
// The best time only ever decreases and a placeholder timing never replaces an existing one.
func applyBestAttempt(attempt *models.BestAttempt, submission models.Submission, cumulative float64, lowFidelity bool, solvedAt time.Time) bool {
	changed := false

	if !attempt.IsSolved {
		attempt.IsSolved = true
		at := solvedAt
		attempt.SolvedAt = &at
		changed = true
	}

	faster := false
	switch {
	case attempt.BestTimeMs == nil:
		faster = true
	case lowFidelity:
		faster = false
	case cumulative < *attempt.BestTimeMs:
		faster = true
	}

	if faster {
		best := cumulative
		id := submission.ID
		attempt.BestTimeMs = &best
		attempt.BestSubmissionID = &id
		attempt.LowFidelity = lowFidelity
		changed = true
	}

	if attempt.BestCode == "" || faster {
		attempt.BestCode = submission.Code
		attempt.Language = submission.Language
		changed = true
	}

	return changed
}

func cumulativeTimeMs(results []models.SubmissionResult, diagnostics map[string]interface{}) float64 {
	if len(results) > 0 {
		total := 0.0
		for _, result := range results {
			total += result.TimeMs
		}
		return total
	}

	seconds, ok := diagnosticFloat(diagnostics, "duration_s")
	if !ok || seconds < 0 {
		return 0
	}
	return seconds * 1000
}

func diagnosticFloat(diagnostics map[string]interface{}, key string) (float64, bool) {
	if diagnostics == nil {
		return 0, false
	}
	switch value := diagnostics[key].(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func diagnosticBool(diagnostics map[string]interface{}, key string) bool {
	if diagnostics == nil {
		return false
	}
	value, ok := diagnostics[key].(bool)
	return ok && value
}
