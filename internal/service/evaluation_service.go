package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/observability"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/pkg/judge0"
	"github.com/noah-isme/gema-judge-api/pkg/sandbox"
)

// Fallback reasons recorded when the local sandbox judges a submission.
const (
	FallbackRemoteUnreachable      = "remote_unreachable"
	FallbackRemoteSubmissionFailed = "remote_submission_failed"
	FallbackRemoteSystemicFailure  = "remote_systemic_failure"
)

// RemoteJudge is the external judge used on the happy path.
type RemoteJudge interface {
	Ping(ctx context.Context) error
	Run(ctx context.Context, req judge0.RunRequest) (judge0.RunResult, error)
}

// LocalExecutor runs submissions without the remote judge.
type LocalExecutor interface {
	Execute(ctx context.Context, req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error)
}

// LeaderboardInvalidator drops cached standings after a solve.
type LeaderboardInvalidator interface {
	Invalidate(ctx context.Context, contestID *uint)
}

// EvaluationDependencies groups the collaborators of the evaluation pipeline.
type EvaluationDependencies struct {
	Submissions repository.SubmissionRepository
	Loader      TestSuiteLoader
	Templates   TemplateSource
	Remote      RemoteJudge
	Local       LocalExecutor
	Aggregator  ScoreAggregator
	Leaderboard LeaderboardInvalidator
	Events      JudgedEventPublisher
}

// EvaluationService judges one queued submission end to end.
type EvaluationService interface {
	Evaluate(ctx context.Context, submissionID uuid.UUID, attempt int) (models.Submission, error)
}

type evaluationService struct {
	deps   EvaluationDependencies
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewEvaluationService constructs the evaluation orchestrator.
func NewEvaluationService(deps EvaluationDependencies, logger zerolog.Logger) EvaluationService {
	return &evaluationService{
		deps:   deps,
		logger: logger.With().Str("component", "evaluation_service").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-judge-api/internal/service/evaluation"),
		now:    time.Now,
	}
}

// Evaluate drives a submission to DONE or ERROR. A returned *EvaluationError describes the
// failure that was persisted; transient ones may be retried with a higher attempt number.
func (s *evaluationService) Evaluate(ctx context.Context, submissionID uuid.UUID, attempt int) (models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "evaluation.evaluate", trace.WithAttributes(
		attribute.String("submission.id", submissionID.String()),
		attribute.Int("evaluation.attempt", attempt),
	))
	defer span.End()

	logCtx := s.logger.With().Str("submission_id", submissionID.String()).Int("attempt", attempt)
	if correlationID := observability.CorrelationID(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	logger := logCtx.Logger()

	submission, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error().Msg("submission not found, skipping evaluation")
			return models.Submission{}, newEvaluationError(KindSubmissionNotFound, "Submission not found", err, nil)
		}
		span.RecordError(err)
		return models.Submission{}, newEvaluationError(KindUnexpected, "Failed to load submission", storageError("load submission", err), nil)
	}

	if submission.IsDone() {
		logger.Info().Msg("submission already judged, skipping")
		return submission, nil
	}

	run := &evaluationRun{
		service:    s,
		submission: submission,
		attempt:    attempt,
		started:    s.now(),
		logger:     logger,
	}

	err = run.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("submission.status", run.submission.Status))
	return run.submission, err
}

type evaluationRun struct {
	service    *evaluationService
	submission models.Submission
	attempt    int
	started    time.Time
	logger     zerolog.Logger
}

func (r *evaluationRun) execute(ctx context.Context) error {
	source := r.wrapSource()

	if pingErr := r.service.deps.Remote.Ping(ctx); pingErr != nil {
		r.logger.Warn().Err(pingErr).Msg("remote judge unreachable, using local sandbox")
		connectivity := map[string]interface{}{"connectivity_error": pingErr.Error()}

		if err := r.markRunning(ctx); err != nil {
			return err
		}

		tests, err := r.service.deps.Loader.Load(ctx, r.submission.ProblemID, r.submission.Language)
		if err != nil {
			evalErr := asEvaluationError(err)
			for key, value := range connectivity {
				evalErr.Details[key] = value
			}
			return r.fail(ctx, evalErr, nil)
		}
		return r.runLocal(ctx, source, tests, FallbackRemoteUnreachable, connectivity)
	}

	if err := r.markRunning(ctx); err != nil {
		return err
	}

	tests, err := r.service.deps.Loader.Load(ctx, r.submission.ProblemID, r.submission.Language)
	if err != nil {
		return r.fail(ctx, asEvaluationError(err), nil)
	}

	lang, ok := LookupLanguage(r.submission.Language)
	if !ok {
		return r.fail(ctx, newEvaluationError(KindUnsupportedLanguage, fmt.Sprintf("Unsupported language: %s", r.submission.Language), nil, map[string]interface{}{
			"language":  r.submission.Language,
			"supported": SupportedLanguages(),
		}), nil)
	}

	request := judge0.RunRequest{
		SubmissionID: r.submission.ID.String(),
		Source:       source,
		LanguageID:   lang.JudgeID,
		Tests:        make([]judge0.TestCase, 0, len(tests)),
	}
	for _, test := range tests {
		request.Tests = append(request.Tests, judge0.TestCase{Stdin: test.Stdin, ExpectedOutput: test.ExpectedOutput})
	}

	result, err := r.service.deps.Remote.Run(ctx, request)
	if err != nil {
		if errors.Is(err, judge0.ErrNoTokens) {
			r.logger.Warn().Err(err).Msg("remote judge accepted no test cases, using local sandbox")
			return r.runLocal(ctx, source, tests, FallbackRemoteSubmissionFailed, map[string]interface{}{
				"remote_error": err.Error(),
			})
		}
		return r.fail(ctx, newEvaluationError(KindUnexpected, "Remote judge run failed", err, nil), nil)
	}

	if result.Systemic() {
		r.logger.Warn().Int("resolved", result.Resolved()).Msg("remote judge reported internal errors only, using local sandbox")
		if err := r.service.deps.Submissions.DeleteResults(ctx, r.submission.ID); err != nil {
			return r.fail(ctx, newEvaluationError(KindUnexpected, "Failed to clear remote results", storageError("delete results", err), nil), nil)
		}
		return r.runLocal(ctx, source, tests, FallbackRemoteSystemicFailure, map[string]interface{}{
			"remote_tokens": result.Created,
		})
	}

	return r.finishRemote(ctx, tests, result)
}

func (r *evaluationRun) markRunning(ctx context.Context) error {
	r.submission.Status = models.SubmissionStatusRunning
	r.submission.RetryCount = r.attempt
	if err := r.service.deps.Submissions.Update(ctx, &r.submission, "status", "retry_count"); err != nil {
		return r.fail(ctx, newEvaluationError(KindUnexpected, "Failed to mark submission running", storageError("mark running", err), nil), nil)
	}
	return nil
}

func (r *evaluationRun) wrapSource() string {
	if r.service.deps.Templates == nil || r.submission.Problem == nil {
		return r.submission.Code
	}
	lang, ok := LookupLanguage(r.submission.Language)
	if !ok {
		return r.submission.Code
	}
	template, ok := r.service.deps.Templates.Template(*r.submission.Problem, lang)
	if !ok {
		return r.submission.Code
	}

	wrapped := WrapWithTemplate(lang.Name, r.submission.Code, template)
	if wrapped != r.submission.Code {
		r.logger.Debug().Str("language", lang.Name).Msg("submission wrapped with problem template")
	}
	return wrapped
}

func (r *evaluationRun) finishRemote(ctx context.Context, tests []TestCaseSpec, result judge0.RunResult) error {
	rows := make([]models.SubmissionResult, 0, len(tests))
	score, maxScore := 0.0, 0.0
	failed, pending := 0, 0
	tokens := make([]string, 0, len(result.Tokens))
	for _, token := range result.Tokens {
		if token != "" {
			tokens = append(tokens, token)
		}
	}

	for i, test := range tests {
		maxScore += test.Weight
		row := models.SubmissionResult{
			Index:          i,
			Group:          test.Group,
			Weight:         test.Weight,
			Stdin:          test.Stdin,
			ExpectedOutput: test.ExpectedOutput,
		}

		switch {
		case i >= len(result.Tokens) || result.Tokens[i] == "":
			failed++
			row.Status = judge0.SubmissionFailedDescription
			row.Raw = datatypes.JSONMap{"error": "judge did not accept the test case"}
		case i >= len(result.Outcomes) || result.Outcomes[i] == nil:
			pending++
			row.Status = judge0.UnresolvedDescription
			row.Raw = datatypes.JSONMap{"token": result.Tokens[i]}
		default:
			outcome := result.Outcomes[i]
			if outcome.Passed {
				score += test.Weight
			}
			row.Output = outcome.Output
			row.Passed = outcome.Passed
			row.Status = outcome.Status.Description
			row.TimeMs = outcome.TimeMs
			row.MemoryKB = outcome.MemoryKB
			row.Raw = datatypes.JSONMap(outcome.Raw)
		}
		rows = append(rows, row)
	}

	r.submission.Score = score
	r.submission.MaxScore = maxScore
	r.submission.JudgeTokens = datatypes.JSONSlice[string](tokens)
	r.submission.RetryCount = r.attempt

	if pending > 0 {
		evalErr := newEvaluationError(KindPollTimeout, "Timed out waiting for judge results", nil, map[string]interface{}{
			"unresolved":          pending,
			"resolved":            result.Resolved(),
			"submission_failures": failed,
			"poll_time_s":         result.PollTime,
			"details":             fmt.Sprintf("%d of %d test cases did not finish", pending, len(tests)),
		})
		return r.fail(ctx, evalErr, rows)
	}

	if failed > 0 {
		r.logger.Warn().Int("submission_failures", failed).Msg("judge rejected some test cases, scoring the rest")
	}

	r.submission.Status = models.SubmissionStatusDone
	r.submission.Diagnostics = datatypes.JSONMap{
		"local_execution":     false,
		"duration_s":          r.service.now().Sub(r.started).Seconds(),
		"poll_time_s":         result.PollTime,
		"tokens":              len(tokens),
		"submission_failures": failed,
	}
	return r.complete(ctx, rows, "remote")
}

func (r *evaluationRun) runLocal(ctx context.Context, source string, tests []TestCaseSpec, reason string, extra map[string]interface{}) error {
	observability.EvaluationFallbacks().WithLabelValues(reason).Inc()

	ctx, span := r.service.tracer.Start(ctx, "evaluation.local_fallback", trace.WithAttributes(
		attribute.String("evaluation.fallback_reason", reason),
	))
	defer span.End()

	cases := make([]sandbox.Case, 0, len(tests))
	for _, test := range tests {
		cases = append(cases, sandbox.Case{Stdin: test.Stdin, ExpectedOutput: test.ExpectedOutput})
	}

	results, err := r.service.deps.Local.Execute(ctx, sandbox.ExecuteRequest{
		SubmissionID: r.submission.ID.String(),
		Language:     r.submission.Language,
		Source:       source,
		Cases:        cases,
	})
	if err != nil {
		span.RecordError(err)
		details := map[string]interface{}{
			"fallback_reason": reason,
			"fallback_error":  err.Error(),
		}
		for key, value := range extra {
			details[key] = value
		}
		if errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			details["language"] = r.submission.Language
			return r.fail(ctx, newEvaluationError(KindUnsupportedLanguage, fmt.Sprintf("Unsupported language: %s", r.submission.Language), err, details), nil)
		}
		return r.fail(ctx, newEvaluationError(KindLocalExecution, "Local execution failed", err, details), nil)
	}

	rows := make([]models.SubmissionResult, 0, len(results))
	score, maxScore := 0.0, 0.0
	for i, test := range tests {
		maxScore += test.Weight
		if i >= len(results) {
			continue
		}
		result := results[i]
		if result.Passed {
			score += test.Weight
		}
		rows = append(rows, models.SubmissionResult{
			Index:          i,
			Group:          test.Group,
			Weight:         test.Weight,
			Stdin:          test.Stdin,
			ExpectedOutput: test.ExpectedOutput,
			Output:         result.Output,
			Passed:         result.Passed,
			Status:         result.Status,
			TimeMs:         result.TimeMs,
			MemoryKB:       result.MemoryKB,
			Raw: datatypes.JSONMap{
				"stderr":       result.Stderr,
				"exit_code":    result.ExitCode,
				"low_fidelity": result.LowFidelity,
			},
		})
	}

	diagnostics := datatypes.JSONMap{
		"local_execution": true,
		"fallback_reason": reason,
		"timestamp":       r.service.now().UTC().Format(time.RFC3339),
		"duration_s":      r.service.now().Sub(r.started).Seconds(),
	}
	for key, value := range extra {
		diagnostics[key] = value
	}

	r.submission.Status = models.SubmissionStatusDone
	r.submission.Score = score
	r.submission.MaxScore = maxScore
	r.submission.RetryCount = r.attempt
	r.submission.Diagnostics = diagnostics

	r.logger.Info().Str("fallback_reason", reason).Float64("score", score).Float64("max_score", maxScore).Msg("submission judged locally")
	return r.complete(ctx, rows, "local")
}

func (r *evaluationRun) complete(ctx context.Context, rows []models.SubmissionResult, path string) error {
	completedAt := r.service.now()
	r.submission.CompletedAt = &completedAt

	if err := r.service.deps.Submissions.SaveOutcome(ctx, &r.submission, rows); err != nil {
		return r.fail(ctx, newEvaluationError(KindUnexpected, "Failed to store evaluation results", storageError("save outcome", err), nil), nil)
	}
	r.submission.Results = rows

	observability.Evaluations().WithLabelValues(models.SubmissionStatusDone, "").Inc()
	observability.EvaluationDuration().WithLabelValues(path).Observe(completedAt.Sub(r.started).Seconds())
	r.logger.Info().
		Float64("score", r.submission.Score).
		Float64("max_score", r.submission.MaxScore).
		Str("path", path).
		Msg("submission judged")

	r.afterDone(ctx)
	return nil
}

// afterDone runs best effort side effects that must never flip the verdict.
func (r *evaluationRun) afterDone(ctx context.Context) {
	deps := r.service.deps

	changed := false
	if deps.Aggregator != nil {
		updated, err := deps.Aggregator.Update(ctx, r.submission)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to update best attempt")
		}
		changed = updated
	}

	var contestID *uint
	if r.submission.Problem != nil {
		contestID = r.submission.Problem.ContestID
	}
	// Contest boards list participants with zero solves, so any contest attempt can change them.
	joinedContest := contestID != nil && r.submission.StudentID != nil
	if (changed || joinedContest) && deps.Leaderboard != nil {
		deps.Leaderboard.Invalidate(ctx, contestID)
	}

	if deps.Events != nil {
		if err := deps.Events.PublishJudged(ctx, r.submission); err != nil {
			r.logger.Warn().Err(err).Msg("failed to publish judged event")
		}
	}
}

// fail persists a terminal ERROR with structured diagnostics. Rows, when given, replace prior results.
func (r *evaluationRun) fail(ctx context.Context, evalErr *EvaluationError, rows []models.SubmissionResult) error {
	diagnostics := evalErr.Diagnostics()
	if evalErr.Kind == KindUnexpected {
		diagnostics["retry_count"] = r.attempt
	}

	completedAt := r.service.now()
	r.submission.Status = models.SubmissionStatusError
	r.submission.Diagnostics = diagnostics
	r.submission.RetryCount = r.attempt
	r.submission.CompletedAt = &completedAt

	var persistErr error
	if rows != nil {
		persistErr = r.service.deps.Submissions.SaveOutcome(ctx, &r.submission, rows)
		if persistErr == nil {
			r.submission.Results = rows
		}
	} else {
		persistErr = r.service.deps.Submissions.Update(ctx, &r.submission, "status", "diagnostics", "retry_count", "completed_at")
	}

	observability.Evaluations().WithLabelValues(models.SubmissionStatusError, string(evalErr.Kind)).Inc()
	observability.EvaluationDuration().WithLabelValues("error").Observe(completedAt.Sub(r.started).Seconds())

	event := r.logger.Error()
	if evalErr.Transient() {
		event = r.logger.Warn()
	}
	event.Err(evalErr.Err).Str("kind", string(evalErr.Kind)).Interface("diagnostics", diagnostics).Msg(evalErr.Message)

	if persistErr != nil {
		r.logger.Error().Err(persistErr).Str("kind", string(evalErr.Kind)).Msg("failed to persist evaluation failure")
		if evalErr.Transient() {
			return evalErr
		}
		return newEvaluationError(KindUnexpected, "Failed to persist evaluation failure", storageError("persist failure", persistErr), map[string]interface{}{
			"original_kind": string(evalErr.Kind),
		})
	}

	return evalErr
}

func asEvaluationError(err error) *EvaluationError {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Details == nil {
			evalErr.Details = map[string]interface{}{}
		}
		return evalErr
	}
	return newEvaluationError(KindUnexpected, "Unexpected evaluation failure", err, nil)
}
