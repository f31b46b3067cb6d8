package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/pkg/judge0"
	"github.com/noah-isme/gema-judge-api/pkg/sandbox"
)

const weightedArtifact = `{"test_cases":[
	{"stdin":"1 2","expected_output":"3","group":"basic","weight":2},
	{"stdin":"2 2","expected_output":"4","group":"edge","weight":1}
]}`

type evaluationFixture struct {
	db          *gorm.DB
	problem     models.Problem
	contest     models.Contest
	student     models.Student
	store       memoryStore
	remote      *stubRemote
	local       *stubLocal
	events      *recordingEvents
	invalidator *recordingInvalidator
	service     EvaluationService
	submissions repository.SubmissionRepository
	history     *statusHistory
	attempts    repository.BestAttemptRepository
}

func newEvaluationFixture(t *testing.T) *evaluationFixture {
	t.Helper()
	db := setupJudgeServiceDB(t)
	contest, problem := seedContestProblem(t, db, time.Now().Add(-time.Hour))
	student := seedStudent(t, db, "Ada Lovelace")
	history := &statusHistory{SubmissionRepository: repository.NewSubmissionRepository(db)}

	f := &evaluationFixture{
		db:          db,
		problem:     problem,
		contest:     contest,
		student:     student,
		store:       memoryStore{},
		remote:      &stubRemote{},
		local:       &stubLocal{},
		events:      &recordingEvents{},
		invalidator: &recordingInvalidator{},
		submissions: history,
		history:     history,
		attempts:    repository.NewBestAttemptRepository(db),
	}

	logger := zerolog.Nop()
	f.service = NewEvaluationService(EvaluationDependencies{
		Submissions: f.submissions,
		Loader:      NewTestSuiteLoader(repository.NewTestArtifactRepository(db), f.store, logger),
		Remote:      f.remote,
		Local:       f.local,
		Aggregator:  NewScoreAggregator(f.submissions, f.attempts, logger),
		Leaderboard: f.invalidator,
		Events:      f.events,
	}, logger)
	return f
}

func (f *evaluationFixture) submit(t *testing.T, language string) models.Submission {
	t.Helper()
	return seedSubmission(t, f.db, f.problem.ID, &f.student.ID, language)
}

func (f *evaluationFixture) reload(t *testing.T, id uuid.UUID) models.Submission {
	t.Helper()
	submission, err := f.submissions.GetWithResults(context.Background(), id)
	require.NoError(t, err)
	return submission
}

func requireKind(t *testing.T, err error, kind ErrorKind) *EvaluationError {
	t.Helper()
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, kind, evalErr.Kind)
	return evalErr
}

func TestEvaluateRemoteWeightedScore(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		require.Equal(t, 71, req.LanguageID)
		require.Len(t, req.Tests, 2)
		return judge0.RunResult{
			Tokens:   []string{"a", "b"},
			Outcomes: []*judge0.Outcome{outcome(true, "Accepted", 12), outcome(false, "Wrong Answer", 8)},
			Created:  2,
			PollTime: 1.5,
		}, nil
	}

	submission := f.submit(t, "python")
	result, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusDone, result.Status)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Equal(t, 2.0, stored.Score)
	require.Equal(t, 3.0, stored.MaxScore)
	require.Len(t, stored.Results, 2)
	require.Equal(t, "basic", stored.Results[0].Group)
	require.True(t, stored.Results[0].Passed)
	require.False(t, stored.Results[1].Passed)
	require.Equal(t, []string{"a", "b"}, []string(stored.JudgeTokens))
	require.Equal(t, false, stored.Diagnostics["local_execution"])
	require.NotNil(t, stored.CompletedAt)

	require.Len(t, f.events.published, 1)
	require.Equal(t, []string{models.SubmissionStatusRunning, models.SubmissionStatusDone}, f.history.written())
	require.Empty(t, f.local.requests)

	_, err = f.attempts.Get(context.Background(), f.student.ID, f.problem.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Len(t, f.invalidator.calls, 1, "an unsolved contest attempt still lists the participant")
	require.Equal(t, f.contest.ID, *f.invalidator.calls[0])
}

func TestEvaluateSkipsInvalidationOutsideContests(t *testing.T) {
	f := newEvaluationFixture(t)
	practice := models.Problem{Code: "warmup", Title: "Warm up"}
	require.NoError(t, f.db.Create(&practice).Error)
	seedArtifact(t, f.db, f.store, practice.ID, "python", "warmup/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		return judge0.RunResult{
			Tokens:   []string{"a", "b"},
			Outcomes: []*judge0.Outcome{outcome(false, "Wrong Answer", 5), outcome(false, "Wrong Answer", 5)},
			Created:  2,
		}, nil
	}

	submission := seedSubmission(t, f.db, practice.ID, &f.student.ID, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)
	require.Empty(t, f.invalidator.calls)
}

func TestEvaluateScoresAcceptedSubsetWhenCreatesFail(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		return judge0.RunResult{
			Tokens:   []string{"a", ""},
			Outcomes: []*judge0.Outcome{outcome(true, "Accepted", 7), nil},
			Created:  1,
		}, nil
	}

	submission := f.submit(t, "python")
	result, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusDone, result.Status)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Equal(t, 2.0, stored.Score)
	require.Equal(t, 3.0, stored.MaxScore)
	require.Len(t, stored.Results, 2)

	weights := 0.0
	for _, row := range stored.Results {
		weights += row.Weight
	}
	require.Equal(t, stored.MaxScore, weights)

	require.Equal(t, judge0.SubmissionFailedDescription, stored.Results[1].Status)
	require.False(t, stored.Results[1].Passed)
	require.Equal(t, []string{"a"}, []string(stored.JudgeTokens))
	requireDiagnosticNumber(t, 1, stored.Diagnostics, "submission_failures")
	require.Nil(t, stored.Diagnostics["kind"])
	require.Len(t, f.events.published, 1)
}

func TestEvaluateSkipsDoneSubmissions(t *testing.T) {
	f := newEvaluationFixture(t)
	submission := f.submit(t, "python")
	require.NoError(t, f.db.Model(&submission).Update("status", models.SubmissionStatusDone).Error)

	result, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusDone, result.Status)
	require.Zero(t, f.remote.pings)
	require.Zero(t, f.remote.runCount())
	require.Empty(t, f.events.published)
}

func TestEvaluateMissingSubmission(t *testing.T) {
	f := newEvaluationFixture(t)

	_, err := f.service.Evaluate(context.Background(), uuid.New(), 0)
	evalErr := requireKind(t, err, KindSubmissionNotFound)
	require.False(t, evalErr.Transient())
}

func TestEvaluateConnectivityDownUsesLocalSandbox(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.pingErr = errors.New("dial tcp 127.0.0.1:2358: connect: connection refused")
	f.local.execute = acceptAll

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Equal(t, 3.0, stored.Score)
	require.Equal(t, 3.0, stored.MaxScore)
	require.Equal(t, true, stored.Diagnostics["local_execution"])
	require.Equal(t, FallbackRemoteUnreachable, stored.Diagnostics["fallback_reason"])
	require.Contains(t, stored.Diagnostics["connectivity_error"], "connection refused")
	require.NotEmpty(t, stored.Diagnostics["timestamp"])
	require.Zero(t, f.remote.runCount())
	require.Equal(t, []string{models.SubmissionStatusRunning, models.SubmissionStatusDone}, f.history.written())

	attempt, err := f.attempts.Get(context.Background(), f.student.ID, f.problem.ID)
	require.NoError(t, err)
	require.True(t, attempt.IsSolved)
	require.True(t, attempt.LowFidelity)
	require.Len(t, f.invalidator.calls, 1)
	require.NotNil(t, f.invalidator.calls[0])
	require.Equal(t, f.contest.ID, *f.invalidator.calls[0])
}

func TestEvaluateConnectivityDownWithoutArtifacts(t *testing.T) {
	f := newEvaluationFixture(t)
	f.remote.pingErr = errors.New("judge unreachable")

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	requireKind(t, err, KindNoTestArtifacts)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Equal(t, "No test cases available for this problem", stored.Diagnostics["error"])
	require.Equal(t, "judge unreachable", stored.Diagnostics["connectivity_error"])
	require.Equal(t, string(KindNoTestArtifacts), stored.Diagnostics["kind"])
	require.Empty(t, f.local.requests)
}

func TestEvaluateLocalFailureRecordsBothErrors(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.pingErr = errors.New("judge unreachable")
	f.local.execute = func(req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error) {
		return nil, errors.New("docker daemon not running")
	}

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	requireKind(t, err, KindLocalExecution)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Equal(t, "judge unreachable", stored.Diagnostics["connectivity_error"])
	require.Equal(t, "docker daemon not running", stored.Diagnostics["fallback_error"])
	require.Equal(t, []string{models.SubmissionStatusRunning, models.SubmissionStatusError}, f.history.written())
}

func TestEvaluateLocalUnsupportedLanguageIsTerminal(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "cpp", "sum/tests.json", weightedArtifact)
	f.remote.pingErr = errors.New("judge unreachable")
	f.local.execute = func(req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error) {
		return nil, sandbox.ErrUnsupportedLanguage
	}

	submission := f.submit(t, "cpp")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	evalErr := requireKind(t, err, KindUnsupportedLanguage)
	require.False(t, evalErr.Transient())

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Equal(t, string(KindUnsupportedLanguage), stored.Diagnostics["kind"])
	require.Equal(t, "cpp", stored.Diagnostics["language"])
	require.Equal(t, "judge unreachable", stored.Diagnostics["connectivity_error"])
	require.Contains(t, stored.Diagnostics["fallback_error"], "unsupported language")
}

func TestEvaluateLocalInternalErrorsScoreZero(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.pingErr = errors.New("judge unreachable")
	f.local.execute = func(req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error) {
		results := make([]sandbox.CaseResult, len(req.Cases))
		for i := range results {
			results[i] = sandbox.CaseResult{Index: i, Status: sandbox.StatusInternalError, LowFidelity: true}
		}
		return results, nil
	}

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Zero(t, stored.Score)
	require.Equal(t, 3.0, stored.MaxScore)
	require.False(t, stored.IsSolved())
}

func TestEvaluateSystemicFailureReplacesRows(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		return judge0.RunResult{
			Tokens: []string{"a", "b"},
			Outcomes: []*judge0.Outcome{
				outcome(false, judge0.InternalErrorDescription, 0),
				outcome(false, judge0.InternalErrorDescription, 0),
			},
			Created: 2,
		}, nil
	}
	f.local.execute = acceptAll

	submission := f.submit(t, "python")
	stale := []models.SubmissionResult{
		{Index: 0, Group: "default", Weight: 1, Status: judge0.InternalErrorDescription},
		{Index: 1, Group: "default", Weight: 1, Status: judge0.InternalErrorDescription},
		{Index: 2, Group: "default", Weight: 1, Status: judge0.InternalErrorDescription},
	}
	require.NoError(t, f.submissions.SaveOutcome(context.Background(), &submission, stale))

	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Len(t, stored.Results, 2)
	for _, result := range stored.Results {
		require.Equal(t, sandbox.StatusAccepted, result.Status)
	}
	require.Equal(t, FallbackRemoteSystemicFailure, stored.Diagnostics["fallback_reason"])
	require.Equal(t, true, stored.Diagnostics["local_execution"])
}

func TestEvaluateNoTokensFallsBackLocally(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		return judge0.RunResult{Tokens: make([]string, len(req.Tests))}, judge0.ErrNoTokens
	}
	f.local.execute = acceptAll

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Equal(t, FallbackRemoteSubmissionFailed, stored.Diagnostics["fallback_reason"])
	require.Len(t, f.local.requests, 1)
}

func TestEvaluatePollTimeoutKeepsPartialResults(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		return judge0.RunResult{
			Tokens:     []string{"a", "b"},
			Outcomes:   []*judge0.Outcome{outcome(true, "Accepted", 10), nil},
			Created:    2,
			Unresolved: 1,
			PollTime:   120,
		}, nil
	}

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	requireKind(t, err, KindPollTimeout)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Len(t, stored.Results, 2)
	require.Equal(t, judge0.UnresolvedDescription, stored.Results[1].Status)
	require.False(t, stored.Results[1].Passed)
	require.Equal(t, 2.0, stored.Score)
	require.Equal(t, 3.0, stored.MaxScore)
	requireDiagnosticNumber(t, 1, stored.Diagnostics, "unresolved")
	requireDiagnosticNumber(t, 0, stored.Diagnostics, "submission_failures")
	require.Equal(t, string(KindPollTimeout), stored.Diagnostics["kind"])
	require.Empty(t, f.events.published)
}

func TestEvaluateUnsupportedLanguage(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "rust", "sum/tests.json", weightedArtifact)

	submission := f.submit(t, "rust")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	requireKind(t, err, KindUnsupportedLanguage)

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.True(t, strings.HasPrefix(stored.Diagnostics["error"].(string), "Unsupported language"))
	require.Zero(t, f.remote.runCount())
}

func TestEvaluateRemoteTransportErrorIsTransient(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)
	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		return judge0.RunResult{}, context.DeadlineExceeded
	}

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 2)
	evalErr := requireKind(t, err, KindUnexpected)
	require.True(t, evalErr.Transient())

	stored := f.reload(t, submission.ID)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Equal(t, 2, stored.RetryCount)
	requireDiagnosticNumber(t, 2, stored.Diagnostics, "retry_count")
}

func TestEvaluateWrapsSourceWithTemplate(t *testing.T) {
	f := newEvaluationFixture(t)
	seedArtifact(t, f.db, f.store, f.problem.ID, "python", "sum/tests.json", weightedArtifact)

	logger := zerolog.Nop()
	f.service = NewEvaluationService(EvaluationDependencies{
		Submissions: f.submissions,
		Loader:      NewTestSuiteLoader(repository.NewTestArtifactRepository(f.db), f.store, logger),
		Templates: staticTemplates{
			"python": "import sys\nclass Solution:\n    def solve(self):\n        return 0\n# --- Input/Output Handling ---\nprint(Solution().solve())\n",
		},
		Remote: f.remote,
		Local:  f.local,
	}, logger)

	f.remote.run = func(req judge0.RunRequest) (judge0.RunResult, error) {
		require.Contains(t, req.Source, "import sys")
		require.Contains(t, req.Source, "pass")
		require.Contains(t, req.Source, "print(Solution().solve())")
		require.NotContains(t, req.Source, "return 0")
		return judge0.RunResult{
			Tokens:   []string{"a", "b"},
			Outcomes: []*judge0.Outcome{outcome(true, "Accepted", 1), outcome(true, "Accepted", 1)},
			Created:  2,
		}, nil
	}

	submission := f.submit(t, "python")
	_, err := f.service.Evaluate(context.Background(), submission.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, f.remote.runCount())
}
