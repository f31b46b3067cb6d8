package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/pkg/judge0"
	"github.com/noah-isme/gema-judge-api/pkg/sandbox"
	"github.com/noah-isme/gema-judge-api/pkg/storage"
)

func setupJudgeServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.JudgeModels()...))
	return db
}

func seedContestProblem(t *testing.T, db *gorm.DB, start time.Time) (models.Contest, models.Problem) {
	t.Helper()
	contest := models.Contest{Name: "Junior Round", StartAt: start, DurationMinutes: 120, IsActive: true}
	require.NoError(t, db.Create(&contest).Error)
	problem := models.Problem{ContestID: &contest.ID, Code: "sum", Title: "Sum of two"}
	require.NoError(t, db.Create(&problem).Error)
	return contest, problem
}

func seedStudent(t *testing.T, db *gorm.DB, name string) models.Student {
	t.Helper()
	student := models.Student{Name: name, Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com"}
	require.NoError(t, db.Create(&student).Error)
	return student
}

func seedSubmission(t *testing.T, db *gorm.DB, problemID uint, studentID *uint, language string) models.Submission {
	t.Helper()
	submission := models.Submission{
		StudentID: studentID,
		ProblemID: problemID,
		Code:      "class Solution:\n    pass\n",
		Language:  language,
	}
	require.NoError(t, db.Create(&submission).Error)
	return submission
}

// memoryStore serves artifacts from an in-memory map.
type memoryStore map[string]string

func (m memoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	content, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func seedArtifact(t *testing.T, db *gorm.DB, store memoryStore, problemID uint, language, key, body string) {
	t.Helper()
	require.NoError(t, db.Create(&models.TestArtifact{ProblemID: problemID, Language: language, StorageKey: key}).Error)
	if body != "" {
		store[key] = body
	}
}

type stubRemote struct {
	mu       sync.Mutex
	pingErr  error
	run      func(req judge0.RunRequest) (judge0.RunResult, error)
	pings    int
	requests []judge0.RunRequest
}

func (s *stubRemote) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *stubRemote) Run(_ context.Context, req judge0.RunRequest) (judge0.RunResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.run == nil {
		return judge0.RunResult{}, fmt.Errorf("unexpected remote run")
	}
	return s.run(req)
}

func (s *stubRemote) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubLocal struct {
	execute  func(req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error)
	requests []sandbox.ExecuteRequest
}

func (s *stubLocal) Execute(_ context.Context, req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error) {
	s.requests = append(s.requests, req)
	if s.execute == nil {
		return nil, fmt.Errorf("unexpected local run")
	}
	return s.execute(req)
}

// acceptAll passes every case with placeholder timings.
func acceptAll(req sandbox.ExecuteRequest) ([]sandbox.CaseResult, error) {
	results := make([]sandbox.CaseResult, 0, len(req.Cases))
	for i, c := range req.Cases {
		results = append(results, sandbox.CaseResult{
			Index:          i,
			Status:         sandbox.StatusAccepted,
			Passed:         true,
			TimeMs:         100,
			MemoryKB:       1024,
			Output:         strings.TrimSpace(c.ExpectedOutput),
			ExpectedOutput: c.ExpectedOutput,
			LowFidelity:    true,
		})
	}
	return results, nil
}

type recordingEvents struct {
	published []models.Submission
	err       error
}

func (r *recordingEvents) PublishJudged(_ context.Context, submission models.Submission) error {
	r.published = append(r.published, submission)
	return r.err
}

type recordingInvalidator struct {
	calls []*uint
}

func (r *recordingInvalidator) Invalidate(_ context.Context, contestID *uint) {
	r.calls = append(r.calls, contestID)
}

type staticTemplates map[string]string

func (s staticTemplates) Template(_ models.Problem, lang Language) (string, bool) {
	template, ok := s[lang.Name]
	return template, ok
}

func outcome(passed bool, description string, timeMs float64) *judge0.Outcome {
	statusID := 3
	if !passed {
		statusID = 4
	}
	if description == judge0.InternalErrorDescription {
		statusID = 13
	}
	return &judge0.Outcome{
		Token:    fmt.Sprintf("tok-%s-%v", description, timeMs),
		Status:   judge0.Status{ID: statusID, Description: description},
		TimeMs:   timeMs,
		MemoryKB: 2048,
		Passed:   passed,
		Raw:      map[string]interface{}{"status": description},
	}
}

// requireDiagnosticNumber compares numbers that may come back from JSON columns as json.Number.
func requireDiagnosticNumber(t *testing.T, want float64, diagnostics map[string]interface{}, key string) {
	t.Helper()
	got, ok := diagnosticFloat(diagnostics, key)
	require.True(t, ok, "diagnostic %q is not numeric: %#v", key, diagnostics[key])
	require.Equal(t, want, got)
}

// statusHistory records every status the evaluator writes.
type statusHistory struct {
	repository.SubmissionRepository
	mu       sync.Mutex
	statuses []string
}

func (s *statusHistory) Update(ctx context.Context, submission *models.Submission, fields ...string) error {
	s.record(submission.Status)
	return s.SubmissionRepository.Update(ctx, submission, fields...)
}

func (s *statusHistory) SaveOutcome(ctx context.Context, submission *models.Submission, results []models.SubmissionResult) error {
	s.record(submission.Status)
	return s.SubmissionRepository.SaveOutcome(ctx, submission, results)
}

func (s *statusHistory) record(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *statusHistory) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}
