package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

func setupJudgeTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.JudgeModels()...))
	return db
}

func seedContestProblem(t *testing.T, db *gorm.DB) (models.Contest, models.Problem) {
	t.Helper()
	contest := models.Contest{Name: "Junior Round", StartAt: time.Now().Add(-time.Hour), DurationMinutes: 120, IsActive: true}
	require.NoError(t, db.Create(&contest).Error)
	problem := models.Problem{ContestID: &contest.ID, Code: "sum", Title: "Sum"}
	require.NoError(t, db.Create(&problem).Error)
	return contest, problem
}

func TestSubmissionRepositorySaveOutcomeReplacesResults(t *testing.T) {
	db := setupJudgeTestDB(t)
	_, problem := seedContestProblem(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	submission := models.Submission{ProblemID: problem.ID, Code: "print(1)", Language: "python"}
	require.NoError(t, repo.Create(ctx, &submission))
	require.NotEqual(t, uuid.Nil, submission.ID)
	require.Equal(t, models.SubmissionStatusQueued, submission.Status)

	first := []models.SubmissionResult{
		{Index: 0, Group: "default", Weight: 1, Passed: true, Status: "Accepted"},
		{Index: 1, Group: "default", Weight: 1, Passed: false, Status: "Internal Error"},
		{Index: 2, Group: "default", Weight: 1, Passed: false, Status: "Internal Error"},
	}
	submission.Status = models.SubmissionStatusError
	require.NoError(t, repo.SaveOutcome(ctx, &submission, first))

	now := time.Now()
	second := []models.SubmissionResult{
		{Index: 0, Group: "default", Weight: 2, Passed: true, Status: "Accepted"},
		{Index: 1, Group: "default", Weight: 1, Passed: false, Status: "Wrong Answer"},
	}
	submission.Status = models.SubmissionStatusDone
	submission.Score = 2
	submission.MaxScore = 3
	submission.CompletedAt = &now
	submission.Diagnostics = datatypes.JSONMap{"local_execution": true}
	require.NoError(t, repo.SaveOutcome(ctx, &submission, second))

	stored, err := repo.GetWithResults(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusDone, stored.Status)
	require.Equal(t, 2.0, stored.Score)
	require.Equal(t, 3.0, stored.MaxScore)
	require.Equal(t, true, stored.Diagnostics["local_execution"])
	require.Len(t, stored.Results, 2)
	require.Equal(t, "Wrong Answer", stored.Results[1].Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestSubmissionRepositoryUpdateSelectedFields(t *testing.T) {
	db := setupJudgeTestDB(t)
	_, problem := seedContestProblem(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	submission := models.Submission{ProblemID: problem.ID, Code: "x", Language: "python"}
	require.NoError(t, repo.Create(ctx, &submission))

	submission.Status = models.SubmissionStatusRunning
	submission.Code = "changed"
	require.NoError(t, repo.Update(ctx, &submission, "status"))

	stored, err := repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusRunning, stored.Status)
	require.Equal(t, "x", stored.Code)
	require.NotNil(t, stored.Problem)
	require.NotNil(t, stored.Problem.Contest)
}

func TestSubmissionRepositoryListContestParticipants(t *testing.T) {
	db := setupJudgeTestDB(t)
	contest, problem := seedContestProblem(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	other := models.Problem{Code: "practice", Title: "Practice"}
	require.NoError(t, db.Create(&other).Error)

	alice, bob, carol := uint(1), uint(2), uint(3)
	for _, sub := range []models.Submission{
		{StudentID: &bob, ProblemID: problem.ID, Code: "a", Language: "python"},
		{StudentID: &alice, ProblemID: problem.ID, Code: "b", Language: "python"},
		{StudentID: &alice, ProblemID: problem.ID, Code: "c", Language: "python"},
		{StudentID: &carol, ProblemID: other.ID, Code: "d", Language: "python"},
		{ProblemID: problem.ID, Code: "anon", Language: "python"},
	} {
		sub := sub
		require.NoError(t, repo.Create(ctx, &sub))
	}

	ids, err := repo.ListContestParticipants(ctx, contest.ID)
	require.NoError(t, err)
	require.Equal(t, []uint{1, 2}, ids)
}

func TestBestAttemptRepositoryApply(t *testing.T) {
	db := setupJudgeTestDB(t)
	contest, problem := seedContestProblem(t, db)
	repo := NewBestAttemptRepository(db)
	ctx := context.Background()

	untouched, err := repo.Apply(ctx, 7, problem.ID, func(*models.BestAttempt) bool { return false })
	require.NoError(t, err)
	require.False(t, untouched.IsSolved)

	solvedAt := contest.StartAt.Add(10 * time.Minute)
	best := 120.0
	updated, err := repo.Apply(ctx, 7, problem.ID, func(a *models.BestAttempt) bool {
		a.IsSolved = true
		a.SolvedAt = &solvedAt
		a.BestTimeMs = &best
		return true
	})
	require.NoError(t, err)
	require.True(t, updated.IsSolved)

	stored, err := repo.Get(ctx, 7, problem.ID)
	require.NoError(t, err)
	require.Equal(t, updated.ID, stored.ID)
	require.InDelta(t, 120.0, *stored.BestTimeMs, 0.0001)

	var count int64
	require.NoError(t, db.Model(&models.BestAttempt{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	byContest, err := repo.ListSolvedByContest(ctx, contest.ID)
	require.NoError(t, err)
	require.Len(t, byContest, 1)

	all, err := repo.ListSolved(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestTestArtifactRepositoryListFor(t *testing.T) {
	db := setupJudgeTestDB(t)
	_, problem := seedContestProblem(t, db)
	repo := NewTestArtifactRepository(db)

	for _, artifact := range []models.TestArtifact{
		{ProblemID: problem.ID, Language: "python", StorageKey: "b.json"},
		{ProblemID: problem.ID, Language: "cpp", StorageKey: "c.json"},
		{ProblemID: problem.ID, Language: "python", StorageKey: "a.json"},
	} {
		artifact := artifact
		require.NoError(t, db.Create(&artifact).Error)
	}

	artifacts, err := repo.ListFor(context.Background(), problem.ID, "python")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	require.Equal(t, "b.json", artifacts[0].StorageKey)
	require.Equal(t, "a.json", artifacts[1].StorageKey)
}

func TestStudentRepositoryListByIDs(t *testing.T) {
	db := setupJudgeTestDB(t)
	repo := NewStudentRepository(db)

	for i, name := range []string{"Ayu", "Budi", "Citra"} {
		student := models.Student{Name: name, Email: fmt.Sprintf("s%d@example.com", i)}
		require.NoError(t, db.Create(&student).Error)
	}

	students, err := repo.ListByIDs(context.Background(), []uint{3, 1})
	require.NoError(t, err)
	require.Len(t, students, 2)
	require.Equal(t, "Ayu", students[0].Name)

	empty, err := repo.ListByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
}
