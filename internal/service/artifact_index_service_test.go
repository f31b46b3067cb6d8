package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/pkg/storage"
)

func writeArtifactFile(t *testing.T, root, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, dir, name), []byte(body), 0o600))
}

func TestArtifactIndexServiceReindex(t *testing.T) {
	db := setupJudgeServiceDB(t)
	_, problem := seedContestProblem(t, db, time.Now())
	dir := fmt.Sprintf("problem_%d", problem.ID)

	root := t.TempDir()
	valid := `{"test_cases":[{"stdin":"1 2","expected_output":"3"}]}`
	writeArtifactFile(t, root, dir, "python_basic.json", valid)
	writeArtifactFile(t, root, dir, "c++_edge.json", valid)
	writeArtifactFile(t, root, dir, "rust_basic.json", valid)
	writeArtifactFile(t, root, dir, "python_empty.json", `{"test_cases":[]}`)
	writeArtifactFile(t, root, dir, "notes.txt", "ignored")
	writeArtifactFile(t, root, "problem_999", "python_basic.json", valid)
	writeArtifactFile(t, root, "problem_abc", "python_basic.json", valid)

	require.NoError(t, db.Create(&models.TestArtifact{ProblemID: problem.ID, Language: "python", StorageKey: dir + "/python_basic.json"}).Error)

	artifacts := repository.NewTestArtifactRepository(db)
	service := NewArtifactIndexService(storage.NewFileStore(root), repository.NewProblemRepository(db), artifacts, zerolog.Nop())

	dry, err := service.Reindex(context.Background(), ReindexOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Equal(t, 1, dry.EntriesCreated)
	listed, err := artifacts.ListFor(context.Background(), problem.ID, "cpp")
	require.NoError(t, err)
	require.Empty(t, listed)

	report, err := service.Reindex(context.Background(), ReindexOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, report.ProblemsProcessed)
	require.Equal(t, 4, report.FilesFound)
	require.Equal(t, 1, report.EntriesExisted)
	require.Equal(t, 1, report.EntriesCreated)
	require.Equal(t, 3, report.FilesOrphaned)
	require.Equal(t, 1, report.Errors)
	require.NotEmpty(t, report.Issues)

	listed, err = artifacts.ListFor(context.Background(), problem.ID, "cpp")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, dir+"/c++_edge.json", listed[0].StorageKey)

	again, err := service.Reindex(context.Background(), ReindexOptions{ProblemID: &problem.ID})
	require.NoError(t, err)
	require.Equal(t, 1, again.ProblemsProcessed)
	require.Zero(t, again.EntriesCreated)
	require.Equal(t, 2, again.EntriesExisted)
}

func TestLanguageFromArtifactName(t *testing.T) {
	require.Equal(t, "python", languageFromArtifactName("py_cases.json"))
	require.Equal(t, "python", languageFromArtifactName("Python3_cases.json"))
	require.Equal(t, "cpp", languageFromArtifactName("cxx.json"))
	require.Equal(t, "java", languageFromArtifactName("java_big_inputs.json"))
}
