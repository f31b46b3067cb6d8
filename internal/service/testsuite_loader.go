package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/pkg/storage"
)

const (
	defaultTestGroup  = "default"
	defaultTestWeight = 1.0
	maxArtifactBytes  = 16 << 20
)

// TestCaseSpec is one weighted test case loaded for an evaluation.
type TestCaseSpec struct {
	Stdin          string
	ExpectedOutput string
	Group          string
	Weight         float64
	Visible        bool
}

// TestSuiteLoader resolves the ordered test cases for a problem and language.
type TestSuiteLoader interface {
	Load(ctx context.Context, problemID uint, language string) ([]TestCaseSpec, error)
}

type testSuiteLoader struct {
	artifacts repository.TestArtifactRepository
	store     storage.ArtifactStore
	logger    zerolog.Logger
}

// NewTestSuiteLoader constructs a loader reading artifacts from the given store.
func NewTestSuiteLoader(artifacts repository.TestArtifactRepository, store storage.ArtifactStore, logger zerolog.Logger) TestSuiteLoader {
	return &testSuiteLoader{
		artifacts: artifacts,
		store:     store,
		logger:    logger.With().Str("component", "testsuite_loader").Logger(),
	}
}

type artifactDocument struct {
	TestCases []artifactCase `json:"test_cases"`
}

type artifactCase struct {
	Stdin          lenientText   `json:"stdin"`
	ExpectedOutput lenientText   `json:"expected_output"`
	Group          lenientText   `json:"group"`
	Weight         *lenientFloat `json:"weight"`
	IsVisible      bool          `json:"is_visible"`
}

// Load merges the cases of every artifact for the pair, tolerating individual broken artifacts.
func (l *testSuiteLoader) Load(ctx context.Context, problemID uint, language string) ([]TestCaseSpec, error) {
	records, err := l.artifacts.ListFor(ctx, problemID, language)
	if err != nil {
		return nil, newEvaluationError(KindUnexpected, "Failed to list test artifacts", storageError("list test artifacts", err), nil)
	}

	if len(records) == 0 {
		return nil, newEvaluationError(KindNoTestArtifacts, "No test cases available for this problem", nil, map[string]interface{}{
			"details": fmt.Sprintf("No test artifacts found for problem %d with language '%s'", problemID, language),
		})
	}

	var (
		tests      []TestCaseSpec
		fileErrors []string
	)
	for _, record := range records {
		cases, err := l.loadArtifact(ctx, record)
		if err != nil {
			fileErrors = append(fileErrors, err.Error())
			l.logger.Warn().
				Err(err).
				Uint("problem_id", problemID).
				Uint("artifact_id", record.ID).
				Str("storage_key", record.StorageKey).
				Msg("test artifact could not be parsed")
			continue
		}
		tests = append(tests, cases...)
		l.logger.Debug().
			Uint("artifact_id", record.ID).
			Int("test_cases_loaded", len(cases)).
			Msg("test artifact loaded")
	}

	if len(tests) == 0 {
		return nil, newEvaluationError(KindNoUsableTestCases, "No valid test cases could be loaded", nil, map[string]interface{}{
			"details":     fmt.Sprintf("Found %d test artifacts but couldn't load any valid test cases", len(records)),
			"file_errors": fileErrors,
		})
	}

	return tests, nil
}

func (l *testSuiteLoader) loadArtifact(ctx context.Context, record models.TestArtifact) ([]TestCaseSpec, error) {
	if !strings.HasSuffix(strings.ToLower(record.StorageKey), ".json") {
		return nil, fmt.Errorf("TestArtifact %d: invalid storage key or extension", record.ID)
	}

	reader, err := l.store.Open(ctx, record.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("TestArtifact %d (%s): %v", record.ID, record.StorageKey, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(io.LimitReader(reader, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("TestArtifact %d (%s): %v", record.ID, record.StorageKey, err)
	}

	var document artifactDocument
	if err := json.Unmarshal(content, &document); err != nil {
		return nil, fmt.Errorf("TestArtifact %d (%s): %v", record.ID, record.StorageKey, err)
	}
	if len(document.TestCases) == 0 {
		return nil, fmt.Errorf("TestArtifact %d: No 'test_cases' array found in JSON", record.ID)
	}

	cases := make([]TestCaseSpec, 0, len(document.TestCases))
	for i, raw := range document.TestCases {
		weight := defaultTestWeight
		if raw.Weight != nil {
			weight = float64(*raw.Weight)
		}
		if weight < 0 {
			return nil, fmt.Errorf("TestArtifact %d (%s): test case %d has negative weight %v", record.ID, record.StorageKey, i, weight)
		}

		group := strings.TrimSpace(string(raw.Group))
		if group == "" {
			group = defaultTestGroup
		}

		cases = append(cases, TestCaseSpec{
			Stdin:          string(raw.Stdin),
			ExpectedOutput: string(raw.ExpectedOutput),
			Group:          group,
			Weight:         weight,
			Visible:        raw.IsVisible,
		})
	}
	return cases, nil
}

// lenientText accepts JSON strings as well as bare numbers and booleans.
type lenientText string

func (t *lenientText) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*t = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*t = lenientText(value)
		return nil
	}
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return fmt.Errorf("expected text, got %s", trimmed)
	}
	*t = lenientText(trimmed)
	return nil
}

// lenientFloat accepts numbers and numeric strings.
type lenientFloat float64

func (f *lenientFloat) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	text := string(trimmed)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("invalid weight %s", trimmed)
	}
	*f = lenientFloat(value)
	return nil
}
