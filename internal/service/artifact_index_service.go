package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/dto"
	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/pkg/storage"
)

const artifactDirPrefix = "problem_"

var artifactLanguageAliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"c++":     "cpp",
	"cxx":     "cpp",
}

// ReindexOptions narrows an artifact reindex run.
type ReindexOptions struct {
	ProblemID *uint
	DryRun    bool
}

// ArtifactIndexService registers artifact files that exist in storage but not in the database.
type ArtifactIndexService interface {
	Reindex(ctx context.Context, opts ReindexOptions) (dto.ArtifactReindexReport, error)
}

type artifactIndexService struct {
	catalog   storage.ArtifactCatalog
	problems  repository.ProblemRepository
	artifacts repository.TestArtifactRepository
	logger    zerolog.Logger
}

// NewArtifactIndexService constructs the artifact reindexer.
func NewArtifactIndexService(catalog storage.ArtifactCatalog, problems repository.ProblemRepository, artifacts repository.TestArtifactRepository, logger zerolog.Logger) ArtifactIndexService {
	return &artifactIndexService{
		catalog:   catalog,
		problems:  problems,
		artifacts: artifacts,
		logger:    logger.With().Str("component", "artifact_index_service").Logger(),
	}
}

// Reindex scans problem_<id>/<language>_<name>.json keys and creates missing artifact rows.
func (s *artifactIndexService) Reindex(ctx context.Context, opts ReindexOptions) (dto.ArtifactReindexReport, error) {
	report := dto.ArtifactReindexReport{DryRun: opts.DryRun, Issues: []string{}}

	keys, err := s.catalog.List(ctx, artifactDirPrefix)
	if err != nil {
		return report, fmt.Errorf("list artifact store: %w", err)
	}

	byDir := make(map[string][]string)
	for _, key := range keys {
		dir, file := path.Split(key)
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" || strings.Contains(dir, "/") {
			continue
		}
		byDir[dir] = append(byDir[dir], file)
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		id, err := strconv.ParseUint(strings.TrimPrefix(dir, artifactDirPrefix), 10, 64)
		if err != nil || id == 0 {
			report.Errors++
			report.Issues = append(report.Issues, fmt.Sprintf("invalid problem directory name: %s", dir))
			continue
		}
		problemID := uint(id)
		if opts.ProblemID != nil && *opts.ProblemID != problemID {
			continue
		}
		if err := s.reindexProblem(ctx, problemID, dir, byDir[dir], opts.DryRun, &report); err != nil {
			return report, err
		}
	}

	s.logger.Info().
		Bool("dry_run", opts.DryRun).
		Int("problems_processed", report.ProblemsProcessed).
		Int("files_found", report.FilesFound).
		Int("entries_created", report.EntriesCreated).
		Int("files_orphaned", report.FilesOrphaned).
		Int("errors", report.Errors).
		Msg("artifact reindex finished")

	return report, nil
}

func (s *artifactIndexService) reindexProblem(ctx context.Context, problemID uint, dir string, files []string, dryRun bool, report *dto.ArtifactReindexReport) error {
	report.ProblemsProcessed++

	if _, err := s.problems.GetByID(ctx, problemID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load problem %d: %w", problemID, err)
		}
		for _, file := range files {
			if strings.HasSuffix(file, ".json") {
				report.FilesOrphaned++
			}
		}
		report.Issues = append(report.Issues, fmt.Sprintf("problem %d does not exist", problemID))
		return nil
	}

	for _, file := range files {
		if !strings.HasSuffix(file, ".json") {
			continue
		}
		report.FilesFound++
		key := dir + "/" + file

		language := languageFromArtifactName(file)
		if _, ok := LookupLanguage(language); !ok {
			report.FilesOrphaned++
			report.Issues = append(report.Issues, fmt.Sprintf("%s: unsupported language %q", key, language))
			continue
		}

		exists, err := s.artifacts.Exists(ctx, problemID, language, key)
		if err != nil {
			return fmt.Errorf("check artifact %s: %w", key, err)
		}
		if exists {
			report.EntriesExisted++
			continue
		}

		count, err := s.countCases(ctx, key)
		if err != nil {
			report.FilesOrphaned++
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %v", key, err))
			continue
		}

		if !dryRun {
			if err := s.artifacts.Create(ctx, &models.TestArtifact{ProblemID: problemID, Language: language, StorageKey: key}); err != nil {
				report.Errors++
				report.Issues = append(report.Issues, fmt.Sprintf("%s: create failed: %v", key, err))
				continue
			}
		}
		report.EntriesCreated++
		s.logger.Debug().Str("storage_key", key).Str("language", language).Int("test_cases", count).Bool("dry_run", dryRun).Msg("artifact registered")
	}
	return nil
}

func (s *artifactIndexService) countCases(ctx context.Context, key string) (int, error) {
	reader, err := s.catalog.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	var document artifactDocument
	if err := json.NewDecoder(io.LimitReader(reader, maxArtifactBytes)).Decode(&document); err != nil {
		return 0, fmt.Errorf("invalid JSON file: %w", err)
	}
	if len(document.TestCases) == 0 {
		return 0, fmt.Errorf("no test_cases found in JSON file")
	}
	return len(document.TestCases), nil
}

// languageFromArtifactName reads the language from names such as python_basic.json.
func languageFromArtifactName(file string) string {
	base := strings.TrimSuffix(file, ".json")
	prefix, _, _ := strings.Cut(base, "_")
	prefix = strings.ToLower(prefix)
	if alias, ok := artifactLanguageAliases[prefix]; ok {
		return alias
	}
	return prefix
}
