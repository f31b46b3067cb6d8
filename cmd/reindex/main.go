package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/noah-isme/gema-judge-api/internal/config"
	"github.com/noah-isme/gema-judge-api/internal/database"
	"github.com/noah-isme/gema-judge-api/internal/dto"
	"github.com/noah-isme/gema-judge-api/internal/observability"
	"github.com/noah-isme/gema-judge-api/internal/repository"
	"github.com/noah-isme/gema-judge-api/internal/service"
)

func main() {
	cmd := &cli.Command{
		Name:  "reindex",
		Usage: "rebuild test artifact index entries from the artifact store",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "report what would be indexed without writing",
			},
			&cli.Uint64Flag{
				Name:  "problem-id",
				Usage: "only reindex artifacts of this problem",
			},
		},
		Action: reindex,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatalf("reindex failed: %v", err)
	}
}

func reindex(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := observability.NewLogger("judge-reindex", cfg.AppEnv, cfg.Debug)

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close(db)

	catalog, err := cfg.Artifacts.Catalog()
	if err != nil {
		return fmt.Errorf("configure artifact store: %w", err)
	}

	opts := service.ReindexOptions{DryRun: cmd.Bool("dry-run")}
	if cmd.IsSet("problem-id") {
		problemID := uint(cmd.Uint64("problem-id"))
		opts.ProblemID = &problemID
	}

	indexer := service.NewArtifactIndexService(catalog, repository.NewProblemRepository(db), repository.NewTestArtifactRepository(db), logger)
	report, err := indexer.Reindex(ctx, opts)
	if err != nil {
		return err
	}

	logReport(logger, report)
	return nil
}

func logReport(logger zerolog.Logger, report dto.ArtifactReindexReport) {
	for _, issue := range report.Issues {
		logger.Warn().Str("issue", issue).Msg("artifact skipped")
	}

	logger.Info().
		Bool("dry_run", report.DryRun).
		Int("problems_processed", report.ProblemsProcessed).
		Int("files_found", report.FilesFound).
		Int("entries_created", report.EntriesCreated).
		Int("entries_existed", report.EntriesExisted).
		Int("files_orphaned", report.FilesOrphaned).
		Int("errors", report.Errors).
		Msg("artifact reindex complete")
}
