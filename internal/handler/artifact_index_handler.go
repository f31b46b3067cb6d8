package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-judge-api/internal/service"
	"github.com/noah-isme/gema-judge-api/internal/utils"
)

// ArtifactIndexHandler exposes the artifact reindex tooling to staff.
type ArtifactIndexHandler struct {
	service service.ArtifactIndexService
	logger  zerolog.Logger
}

// NewArtifactIndexHandler constructs an artifact index handler.
func NewArtifactIndexHandler(service service.ArtifactIndexService, logger zerolog.Logger) *ArtifactIndexHandler {
	return &ArtifactIndexHandler{
		service: service,
		logger:  logger.With().Str("component", "artifact_index_handler").Logger(),
	}
}

// Register wires artifact tooling routes.
func (h *ArtifactIndexHandler) Register(router fiber.Router) {
	router.Post("/artifacts/reindex", h.reindex)
}

func (h *ArtifactIndexHandler) reindex(c *fiber.Ctx) error {
	problemID, err := parseQueryUint(c, "problem_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.Reindex(c.UserContext(), service.ReindexOptions{
		ProblemID: problemID,
		DryRun:    c.QueryBool("dry_run", false),
	})
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("artifact reindex failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "artifact reindex failed")
	}

	message := "artifacts reindexed"
	if report.DryRun {
		message = "artifact reindex dry run"
	}
	return utils.SendSuccess(c, message, report)
}
