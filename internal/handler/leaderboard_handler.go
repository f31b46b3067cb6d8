package handler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-judge-api/internal/dto"
	"github.com/noah-isme/gema-judge-api/internal/service"
	"github.com/noah-isme/gema-judge-api/internal/utils"
)

// LeaderboardHandler serves contest and global standings.
type LeaderboardHandler struct {
	service service.LeaderboardService
	logger  zerolog.Logger
}

// NewLeaderboardHandler builds a leaderboard handler instance.
func NewLeaderboardHandler(service service.LeaderboardService, logger zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		service: service,
		logger:  logger.With().Str("component", "leaderboard_handler").Logger(),
	}
}

// Register attaches the public leaderboard route.
func (h *LeaderboardHandler) Register(router fiber.Router) {
	router.Get("/leaderboard", h.get)
}

// RegisterExport attaches the CSV export route, which exposes contact details.
func (h *LeaderboardHandler) RegisterExport(router fiber.Router) {
	router.Get("/contests/:id/leaderboard.csv", h.exportCSV)
}

func (h *LeaderboardHandler) get(c *fiber.Ctx) error {
	contestID, err := parseQueryUint(c, "contest_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var board dto.LeaderboardResponse
	if contestID != nil {
		board, err = h.service.Contest(c.UserContext(), *contestID)
	} else {
		board, err = h.service.Global(c.UserContext())
	}
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, board, "leaderboard retrieved", fiber.Map{"total": len(board.Leaderboard)})
}

func (h *LeaderboardHandler) exportCSV(c *fiber.Ctx) error {
	contestID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var buffer bytes.Buffer
	if err := h.service.WriteContestCSV(c.UserContext(), contestID, &buffer); err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="contest_%d_leaderboard.csv"`, contestID))
	return c.Status(fiber.StatusOK).Send(buffer.Bytes())
}

func (h *LeaderboardHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrContestNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "contest not found")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
