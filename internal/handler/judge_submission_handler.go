package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-judge-api/internal/dto"
	"github.com/noah-isme/gema-judge-api/internal/service"
	"github.com/noah-isme/gema-judge-api/internal/utils"
)

const queueUnavailableResponse = "Code evaluation service is temporarily unavailable. Please try again later."

// JudgeSubmissionHandler exposes submission creation and status polling.
type JudgeSubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewJudgeSubmissionHandler builds a judge submission handler instance.
func NewJudgeSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *JudgeSubmissionHandler {
	return &JudgeSubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "judge_submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. Extra handlers run before create.
func (h *JudgeSubmissionHandler) Register(router fiber.Router, createGuards ...fiber.Handler) {
	handlers := make([]fiber.Handler, 0, len(createGuards)+1)
	handlers = append(handlers, createGuards...)
	handlers = append(handlers, h.create)
	router.Post("", handlers...)
	router.Get("/:id", h.status)
}

func (h *JudgeSubmissionHandler) create(c *fiber.Ctx) error {
	var payload dto.JudgeSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Create(c.UserContext(), studentIDFromContext(c), payload)
	if err != nil {
		if errors.Is(err, service.ErrQueueUnavailable) {
			requestLogger(h.logger, c).Error().Err(err).Str("submission_id", created.SubmissionID).Msg("submission could not be queued")
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    created,
				Message: queueUnavailableResponse,
			})
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission queued", created)
}

func (h *JudgeSubmissionHandler) status(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	status, err := h.service.GetStatus(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission status retrieved", status)
}

func (h *JudgeSubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrProblemNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "problem not found")
	case errors.Is(err, service.ErrUnsupportedLanguage):
		return utils.Fail(c, fiber.StatusBadRequest, "unsupported language", fiber.Map{
			"supported": service.SupportedLanguages(),
		})
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
