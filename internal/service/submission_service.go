package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/dto"
	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrProblemNotFound indicates the referenced problem does not exist.
	ErrProblemNotFound = errors.New("problem not found")
	// ErrUnsupportedLanguage indicates the submission language has no judge mapping.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrQueueUnavailable indicates the evaluation could not be scheduled.
	ErrQueueUnavailable = errors.New("task queue unavailable")
)

const (
	defaultSubmissionLanguage = "python"
	queueUnavailableMessage   = "Task queue unavailable"
	testLoadingFailedMessage  = "Test case loading failed"
)

// EvaluationQueue schedules submissions for asynchronous evaluation.
type EvaluationQueue interface {
	Enqueue(ctx context.Context, submissionID uuid.UUID) error
}

// SubmissionService accepts code for judging and reports evaluation state.
type SubmissionService interface {
	Create(ctx context.Context, studentID *uint, payload dto.JudgeSubmissionRequest) (dto.JudgeSubmissionCreatedResponse, error)
	GetStatus(ctx context.Context, id uuid.UUID) (dto.JudgeSubmissionStatusResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	queue       EvaluationQueue
	validator   *validator.Validate
	debug       bool
	logger      zerolog.Logger
}

// NewSubmissionService constructs a SubmissionService instance. When debug is set,
// status responses include the stored diagnostics of failed evaluations.
func NewSubmissionService(subRepo repository.SubmissionRepository, problemRepo repository.ProblemRepository, queue EvaluationQueue, validate *validator.Validate, debug bool, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		problems:    problemRepo,
		queue:       queue,
		validator:   validate,
		debug:       debug,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

// Create stores a QUEUED submission and schedules it. When scheduling fails the
// submission is marked ERROR and the acknowledgement is returned with ErrQueueUnavailable.
func (s *submissionService) Create(ctx context.Context, studentID *uint, payload dto.JudgeSubmissionRequest) (dto.JudgeSubmissionCreatedResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.JudgeSubmissionCreatedResponse{}, err
	}

	language := strings.ToLower(strings.TrimSpace(payload.Language))
	if language == "" {
		language = defaultSubmissionLanguage
	}
	if _, ok := LookupLanguage(language); !ok {
		return dto.JudgeSubmissionCreatedResponse{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	if _, err := s.problems.GetByID(ctx, payload.ProblemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.JudgeSubmissionCreatedResponse{}, ErrProblemNotFound
		}
		return dto.JudgeSubmissionCreatedResponse{}, err
	}

	submission := models.Submission{
		StudentID: studentID,
		ProblemID: payload.ProblemID,
		Code:      payload.Code,
		Language:  language,
		Status:    models.SubmissionStatusQueued,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.JudgeSubmissionCreatedResponse{}, err
	}

	response := dto.JudgeSubmissionCreatedResponse{
		SubmissionID: submission.ID.String(),
		Status:       submission.Status,
	}

	if err := s.queue.Enqueue(ctx, submission.ID); err != nil {
		s.logger.Error().Err(err).Str("submission_id", submission.ID.String()).Msg("failed to enqueue submission")

		submission.Status = models.SubmissionStatusError
		submission.Diagnostics = datatypes.JSONMap{
			"error":   queueUnavailableMessage,
			"details": err.Error(),
		}
		if updateErr := s.submissions.Update(ctx, &submission, "status", "diagnostics"); updateErr != nil {
			s.logger.Error().Err(updateErr).Str("submission_id", submission.ID.String()).Msg("failed to mark unqueued submission as error")
		}

		response.Status = submission.Status
		return response, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	s.logger.Info().
		Str("submission_id", submission.ID.String()).
		Uint("problem_id", submission.ProblemID).
		Str("language", language).
		Msg("submission queued")

	return response, nil
}

func (s *submissionService) GetStatus(ctx context.Context, id uuid.UUID) (dto.JudgeSubmissionStatusResponse, error) {
	submission, err := s.submissions.GetWithResults(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.JudgeSubmissionStatusResponse{}, ErrSubmissionNotFound
		}
		return dto.JudgeSubmissionStatusResponse{}, err
	}

	response := dto.NewJudgeSubmissionStatusResponse(submission)
	if submission.Status != models.SubmissionStatusError {
		return response, nil
	}

	diagnostics := map[string]interface{}(submission.Diagnostics)
	response.Error = summarizeFailure(diagnostics)
	if kind, ok := diagnostics["kind"].(string); ok {
		response.ErrorKind = kind
	}
	if s.debug && len(diagnostics) > 0 {
		response.ErrorDetails = diagnostics
	}
	return response, nil
}

func summarizeFailure(diagnostics map[string]interface{}) string {
	if kind, _ := diagnostics["kind"].(string); kind == string(KindNoUsableTestCases) {
		return testLoadingFailedMessage
	}
	if message, ok := diagnostics["error"].(string); ok && message != "" {
		return message
	}
	return "Unknown error occurred"
}
