package dto

import (
	"github.com/noah-isme/gema-judge-api/internal/models"
)

// JudgeSubmissionRequest is the payload for queueing code for evaluation.
type JudgeSubmissionRequest struct {
	ProblemID uint   `json:"problem_id" validate:"required,gt=0"`
	Code      string `json:"code" validate:"required,min=1,max=65536"`
	Language  string `json:"language" validate:"omitempty,max=32"`
}

// JudgeSubmissionCreatedResponse acknowledges a queued submission.
type JudgeSubmissionCreatedResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// JudgeResultResponse describes one judged test case.
type JudgeResultResponse struct {
	Index    int     `json:"index"`
	Group    string  `json:"group"`
	Weight   float64 `json:"weight"`
	Status   string  `json:"status"`
	Passed   bool    `json:"passed"`
	TimeMs   float64 `json:"time_ms"`
	MemoryKB int64   `json:"memory_kb"`
	Output   string  `json:"output"`
	Expected string  `json:"expected"`
}

// JudgeSubmissionStatusResponse reports the evaluation state of a submission.
type JudgeSubmissionStatusResponse struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Score        float64                `json:"score"`
	MaxScore     float64                `json:"max_score"`
	Results      []JudgeResultResponse  `json:"results"`
	Solved       bool                   `json:"solved"`
	Error        string                 `json:"error,omitempty"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
}

// NewJudgeSubmissionStatusResponse builds the status payload from a submission and its results.
func NewJudgeSubmissionStatusResponse(submission models.Submission) JudgeSubmissionStatusResponse {
	response := JudgeSubmissionStatusResponse{
		ID:       submission.ID.String(),
		Status:   submission.Status,
		Score:    submission.Score,
		MaxScore: submission.MaxScore,
		Results:  make([]JudgeResultResponse, 0, len(submission.Results)),
		Solved:   submission.IsSolved(),
	}

	for _, result := range submission.Results {
		response.Results = append(response.Results, JudgeResultResponse{
			Index:    result.Index,
			Group:    result.Group,
			Weight:   result.Weight,
			Status:   result.Status,
			Passed:   result.Passed,
			TimeMs:   result.TimeMs,
			MemoryKB: result.MemoryKB,
			Output:   result.Output,
			Expected: result.ExpectedOutput,
		})
	}

	return response
}
