package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Judge submission lifecycle states.
const (
	SubmissionStatusQueued  = "QUEUED"
	SubmissionStatusRunning = "RUNNING"
	SubmissionStatusDone    = "DONE"
	SubmissionStatusError   = "ERROR"
)

// Submission is one judged run of student code against a problem's test suite.
type Submission struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	StudentID   *uint                       `gorm:"index" json:"student_id"`
	ProblemID   uint                        `gorm:"not null;index" json:"problem_id"`
	Code        string                      `gorm:"type:text;not null" json:"code"`
	Language    string                      `gorm:"size:32;not null" json:"language"`
	Status      string                      `gorm:"size:16;not null;index" json:"status"`
	Score       float64                     `gorm:"not null;default:0" json:"score"`
	MaxScore    float64                     `gorm:"not null;default:0" json:"max_score"`
	JudgeTokens datatypes.JSONSlice[string] `json:"judge_tokens"`
	Diagnostics datatypes.JSONMap           `json:"judge0_raw"`
	RetryCount  int                         `gorm:"not null;default:0" json:"retry_count"`
	CompletedAt *time.Time                  `json:"completed_at"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	Results     []SubmissionResult          `gorm:"foreignKey:SubmissionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"results,omitempty"`
	Problem     *Problem                    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// TableName keeps judge submissions apart from other submission tables.
func (Submission) TableName() string {
	return "judge_submissions"
}

// BeforeCreate assigns an identifier when the caller did not provide one.
func (s *Submission) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SubmissionStatusQueued
	}
	return nil
}

// IsDone reports whether the submission reached its absorbing state.
func (s Submission) IsDone() bool {
	return s.Status == SubmissionStatusDone
}

// IsSolved reports whether every weighted test passed.
func (s Submission) IsSolved() bool {
	return s.Status == SubmissionStatusDone && s.MaxScore > 0 && s.Score >= s.MaxScore
}
