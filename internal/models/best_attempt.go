package models

import (
	"time"

	"github.com/google/uuid"
)

// BestAttempt tracks a student's best accepted run for a problem.
// LowFidelity marks a best time taken from placeholder local sandbox timings.
type BestAttempt struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	StudentID        uint       `gorm:"not null;uniqueIndex:idx_best_attempt_student_problem" json:"student_id"`
	ProblemID        uint       `gorm:"not null;uniqueIndex:idx_best_attempt_student_problem;index" json:"problem_id"`
	IsSolved         bool       `gorm:"not null;default:false" json:"is_solved"`
	SolvedAt         *time.Time `json:"solved_at"`
	BestTimeMs       *float64   `json:"best_time_ms"`
	LowFidelity      bool       `gorm:"not null;default:false" json:"low_fidelity"`
	BestSubmissionID *uuid.UUID `gorm:"type:uuid" json:"best_submission_id"`
	BestCode         string     `gorm:"type:text" json:"-"`
	Language         string     `gorm:"size:32" json:"language"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
