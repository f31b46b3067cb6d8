package models

import "time"

// Student represents a learner that submits code to the judge.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JudgeModels lists every model migrated by the judge services.
func JudgeModels() []interface{} {
	return []interface{}{
		&Student{},
		&Contest{},
		&Problem{},
		&TestArtifact{},
		&Submission{},
		&SubmissionResult{},
		&BestAttempt{},
	}
}
