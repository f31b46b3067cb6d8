package models

import "time"

// TestArtifact points at a stored JSON test case file for a problem.
type TestArtifact struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProblemID  uint      `gorm:"not null;index:idx_test_artifact_problem_language" json:"problem_id"`
	Language   string    `gorm:"size:32;index:idx_test_artifact_problem_language" json:"language"`
	StorageKey string    `gorm:"size:512;not null" json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}
