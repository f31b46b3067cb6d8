package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SubmissionResult stores the verdict of a single test case for a submission.
type SubmissionResult struct {
	ID             uint              `gorm:"primaryKey" json:"-"`
	SubmissionID   uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_submission_result_case" json:"-"`
	Index          int               `gorm:"column:idx;not null;uniqueIndex:idx_submission_result_case" json:"index"`
	Group          string            `gorm:"column:group_name;size:64;not null;default:default" json:"group"`
	Weight         float64           `gorm:"not null;default:1" json:"weight"`
	Stdin          string            `gorm:"type:text" json:"stdin"`
	ExpectedOutput string            `gorm:"type:text" json:"expected_output"`
	Output         string            `gorm:"type:text" json:"output"`
	Passed         bool              `gorm:"not null;default:false" json:"passed"`
	Status         string            `gorm:"size:64" json:"status"`
	TimeMs         float64           `gorm:"not null;default:0" json:"time_ms"`
	MemoryKB       int64             `gorm:"not null;default:0" json:"memory_kb"`
	Raw            datatypes.JSONMap `json:"raw,omitempty"`
}

// TableName binds results to the judge submission namespace.
func (SubmissionResult) TableName() string {
	return "judge_submission_results"
}
