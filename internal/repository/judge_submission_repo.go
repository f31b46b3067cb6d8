package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

// SubmissionRepository persists judge submissions and their per-test results.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (models.Submission, error)
	GetWithResults(ctx context.Context, id uuid.UUID) (models.Submission, error)
	Update(ctx context.Context, submission *models.Submission, fields ...string) error
	SaveOutcome(ctx context.Context, submission *models.Submission, results []models.SubmissionResult) error
	DeleteResults(ctx context.Context, id uuid.UUID) error
	ListResults(ctx context.Context, id uuid.UUID) ([]models.SubmissionResult, error)
	ListContestParticipants(ctx context.Context, contestID uint) ([]uint, error)
}

// outcomeFields are rewritten whenever an evaluation attempt settles.
var outcomeFields = []string{"status", "score", "max_score", "judge_tokens", "diagnostics", "retry_count", "completed_at"}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository constructs a judge submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Preload("Problem").
		Preload("Problem.Contest").
		First(&submission, "id = ?", id).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) GetWithResults(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("idx ASC")
		}).
		First(&submission, "id = ?", id).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission, fields ...string) error {
	query := r.db.WithContext(ctx).Model(submission)
	if len(fields) > 0 {
		query = query.Select(fields)
	}
	return query.Omit("Results", "Problem").Updates(submission).Error
}

// SaveOutcome replaces every result row of the submission and stores its new
// status and score in one transaction.
func (r *submissionRepository) SaveOutcome(ctx context.Context, submission *models.Submission, results []models.SubmissionResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", submission.ID).Delete(&models.SubmissionResult{}).Error; err != nil {
			return err
		}

		if len(results) > 0 {
			for i := range results {
				results[i].ID = 0
				results[i].SubmissionID = submission.ID
			}
			if err := tx.Create(&results).Error; err != nil {
				return err
			}
		}

		return tx.Model(submission).Select(outcomeFields).Omit("Results", "Problem").Updates(submission).Error
	})
}

func (r *submissionRepository) DeleteResults(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("submission_id = ?", id).Delete(&models.SubmissionResult{}).Error
}

func (r *submissionRepository) ListResults(ctx context.Context, id uuid.UUID) ([]models.SubmissionResult, error) {
	var results []models.SubmissionResult
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("idx ASC").
		Find(&results).Error
	return results, err
}

// ListContestParticipants returns the students that submitted to any problem of the contest.
func (r *submissionRepository) ListContestParticipants(ctx context.Context, contestID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Joins("JOIN problems ON problems.id = judge_submissions.problem_id").
		Where("problems.contest_id = ? AND judge_submissions.student_id IS NOT NULL", contestID).
		Distinct().
		Order("judge_submissions.student_id").
		Pluck("judge_submissions.student_id", &ids).Error
	return ids, err
}
