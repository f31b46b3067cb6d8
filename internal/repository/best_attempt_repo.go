package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

// BestAttemptRepository stores per student and problem best attempts.
type BestAttemptRepository interface {
	Get(ctx context.Context, studentID, problemID uint) (models.BestAttempt, error)
	Apply(ctx context.Context, studentID, problemID uint, mutate func(*models.BestAttempt) bool) (models.BestAttempt, error)
	ListSolvedByContest(ctx context.Context, contestID uint) ([]models.BestAttempt, error)
	ListSolved(ctx context.Context) ([]models.BestAttempt, error)
}

type bestAttemptRepository struct {
	db *gorm.DB
}

// NewBestAttemptRepository constructs a best attempt repository.
func NewBestAttemptRepository(db *gorm.DB) BestAttemptRepository {
	return &bestAttemptRepository{db: db}
}

func (r *bestAttemptRepository) Get(ctx context.Context, studentID, problemID uint) (models.BestAttempt, error) {
	var attempt models.BestAttempt
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND problem_id = ?", studentID, problemID).
		First(&attempt).Error
	if err != nil {
		return models.BestAttempt{}, err
	}
	return attempt, nil
}

// Apply loads or initialises the record under a row lock and saves it when mutate reports a change.
func (r *bestAttemptRepository) Apply(ctx context.Context, studentID, problemID uint, mutate func(*models.BestAttempt) bool) (models.BestAttempt, error) {
	var attempt models.BestAttempt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.BestAttempt{StudentID: studentID, ProblemID: problemID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "problem_id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}

		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.Where("student_id = ? AND problem_id = ?", studentID, problemID).First(&attempt).Error; err != nil {
			return err
		}

		if !mutate(&attempt) {
			return nil
		}
		return tx.Save(&attempt).Error
	})
	if err != nil {
		return models.BestAttempt{}, err
	}
	return attempt, nil
}

func (r *bestAttemptRepository) ListSolvedByContest(ctx context.Context, contestID uint) ([]models.BestAttempt, error) {
	var attempts []models.BestAttempt
	err := r.db.WithContext(ctx).
		Select("best_attempts.*").
		Joins("JOIN problems ON problems.id = best_attempts.problem_id").
		Where("problems.contest_id = ? AND best_attempts.is_solved = ? AND best_attempts.solved_at IS NOT NULL", contestID, true).
		Order("best_attempts.student_id, best_attempts.problem_id").
		Find(&attempts).Error
	return attempts, err
}

func (r *bestAttemptRepository) ListSolved(ctx context.Context) ([]models.BestAttempt, error) {
	var attempts []models.BestAttempt
	err := r.db.WithContext(ctx).
		Where("is_solved = ?", true).
		Order("student_id, problem_id").
		Find(&attempts).Error
	return attempts, err
}
