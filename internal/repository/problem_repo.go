package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

// ProblemRepository reads problems and contests owned by the administration side.
type ProblemRepository interface {
	GetByID(ctx context.Context, id uint) (models.Problem, error)
	GetContest(ctx context.Context, id uint) (models.Contest, error)
}

type problemRepository struct {
	db *gorm.DB
}

// NewProblemRepository constructs a problem repository.
func NewProblemRepository(db *gorm.DB) ProblemRepository {
	return &problemRepository{db: db}
}

func (r *problemRepository) GetByID(ctx context.Context, id uint) (models.Problem, error) {
	var problem models.Problem
	if err := r.db.WithContext(ctx).Preload("Contest").First(&problem, id).Error; err != nil {
		return models.Problem{}, err
	}
	return problem, nil
}

func (r *problemRepository) GetContest(ctx context.Context, id uint) (models.Contest, error) {
	var contest models.Contest
	if err := r.db.WithContext(ctx).First(&contest, id).Error; err != nil {
		return models.Contest{}, err
	}
	return contest, nil
}
