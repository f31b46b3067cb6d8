package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

// TestArtifactRepository lists registered test case files.
type TestArtifactRepository interface {
	ListFor(ctx context.Context, problemID uint, language string) ([]models.TestArtifact, error)
	Exists(ctx context.Context, problemID uint, language, storageKey string) (bool, error)
	Create(ctx context.Context, artifact *models.TestArtifact) error
}

type testArtifactRepository struct {
	db *gorm.DB
}

// NewTestArtifactRepository constructs a test artifact repository.
func NewTestArtifactRepository(db *gorm.DB) TestArtifactRepository {
	return &testArtifactRepository{db: db}
}

func (r *testArtifactRepository) ListFor(ctx context.Context, problemID uint, language string) ([]models.TestArtifact, error) {
	var artifacts []models.TestArtifact
	err := r.db.WithContext(ctx).
		Where("problem_id = ? AND language = ?", problemID, language).
		Order("id ASC").
		Find(&artifacts).Error
	return artifacts, err
}

func (r *testArtifactRepository) Exists(ctx context.Context, problemID uint, language, storageKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TestArtifact{}).
		Where("problem_id = ? AND language = ? AND storage_key = ?", problemID, language, storageKey).
		Count(&count).Error
	return count > 0, err
}

func (r *testArtifactRepository) Create(ctx context.Context, artifact *models.TestArtifact) error {
	return r.db.WithContext(ctx).Create(artifact).Error
}
