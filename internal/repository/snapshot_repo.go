package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// CompatibilitySnapshotRepository persists preflight diagnostics for audit.
type CompatibilitySnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.CompatibilitySnapshot) error
	GetByPair(ctx context.Context, studentID, examID uint) (models.CompatibilitySnapshot, error)
	ExistsForPair(ctx context.Context, studentID, examID uint) (bool, error)
}

type compatibilitySnapshotRepository struct {
	db *gorm.DB
}

// NewCompatibilitySnapshotRepository constructs a snapshot repository.
func NewCompatibilitySnapshotRepository(db *gorm.DB) CompatibilitySnapshotRepository {
	return &compatibilitySnapshotRepository{db: db}
}

func (r *compatibilitySnapshotRepository) Create(ctx context.Context, snapshot *models.CompatibilitySnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *compatibilitySnapshotRepository) GetByPair(ctx context.Context, studentID, examID uint) (models.CompatibilitySnapshot, error) {
	var snapshot models.CompatibilitySnapshot
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Where("exam_id = ?", examID).
		First(&snapshot).Error
	if err != nil {
		return models.CompatibilitySnapshot{}, err
	}

	return snapshot, nil
}

func (r *compatibilitySnapshotRepository) ExistsForPair(ctx context.Context, studentID, examID uint) (bool, error) {
	_, err := r.GetByPair(ctx, studentID, examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
