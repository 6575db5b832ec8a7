package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// ViolationRollupRepository stores the derived per-exam violation summaries.
type ViolationRollupRepository interface {
	ReplaceAll(ctx context.Context, rollups []models.ViolationRollup) error
	GetByExam(ctx context.Context, examID uint) (models.ViolationRollup, error)
	List(ctx context.Context) ([]models.ViolationRollup, error)
}

type violationRollupRepository struct {
	db *gorm.DB
}

// NewViolationRollupRepository constructs a rollup repository.
func NewViolationRollupRepository(db *gorm.DB) ViolationRollupRepository {
	return &violationRollupRepository{db: db}
}

// ReplaceAll swaps the whole view in one transaction; the view is derived
// and can always be rebuilt from scratch.
func (r *violationRollupRepository) ReplaceAll(ctx context.Context, rollups []models.ViolationRollup) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ViolationRollup{}).Error; err != nil {
			return err
		}

		if len(rollups) == 0 {
			return nil
		}

		return tx.Create(&rollups).Error
	})
}

func (r *violationRollupRepository) GetByExam(ctx context.Context, examID uint) (models.ViolationRollup, error) {
	var rollup models.ViolationRollup
	err := r.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		First(&rollup).Error
	if err != nil {
		return models.ViolationRollup{}, err
	}

	return rollup, nil
}

func (r *violationRollupRepository) List(ctx context.Context) ([]models.ViolationRollup, error) {
	var rollups []models.ViolationRollup
	err := r.db.WithContext(ctx).
		Order("exam_id ASC").
		Find(&rollups).Error
	return rollups, err
}
