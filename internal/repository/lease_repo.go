package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// ActiveLeaseRepository stores the single recognised lease per (exam, student) pair.
type ActiveLeaseRepository interface {
	GetByPair(ctx context.Context, examID, studentID uint) (models.ActiveLease, error)
	Create(ctx context.Context, lease *models.ActiveLease) error
	Save(ctx context.Context, lease *models.ActiveLease) error
	Touch(ctx context.Context, id uint, at time.Time) error
	Deactivate(ctx context.Context, id uint) error
}

type activeLeaseRepository struct {
	db *gorm.DB
}

// NewActiveLeaseRepository constructs an active lease repository.
func NewActiveLeaseRepository(db *gorm.DB) ActiveLeaseRepository {
	return &activeLeaseRepository{db: db}
}

func (r *activeLeaseRepository) GetByPair(ctx context.Context, examID, studentID uint) (models.ActiveLease, error) {
	var lease models.ActiveLease
	err := r.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Where("student_id = ?", studentID).
		First(&lease).Error
	if err != nil {
		return models.ActiveLease{}, err
	}

	return lease, nil
}

func (r *activeLeaseRepository) Create(ctx context.Context, lease *models.ActiveLease) error {
	return r.db.WithContext(ctx).Create(lease).Error
}

func (r *activeLeaseRepository) Save(ctx context.Context, lease *models.ActiveLease) error {
	return r.db.WithContext(ctx).Save(lease).Error
}

// Touch bumps last_heartbeat_at. Concurrent touches for the same token
// race harmlessly; only the timestamp changes.
func (r *activeLeaseRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ActiveLease{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_heartbeat_at": at, "is_active": true}).Error
}

func (r *activeLeaseRepository) Deactivate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.ActiveLease{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}
