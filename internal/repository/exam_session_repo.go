package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// ExamSessionRepository provides read access to session-lifecycle-owned sittings.
type ExamSessionRepository interface {
	GetByID(ctx context.Context, id uint) (models.ExamSession, error)
	ListForStudent(ctx context.Context, studentID uint) ([]models.ExamSession, error)
	LatestForStudent(ctx context.Context, studentID uint, statuses []string) (models.ExamSession, error)
}

type examSessionRepository struct {
	db *gorm.DB
}

// NewExamSessionRepository constructs an exam session repository.
func NewExamSessionRepository(db *gorm.DB) ExamSessionRepository {
	return &examSessionRepository{db: db}
}

func (r *examSessionRepository) GetByID(ctx context.Context, id uint) (models.ExamSession, error) {
	var session models.ExamSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return models.ExamSession{}, err
	}

	return session, nil
}

func (r *examSessionRepository) ListForStudent(ctx context.Context, studentID uint) ([]models.ExamSession, error) {
	var sessions []models.ExamSession
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("started_at IS NULL").
		Order("started_at DESC").
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// LatestForStudent returns the most recently started session for the
// student among the given statuses, started_at descending with nulls
// last, then created_at descending.
func (r *examSessionRepository) LatestForStudent(ctx context.Context, studentID uint, statuses []string) (models.ExamSession, error) {
	var session models.ExamSession
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Where("status IN ?", statuses).
		Order("started_at IS NULL").
		Order("started_at DESC").
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return models.ExamSession{}, err
	}

	return session, nil
}
