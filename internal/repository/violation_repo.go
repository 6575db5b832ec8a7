package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// ViolationRepository stores violation records and exposes the guarded
// conditional updates the reconciliation job relies on.
type ViolationRepository interface {
	GetByID(ctx context.Context, id uint) (models.Violation, error)
	ListUnlinked(ctx context.Context) ([]models.Violation, error)
	ListMismatched(ctx context.Context) ([]models.Violation, error)
	ListNeedingReview(ctx context.Context) ([]models.Violation, error)
	ListLinked(ctx context.Context) ([]models.Violation, error)
	AssignExam(ctx context.Context, id, examID uint) (bool, error)
	ReassignStudent(ctx context.Context, id, fromStudentID, toStudentID uint) (bool, error)
}

type violationRepository struct {
	db *gorm.DB
}

// NewViolationRepository constructs a violation repository.
func NewViolationRepository(db *gorm.DB) ViolationRepository {
	return &violationRepository{db: db}
}

func (r *violationRepository) GetByID(ctx context.Context, id uint) (models.Violation, error) {
	var violation models.Violation
	if err := r.db.WithContext(ctx).First(&violation, id).Error; err != nil {
		return models.Violation{}, err
	}

	return violation, nil
}

func (r *violationRepository) ListUnlinked(ctx context.Context) ([]models.Violation, error) {
	var violations []models.Violation
	err := r.db.WithContext(ctx).
		Where("exam_id IS NULL").
		Where("student_id IS NOT NULL").
		Order("timestamp ASC").
		Find(&violations).Error
	return violations, err
}

func (r *violationRepository) ListMismatched(ctx context.Context) ([]models.Violation, error) {
	var violations []models.Violation
	err := r.db.WithContext(ctx).
		Joins("JOIN exam_sessions ON exam_sessions.id = violations.exam_id").
		Where("violations.student_id IS NOT NULL").
		Where("exam_sessions.student_id <> violations.student_id").
		Order("violations.timestamp ASC").
		Find(&violations).Error
	return violations, err
}

// ListNeedingReview returns violations with an unresolved or mutually
// inconsistent exam/student link, newest first, for operator tooling.
func (r *violationRepository) ListNeedingReview(ctx context.Context) ([]models.Violation, error) {
	var violations []models.Violation
	err := r.db.WithContext(ctx).
		Joins("LEFT JOIN exam_sessions ON exam_sessions.id = violations.exam_id").
		Where("violations.exam_id IS NULL OR (violations.student_id IS NOT NULL AND exam_sessions.student_id <> violations.student_id)").
		Order("violations.timestamp DESC").
		Find(&violations).Error
	return violations, err
}

func (r *violationRepository) ListLinked(ctx context.Context) ([]models.Violation, error) {
	var violations []models.Violation
	err := r.db.WithContext(ctx).
		Where("exam_id IS NOT NULL").
		Order("exam_id ASC").
		Order("timestamp ASC").
		Find(&violations).Error
	return violations, err
}

// AssignExam fills exam_id only while it is still null, so a concurrent
// validator write is never clobbered. Returns whether a row changed.
func (r *violationRepository) AssignExam(ctx context.Context, id, examID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Violation{}).
		Where("id = ?", id).
		Where("exam_id IS NULL").
		Update("exam_id", examID)
	return result.RowsAffected > 0, result.Error
}

// ReassignStudent overwrites student_id only while it still holds the
// mismatched value observed by the caller.
func (r *violationRepository) ReassignStudent(ctx context.Context, id, fromStudentID, toStudentID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Violation{}).
		Where("id = ?", id).
		Where("student_id = ?", fromStudentID).
		Update("student_id", toStudentID)
	return result.RowsAffected > 0, result.Error
}
