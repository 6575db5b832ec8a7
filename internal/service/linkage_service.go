package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/observability"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

// ErrLinkageMismatch indicates a violation write carried an exam and a
// student that do not belong together. Explicit conflicting input is
// never silently resolved.
var ErrLinkageMismatch = errors.New("exam and student identifiers do not match")

// ErrExamSessionNotFound indicates the referenced exam session does not exist.
var ErrExamSessionNotFound = errors.New("exam session not found")

// ErrStudentNotFound indicates the referenced student does not exist.
var ErrStudentNotFound = errors.New("student not found")

// ErrViolationNotFound indicates a violation record could not be found.
var ErrViolationNotFound = errors.New("violation not found")

// LinkageService enforces the exam/student linkage invariant as a
// synchronous precondition of every violation write.
type LinkageService interface {
	CreateViolation(ctx context.Context, payload dto.ViolationCreateRequest) (dto.ViolationResponse, error)
	UpdateViolationLink(ctx context.Context, id uint, payload dto.ViolationUpdateRequest) (dto.ViolationResponse, error)
	ListNeedingReview(ctx context.Context) ([]dto.ViolationReviewItem, error)
}

type linkageService struct {
	db         *gorm.DB
	violations repository.ViolationRepository
	students   repository.StudentRepository
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
}

// NewLinkageService constructs a LinkageService instance. The *gorm.DB is
// held directly because validation reads and the gated write must share
// one transaction.
func NewLinkageService(db *gorm.DB, violations repository.ViolationRepository, students repository.StudentRepository, validate *validator.Validate, logger zerolog.Logger) LinkageService {
	return &linkageService{
		db:         db,
		violations: violations,
		students:   students,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "linkage_service").Logger(),
	}
}

func (s *linkageService) CreateViolation(ctx context.Context, payload dto.ViolationCreateRequest) (dto.ViolationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ViolationResponse{}, err
	}

	if err := s.checkStudentExists(ctx, payload.StudentID); err != nil {
		return dto.ViolationResponse{}, err
	}

	violation := models.Violation{
		ExamID:        payload.ExamID,
		StudentID:     payload.StudentID,
		ViolationType: strings.TrimSpace(payload.ViolationType),
		Timestamp:     payload.Timestamp.UTC(),
		Details:       datatypes.JSONMap(payload.Details),
		Note:          strings.TrimSpace(s.sanitizer.Sanitize(payload.Note)),
	}

	outcome := dto.LinkOutcomeLinked
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		resolved, err := s.resolveLink(tx, &violation)
		if err != nil {
			return err
		}
		outcome = resolved

		return tx.Create(&violation).Error
	})
	if err != nil {
		if errors.Is(err, ErrLinkageMismatch) {
			observability.ViolationWrites().WithLabelValues("mismatch").Inc()
		}
		return dto.ViolationResponse{}, err
	}

	observability.ViolationWrites().WithLabelValues(outcome).Inc()

	return dto.NewViolationResponse(violation, outcome), nil
}

func (s *linkageService) UpdateViolationLink(ctx context.Context, id uint, payload dto.ViolationUpdateRequest) (dto.ViolationResponse, error) {
	if err := s.checkStudentExists(ctx, payload.StudentID); err != nil {
		return dto.ViolationResponse{}, err
	}

	var violation models.Violation
	outcome := dto.LinkOutcomeLinked

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&violation, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrViolationNotFound
			}
			return err
		}

		if payload.ExamID != nil {
			violation.ExamID = payload.ExamID
		}
		if payload.StudentID != nil {
			violation.StudentID = payload.StudentID
		}

		resolved, err := s.resolveLink(tx, &violation)
		if err != nil {
			return err
		}
		outcome = resolved

		return tx.Save(&violation).Error
	})
	if err != nil {
		if errors.Is(err, ErrLinkageMismatch) {
			observability.ViolationWrites().WithLabelValues("mismatch").Inc()
		}
		return dto.ViolationResponse{}, err
	}

	observability.ViolationWrites().WithLabelValues(outcome).Inc()

	return dto.NewViolationResponse(violation, outcome), nil
}

// resolveLink applies the linkage rules to the in-flight violation inside
// the caller's transaction. Missing input is auto-filled; mismatched
// explicit input is a hard rejection.
func (s *linkageService) resolveLink(tx *gorm.DB, violation *models.Violation) (string, error) {
	switch {
	case violation.ExamID != nil && violation.StudentID != nil:
		session, err := s.loadSession(tx, *violation.ExamID)
		if err != nil {
			return "", err
		}
		if session.StudentID != *violation.StudentID {
			return "", ErrLinkageMismatch
		}
		return dto.LinkOutcomeLinked, nil

	case violation.ExamID != nil:
		session, err := s.loadSession(tx, *violation.ExamID)
		if err != nil {
			return "", err
		}
		studentID := session.StudentID
		violation.StudentID = &studentID
		return dto.LinkOutcomeLinked, nil

	case violation.StudentID != nil:
		// Legacy callers that never adopted strict linking. Picking the
		// most recent sitting is ambiguous when a student has two open
		// exams, so every use is warn-logged.
		var session models.ExamSession
		err := tx.
			Where("student_id = ?", *violation.StudentID).
			Where("status IN ?", []string{models.ExamSessionStatusInProgress, models.ExamSessionStatusCompleted}).
			Order("started_at IS NULL").
			Order("started_at DESC").
			Order("created_at DESC").
			First(&session).Error
		switch {
		case err == nil:
			examID := session.ID
			violation.ExamID = &examID
			s.logger.Warn().
				Uint("student_id", *violation.StudentID).
				Uint("exam_id", session.ID).
				Msg("resolved exam from student alone; result is ambiguous when multiple exams are open")
			return dto.LinkOutcomeLinked, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.logger.Warn().
				Uint("student_id", *violation.StudentID).
				Msg("violation committed without exam linkage; flagged for reconciliation")
			return dto.LinkOutcomeUnresolved, nil
		default:
			return "", err
		}

	default:
		s.logger.Warn().
			Str("violation_type", violation.ViolationType).
			Msg("violation carries neither exam nor student identifier")
		return dto.LinkOutcomeUnresolved, nil
	}
}

// checkStudentExists rejects writes that name a student the registration
// collaborator has never recorded. Nil means no explicit student was given.
func (s *linkageService) checkStudentExists(ctx context.Context, studentID *uint) error {
	if studentID == nil {
		return nil
	}

	if _, err := s.students.GetByID(ctx, *studentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStudentNotFound
		}
		return err
	}

	return nil
}

func (s *linkageService) loadSession(tx *gorm.DB, examID uint) (models.ExamSession, error) {
	var session models.ExamSession
	if err := tx.First(&session, examID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamSession{}, ErrExamSessionNotFound
		}
		return models.ExamSession{}, err
	}

	return session, nil
}

func (s *linkageService) ListNeedingReview(ctx context.Context) ([]dto.ViolationReviewItem, error) {
	violations, err := s.violations.ListNeedingReview(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]dto.ViolationReviewItem, 0, len(violations))
	for _, violation := range violations {
		reason := dto.ReviewReasonLinkageMismatch
		if violation.ExamID == nil {
			reason = dto.ReviewReasonUnresolvedLink
		}
		items = append(items, dto.ViolationReviewItem{
			Violation: dto.NewViolationResponse(violation, ""),
			Reason:    reason,
		})
	}

	return items, nil
}
