package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

// ErrSnapshotExists indicates a snapshot was already recorded for the attempt.
var ErrSnapshotExists = errors.New("compatibility snapshot already recorded for attempt")

// SnapshotService persists one preflight diagnostic per exam attempt. The
// stored tab token seeds the attempt's first lease heartbeat.
type SnapshotService interface {
	Create(ctx context.Context, payload dto.SnapshotCreateRequest) (dto.SnapshotResponse, error)
	Get(ctx context.Context, studentID, examID uint) (dto.SnapshotResponse, error)
}

type snapshotService struct {
	snapshots repository.CompatibilitySnapshotRepository
	sessions  repository.ExamSessionRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSnapshotService constructs a SnapshotService instance.
func NewSnapshotService(snapshots repository.CompatibilitySnapshotRepository, sessions repository.ExamSessionRepository, validate *validator.Validate, logger zerolog.Logger) SnapshotService {
	return &snapshotService{
		snapshots: snapshots,
		sessions:  sessions,
		validator: validate,
		logger:    logger.With().Str("component", "snapshot_service").Logger(),
	}
}

func (s *snapshotService) Create(ctx context.Context, payload dto.SnapshotCreateRequest) (dto.SnapshotResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SnapshotResponse{}, err
	}

	session, err := s.sessions.GetByID(ctx, payload.ExamID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SnapshotResponse{}, ErrExamSessionNotFound
		}
		return dto.SnapshotResponse{}, err
	}
	if session.StudentID != payload.StudentID {
		return dto.SnapshotResponse{}, ErrLinkageMismatch
	}

	exists, err := s.snapshots.ExistsForPair(ctx, payload.StudentID, payload.ExamID)
	if err != nil {
		return dto.SnapshotResponse{}, err
	}
	if exists {
		return dto.SnapshotResponse{}, ErrSnapshotExists
	}

	snapshot := models.CompatibilitySnapshot{
		StudentID:   payload.StudentID,
		ExamID:      payload.ExamID,
		ScreenOK:    payload.ScreenOK,
		NetworkOK:   payload.NetworkOK,
		AudioOK:     payload.AudioOK,
		LightingOK:  payload.LightingOK,
		TabToken:    strings.TrimSpace(payload.TabToken),
		Diagnostics: datatypes.JSONMap(payload.Diagnostics),
	}

	// The unique index on (student_id, exam_id) backstops the existence
	// check against concurrent preflight submissions.
	if err := s.snapshots.Create(ctx, &snapshot); err != nil {
		return dto.SnapshotResponse{}, err
	}

	s.logger.Info().
		Uint("student_id", snapshot.StudentID).
		Uint("exam_id", snapshot.ExamID).
		Bool("passed", snapshot.Passed()).
		Msg("compatibility snapshot recorded")

	return dto.NewSnapshotResponse(snapshot), nil
}

func (s *snapshotService) Get(ctx context.Context, studentID, examID uint) (dto.SnapshotResponse, error) {
	snapshot, err := s.snapshots.GetByPair(ctx, studentID, examID)
	if err != nil {
		return dto.SnapshotResponse{}, err
	}

	return dto.NewSnapshotResponse(snapshot), nil
}
