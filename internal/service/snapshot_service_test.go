package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

func newSnapshotFixture(t *testing.T, name string) (SnapshotService, uint, uint) {
	t.Helper()

	db := newTestDB(t, name)

	student := models.Student{Name: "Mia Novak", RollNumber: "R-3001-" + name}
	require.NoError(t, db.Create(&student).Error)

	session := models.ExamSession{
		StudentID: student.ID,
		Subject:   "Statistics",
		Status:    models.ExamSessionStatusNotStarted,
	}
	require.NoError(t, db.Create(&session).Error)

	svc := NewSnapshotService(repository.NewCompatibilitySnapshotRepository(db), repository.NewExamSessionRepository(db), validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	return svc, student.ID, session.ID
}

func TestSnapshotCreateIsWriteOnce(t *testing.T) {
	svc, studentID, examID := newSnapshotFixture(t, "snapshot_once")
	ctx := context.Background()

	payload := dto.SnapshotCreateRequest{
		StudentID:  studentID,
		ExamID:     examID,
		ScreenOK:   true,
		NetworkOK:  true,
		AudioOK:    true,
		LightingOK: false,
		TabToken:   "tab-a",
		Diagnostics: map[string]interface{}{
			"bandwidth_mbps": 42.5,
		},
	}

	created, err := svc.Create(ctx, payload)
	require.NoError(t, err)
	require.False(t, created.Passed)
	require.Equal(t, "tab-a", created.TabToken)

	// The retry carries different readings; the first record stands.
	payload.LightingOK = true
	_, err = svc.Create(ctx, payload)
	require.ErrorIs(t, err, ErrSnapshotExists)

	stored, err := svc.Get(ctx, studentID, examID)
	require.NoError(t, err)
	require.Equal(t, created.ID, stored.ID)
	require.False(t, stored.Passed)
}

func TestSnapshotCreateRejectsForeignAttempt(t *testing.T) {
	svc, studentID, examID := newSnapshotFixture(t, "snapshot_foreign")

	_, err := svc.Create(context.Background(), dto.SnapshotCreateRequest{
		StudentID: studentID + 1,
		ExamID:    examID,
		TabToken:  "tab-a",
	})
	require.ErrorIs(t, err, ErrLinkageMismatch)
}

func TestSnapshotCreateRejectsUnknownExam(t *testing.T) {
	svc, studentID, _ := newSnapshotFixture(t, "snapshot_unknown")

	_, err := svc.Create(context.Background(), dto.SnapshotCreateRequest{
		StudentID: studentID,
		ExamID:    999,
		TabToken:  "tab-a",
	})
	require.ErrorIs(t, err, ErrExamSessionNotFound)
}

func TestSnapshotPassedRequiresEveryCheck(t *testing.T) {
	svc, studentID, examID := newSnapshotFixture(t, "snapshot_passed")

	created, err := svc.Create(context.Background(), dto.SnapshotCreateRequest{
		StudentID:  studentID,
		ExamID:     examID,
		ScreenOK:   true,
		NetworkOK:  true,
		AudioOK:    true,
		LightingOK: true,
		TabToken:   "tab-a",
	})
	require.NoError(t, err)
	require.True(t, created.Passed)
	require.WithinDuration(t, time.Now(), created.CreatedAt, 5*time.Second)
}
