package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/config"
	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/handler"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/repository"
	"github.com/noah-isme/provex-go-api/internal/router"
	"github.com/noah-isme/provex-go-api/internal/service"
	"github.com/noah-isme/provex-go-api/internal/utils"
)

func setupProctorApp(t *testing.T, name string) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Student{},
		&models.ExamSession{},
		&models.Violation{},
		&models.CompatibilitySnapshot{},
		&models.ActiveLease{},
		&models.ViolationRollup{},
	))

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	violationRepo := repository.NewViolationRepository(db)
	sessionRepo := repository.NewExamSessionRepository(db)
	leaseRepo := repository.NewActiveLeaseRepository(db)
	snapshotRepo := repository.NewCompatibilitySnapshotRepository(db)
	rollupRepo := repository.NewViolationRollupRepository(db)

	streamService := service.NewLeaseStreamService(nil, "provex", logger)
	linkageService := service.NewLinkageService(db, violationRepo, repository.NewStudentRepository(db), validate, logger)
	leaseService := service.NewLeaseService(leaseRepo, redisClient, streamService, 30*time.Second, validate, logger)
	reconciliationService := service.NewReconciliationService(violationRepo, sessionRepo, logger)
	rollupService := service.NewRollupService(violationRepo, rollupRepo, redisClient, time.Minute, logger)
	snapshotService := service.NewSnapshotService(snapshotRepo, sessionRepo, validate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		ViolationHandler:      handler.NewViolationHandler(linkageService, validate, logger),
		LeaseHandler:          handler.NewLeaseHandler(leaseService, streamService, validate, logger),
		SnapshotHandler:       handler.NewSnapshotHandler(snapshotService, validate, logger),
		RollupHandler:         handler.NewRollupHandler(rollupService, logger),
		ReconciliationHandler: handler.NewReconciliationHandler(reconciliationService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", uint(1))
			return c.Next()
		},
	})

	return app, db
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeData(t *testing.T, body io.Reader, out interface{}) utils.APIResponse {
	t.Helper()

	var envelope utils.APIResponse
	require.NoError(t, json.NewDecoder(body).Decode(&envelope))

	if out != nil && envelope.Data != nil {
		raw, err := json.Marshal(envelope.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}

	return envelope
}

func seedAttempt(t *testing.T, db *gorm.DB, roll string) (models.Student, models.ExamSession) {
	t.Helper()

	student := models.Student{Name: "Test Candidate", RollNumber: roll}
	require.NoError(t, db.Create(&student).Error)

	startedAt := time.Now().UTC().Add(-time.Hour)
	session := models.ExamSession{
		StudentID: student.ID,
		Subject:   "Algebra",
		Status:    models.ExamSessionStatusInProgress,
		StartedAt: &startedAt,
	}
	require.NoError(t, db.Create(&session).Error)

	return student, session
}

func TestViolationEndpointsLinkResolution(t *testing.T) {
	app, db := setupProctorApp(t, "handler_violations")

	student, session := seedAttempt(t, db, "R-9001")

	other := models.Student{Name: "Other Candidate", RollNumber: "R-9002"}
	require.NoError(t, db.Create(&other).Error)

	resp := postJSON(t, app, "/api/v2/proctor/violations", map[string]interface{}{
		"exam_id":        session.ID,
		"violation_type": "tab_switch",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created dto.ViolationResponse
	envelope := decodeData(t, resp.Body, &created)
	require.True(t, envelope.Success)
	require.Equal(t, dto.LinkOutcomeLinked, created.LinkOutcome)
	require.NotNil(t, created.StudentID)
	require.Equal(t, student.ID, *created.StudentID)

	// Conflicting identifiers are rejected, not resolved.
	conflict := postJSON(t, app, "/api/v2/proctor/violations", map[string]interface{}{
		"exam_id":        session.ID,
		"student_id":     other.ID,
		"violation_type": "tab_switch",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	require.Equal(t, fiber.StatusConflict, conflict.StatusCode)

	missing := postJSON(t, app, "/api/v2/proctor/violations", map[string]interface{}{
		"exam_id":        99999,
		"violation_type": "tab_switch",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	require.Equal(t, fiber.StatusNotFound, missing.StatusCode)
}

func TestViolationReviewEndpoint(t *testing.T) {
	app, db := setupProctorApp(t, "handler_review")

	student := models.Student{Name: "Orphan Case", RollNumber: "R-9003"}
	require.NoError(t, db.Create(&student).Error)

	resp := postJSON(t, app, "/api/v2/proctor/violations", map[string]interface{}{
		"student_id":     student.ID,
		"violation_type": "window_blur",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v2/proctor/violations/review", nil)
	reviewResp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, reviewResp.StatusCode)

	var envelope struct {
		Success bool                      `json:"success"`
		Data    []dto.ViolationReviewItem `json:"data"`
	}
	require.NoError(t, json.NewDecoder(reviewResp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.Len(t, envelope.Data, 1)
	require.Equal(t, dto.ReviewReasonUnresolvedLink, envelope.Data[0].Reason)
}

func TestLeaseEndpoints(t *testing.T) {
	app, db := setupProctorApp(t, "handler_leases")

	student, session := seedAttempt(t, db, "R-9004")

	heartbeat := postJSON(t, app, "/api/v2/proctor/leases/heartbeat", map[string]interface{}{
		"exam_id":       session.ID,
		"student_id":    student.ID,
		"session_token": "tab-a",
	})
	require.Equal(t, fiber.StatusOK, heartbeat.StatusCode)

	var first dto.HeartbeatResponse
	decodeData(t, heartbeat.Body, &first)
	require.Equal(t, models.LeaseStateActive, first.State)
	require.True(t, first.Accepted)

	contested := postJSON(t, app, "/api/v2/proctor/leases/heartbeat", map[string]interface{}{
		"exam_id":       session.ID,
		"student_id":    student.ID,
		"session_token": "tab-b",
	})
	require.Equal(t, fiber.StatusOK, contested.StatusCode)

	var second dto.HeartbeatResponse
	decodeData(t, contested.Body, &second)
	require.Equal(t, models.LeaseStateContested, second.State)
	require.False(t, second.Accepted)
	require.True(t, second.MultipleSessionsDetected)

	statusURL := fmt.Sprintf("/api/v2/proctor/leases/status?exam_id=%d&student_id=%d", session.ID, student.ID)
	statusResp, err := app.Test(httptest.NewRequest(fiber.MethodGet, statusURL, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, statusResp.StatusCode)

	var statusEnvelope struct {
		Data dto.LeaseStatusResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&statusEnvelope))
	require.Equal(t, models.LeaseStateContested, statusEnvelope.Data.State)

	release := postJSON(t, app, "/api/v2/proctor/leases/release", map[string]interface{}{
		"exam_id":       session.ID,
		"student_id":    student.ID,
		"session_token": "tab-c",
	})
	require.Equal(t, fiber.StatusConflict, release.StatusCode)
}

func TestSnapshotEndpoints(t *testing.T) {
	app, db := setupProctorApp(t, "handler_snapshots")

	student, session := seedAttempt(t, db, "R-9005")

	payload := map[string]interface{}{
		"student_id":  student.ID,
		"exam_id":     session.ID,
		"screen_ok":   true,
		"network_ok":  true,
		"audio_ok":    true,
		"lighting_ok": true,
		"tab_token":   "tab-a",
	}

	created := postJSON(t, app, "/api/v2/proctor/snapshots", payload)
	require.Equal(t, fiber.StatusCreated, created.StatusCode)

	var snapshot dto.SnapshotResponse
	decodeData(t, created.Body, &snapshot)
	require.True(t, snapshot.Passed)

	duplicate := postJSON(t, app, "/api/v2/proctor/snapshots", payload)
	require.Equal(t, fiber.StatusConflict, duplicate.StatusCode)
}

func TestRollupAndReconciliationEndpoints(t *testing.T) {
	app, db := setupProctorApp(t, "handler_rollups")

	student, session := seedAttempt(t, db, "R-9006")

	// A legacy row the reconciliation run can repair.
	studentID := student.ID
	orphan := models.Violation{
		StudentID:     &studentID,
		ViolationType: "tab_switch",
		Timestamp:     time.Now().UTC().Add(-30 * time.Minute),
	}
	require.NoError(t, db.Create(&orphan).Error)

	run := postJSON(t, app, "/api/v2/proctor/admin/reconciliation/run", nil)
	require.Equal(t, fiber.StatusOK, run.StatusCode)

	var summary dto.ReconciliationSummary
	decodeData(t, run.Body, &summary)
	require.Equal(t, 1, summary.Repaired)

	refresh := postJSON(t, app, "/api/v2/proctor/rollups/refresh", nil)
	require.Equal(t, fiber.StatusOK, refresh.StatusCode)

	rollupURL := fmt.Sprintf("/api/v2/proctor/rollups/%d", session.ID)
	rollupResp, err := app.Test(httptest.NewRequest(fiber.MethodGet, rollupURL, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, rollupResp.StatusCode)

	var rollupEnvelope struct {
		Data dto.RollupResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rollupResp.Body).Decode(&rollupEnvelope))
	require.Equal(t, 1, rollupEnvelope.Data.ViolationCount)
	require.Equal(t, []string{"tab_switch"}, rollupEnvelope.Data.DistinctTypes)

	missing, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v2/proctor/rollups/99999", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, missing.StatusCode)
}
