package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/service"
	"github.com/noah-isme/provex-go-api/internal/utils"
)

// SnapshotHandler manages preflight compatibility snapshot endpoints.
type SnapshotHandler struct {
	service   service.SnapshotService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSnapshotHandler builds a snapshot handler instance.
func NewSnapshotHandler(service service.SnapshotService, validator *validator.Validate, logger zerolog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "snapshot_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SnapshotHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.get)
}

func (h *SnapshotHandler) create(c *fiber.Ctx) error {
	var payload dto.SnapshotCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	snapshot, err := h.service.Create(c.Context(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "compatibility snapshot recorded", snapshot)
}

func (h *SnapshotHandler) get(c *fiber.Ctx) error {
	studentID, err := requireQueryUint(c, "student_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	examID, err := requireQueryUint(c, "exam_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	snapshot, err := h.service.Get(c.Context(), studentID, examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "snapshot not found")
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "snapshot retrieved", snapshot)
}

func (h *SnapshotHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrSnapshotExists):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrExamSessionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrLinkageMismatch):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	h.logger.Error().Err(err).Msg("snapshot request failed")

	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
