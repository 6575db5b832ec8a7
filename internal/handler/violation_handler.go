package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/service"
	"github.com/noah-isme/provex-go-api/internal/utils"
)

// ViolationHandler manages violation capture and review endpoints.
type ViolationHandler struct {
	service   service.LinkageService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewViolationHandler builds a violation handler instance.
func NewViolationHandler(service service.LinkageService, validator *validator.Validate, logger zerolog.Logger) *ViolationHandler {
	return &ViolationHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "violation_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ViolationHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Patch("/:id/link", h.updateLink)
	router.Get("/review", h.review)
}

func (h *ViolationHandler) create(c *fiber.Ctx) error {
	var payload dto.ViolationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	violation, err := h.service.CreateViolation(c.Context(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "violation recorded", violation)
}

func (h *ViolationHandler) updateLink(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ViolationUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	violation, err := h.service.UpdateViolationLink(c.Context(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "violation link updated", violation)
}

func (h *ViolationHandler) review(c *fiber.Ctx) error {
	items, err := h.service.ListNeedingReview(c.Context())
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "violations needing review retrieved", items)
}

func (h *ViolationHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrLinkageMismatch):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrExamSessionNotFound),
		errors.Is(err, service.ErrStudentNotFound),
		errors.Is(err, service.ErrViolationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	h.logger.Error().Err(err).Msg("violation request failed")

	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
