package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/provex-go-api/internal/service"
	"github.com/noah-isme/provex-go-api/internal/utils"
)

// RollupHandler serves the aggregation view and its manual refresh.
type RollupHandler struct {
	service service.RollupService
	logger  zerolog.Logger
}

// NewRollupHandler builds a rollup handler instance.
func NewRollupHandler(service service.RollupService, logger zerolog.Logger) *RollupHandler {
	return &RollupHandler{
		service: service,
		logger:  logger.With().Str("component", "rollup_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *RollupHandler) Register(router fiber.Router) {
	router.Get("/:examID", h.get)
	router.Post("/refresh", h.refresh)
}

func (h *RollupHandler) get(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	rollup, err := h.service.Get(c.Context(), examID)
	if err != nil {
		if errors.Is(err, service.ErrRollupNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		}
		h.logger.Error().Err(err).Msg("rollup lookup failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	return utils.SendSuccess(c, "rollup retrieved", rollup)
}

func (h *RollupHandler) refresh(c *fiber.Ctx) error {
	result, err := h.service.Refresh(c.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("rollup refresh failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "rollup refresh failed")
	}

	return utils.SendSuccess(c, "rollup refreshed", result)
}
