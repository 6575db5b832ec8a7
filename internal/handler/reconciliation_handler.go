package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/provex-go-api/internal/service"
	"github.com/noah-isme/provex-go-api/internal/utils"
)

// ReconciliationHandler exposes the on-demand repair invocation for operators.
type ReconciliationHandler struct {
	service service.ReconciliationService
	logger  zerolog.Logger
}

// NewReconciliationHandler builds a reconciliation handler instance.
func NewReconciliationHandler(service service.ReconciliationService, logger zerolog.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{
		service: service,
		logger:  logger.With().Str("component", "reconciliation_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ReconciliationHandler) Register(router fiber.Router) {
	router.Post("/run", h.run)
}

func (h *ReconciliationHandler) run(c *fiber.Ctx) error {
	summary, err := h.service.Run(c.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("reconciliation run failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "reconciliation failed")
	}

	return utils.SendSuccess(c, "reconciliation completed", summary)
}
