package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/service"
	"github.com/noah-isme/provex-go-api/internal/utils"
)

// LeaseHandler manages session lease endpoints including the websocket
// stream of contested-lease signals.
type LeaseHandler struct {
	service   service.LeaseService
	stream    service.LeaseStreamService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewLeaseHandler builds a lease handler instance.
func NewLeaseHandler(service service.LeaseService, stream service.LeaseStreamService, validator *validator.Validate, logger zerolog.Logger) *LeaseHandler {
	return &LeaseHandler{
		service:   service,
		stream:    stream,
		validator: validator,
		logger:    logger.With().Str("component", "lease_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *LeaseHandler) Register(router fiber.Router) {
	router.Post("/heartbeat", h.heartbeat)
	router.Post("/release", h.release)
	router.Get("/status", h.status)

	router.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/stream", websocket.New(h.streamConnection))
}

func (h *LeaseHandler) heartbeat(c *fiber.Ctx) error {
	var payload dto.HeartbeatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Heartbeat(c.Context(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "heartbeat processed", response)
}

func (h *LeaseHandler) release(c *fiber.Ctx) error {
	var payload dto.ReleaseRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.Release(c.Context(), payload); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "lease released", nil)
}

func (h *LeaseHandler) status(c *fiber.Ctx) error {
	examID, err := requireQueryUint(c, "exam_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	studentID, err := requireQueryUint(c, "student_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	status, err := h.service.Status(c.Context(), examID, studentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "lease status retrieved", status)
}

func (h *LeaseHandler) streamConnection(conn *websocket.Conn) {
	examID, err := websocketQueryUint(conn, "exam_id")
	if err != nil {
		closeWithReason(conn, "exam_id required")
		return
	}
	studentID, err := websocketQueryUint(conn, "student_id")
	if err != nil {
		closeWithReason(conn, "student_id required")
		return
	}

	events, cancel := h.stream.Subscribe(examID, studentID)
	defer cancel()

	h.logger.Info().Uint("exam_id", examID).Uint("student_id", studentID).Msg("lease stream connected")

	// Reader goroutine: its only purpose is noticing the client going away.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-disconnected:
			h.logger.Info().Uint("exam_id", examID).Uint("student_id", studentID).Msg("lease stream disconnected")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Warn().Err(err).Msg("failed to write lease stream event")
				return
			}
		}
	}
}

func (h *LeaseHandler) handleError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrLeaseNotHeld) {
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	h.logger.Error().Err(err).Msg("lease request failed")

	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}

func websocketQueryUint(conn *websocket.Conn, key string) (uint, error) {
	value := conn.Query(key)
	if value == "" {
		return 0, errors.New(key + " is required")
	}

	var parsed uint64
	var err error
	if parsed, err = parseUint64(value); err != nil {
		return 0, err
	}

	return uint(parsed), nil
}

func closeWithReason(conn *websocket.Conn, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	_ = conn.Close()
}
