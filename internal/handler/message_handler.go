package handler

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/service"
	"github.com/noah-isme/taskchat-api/internal/utils"
)

// MessageHandler exposes the message pipeline over REST.
type MessageHandler struct {
	service   service.MessageService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(service service.MessageService, validator *validator.Validate, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// RegisterChatScoped binds the routes nested under /chats/:id.
func (h *MessageHandler) RegisterChatScoped(router fiber.Router) {
	router.Get("/:id/messages", h.history)
	router.Post("/:id/messages", h.send)
	router.Post("/:id/read", h.markRead)
}

// Register binds the routes under /messages.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Patch("/:id", h.edit)
	router.Delete("/:id", h.delete)
	router.Post("/:id/reactions", h.react)
	router.Post("/:id/forward", h.forward)
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	query := dto.MessageHistoryQuery{ChatID: c.Params("id")}

	if before := strings.TrimSpace(c.Query("before")); before != "" {
		parsed, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		query.Before = &parsed
		query.BeforeID = strings.TrimSpace(c.Query("beforeId"))
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	query.Limit = limit

	if err := h.validator.Struct(query); err != nil {
		return sendValidationError(c, err)
	}

	messages, err := h.service.List(requestContext(c), userIDFromContext(c), query)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	meta := fiber.Map{"count": len(messages)}
	if len(messages) > 0 {
		meta["nextBefore"] = messages[0].CreatedAt.Format(time.RFC3339Nano)
		meta["nextBeforeId"] = messages[0].ID
	}
	return utils.OK(c, messages, "chat history", meta)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	var payload dto.MessageSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.ChatID = c.Params("id")

	message, err := h.service.Send(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) markRead(c *fiber.Ctx) error {
	result, err := h.service.MarkRead(requestContext(c), userIDFromContext(c), c.Params("id"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "messages read", result)
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	var payload dto.MessageEditRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.MessageID = c.Params("id")

	message, err := h.service.Edit(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "message updated", message)
}

func (h *MessageHandler) delete(c *fiber.Ctx) error {
	message, err := h.service.Delete(requestContext(c), userIDFromContext(c), c.Params("id"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "message deleted", message)
}

func (h *MessageHandler) react(c *fiber.Ctx) error {
	var payload dto.MessageReactRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.MessageID = c.Params("id")

	message, err := h.service.React(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "reaction updated", message)
}

func (h *MessageHandler) forward(c *fiber.Ctx) error {
	var payload dto.MessageForwardRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Forward(requestContext(c), userIDFromContext(c), c.Params("id"), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message forwarded", result)
}
