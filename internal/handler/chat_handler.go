package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/service"
	"github.com/noah-isme/taskchat-api/internal/utils"
)

// ChatHandler exposes the chat directory.
type ChatHandler struct {
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, validator *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/direct", h.openDirect)
	router.Post("/group", h.createGroup)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
	router.Post("/:id/participants", h.addParticipant)
	router.Delete("/:id/participants/:userId", h.removeParticipant)
	router.Post("/:id/leave", h.leave)
	router.Get("/:id/presence", h.presence)
}

func (h *ChatHandler) list(c *fiber.Ctx) error {
	chats, err := h.service.List(requestContext(c), userIDFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chats", chats)
}

func (h *ChatHandler) get(c *fiber.Ctx) error {
	chat, err := h.service.Get(requestContext(c), userIDFromContext(c), c.Params("id"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat", chat)
}

func (h *ChatHandler) openDirect(c *fiber.Ctx) error {
	var payload dto.DirectChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendValidationError(c, err)
	}

	chat, err := h.service.OpenDirect(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "direct chat", chat)
}

func (h *ChatHandler) createGroup(c *fiber.Ctx) error {
	var payload dto.GroupChatCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendValidationError(c, err)
	}

	chat, err := h.service.CreateGroup(requestContext(c), userIDFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group chat created", chat)
}

func (h *ChatHandler) update(c *fiber.Ctx) error {
	var payload dto.ChatUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.Update(requestContext(c), userIDFromContext(c), c.Params("id"), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat updated", chat)
}

func (h *ChatHandler) delete(c *fiber.Ctx) error {
	if err := h.service.Delete(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat deleted", nil)
}

func (h *ChatHandler) addParticipant(c *fiber.Ctx) error {
	var payload dto.ParticipantRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.AddParticipant(requestContext(c), userIDFromContext(c), c.Params("id"), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "participant added", chat)
}

func (h *ChatHandler) removeParticipant(c *fiber.Ctx) error {
	chat, err := h.service.RemoveParticipant(requestContext(c), userIDFromContext(c), c.Params("id"), c.Params("userId"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "participant removed", chat)
}

func (h *ChatHandler) leave(c *fiber.Ctx) error {
	if err := h.service.Leave(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "left chat", nil)
}

func (h *ChatHandler) presence(c *fiber.Ctx) error {
	presence, err := h.service.Presence(requestContext(c), userIDFromContext(c), c.Params("id"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat presence", presence)
}
