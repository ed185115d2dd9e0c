package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/conversation"
	"github.com/unishop/backend/internal/feedback"
	"github.com/unishop/backend/pkg/logger"
)

type ChatHandler struct {
	service   *conversation.Service
	collector *feedback.Collector
}

func NewChatHandler(service *conversation.Service, collector *feedback.Collector) *ChatHandler {
	return &ChatHandler{
		service:   service,
		collector: collector,
	}
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	var req conversation.MessageRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}

	result, err := h.service.HandleMessage(c.Context(), req)
	if err != nil {
		return respondError(c, err, "Failed to process message")
	}

	return c.JSON(result)
}

func (h *ChatHandler) History(c *fiber.Ctx) error {
	turns, err := h.service.History(c.Context(), c.Params("session"), c.QueryInt("limit"))
	if err != nil {
		return respondError(c, err, "Failed to load history")
	}

	return c.JSON(fiber.Map{
		"session_id": c.Params("session"),
		"history":    turns,
	})
}

func (h *ChatHandler) Feedback(c *fiber.Ctx) error {
	var req feedback.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}

	fb, err := h.collector.Record(c.Context(), req)
	if err != nil {
		return respondError(c, err, "Failed to record feedback")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Feedback recorded",
		"feedback": fb,
	})
}
