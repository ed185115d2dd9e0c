package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/knowledge"
	"github.com/unishop/backend/pkg/logger"
)

type KnowledgeHandler struct {
	base *knowledge.Base
}

func NewKnowledgeHandler(base *knowledge.Base) *KnowledgeHandler {
	return &KnowledgeHandler{
		base: base,
	}
}

func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	limit := c.QueryInt("limit", knowledge.DefaultSearchLimit)

	results, err := h.base.Search(c.Context(), query, limit)
	if err != nil {
		return respondError(c, err, "Failed to search knowledge base")
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

func (h *KnowledgeHandler) Upsert(c *fiber.Ctx) error {
	var req knowledge.Input
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	entry, err := h.base.Upsert(c.Context(), req)
	if err != nil {
		return respondError(c, err, "Failed to save knowledge entry")
	}

	return c.JSON(entry)
}

func (h *KnowledgeHandler) Get(c *fiber.Ctx) error {
	entry, err := h.base.Get(c.Context(), c.Params("topic"))
	if err != nil {
		return respondError(c, err, "Failed to load knowledge entry")
	}
	return c.JSON(entry)
}

func (h *KnowledgeHandler) SetActive(c *fiber.Ctx) error {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return badRequest(c, "active is required")
	}

	topic := c.Params("topic")
	if err := h.base.SetActive(c.Context(), topic, *req.Active); err != nil {
		return respondError(c, err, "Failed to update knowledge entry")
	}

	return c.JSON(fiber.Map{
		"topic":  topic,
		"active": *req.Active,
	})
}

func (h *KnowledgeHandler) Reindex(c *fiber.Ctx) error {
	indexed, err := h.base.Reindex(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to rebuild semantic index")
	}
	return c.JSON(fiber.Map{
		"indexed": indexed,
	})
}
