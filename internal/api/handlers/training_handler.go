package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/training"
	"github.com/unishop/backend/pkg/logger"
)

type TrainingHandler struct {
	curator *training.Curator
}

func NewTrainingHandler(curator *training.Curator) *TrainingHandler {
	return &TrainingHandler{
		curator: curator,
	}
}

func (h *TrainingHandler) AddExample(c *fiber.Ctx) error {
	var req training.ExampleInput
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	example, err := h.curator.AddExample(c.Context(), req)
	if err != nil {
		return respondError(c, err, "Failed to add training example")
	}
	return c.Status(fiber.StatusCreated).JSON(example)
}

func (h *TrainingHandler) ListExamples(c *fiber.Ctx) error {
	examples, err := h.curator.ListExamples(c.Context(), c.QueryInt("limit"), c.Query("category"))
	if err != nil {
		return respondError(c, err, "Failed to list training examples")
	}
	return c.JSON(fiber.Map{
		"examples": examples,
		"count":    len(examples),
	})
}

func (h *TrainingHandler) UpdateExample(c *fiber.Ctx) error {
	id, err := exampleID(c)
	if err != nil {
		return badRequest(c, "Invalid example id")
	}

	var update models.ExampleUpdate
	if err := c.BodyParser(&update); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	example, err := h.curator.UpdateExample(c.Context(), id, update)
	if err != nil {
		return respondError(c, err, "Failed to update training example")
	}
	return c.JSON(example)
}

func (h *TrainingHandler) DeleteExample(c *fiber.Ctx) error {
	id, err := exampleID(c)
	if err != nil {
		return badRequest(c, "Invalid example id")
	}

	if err := h.curator.DeleteExample(c.Context(), id); err != nil {
		return respondError(c, err, "Failed to delete training example")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *TrainingHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.curator.Stats(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to load training stats")
	}
	return c.JSON(stats)
}

func (h *TrainingHandler) AddIntent(c *fiber.Ctx) error {
	var req models.Intent
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	intent, err := h.curator.AddIntent(c.Context(), req)
	if err != nil {
		return respondError(c, err, "Failed to add intent")
	}
	return c.Status(fiber.StatusCreated).JSON(intent)
}

func (h *TrainingHandler) ListIntents(c *fiber.Ctx) error {
	intents, err := h.curator.ListIntents(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to list intents")
	}
	return c.JSON(fiber.Map{
		"intents": intents,
	})
}

func (h *TrainingHandler) AddEntity(c *fiber.Ctx) error {
	var req models.CatalogEntity
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	entity, err := h.curator.AddEntity(c.Context(), req)
	if err != nil {
		return respondError(c, err, "Failed to add entity")
	}
	return c.Status(fiber.StatusCreated).JSON(entity)
}

func (h *TrainingHandler) EntitiesByType(c *fiber.Ctx) error {
	entities, err := h.curator.EntitiesByType(c.Context(), c.Params("type"))
	if err != nil {
		return respondError(c, err, "Failed to list entities")
	}
	return c.JSON(fiber.Map{
		"type":     c.Params("type"),
		"entities": entities,
	})
}

func exampleID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}
