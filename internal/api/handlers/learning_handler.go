package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/unishop/backend/internal/learning"
	"github.com/unishop/backend/internal/training"
)

// IntentCounts reports live per-intent turn counters.
type IntentCounts interface {
	IntentCounts(ctx context.Context) (map[string]int64, error)
}

type LearningHandler struct {
	orchestrator *learning.Orchestrator
	curator      *training.Curator
	cfg          learning.Config
	counts       IntentCounts
}

func NewLearningHandler(orchestrator *learning.Orchestrator, curator *training.Curator, cfg learning.Config) *LearningHandler {
	return &LearningHandler{
		orchestrator: orchestrator,
		curator:      curator,
		cfg:          cfg,
	}
}

func (h *LearningHandler) WithIntentCounts(counts IntentCounts) *LearningHandler {
	h.counts = counts
	return h
}

func (h *LearningHandler) Analyze(c *fiber.Ctx) error {
	analysis, err := h.orchestrator.Analyze(c.Context(), c.QueryInt("days", 30))
	if err != nil {
		return respondError(c, err, "Failed to analyze conversations")
	}
	return c.JSON(analysis)
}

func (h *LearningHandler) Generate(c *fiber.Ctx) error {
	minRating := c.QueryInt("minRating", training.DefaultMinRating)
	maxExamples := c.QueryInt("maxExamples", training.DefaultMaxExamples)

	result, err := h.curator.GenerateFromFeedback(c.Context(), minRating, maxExamples)
	if err != nil {
		return respondError(c, err, "Failed to generate training data")
	}
	return c.JSON(result)
}

func (h *LearningHandler) Patterns(c *fiber.Ctx) error {
	adjustments, err := h.orchestrator.DetectPatterns(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to detect patterns")
	}
	return c.JSON(fiber.Map{
		"adjustments": adjustments,
		"count":       len(adjustments),
	})
}

func (h *LearningHandler) RunCycle(c *fiber.Ctx) error {
	summary, err := h.orchestrator.RunCycle(c.Context())
	if err != nil {
		return respondError(c, err, "Learning cycle failed")
	}
	return c.JSON(summary)
}

func (h *LearningHandler) CleanupConversations(c *fiber.Ctx) error {
	keepLast := c.QueryInt("keepLast", h.cfg.KeepLast)

	removed, err := h.orchestrator.Prune(c.Context(), keepLast)
	if err != nil {
		return respondError(c, err, "Failed to clean up conversations")
	}
	return c.JSON(fiber.Map{
		"removed":   removed,
		"keep_last": keepLast,
	})
}

func (h *LearningHandler) CleanupTrainingData(c *fiber.Ctx) error {
	result, err := h.curator.ValidateAndClean(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to clean training data")
	}
	return c.JSON(result)
}

func (h *LearningHandler) RefreshMetrics(c *fiber.Ctx) error {
	date := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return badRequest(c, "date must use YYYY-MM-DD")
		}
		date = parsed
	}

	snapshot, err := h.orchestrator.RefreshDailyMetrics(c.Context(), date)
	if err != nil {
		return respondError(c, err, "Failed to refresh metrics")
	}
	return c.JSON(snapshot)
}

func (h *LearningHandler) Performance(c *fiber.Ctx) error {
	report, err := h.orchestrator.PerformanceReport(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to build performance report")
	}
	return c.JSON(fiber.Map{
		"current_performance": fiber.Map{
			"average_rating":      report.AverageRating,
			"total_conversations": report.TotalConversations,
			"improvement_areas":   report.ImprovementAreas,
		},
		"suggestions": report.Suggestions,
	})
}

func (h *LearningHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.orchestrator.Stats(c.Context(), c.QueryInt("days", 30))
	if err != nil {
		return respondError(c, err, "Failed to load chatbot stats")
	}
	return c.JSON(stats)
}

func (h *LearningHandler) IntentCounts(c *fiber.Ctx) error {
	if h.counts == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Intent counters require redis",
		})
	}

	counts, err := h.counts.IntentCounts(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to load intent counters")
	}
	return c.JSON(fiber.Map{
		"intents": counts,
	})
}
