package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type Handlers struct {
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
	Knowledge *KnowledgeHandler
	Training  *TrainingHandler
	Learning  *LearningHandler
	Health    *HealthHandler
}

func Register(router fiber.Router, h Handlers) {
	api := router.Group("/api/v1")

	chat := api.Group("/chat")
	chat.Post("/message", h.Chat.SendMessage)
	chat.Get("/history/:session", h.Chat.History)
	chat.Post("/feedback", h.Chat.Feedback)
	chat.Get("/ws", h.WebSocket.Upgrade, websocket.New(h.WebSocket.HandleConnection))

	kb := api.Group("/knowledge")
	kb.Get("/search", h.Knowledge.Search)
	kb.Post("/", h.Knowledge.Upsert)
	kb.Post("/reindex", h.Knowledge.Reindex)
	kb.Get("/:topic", h.Knowledge.Get)
	kb.Patch("/:topic/active", h.Knowledge.SetActive)

	tr := api.Group("/training")
	tr.Post("/data", h.Training.AddExample)
	tr.Get("/data", h.Training.ListExamples)
	tr.Get("/data/stats", h.Training.Stats)
	tr.Patch("/data/:id", h.Training.UpdateExample)
	tr.Delete("/data/:id", h.Training.DeleteExample)
	tr.Post("/intent", h.Training.AddIntent)
	tr.Get("/intents", h.Training.ListIntents)
	tr.Post("/entity", h.Training.AddEntity)
	tr.Get("/entities/:type", h.Training.EntitiesByType)
	tr.Get("/stats", h.Learning.Stats)

	ln := api.Group("/learning")
	ln.Post("/analyze", h.Learning.Analyze)
	ln.Post("/generate", h.Learning.Generate)
	ln.Post("/patterns", h.Learning.Patterns)
	ln.Post("/cycle", h.Learning.RunCycle)
	ln.Post("/cleanup/conversations", h.Learning.CleanupConversations)
	ln.Post("/cleanup/training-data", h.Learning.CleanupTrainingData)
	ln.Post("/metrics", h.Learning.RefreshMetrics)
	ln.Get("/performance", h.Learning.Performance)
	ln.Get("/intents", h.Learning.IntentCounts)

	api.Get("/health", h.Health.Health)
	api.Get("/ready", h.Health.Ready)
}
