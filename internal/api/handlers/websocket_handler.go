package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/conversation"
	"github.com/unishop/backend/internal/middleware/validation"
	"github.com/unishop/backend/pkg/logger"
)

const wsTurnTimeout = 10 * time.Second

type WebSocketHandler struct {
	service *conversation.Service
}

func NewWebSocketHandler(service *conversation.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	sessionID := c.Query("session_id")
	logger.Info("WebSocket connection established", zap.String("session_id", sessionID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", sessionID))
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "message" {
			continue
		}
		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}

		text, err := validation.CleanMessage(msg.Content, validation.DefaultMaxMessageLength)
		if err != nil {
			h.sendError(c, err.Error())
			continue
		}

		result, err := h.handle(sessionID, msg.UserID, text)
		if err != nil {
			logger.Error("Failed to handle WebSocket message", zap.Error(err))
			h.sendError(c, "Failed to process message")
			continue
		}
		sessionID = result.SessionID

		if err := h.streamResult(c, result); err != nil {
			logger.Warn("Failed to stream response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) handle(sessionID, userID, text string) (*conversation.TurnResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wsTurnTimeout)
	defer cancel()

	return h.service.HandleMessage(ctx, conversation.MessageRequest{
		SessionID: sessionID,
		UserID:    userID,
		Text:      text,
	})
}

func (h *WebSocketHandler) streamResult(c *websocket.Conn, result *conversation.TurnResult) error {
	for _, chunk := range responseChunks(result.Response) {
		if err := c.WriteJSON(fiber.Map{"type": "chunk", "content": chunk}); err != nil {
			return err
		}
	}

	return c.WriteJSON(fiber.Map{
		"type":       "complete",
		"turn_id":    result.TurnID,
		"session_id": result.SessionID,
		"intent":     result.Intent,
		"confidence": result.Confidence,
		"source":     result.Source,
		"entities":   result.Entities,
		"follow_ups": result.FollowUps,
		"latency_ms": result.LatencyMs,
	})
}

// responseChunks splits text after each space; joining the chunks gives back the exact text.
func responseChunks(text string) []string {
	chunks := make([]string, 0, strings.Count(text, " ")+1)
	for _, chunk := range strings.SplitAfter(text, " ") {
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(fiber.Map{
		"type":  "error",
		"error": errorMsg,
	})
}
