package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/events"
	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/internal/nlu"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

const (
	SourceRules    = "rules"
	SourceFallback = "fallback"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100

	defaultFallbackResponse = "Lo siento, tuve un problema procesando tu mensaje. ¿Podrías intentarlo de nuevo?"
)

type Store interface {
	CreateTurn(ctx context.Context, turn *models.ConversationTurn) error
	RecordResponse(ctx context.Context, id int64, resp models.TurnResponse) error
	ListSessionTurns(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)
	IncrementUsage(ctx context.Context, intent string, at time.Time) (int64, error)
}

type Classifier interface {
	Classify(text string) nlu.Classification
}

type Extractor interface {
	Extract(text string) []models.ExtractedEntity
}

type Generator interface {
	Generate(intent string, entities []models.ExtractedEntity, text string) (string, error)
	FollowUps(intent string) []string
}

// IntentCounter keeps live per-intent counts, e.g. in Redis.
type IntentCounter interface {
	IncrementIntent(ctx context.Context, intent string) error
}

type Deps struct {
	Store      Store
	Classifier Classifier
	Extractor  Extractor
	Generator  Generator

	// Optional.
	Counter          IntentCounter
	Events           events.Publisher
	FallbackResponse string
}

type Service struct {
	store      Store
	classifier Classifier
	extractor  Extractor
	generator  Generator
	counter    IntentCounter
	events     events.Publisher
	fallback   string
}

type MessageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"message"`
}

type TurnResult struct {
	TurnID     int64                    `json:"turn_id"`
	SessionID  string                   `json:"session_id"`
	Response   string                   `json:"response"`
	Intent     string                   `json:"intent"`
	Confidence float64                  `json:"confidence"`
	Source     string                   `json:"source"`
	Entities   []models.ExtractedEntity `json:"entities"`
	FollowUps  []string                 `json:"follow_ups,omitempty"`
	LatencyMs  int                      `json:"latency_ms"`
}

func NewService(deps Deps) *Service {
	s := &Service{
		store:      deps.Store,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		generator:  deps.Generator,
		counter:    deps.Counter,
		events:     deps.Events,
		fallback:   deps.FallbackResponse,
	}
	if s.events == nil {
		s.events = events.NewEmitter(events.LogSink{})
	}
	if s.fallback == "" {
		s.fallback = defaultFallbackResponse
	}
	return s
}

type reply struct {
	classification nlu.Classification
	entities       []models.ExtractedEntity
	text           string
}

// HandleMessage runs one turn: started, then classified and answered, then responded.
// Generation failures produce the fallback reply instead of an error.
func (s *Service) HandleMessage(ctx context.Context, req MessageRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("message text is empty: %w", models.ErrValidation)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	turn := &models.ConversationTurn{
		SessionID:   sessionID,
		UserID:      req.UserID,
		UserMessage: text,
		Status:      models.TurnStarted,
	}
	if err := s.store.CreateTurn(ctx, turn); err != nil {
		logger.Error("Failed to start turn", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("start turn: %w: %w", models.ErrUnavailable, err)
	}

	start := time.Now()
	r, genErr := s.respond(text)
	latency := int(time.Since(start).Milliseconds())

	if genErr != nil {
		return s.fallbackTurn(ctx, turn, latency, genErr), nil
	}

	err := s.store.RecordResponse(ctx, turn.ID, models.TurnResponse{
		BotResponse:    r.text,
		IntentDetected: r.classification.Intent,
		Entities:       r.entities,
		ResponseTimeMs: latency,
	})
	if err != nil {
		logger.Error("Failed to record response", zap.Int64("turn_id", turn.ID), zap.Error(err))
		return nil, fmt.Errorf("record response: %w: %w", models.ErrUnavailable, err)
	}

	s.afterTurn(ctx, turn, r, latency)

	return &TurnResult{
		TurnID:     turn.ID,
		SessionID:  sessionID,
		Response:   r.text,
		Intent:     r.classification.Intent,
		Confidence: r.classification.Confidence,
		Source:     SourceRules,
		Entities:   r.entities,
		FollowUps:  s.generator.FollowUps(r.classification.Intent),
		LatencyMs:  latency,
	}, nil
}

func (s *Service) respond(text string) (r reply, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while generating response: %v", p)
		}
	}()

	r.classification = s.classifier.Classify(text)
	r.entities = s.extractor.Extract(text)
	r.text, err = s.generator.Generate(r.classification.Intent, r.entities, text)
	return r, err
}

func (s *Service) fallbackTurn(ctx context.Context, turn *models.ConversationTurn, latency int, cause error) *TurnResult {
	logger.Warn("Falling back after generation failure",
		zap.Int64("turn_id", turn.ID),
		zap.Error(cause),
	)
	s.events.Error(ctx, "chatbot_process_message", cause, map[string]any{
		"turn_id":    turn.ID,
		"session_id": turn.SessionID,
	})

	err := s.store.RecordResponse(ctx, turn.ID, models.TurnResponse{
		BotResponse:    s.fallback,
		IntentDetected: models.IntentError,
		Entities:       []models.ExtractedEntity{},
		ResponseTimeMs: latency,
	})
	if err != nil {
		logger.Error("Failed to persist fallback response", zap.Int64("turn_id", turn.ID), zap.Error(err))
	}

	metrics.TurnsTotal.WithLabelValues(SourceFallback).Inc()

	return &TurnResult{
		TurnID:     turn.ID,
		SessionID:  turn.SessionID,
		Response:   s.fallback,
		Intent:     models.IntentError,
		Confidence: 0,
		Source:     SourceFallback,
		Entities:   []models.ExtractedEntity{},
		LatencyMs:  latency,
	}
}

// afterTurn updates usage counters and emits the turn event. Failures are logged only.
func (s *Service) afterTurn(ctx context.Context, turn *models.ConversationTurn, r reply, latency int) {
	intent := r.classification.Intent

	metrics.TurnsTotal.WithLabelValues(SourceRules).Inc()
	metrics.IntentsDetected.WithLabelValues(intent).Inc()
	metrics.ClassificationConfidence.Observe(r.classification.Confidence)
	metrics.TurnDuration.Observe(float64(latency) / 1000)

	if _, err := s.store.IncrementUsage(ctx, intent, time.Now().UTC()); err != nil {
		logger.Warn("Failed to update training usage", zap.String("intent", intent), zap.Error(err))
	}

	if s.counter != nil {
		if err := s.counter.IncrementIntent(ctx, intent); err != nil {
			logger.Warn("Failed to increment intent counter", zap.String("intent", intent), zap.Error(err))
		}
	}

	s.events.UserAction(ctx, turn.UserID, "chat_message", map[string]any{
		"session_id":    turn.SessionID,
		"turn_id":       turn.ID,
		"intent":        intent,
		"confidence":    r.classification.Confidence,
		"response_time": latency,
	})

	logger.Info("Turn processed",
		zap.Int64("turn_id", turn.ID),
		zap.String("session_id", turn.SessionID),
		zap.String("intent", intent),
		zap.Float64("confidence", r.classification.Confidence),
		zap.Int("latency_ms", latency),
	)
}

// History returns the session's turns, most recent first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required: %w", models.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	turns, err := s.store.ListSessionTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w: %w", models.ErrUnavailable, err)
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	return turns, nil
}
