package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/pkg/logger"
)

const (
	TypeUserAction = "user_action"
	TypeError      = "error"
)

// Event is a structured business event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher records user actions and operation errors.
type Publisher interface {
	UserAction(ctx context.Context, userID, action string, details map[string]any)
	Error(ctx context.Context, operation string, err error, details map[string]any)
}

// Sink delivers events somewhere.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter fans events out to sinks. Sink failures are logged, never returned.
type Emitter struct {
	sinks []Sink
}

func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

func (e *Emitter) UserAction(ctx context.Context, userID, action string, details map[string]any) {
	e.publish(ctx, Event{
		Type:    TypeUserAction,
		UserID:  userID,
		Action:  action,
		Details: details,
	})
}

func (e *Emitter) Error(ctx context.Context, operation string, err error, details map[string]any) {
	event := Event{
		Type:      TypeError,
		Operation: operation,
		Details:   details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.publish(ctx, event)
}

func (e *Emitter) publish(ctx context.Context, event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			metrics.EventsPublished.WithLabelValues(event.Type, "failed").Inc()
			logger.Warn("Failed to publish event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
			continue
		}
		metrics.EventsPublished.WithLabelValues(event.Type, "ok").Inc()
	}
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("type", event.Type),
		zap.String("event_id", event.ID),
		zap.Any("details", event.Details),
	}

	switch event.Type {
	case TypeError:
		fields = append(fields, zap.String("operation", event.Operation), zap.String("error", event.Error))
		logger.Error("Operation failed", fields...)
	default:
		fields = append(fields, zap.String("user_id", event.UserID), zap.String("action", event.Action))
		logger.Info("User action", fields...)
	}
	return nil
}
