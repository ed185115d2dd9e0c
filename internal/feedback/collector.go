package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/unishop/backend/internal/events"
	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

const (
	minRating = 1
	maxRating = 5
)

type Store interface {
	GetTurn(ctx context.Context, id int64) (*models.ConversationTurn, error)
	RecordFeedback(ctx context.Context, fb *models.UserFeedback) error
}

type Request struct {
	TurnID     int64  `json:"conversation_id"`
	UserID     string `json:"user_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comments,omitempty"`
	Suggestion string `json:"suggested_improvement,omitempty"`
}

type Collector struct {
	store  Store
	events events.Publisher
}

func NewCollector(store Store, publisher events.Publisher) *Collector {
	if publisher == nil {
		publisher = events.NewEmitter(events.LogSink{})
	}
	return &Collector{store: store, events: publisher}
}

// Record stores a rating for a turn. Every call appends a feedback row; the turn keeps the latest rating.
func (c *Collector) Record(ctx context.Context, req Request) (*models.UserFeedback, error) {
	if req.Rating < minRating || req.Rating > maxRating {
		return nil, fmt.Errorf("rating must be between %d and %d, got %d: %w", minRating, maxRating, req.Rating, models.ErrValidation)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrValidation)
	}

	turn, err := c.store.GetTurn(ctx, req.TurnID)
	if err != nil {
		return nil, err
	}
	if !turn.Status.CanTransition(models.TurnRated) {
		return nil, fmt.Errorf("turn %d is %s: %w", turn.ID, turn.Status, models.ErrInvalidTransition)
	}

	fb := &models.UserFeedback{
		ConversationID:       req.TurnID,
		UserID:               req.UserID,
		Rating:               req.Rating,
		Comments:             strings.TrimSpace(req.Comment),
		SuggestedImprovement: strings.TrimSpace(req.Suggestion),
	}
	if err := c.store.RecordFeedback(ctx, fb); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("save feedback: %w: %w", models.ErrUnavailable, err)
	}

	metrics.FeedbackRatings.Observe(float64(req.Rating))
	c.events.UserAction(ctx, req.UserID, "feedback", map[string]any{
		"conversation_id": req.TurnID,
		"rating":          req.Rating,
		"has_comment":     fb.Comments != "",
	})

	logger.Info("Feedback recorded",
		zap.Int64("turn_id", req.TurnID),
		zap.Int("rating", req.Rating),
		zap.Bool("helpful", req.Rating >= 4),
	)

	return fb, nil
}
