package training

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

const (
	maxQuestionRunes   = 255
	defaultConfidence  = 0.8
	defaultListLimit   = 50
	maxListLimit       = 500
	DefaultMinRating   = 4
	DefaultMaxExamples = 50
)

type Store interface {
	ListRatedTurns(ctx context.Context, minRating, limit int) ([]models.ConversationTurn, error)
	ExampleExists(ctx context.Context, question string) (bool, error)
	InsertTrainingExample(ctx context.Context, ex *models.TrainingExample) error
	GetTrainingExample(ctx context.Context, id int64) (*models.TrainingExample, error)
	ListTrainingExamples(ctx context.Context, category string, limit int) ([]models.TrainingExample, error)
	UpdateTrainingExample(ctx context.Context, id int64, update models.ExampleUpdate) (*models.TrainingExample, error)
	DeleteTrainingExample(ctx context.Context, id int64) error
	DuplicateExampleIDs(ctx context.Context) ([]int64, error)
	DeleteTrainingExamples(ctx context.Context, ids []int64) (int64, error)
	DeleteInvalidExamples(ctx context.Context) (int64, error)
	TrainingStats(ctx context.Context) (*models.TrainingStats, error)
	CatalogStore
}

type Curator struct {
	store Store
}

type GenerationResult struct {
	Generated      int `json:"generated"`
	Skipped        int `json:"skipped"`
	TotalProcessed int `json:"total_processed"`
}

type CleanResult struct {
	DuplicatesRemoved int64 `json:"duplicates_removed"`
	InvalidRemoved    int64 `json:"invalid_removed"`
}

type ExampleInput struct {
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	Category        string  `json:"category,omitempty"`
	Intent          string  `json:"intent,omitempty"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"`
}

func NewCurator(store Store) *Curator {
	return &Curator{store: store}
}

// GenerateFromFeedback turns well-rated turns into training examples, skipping questions already present.
func (c *Curator) GenerateFromFeedback(ctx context.Context, minRating, maxExamples int) (*GenerationResult, error) {
	if minRating < 1 || minRating > 5 {
		return nil, fmt.Errorf("min rating must be between 1 and 5, got %d: %w", minRating, models.ErrValidation)
	}
	if maxExamples <= 0 {
		return nil, fmt.Errorf("max examples must be positive, got %d: %w", maxExamples, models.ErrValidation)
	}

	turns, err := c.store.ListRatedTurns(ctx, minRating, maxExamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load rated turns: %w", err)
	}

	result := &GenerationResult{TotalProcessed: len(turns)}

	for _, turn := range turns {
		question := truncateRunes(strings.TrimSpace(turn.UserMessage), maxQuestionRunes)

		exists, err := c.store.ExampleExists(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing example: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}

		label := turn.IntentDetected
		if label == "" {
			label = models.IntentGeneral
		}

		err = c.store.InsertTrainingExample(ctx, &models.TrainingExample{
			Question:        question,
			Answer:          turn.BotResponse,
			Category:        label,
			Intent:          label,
			ConfidenceScore: defaultConfidence,
			Source:          models.SourceGeneratedFeedback,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create training example from turn %d: %w", turn.ID, err)
		}
		result.Generated++
	}

	metrics.TrainingCurated.WithLabelValues("generated").Add(float64(result.Generated))
	metrics.TrainingCurated.WithLabelValues("skipped").Add(float64(result.Skipped))

	logger.Info("Training data generated from feedback",
		zap.Int("generated", result.Generated),
		zap.Int("skipped", result.Skipped),
		zap.Int("processed", result.TotalProcessed),
	)

	return result, nil
}

// ValidateAndClean removes duplicate questions, keeping the lowest id, then blank examples.
func (c *Curator) ValidateAndClean(ctx context.Context) (*CleanResult, error) {
	ids, err := c.store.DuplicateExampleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicates: %w", err)
	}

	duplicates, err := c.store.DeleteTrainingExamples(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to remove duplicates: %w", err)
	}

	invalid, err := c.store.DeleteInvalidExamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to remove invalid examples: %w", err)
	}

	metrics.TrainingCurated.WithLabelValues("duplicate_removed").Add(float64(duplicates))
	metrics.TrainingCurated.WithLabelValues("invalid_removed").Add(float64(invalid))

	logger.Info("Training data cleaned",
		zap.Int64("duplicates_removed", duplicates),
		zap.Int64("invalid_removed", invalid),
	)

	return &CleanResult{DuplicatesRemoved: duplicates, InvalidRemoved: invalid}, nil
}

func (c *Curator) AddExample(ctx context.Context, in ExampleInput) (*models.TrainingExample, error) {
	question := strings.TrimSpace(in.Question)
	answer := strings.TrimSpace(in.Answer)
	if question == "" || answer == "" {
		return nil, fmt.Errorf("question and answer are required: %w", models.ErrValidation)
	}

	confidence := in.ConfidenceScore
	if confidence == 0 {
		confidence = defaultConfidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence must be between 0 and 1, got %v: %w", confidence, models.ErrValidation)
	}

	ex := &models.TrainingExample{
		Question:        truncateRunes(question, maxQuestionRunes),
		Answer:          answer,
		Category:        strings.TrimSpace(in.Category),
		Intent:          strings.TrimSpace(in.Intent),
		ConfidenceScore: confidence,
		Source:          models.SourceManual,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.store.InsertTrainingExample(ctx, ex); err != nil {
		return nil, fmt.Errorf("failed to add example: %w", err)
	}
	return ex, nil
}

func (c *Curator) ListExamples(ctx context.Context, limit int, category string) ([]models.TrainingExample, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	examples, err := c.store.ListTrainingExamples(ctx, strings.TrimSpace(category), limit)
	if err != nil {
		return nil, err
	}
	if examples == nil {
		examples = []models.TrainingExample{}
	}
	return examples, nil
}

func (c *Curator) UpdateExample(ctx context.Context, id int64, update models.ExampleUpdate) (*models.TrainingExample, error) {
	if update.Question != nil {
		q := strings.TrimSpace(*update.Question)
		if q == "" {
			return nil, fmt.Errorf("question cannot be blank: %w", models.ErrValidation)
		}
		q = truncateRunes(q, maxQuestionRunes)
		update.Question = &q
	}
	if update.Answer != nil {
		a := strings.TrimSpace(*update.Answer)
		if a == "" {
			return nil, fmt.Errorf("answer cannot be blank: %w", models.ErrValidation)
		}
		update.Answer = &a
	}
	if update.ConfidenceScore != nil && (*update.ConfidenceScore < 0 || *update.ConfidenceScore > 1) {
		return nil, fmt.Errorf("confidence must be between 0 and 1: %w", models.ErrValidation)
	}

	return c.store.UpdateTrainingExample(ctx, id, update)
}

func (c *Curator) DeleteExample(ctx context.Context, id int64) error {
	return c.store.DeleteTrainingExample(ctx, id)
}

func (c *Curator) Stats(ctx context.Context) (*models.TrainingStats, error) {
	return c.store.TrainingStats(ctx)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
