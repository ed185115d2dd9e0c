package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/training"
	"github.com/unishop/backend/pkg/logger"
)

const (
	maxSuggestedTemplates = 3
	candidateResponses    = 5
	goodRating            = 4
	topIntentCount        = 5
	performanceDays       = 30
)

type Config struct {
	LookbackDays            int
	CurationRatingThreshold float64
	CurationMinRating       int
	CurationMaxExamples     int
	KeepLast                int
	SlowResponseMs          int
	LowIntentRating         float64
	StaleTurnAfter          time.Duration
	TopTerms                int
}

func DefaultConfig() Config {
	return Config{
		LookbackDays:            7,
		CurationRatingThreshold: 3.5,
		CurationMinRating:       4,
		CurationMaxExamples:     20,
		KeepLast:                1000,
		SlowResponseMs:          5000,
		LowIntentRating:         3.0,
		StaleTurnAfter:          10 * time.Minute,
		TopTerms:                10,
	}
}

type Store interface {
	ListTurnsBetween(ctx context.Context, from, to time.Time) ([]models.ConversationTurn, error)
	IntentRatings(ctx context.Context, below float64) ([]models.IntentRating, error)
	TopRatedResponses(ctx context.Context, intent string, minRating, limit int) ([]string, error)
	UpsertDailyMetrics(ctx context.Context, m *models.DailyMetrics) error
	PruneTurns(ctx context.Context, keepLast int) (int64, error)
}

type Curator interface {
	GenerateFromFeedback(ctx context.Context, minRating, maxExamples int) (*training.GenerationResult, error)
}

// Locker keeps two cycles from running at once. Acquire returns models.ErrCycleInProgress when held.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type Adjustment struct {
	Intent             string   `json:"intent"`
	CurrentRating      float64  `json:"current_rating"`
	ConversationCount  int      `json:"conversation_count"`
	SuggestedTemplates []string `json:"suggested_templates"`
}

type CycleSummary struct {
	Analysis          *Analysis                  `json:"analysis"`
	TrainingGenerated bool                       `json:"training_generated"`
	Generation        *training.GenerationResult `json:"generation,omitempty"`
	AdjustmentsNeeded int                        `json:"adjustments_needed"`
	Adjustments       []Adjustment               `json:"adjustments"`
	Metrics           *models.DailyMetrics       `json:"metrics"`
	CleanupPerformed  bool                       `json:"cleanup_performed"`
	TurnsPruned       int64                      `json:"turns_pruned"`
	Duration          time.Duration              `json:"duration"`
}

type PerformanceReport struct {
	AverageRating      float64      `json:"average_rating"`
	TotalConversations int          `json:"total_conversations"`
	ImprovementAreas   CommonIssues `json:"improvement_areas"`
	Suggestions        []string     `json:"suggestions"`
}

type Stats struct {
	TotalConversations    int     `json:"total_conversations"`
	AverageRating         float64 `json:"average_rating"`
	AverageResponseTimeMs int     `json:"average_response_time_ms"`
	PeriodDays            int     `json:"period_days"`
}

// Orchestrator runs the continuous learning cycle over logged turns and ratings.
type Orchestrator struct {
	store   Store
	curator Curator
	locker  Locker
	cfg     Config
	now     func() time.Time
}

func NewOrchestrator(store Store, curator Curator, locker Locker, cfg Config) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = defaults.LookbackDays
	}
	if cfg.CurationMinRating <= 0 {
		cfg.CurationMinRating = defaults.CurationMinRating
	}
	if cfg.CurationMaxExamples <= 0 {
		cfg.CurationMaxExamples = defaults.CurationMaxExamples
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaults.KeepLast
	}
	if cfg.SlowResponseMs <= 0 {
		cfg.SlowResponseMs = defaults.SlowResponseMs
	}
	if cfg.StaleTurnAfter <= 0 {
		cfg.StaleTurnAfter = defaults.StaleTurnAfter
	}
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = defaults.TopTerms
	}

	return &Orchestrator{
		store:   store,
		curator: curator,
		locker:  locker,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle analyses recent turns, curates training data when ratings drop, detects weak intents,
// refreshes today's metrics and prunes old turns. The first failing stage stops the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleSummary, error) {
	start := time.Now()

	if o.locker != nil {
		release, err := o.locker.Acquire(ctx)
		if err != nil {
			status := "error"
			if errors.Is(err, models.ErrCycleInProgress) {
				status = "skipped"
			}
			metrics.LearningCycles.WithLabelValues(status).Inc()
			return nil, fmt.Errorf("learning cycle: %w", err)
		}
		defer release()
	}

	logger.Info("Starting learning cycle")

	summary, err := o.runStages(ctx)

	duration := time.Since(start)
	metrics.LearningCycleDuration.Observe(duration.Seconds())
	if err != nil {
		metrics.LearningCycles.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.LearningCycles.WithLabelValues("completed").Inc()

	summary.Duration = duration
	logger.Info("Learning cycle completed",
		zap.Bool("training_generated", summary.TrainingGenerated),
		zap.Int("adjustments", summary.AdjustmentsNeeded),
		zap.Int64("turns_pruned", summary.TurnsPruned),
		zap.Duration("duration", duration),
	)
	return summary, nil
}

func (o *Orchestrator) runStages(ctx context.Context) (*CycleSummary, error) {
	summary := &CycleSummary{Adjustments: []Adjustment{}}

	analysis, err := o.Analyze(ctx, o.cfg.LookbackDays)
	if err != nil {
		return nil, stageError("analyze", err)
	}
	summary.Analysis = analysis

	if analysis.AverageRating < o.cfg.CurationRatingThreshold {
		generation, err := o.curator.GenerateFromFeedback(ctx, o.cfg.CurationMinRating, o.cfg.CurationMaxExamples)
		if err != nil {
			return nil, stageError("generate", err)
		}
		summary.TrainingGenerated = true
		summary.Generation = generation
		logger.Info("Generated training examples", zap.Int("generated", generation.Generated))
	}

	adjustments, err := o.DetectPatterns(ctx)
	if err != nil {
		return nil, stageError("patterns", err)
	}
	summary.Adjustments = adjustments
	summary.AdjustmentsNeeded = len(adjustments)
	if len(adjustments) > 0 {
		logger.Info("Intents need adjustment", zap.Int("count", len(adjustments)))
	}

	daily, err := o.RefreshDailyMetrics(ctx, o.now())
	if err != nil {
		return nil, stageError("metrics", err)
	}
	summary.Metrics = daily

	pruned, err := o.Prune(ctx, o.cfg.KeepLast)
	if err != nil {
		return nil, stageError("cleanup", err)
	}
	summary.CleanupPerformed = true
	summary.TurnsPruned = pruned

	return summary, nil
}

func stageError(stage string, err error) error {
	logger.Error("Learning cycle stage failed", zap.String("stage", stage), zap.Error(err))
	return fmt.Errorf("learning cycle: %s: %w", stage, err)
}

// DetectPatterns lists intents whose rated turns average below LowIntentRating, with up to three
// well-rated responses each as template candidates. Intent templates are not modified.
func (o *Orchestrator) DetectPatterns(ctx context.Context) ([]Adjustment, error) {
	ratings, err := o.store.IntentRatings(ctx, o.cfg.LowIntentRating)
	if err != nil {
		return nil, err
	}

	adjustments := []Adjustment{}
	for _, r := range ratings {
		responses, err := o.store.TopRatedResponses(ctx, r.Intent, goodRating, candidateResponses)
		if err != nil {
			return nil, err
		}

		templates := dedupe(responses)
		if len(templates) == 0 {
			continue
		}
		if len(templates) > maxSuggestedTemplates {
			templates = templates[:maxSuggestedTemplates]
		}

		adjustments = append(adjustments, Adjustment{
			Intent:             r.Intent,
			CurrentRating:      r.AverageRating,
			ConversationCount:  r.Count,
			SuggestedTemplates: templates,
		})
	}
	return adjustments, nil
}

// RefreshDailyMetrics recomputes the snapshot for the UTC day containing date.
func (o *Orchestrator) RefreshDailyMetrics(ctx context.Context, date time.Time) (*models.DailyMetrics, error) {
	day := date.UTC().Truncate(24 * time.Hour)

	turns, err := o.store.ListTurnsBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	snapshot := &models.DailyMetrics{
		Date:               day,
		TotalConversations: len(turns),
		TopIntents:         map[string]int{},
	}

	var (
		latencySum, latencyCount int
		ratingSum, ratingCount   int
	)
	intentCounts := make(map[string]int)

	for _, turn := range turns {
		if isSuccessful(turn) {
			snapshot.SuccessfulResponses++
		}
		if turn.ResponseTimeMs != nil {
			latencySum += *turn.ResponseTimeMs
			latencyCount++
		}
		if turn.UserRating != nil {
			ratingSum += *turn.UserRating
			ratingCount++
		}
		if turn.IntentDetected != "" {
			intentCounts[turn.IntentDetected]++
		}
	}

	if latencyCount > 0 {
		snapshot.AverageResponseTimeMs = float64(latencySum) / float64(latencyCount)
	}
	if ratingCount > 0 {
		snapshot.AverageSatisfaction = float64(ratingSum) / float64(ratingCount)
	}
	for _, intent := range topIntents(intentCounts, topIntentCount) {
		snapshot.TopIntents[intent] = intentCounts[intent]
	}

	if err := o.store.UpsertDailyMetrics(ctx, snapshot); err != nil {
		return nil, err
	}

	metrics.DailyConversations.Set(float64(snapshot.TotalConversations))
	metrics.DailySatisfaction.Set(snapshot.AverageSatisfaction)
	metrics.DailyResponseTime.Set(snapshot.AverageResponseTimeMs)

	logger.Info("Daily metrics refreshed",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("conversations", snapshot.TotalConversations),
		zap.Int("successful", snapshot.SuccessfulResponses),
	)
	return snapshot, nil
}

// Prune keeps the keepLast most recent turns.
func (o *Orchestrator) Prune(ctx context.Context, keepLast int) (int64, error) {
	if keepLast <= 0 {
		return 0, fmt.Errorf("keep last must be positive, got %d: %w", keepLast, models.ErrValidation)
	}

	removed, err := o.store.PruneTurns(ctx, keepLast)
	if err != nil {
		return 0, err
	}
	metrics.TurnsPruned.Add(float64(removed))
	return removed, nil
}

func (o *Orchestrator) PerformanceReport(ctx context.Context) (*PerformanceReport, error) {
	analysis, err := o.Analyze(ctx, performanceDays)
	if err != nil {
		return nil, err
	}

	return &PerformanceReport{
		AverageRating:      analysis.AverageRating,
		TotalConversations: analysis.TotalConversations,
		ImprovementAreas:   analysis.CommonIssues,
		Suggestions:        analysis.ImprovementSuggestions,
	}, nil
}

// Stats reports turn volume, mean rating and mean latency over the last days days.
func (o *Orchestrator) Stats(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d: %w", days, models.ErrValidation)
	}

	now := o.now()
	turns, err := o.store.ListTurnsBetween(ctx, now.AddDate(0, 0, -days), now.Add(time.Millisecond))
	if err != nil {
		return nil, err
	}

	var ratingSum, ratingCount, latencySum, latencyCount int
	for _, turn := range turns {
		if turn.UserRating != nil {
			ratingSum += *turn.UserRating
			ratingCount++
		}
		if turn.ResponseTimeMs != nil {
			latencySum += *turn.ResponseTimeMs
			latencyCount++
		}
	}

	stats := &Stats{TotalConversations: len(turns), PeriodDays: days}
	if ratingCount > 0 {
		stats.AverageRating = math.Round(float64(ratingSum)/float64(ratingCount)*10) / 10
	}
	if latencyCount > 0 {
		stats.AverageResponseTimeMs = int(math.Round(float64(latencySum) / float64(latencyCount)))
	}
	return stats, nil
}

func isSuccessful(turn models.ConversationTurn) bool {
	if turn.Status != models.TurnResponded && turn.Status != models.TurnRated {
		return false
	}
	return turn.IntentDetected != models.IntentError && strings.TrimSpace(turn.BotResponse) != ""
}

func topIntents(counts map[string]int, n int) []string {
	intents := make([]string, 0, len(counts))
	for intent := range counts {
		intents = append(intents, intent)
	}
	sort.Slice(intents, func(i, j int) bool {
		if counts[intents[i]] != counts[intents[j]] {
			return counts[intents[i]] > counts[intents[j]]
		}
		return intents[i] < intents[j]
	})
	if len(intents) > n {
		intents = intents[:n]
	}
	return intents
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
