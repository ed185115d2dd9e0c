package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_turns_total",
			Help: "Conversation turns handled, by response source",
		},
		[]string{"source"},
	)

	IntentsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_intents_detected_total",
			Help: "Classified intents",
		},
		[]string{"intent"},
	)

	ClassificationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unishop_assistant_classification_confidence",
			Help:    "Rule coverage of the winning intent",
			Buckets: []float64{0, 0.25, 0.34, 0.5, 0.67, 0.75, 1.0},
		},
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unishop_assistant_turn_duration_seconds",
			Help:    "End-to-end duration of a conversation turn",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	FeedbackRatings = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unishop_assistant_feedback_rating",
			Help:    "User ratings submitted for turns",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	TrainingCurated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_training_curated_total",
			Help: "Training examples affected by curation",
		},
		[]string{"outcome"},
	)

	LearningCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unishop_assistant_learning_cycle_duration_seconds",
			Help:    "Learning cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	LearningCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_learning_cycles_total",
			Help: "Learning cycles by final status",
		},
		[]string{"status"},
	)

	TurnsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unishop_assistant_turns_pruned_total",
			Help: "Conversation turns removed by retention",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DailyConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unishop_assistant_daily_conversations",
			Help: "Conversation turns in the last refreshed day",
		},
	)

	DailySatisfaction = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unishop_assistant_daily_satisfaction",
			Help: "Average user rating in the last refreshed day",
		},
	)

	DailyResponseTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unishop_assistant_daily_response_time_ms",
			Help: "Average turn latency in the last refreshed day",
		},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishop_assistant_events_published_total",
			Help: "Events handed to the event sink",
		},
		[]string{"type", "status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unishop_assistant_circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TurnsTotal)
		prometheus.MustRegister(IntentsDetected)
		prometheus.MustRegister(ClassificationConfidence)
		prometheus.MustRegister(TurnDuration)
		prometheus.MustRegister(FeedbackRatings)
		prometheus.MustRegister(TrainingCurated)
		prometheus.MustRegister(LearningCycleDuration)
		prometheus.MustRegister(LearningCycles)
		prometheus.MustRegister(TurnsPruned)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(DailyConversations)
		prometheus.MustRegister(DailySatisfaction)
		prometheus.MustRegister(DailyResponseTime)
		prometheus.MustRegister(EventsPublished)
		prometheus.MustRegister(BreakerState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
