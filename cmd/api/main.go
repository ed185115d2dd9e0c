package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/api/handlers"
	"github.com/unishop/backend/internal/cache/redis"
	"github.com/unishop/backend/internal/conversation"
	"github.com/unishop/backend/internal/events"
	"github.com/unishop/backend/internal/feedback"
	"github.com/unishop/backend/internal/knowledge"
	"github.com/unishop/backend/internal/learning"
	"github.com/unishop/backend/internal/llm"
	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/internal/middleware/ratelimit"
	"github.com/unishop/backend/internal/middleware/security"
	"github.com/unishop/backend/internal/middleware/validation"
	"github.com/unishop/backend/internal/nlu"
	"github.com/unishop/backend/internal/responder"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/storage/sqlite"
	"github.com/unishop/backend/internal/training"
	"github.com/unishop/backend/internal/vector/milvus"
	"github.com/unishop/backend/pkg/config"
	appLogger "github.com/unishop/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Unishop assistant API server")

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	rules, err := nlu.LoadRules(cfg.NLU.RulesPath)
	if err != nil {
		appLogger.Fatal("Failed to load NLU rules", zap.Error(err))
	}

	curator := training.NewCurator(sqliteClient)
	if cfg.NLU.SeedCatalog {
		seeded, err := curator.SeedIntents(ctx, rules.CatalogIntents())
		if err != nil {
			appLogger.Warn("Failed to seed intent catalog", zap.Error(err))
		} else if seeded > 0 {
			appLogger.Info("Seeded intent catalog", zap.Int("intents", seeded))
		}
	}

	catalogCategories, err := curator.EntitiesByType(ctx, models.EntityTypeCategory)
	if err != nil {
		appLogger.Warn("Failed to load catalog categories", zap.Error(err))
	}

	classifier, err := nlu.NewClassifier(rules)
	if err != nil {
		appLogger.Fatal("Failed to build intent classifier", zap.Error(err))
	}
	extractor := nlu.NewExtractor(rules.Categories, nlu.CatalogTerms(catalogCategories))

	generator := responder.NewGenerator(responder.Config{
		Templates: rules.Templates(),
		FollowUps: rules.FollowUps(),
		Clauses: responder.Clauses{
			Category: rules.Clauses.Category,
			Price:    rules.Clauses.Price,
		},
	}, rand.New(rand.NewSource(time.Now().UnixNano())))

	readiness := map[string]handlers.Pinger{"sqlite": sqliteClient}

	var (
		redisClient *redis.Client
		searchCache knowledge.SearchCache
		intentCount conversation.IntentCounter
		cycleLocker learning.Locker
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		searchCache = redisClient
		intentCount = redisClient
		cycleLocker = redisClient.CycleLock(time.Duration(cfg.Redis.CycleLockTTLSec) * time.Second)
		readiness["redis"] = redisClient
	}

	var semantic knowledge.SemanticIndex
	if cfg.Milvus.Enabled {
		embedder := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.EmbeddingModel, time.Duration(cfg.LLM.TimeoutSec)*time.Second)

		milvusClient, err := milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.Collection, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		if err := milvusClient.EnsureCollection(ctx); err != nil {
			appLogger.Fatal("Failed to prepare Milvus collection", zap.Error(err))
		}

		var embeddingCache knowledge.EmbeddingCache
		if redisClient != nil {
			embeddingCache = redisClient
		}
		semantic = knowledge.NewVectorIndex(embedder, milvusClient, embeddingCache)
	}

	sinks := []events.Sink{events.LogSink{}}
	if cfg.Kafka.Enabled {
		kafkaSink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			appLogger.Fatal("Failed to create Kafka sink", zap.Error(err))
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	publisher := events.NewEmitter(sinks...)

	chatService := conversation.NewService(conversation.Deps{
		Store:            sqliteClient,
		Classifier:       classifier,
		Extractor:        extractor,
		Generator:        generator,
		Counter:          intentCount,
		Events:           publisher,
		FallbackResponse: rules.FallbackResponse,
	})
	collector := feedback.NewCollector(sqliteClient, publisher)

	knowledgeBase := knowledge.NewBase(sqliteClient, knowledge.Options{
		Cache:    searchCache,
		CacheTTL: time.Duration(cfg.Redis.SearchCacheTTLSec) * time.Second,
		Semantic: semantic,
	})

	learningCfg := learning.Config{
		LookbackDays:            cfg.Learning.LookbackDays,
		CurationRatingThreshold: cfg.Learning.CurationRatingThreshold,
		CurationMinRating:       cfg.Learning.MinRating,
		CurationMaxExamples:     cfg.Learning.MaxExamples,
		KeepLast:                cfg.Learning.KeepLast,
		SlowResponseMs:          cfg.Learning.SlowResponseMs,
		LowIntentRating:         cfg.Learning.LowIntentRating,
		StaleTurnAfter:          time.Duration(cfg.Learning.StaleTurnMin) * time.Minute,
	}
	orchestrator := learning.NewOrchestrator(sqliteClient, curator, cycleLocker, learningCfg)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		UnescapePath: true,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		SkipPrefixes:         []string{"/api/v1/health", "/api/v1/ready", "/metrics"},
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Session-ID",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	learningHandler := handlers.NewLearningHandler(orchestrator, curator, learningCfg)
	if redisClient != nil {
		learningHandler = learningHandler.WithIntentCounts(redisClient)
	}

	handlers.Register(app, handlers.Handlers{
		Chat:      handlers.NewChatHandler(chatService, collector),
		WebSocket: handlers.NewWebSocketHandler(chatService),
		Knowledge: handlers.NewKnowledgeHandler(knowledgeBase),
		Training:  handlers.NewTrainingHandler(curator),
		Learning:  learningHandler,
		Health:    handlers.NewHealthHandler(readiness),
	})

	if cfg.Learning.ScheduleIntervalMin > 0 {
		go scheduleCycles(ctx, orchestrator, time.Duration(cfg.Learning.ScheduleIntervalMin)*time.Minute)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func scheduleCycles(ctx context.Context, orchestrator *learning.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	appLogger.Info("Learning cycle scheduled", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orchestrator.RunCycle(ctx); err != nil {
				appLogger.Error("Scheduled learning cycle failed", zap.Error(err))
			}
		}
	}
}
