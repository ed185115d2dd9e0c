package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

const (
	searchPrefix    = "knowledge:search:"
	embeddingPrefix = "knowledge:embedding:"
	intentCounters  = "assistant:intents"
	cycleLockKey    = "assistant:learning:lock"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetSearch(ctx context.Context, queryHash string, entries []models.KnowledgeEntry, ttl time.Duration) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal search results: %w", err)
	}

	if err := c.client.Set(ctx, searchPrefix+queryHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set search cache: %w", err)
	}

	logger.Debug("Search results cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetSearch(ctx context.Context, queryHash string) ([]models.KnowledgeEntry, bool, error) {
	data, err := c.client.Get(ctx, searchPrefix+queryHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get search cache: %w", err)
	}

	var entries []models.KnowledgeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal search results: %w", err)
	}

	logger.Debug("Search cache hit", zap.String("query_hash", queryHash))
	return entries, true, nil
}

// InvalidateSearch drops every cached search result.
func (c *Client) InvalidateSearch(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, searchPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Knowledge search cache invalidated")
	return nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingPrefix+textHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingPrefix+textHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return embedding, true, nil
}

// IncrementIntent bumps the live counter for a detected intent.
func (c *Client) IncrementIntent(ctx context.Context, intent string) error {
	return c.client.HIncrBy(ctx, intentCounters, intent, 1).Err()
}

func (c *Client) IntentCounts(ctx context.Context) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, intentCounters).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read intent counters: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for intent, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Warn("Skipping malformed intent counter", zap.String("intent", intent), zap.String("value", v))
			continue
		}
		counts[intent] = n
	}
	return counts, nil
}

// CycleLock is a Redis lease that keeps learning cycles from overlapping across instances.
type CycleLock struct {
	client *Client
	ttl    time.Duration
}

func (c *Client) CycleLock(ttl time.Duration) *CycleLock {
	return &CycleLock{client: c, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lease. It returns models.ErrCycleInProgress when another holder owns it.
func (l *CycleLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.client.SetNX(ctx, cycleLockKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, models.ErrCycleInProgress
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client.client, []string{cycleLockKey}, token).Err(); err != nil {
			logger.Warn("Failed to release cycle lock", zap.Error(err))
		}
	}
	return release, nil
}
