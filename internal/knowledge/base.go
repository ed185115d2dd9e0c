package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unishop/backend/internal/metrics"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
	"github.com/unishop/backend/pkg/utils"
)

const (
	DefaultSearchLimit = 5
	maxSearchLimit     = 50
	cacheType          = "knowledge_search"
)

type Store interface {
	UpsertKnowledge(ctx context.Context, entry *models.KnowledgeEntry) (*models.KnowledgeEntry, error)
	GetKnowledge(ctx context.Context, topic string) (*models.KnowledgeEntry, error)
	ListActiveKnowledge(ctx context.Context) ([]models.KnowledgeEntry, error)
	SetKnowledgeActive(ctx context.Context, topic string, active bool) error
}

type SearchCache interface {
	GetSearch(ctx context.Context, queryHash string) ([]models.KnowledgeEntry, bool, error)
	SetSearch(ctx context.Context, queryHash string, entries []models.KnowledgeEntry, ttl time.Duration) error
	InvalidateSearch(ctx context.Context) error
}

// SemanticIndex finds topics by meaning when plain text search finds nothing.
type SemanticIndex interface {
	Index(ctx context.Context, entry models.KnowledgeEntry) error
	Remove(ctx context.Context, topic string) error
	Nearest(ctx context.Context, query string, limit int) ([]string, error)
}

type Options struct {
	Cache    SearchCache
	CacheTTL time.Duration
	Semantic SemanticIndex
}

type Base struct {
	store    Store
	cache    SearchCache
	cacheTTL time.Duration
	semantic SemanticIndex
}

type Input struct {
	Topic    string   `json:"topic"`
	Content  string   `json:"content"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func NewBase(store Store, opts Options) *Base {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Base{
		store:    store,
		cache:    opts.Cache,
		cacheTTL: ttl,
		semantic: opts.Semantic,
	}
}

// Search matches the query against topic and content of active entries, case-insensitively.
// Results are ordered by priority, highest first.
func (b *Base) Search(ctx context.Context, query string, limit int) ([]models.KnowledgeEntry, error) {
	needle := utils.NormalizeQuery(query)
	if needle == "" {
		return nil, fmt.Errorf("search query is empty: %w", models.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	key := utils.HashQuery(needle, limit)
	if cached, ok := b.cached(ctx, key); ok {
		return cached, nil
	}

	entries, err := b.store.ListActiveKnowledge(ctx)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w: %w", models.ErrUnavailable, err)
	}

	results := make([]models.KnowledgeEntry, 0, limit)
	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry.Topic), needle) ||
			strings.Contains(strings.ToLower(entry.Content), needle) {
			results = append(results, entry)
			if len(results) == limit {
				break
			}
		}
	}

	if len(results) == 0 && b.semantic != nil {
		results = b.semanticSearch(ctx, query, limit)
	}

	b.remember(ctx, key, results)

	logger.Debug("Knowledge search completed", zap.String("query", needle), zap.Int("results", len(results)))
	return results, nil
}

func (b *Base) semanticSearch(ctx context.Context, query string, limit int) []models.KnowledgeEntry {
	topics, err := b.semantic.Nearest(ctx, query, limit)
	if err != nil {
		logger.Warn("Semantic knowledge search failed", zap.Error(err))
		return []models.KnowledgeEntry{}
	}

	results := make([]models.KnowledgeEntry, 0, len(topics))
	for _, topic := range topics {
		entry, err := b.store.GetKnowledge(ctx, topic)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				logger.Warn("Failed to load semantic hit", zap.String("topic", topic), zap.Error(err))
			}
			continue
		}
		if entry.IsActive {
			results = append(results, *entry)
		}
	}
	return results
}

func (b *Base) cached(ctx context.Context, key string) ([]models.KnowledgeEntry, bool) {
	if b.cache == nil {
		return nil, false
	}

	entries, ok, err := b.cache.GetSearch(ctx, key)
	if err != nil {
		logger.Warn("Knowledge cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	if entries == nil {
		entries = []models.KnowledgeEntry{}
	}
	return entries, true
}

func (b *Base) remember(ctx context.Context, key string, entries []models.KnowledgeEntry) {
	if b.cache == nil {
		return
	}
	if err := b.cache.SetSearch(ctx, key, entries, b.cacheTTL); err != nil {
		logger.Warn("Knowledge cache write failed", zap.Error(err))
	}
}

// Upsert updates an existing topic in place or creates it active with priority 1.
func (b *Base) Upsert(ctx context.Context, in Input) (*models.KnowledgeEntry, error) {
	topic := strings.TrimSpace(in.Topic)
	content := normalizeContent(in.Content)
	if topic == "" || content == "" {
		return nil, fmt.Errorf("topic and content are required: %w", models.ErrValidation)
	}

	entry, err := b.store.UpsertKnowledge(ctx, &models.KnowledgeEntry{
		Topic:    topic,
		Content:  content,
		Category: strings.TrimSpace(in.Category),
		Tags:     cleanTags(in.Tags),
		Source:   models.SourceManual,
		Priority: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert knowledge: %w: %w", models.ErrUnavailable, err)
	}

	b.invalidate(ctx)

	if b.semantic != nil {
		if err := b.semantic.Index(ctx, *entry); err != nil {
			logger.Warn("Failed to index knowledge entry", zap.String("topic", topic), zap.Error(err))
		}
	}

	logger.Info("Knowledge entry saved", zap.String("topic", topic), zap.Int64("id", entry.ID))
	return entry, nil
}

func (b *Base) Get(ctx context.Context, topic string) (*models.KnowledgeEntry, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required: %w", models.ErrValidation)
	}
	return b.store.GetKnowledge(ctx, topic)
}

func (b *Base) SetActive(ctx context.Context, topic string, active bool) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("topic is required: %w", models.ErrValidation)
	}

	if err := b.store.SetKnowledgeActive(ctx, topic, active); err != nil {
		return err
	}
	b.invalidate(ctx)

	if b.semantic != nil && !active {
		if err := b.semantic.Remove(ctx, topic); err != nil {
			logger.Warn("Failed to remove knowledge embedding", zap.String("topic", topic), zap.Error(err))
		}
	}
	if b.semantic != nil && active {
		if entry, err := b.store.GetKnowledge(ctx, topic); err == nil {
			if err := b.semantic.Index(ctx, *entry); err != nil {
				logger.Warn("Failed to index knowledge entry", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
	return nil
}

// Reindex pushes every active entry to the semantic index.
func (b *Base) Reindex(ctx context.Context) (int, error) {
	if b.semantic == nil {
		return 0, nil
	}

	entries, err := b.store.ListActiveKnowledge(ctx)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, entry := range entries {
		if err := b.semantic.Index(ctx, entry); err != nil {
			return indexed, fmt.Errorf("failed to index %q: %w", entry.Topic, err)
		}
		indexed++
	}

	logger.Info("Knowledge semantic index rebuilt", zap.Int("entries", indexed))
	return indexed, nil
}

func (b *Base) invalidate(ctx context.Context) {
	if b.cache == nil {
		return
	}
	if err := b.cache.InvalidateSearch(ctx); err != nil {
		logger.Warn("Failed to invalidate knowledge cache", zap.Error(err))
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
