package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/vector/milvus"
	"github.com/unishop/backend/pkg/utils"
)

const embeddingCacheTTL = 24 * time.Hour

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, topic string, embedding []float32) error
	Delete(ctx context.Context, topic string) error
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.Hit, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// VectorIndex embeds topics with an Embedder and keeps them in a VectorStore.
type VectorIndex struct {
	embedder Embedder
	vectors  VectorStore
	cache    EmbeddingCache
}

func NewVectorIndex(embedder Embedder, vectors VectorStore, cache EmbeddingCache) *VectorIndex {
	return &VectorIndex{embedder: embedder, vectors: vectors, cache: cache}
}

func (v *VectorIndex) Index(ctx context.Context, entry models.KnowledgeEntry) error {
	embedding, err := v.embed(ctx, entry.Topic+"\n"+entry.Content)
	if err != nil {
		return err
	}
	return v.vectors.Upsert(ctx, entry.Topic, embedding)
}

func (v *VectorIndex) Remove(ctx context.Context, topic string) error {
	return v.vectors.Delete(ctx, topic)
}

func (v *VectorIndex) Nearest(ctx context.Context, query string, limit int) ([]string, error) {
	embedding, err := v.embed(ctx, utils.NormalizeQuery(query))
	if err != nil {
		return nil, err
	}

	hits, err := v.vectors.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}

	topics := make([]string, len(hits))
	for i, hit := range hits {
		topics[i] = hit.Topic
	}
	return topics, nil
}

func (v *VectorIndex) embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	if v.cache != nil {
		if embedding, ok, err := v.cache.GetEmbedding(ctx, key); err == nil && ok {
			return embedding, nil
		}
	}

	embedding, err := v.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}

	if v.cache != nil {
		// A failed cache write only costs a future embedding call.
		_ = v.cache.SetEmbedding(ctx, key, embedding, embeddingCacheTTL)
	}
	return embedding, nil
}
