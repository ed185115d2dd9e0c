package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/unishop/backend/pkg/logger"
)

const (
	topicField     = "topic"
	embeddingField = "embedding"
	maxTopicLength = 512
)

// Client stores one embedding per knowledge topic.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type Hit struct {
	Topic string
	Score float32
}

func NewClient(ctx context.Context, endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates, indexes and loads the collection when it does not exist yet.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: m.collectionName,
			Description:    "Knowledge base topic embeddings",
			Fields: []*entity.Field{
				{
					Name:       topicField,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{
						"max_length": strconv.Itoa(maxTopicLength),
					},
				},
				{
					Name:     embeddingField,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": strconv.Itoa(m.vectorDim),
					},
				},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.L2, 128)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collectionName, embeddingField, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		logger.Info("Collection created", zap.String("collection", m.collectionName))
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Upsert replaces the embedding stored for topic.
func (m *Client) Upsert(ctx context.Context, topic string, embedding []float32) error {
	if len(embedding) != m.vectorDim {
		return fmt.Errorf("embedding has %d dimensions, collection expects %d", len(embedding), m.vectorDim)
	}

	if err := m.Delete(ctx, topic); err != nil {
		return err
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar(topicField, []string{topic}),
		entity.NewColumnFloatVector(embeddingField, m.vectorDim, [][]float32{embedding}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Topic embedding stored", zap.String("topic", topic))
	return nil
}

func (m *Client) Delete(ctx context.Context, topic string) error {
	expr := fmt.Sprintf("%s in [%s]", topicField, strconv.Quote(topic))
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// Search returns the topics nearest to the query embedding, closest first.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Hit, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{topicField},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		embeddingField,
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0)
	for _, sr := range searchResult {
		topicCol := sr.Fields.GetColumn(topicField)
		if topicCol == nil {
			continue
		}
		for i := 0; i < sr.ResultCount; i++ {
			topic, err := topicCol.GetAsString(i)
			if err != nil {
				logger.Warn("Skipping malformed search hit", zap.Int("index", i), zap.Error(err))
				continue
			}
			hits = append(hits, Hit{Topic: topic, Score: sr.Scores[i]})
		}
	}

	logger.Debug("Vector search completed", zap.Int("topK", topK), zap.Int("results", len(hits)))
	return hits, nil
}
