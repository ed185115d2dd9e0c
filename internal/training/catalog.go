package training

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

type CatalogStore interface {
	InsertIntent(ctx context.Context, intent *models.Intent) error
	InsertIntentIfAbsent(ctx context.Context, intent *models.Intent) (bool, error)
	ListIntents(ctx context.Context) ([]models.Intent, error)
	InsertCatalogEntity(ctx context.Context, entity *models.CatalogEntity) error
	ListCatalogEntities(ctx context.Context, entityType string) ([]models.CatalogEntity, error)
}

func (c *Curator) AddIntent(ctx context.Context, intent models.Intent) (*models.Intent, error) {
	intent.Name = strings.TrimSpace(intent.Name)
	if intent.Name == "" {
		return nil, fmt.Errorf("intent name is required: %w", models.ErrValidation)
	}

	if err := c.store.InsertIntent(ctx, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Curator) ListIntents(ctx context.Context) ([]models.Intent, error) {
	intents, err := c.store.ListIntents(ctx)
	if err != nil {
		return nil, err
	}
	if intents == nil {
		intents = []models.Intent{}
	}
	return intents, nil
}

// SeedIntents inserts the given intents unless an intent with the same name already exists.
func (c *Curator) SeedIntents(ctx context.Context, intents []models.Intent) (int, error) {
	inserted := 0
	for i := range intents {
		ok, err := c.store.InsertIntentIfAbsent(ctx, &intents[i])
		if err != nil {
			return inserted, fmt.Errorf("failed to seed intent %s: %w", intents[i].Name, err)
		}
		if ok {
			inserted++
		}
	}

	logger.Info("Intent catalog seeded", zap.Int("inserted", inserted), zap.Int("total", len(intents)))
	return inserted, nil
}

func (c *Curator) AddEntity(ctx context.Context, entity models.CatalogEntity) (*models.CatalogEntity, error) {
	entity.Name = strings.TrimSpace(entity.Name)
	entity.Type = strings.TrimSpace(entity.Type)
	entity.Value = strings.TrimSpace(entity.Value)
	if entity.Name == "" || entity.Type == "" || entity.Value == "" {
		return nil, fmt.Errorf("entity name, type and value are required: %w", models.ErrValidation)
	}
	if entity.Confidence < 0 || entity.Confidence > 1 {
		return nil, fmt.Errorf("confidence must be between 0 and 1: %w", models.ErrValidation)
	}

	if err := c.store.InsertCatalogEntity(ctx, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (c *Curator) EntitiesByType(ctx context.Context, entityType string) ([]models.CatalogEntity, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return nil, fmt.Errorf("entity type is required: %w", models.ErrValidation)
	}

	entities, err := c.store.ListCatalogEntities(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []models.CatalogEntity{}
	}
	return entities, nil
}
