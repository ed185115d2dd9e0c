package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/unishop/backend/internal/storage/models"
)

func (c *Client) InsertIntent(ctx context.Context, intent *models.Intent) error {
	inserted, err := c.insertIntent(ctx, intent, "INSERT")
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("intent %q already exists: %w", intent.Name, models.ErrValidation)
	}
	return nil
}

// InsertIntentIfAbsent inserts the intent unless one with the same name exists.
func (c *Client) InsertIntentIfAbsent(ctx context.Context, intent *models.Intent) (bool, error) {
	return c.insertIntent(ctx, intent, "INSERT OR IGNORE")
}

func (c *Client) insertIntent(ctx context.Context, intent *models.Intent, verb string) (bool, error) {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	if intent.Priority == 0 {
		intent.Priority = 1
	}

	examples, err := encodeStrings(intent.TrainingExamples)
	if err != nil {
		return false, err
	}
	templates, err := encodeStrings(intent.ResponseTemplates)
	if err != nil {
		return false, err
	}
	followUps, err := encodeStrings(intent.FollowUpQuestions)
	if err != nil {
		return false, err
	}

	query := verb + ` INTO intents (name, description, training_examples, response_templates,
			follow_up_questions, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := c.db.ExecContext(ctx, query,
		intent.Name,
		nullString(intent.Description),
		examples,
		templates,
		followUps,
		intent.Priority,
		toMillis(intent.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert intent: %w", err)
	}
	if affected(result) == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to read intent id: %w", err)
	}
	intent.ID = id
	return true, nil
}

// ListIntents returns intents by priority desc, newest first on ties.
func (c *Client) ListIntents(ctx context.Context) ([]models.Intent, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, description, training_examples, response_templates, follow_up_questions,
			priority, created_at
		FROM intents
		ORDER BY priority DESC, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []models.Intent
	for rows.Next() {
		var (
			intent      models.Intent
			description *string
			examples    string
			templates   string
			followUps   string
			createdAt   int64
		)
		if err := rows.Scan(&intent.ID, &intent.Name, &description, &examples, &templates,
			&followUps, &intent.Priority, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		if description != nil {
			intent.Description = *description
		}
		intent.TrainingExamples = decodeStrings(examples)
		intent.ResponseTemplates = decodeStrings(templates)
		intent.FollowUpQuestions = decodeStrings(followUps)
		intent.CreatedAt = fromMillis(createdAt)
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

func (c *Client) InsertCatalogEntity(ctx context.Context, entity *models.CatalogEntity) error {
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	if entity.Confidence == 0 {
		entity.Confidence = 1.0
	}

	synonyms, err := encodeStrings(entity.Synonyms)
	if err != nil {
		return err
	}

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO entities (name, type, value, synonyms, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entity.Name, entity.Type, entity.Value, synonyms, entity.Confidence, toMillis(entity.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read entity id: %w", err)
	}
	entity.ID = id
	return nil
}

// ListCatalogEntities returns entities of one type by confidence desc.
func (c *Client) ListCatalogEntities(ctx context.Context, entityType string) ([]models.CatalogEntity, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, type, value, synonyms, confidence, created_at
		FROM entities
		WHERE type = ?
		ORDER BY confidence DESC, id ASC
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []models.CatalogEntity
	for rows.Next() {
		var (
			entity    models.CatalogEntity
			synonyms  string
			createdAt int64
		)
		if err := rows.Scan(&entity.ID, &entity.Name, &entity.Type, &entity.Value, &synonyms,
			&entity.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entity.Synonyms = decodeStrings(synonyms)
		entity.CreatedAt = fromMillis(createdAt)
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}
