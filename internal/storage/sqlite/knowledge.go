package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unishop/backend/internal/storage/models"
)

const knowledgeColumns = `id, topic, content, category, tags, source, priority, is_active, created_at, updated_at`

// UpsertKnowledge updates content, tags and updated_at of an existing topic, or inserts a new entry.
// An empty category keeps the stored one.
func (c *Client) UpsertKnowledge(ctx context.Context, entry *models.KnowledgeEntry) (*models.KnowledgeEntry, error) {
	tags, err := encodeStrings(entry.Tags)
	if err != nil {
		return nil, err
	}

	source := entry.Source
	if source == "" {
		source = models.SourceManual
	}
	priority := entry.Priority
	if priority == 0 {
		priority = 1
	}
	now := toMillis(time.Now().UTC())

	query := `
		INSERT INTO knowledge_base (topic, content, category, tags, source, priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			content = excluded.content,
			category = COALESCE(excluded.category, knowledge_base.category),
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`

	_, err = c.db.ExecContext(ctx, query,
		entry.Topic,
		entry.Content,
		nullString(entry.Category),
		tags,
		source,
		priority,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}

	return c.GetKnowledge(ctx, entry.Topic)
}

func (c *Client) GetKnowledge(ctx context.Context, topic string) (*models.KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_base WHERE topic = ?`

	entry, err := scanKnowledge(c.db.QueryRowContext(ctx, query, topic))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("knowledge topic", topic)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge entry: %w", err)
	}
	return entry, nil
}

// ListActiveKnowledge returns active entries by priority desc, id asc.
func (c *Client) ListActiveKnowledge(ctx context.Context) ([]models.KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_base
		WHERE is_active = 1
		ORDER BY priority DESC, id ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []models.KnowledgeEntry
	for rows.Next() {
		entry, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (c *Client) SetKnowledgeActive(ctx context.Context, topic string, active bool) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE knowledge_base SET is_active = ?, updated_at = ? WHERE topic = ?`,
		active, toMillis(time.Now().UTC()), topic)
	if err != nil {
		return fmt.Errorf("failed to update knowledge entry: %w", err)
	}
	if affected(result) == 0 {
		return notFound("knowledge topic", topic)
	}
	return nil
}

func scanKnowledge(row rowScanner) (*models.KnowledgeEntry, error) {
	var (
		entry     models.KnowledgeEntry
		category  sql.NullString
		tags      string
		createdAt int64
		updatedAt int64
	)

	err := row.Scan(
		&entry.ID,
		&entry.Topic,
		&entry.Content,
		&category,
		&tags,
		&entry.Source,
		&entry.Priority,
		&entry.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Category = category.String
	entry.Tags = decodeStrings(tags)
	entry.CreatedAt = fromMillis(createdAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	return &entry, nil
}
