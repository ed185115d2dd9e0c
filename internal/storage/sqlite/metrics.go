package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unishop/backend/internal/storage/models"
)

const dateLayout = "2006-01-02"

// UpsertDailyMetrics writes the snapshot for its UTC day, replacing any earlier one.
func (c *Client) UpsertDailyMetrics(ctx context.Context, m *models.DailyMetrics) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	topIntents := m.TopIntents
	if topIntents == nil {
		topIntents = map[string]int{}
	}
	encoded, err := encodeJSON(topIntents)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO chatbot_metrics (date, total_conversations, successful_responses, average_response_time,
			average_user_satisfaction, top_intents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_conversations = excluded.total_conversations,
			successful_responses = excluded.successful_responses,
			average_response_time = excluded.average_response_time,
			average_user_satisfaction = excluded.average_user_satisfaction,
			top_intents = excluded.top_intents
	`,
		m.Date.UTC().Format(dateLayout),
		m.TotalConversations,
		m.SuccessfulResponses,
		m.AverageResponseTimeMs,
		m.AverageSatisfaction,
		encoded,
		toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily metrics: %w", err)
	}
	return nil
}

func (c *Client) GetDailyMetrics(ctx context.Context, date time.Time) (*models.DailyMetrics, error) {
	var (
		m          models.DailyMetrics
		day        string
		avgTime    sql.NullFloat64
		avgRating  sql.NullFloat64
		topIntents string
		createdAt  int64
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT date, total_conversations, successful_responses, average_response_time,
			average_user_satisfaction, top_intents, created_at
		FROM chatbot_metrics
		WHERE date = ?
	`, date.UTC().Format(dateLayout)).Scan(
		&day, &m.TotalConversations, &m.SuccessfulResponses, &avgTime, &avgRating, &topIntents, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("daily metrics", date.UTC().Format(dateLayout))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily metrics: %w", err)
	}

	m.Date, err = time.Parse(dateLayout, day)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics date: %w", err)
	}
	m.AverageResponseTimeMs = avgTime.Float64
	m.AverageSatisfaction = avgRating.Float64
	m.CreatedAt = fromMillis(createdAt)
	m.TopIntents = map[string]int{}
	if err := json.Unmarshal([]byte(topIntents), &m.TopIntents); err != nil {
		return nil, fmt.Errorf("failed to decode top intents: %w", err)
	}
	return &m, nil
}
