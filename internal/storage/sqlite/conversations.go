package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

const turnColumns = `id, session_id, user_id, user_message, bot_response, intent_detected, entities,
	response_time_ms, user_rating, was_helpful, status, created_at, updated_at`

// CreateTurn persists a turn in the started state and fills in its id and timestamps.
func (c *Client) CreateTurn(ctx context.Context, turn *models.ConversationTurn) error {
	now := time.Now().UTC()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	turn.UpdatedAt = turn.CreatedAt
	if turn.Status == "" {
		turn.Status = models.TurnStarted
	}

	entities, err := encodeEntities(turn.Entities)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (session_id, user_id, user_message, bot_response, intent_detected,
			entities, response_time_ms, user_rating, was_helpful, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		turn.SessionID,
		nullString(turn.UserID),
		turn.UserMessage,
		turn.BotResponse,
		nullString(turn.IntentDetected),
		entities,
		turn.ResponseTimeMs,
		turn.UserRating,
		turn.WasHelpful,
		string(turn.Status),
		toMillis(turn.CreatedAt),
		toMillis(turn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create turn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read turn id: %w", err)
	}
	turn.ID = id

	return nil
}

func (c *Client) GetTurn(ctx context.Context, id int64) (*models.ConversationTurn, error) {
	query := `SELECT ` + turnColumns + ` FROM conversations WHERE id = ?`

	turn, err := scanTurn(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("turn", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return turn, nil
}

// RecordResponse moves a turn to responded. Re-recording a responded turn overwrites it.
func (c *Client) RecordResponse(ctx context.Context, id int64, resp models.TurnResponse) error {
	entities, err := encodeEntities(resp.Entities)
	if err != nil {
		return err
	}

	query := `
		UPDATE conversations
		SET bot_response = ?, intent_detected = ?, entities = ?, response_time_ms = ?,
			status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		resp.BotResponse,
		nullString(resp.IntentDetected),
		entities,
		resp.ResponseTimeMs,
		string(models.TurnResponded),
		toMillis(time.Now().UTC()),
		id,
		string(models.TurnStarted),
		string(models.TurnResponded),
	)
	if err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}

	if affected(result) == 0 {
		return c.transitionFailure(ctx, id, models.TurnResponded)
	}
	return nil
}

// ApplyRating stores the latest rating summary on a turn and marks it rated.
func (c *Client) ApplyRating(ctx context.Context, id int64, rating int) error {
	applied, err := applyRating(ctx, c.db, id, rating)
	if err != nil {
		return err
	}
	if !applied {
		return c.transitionFailure(ctx, id, models.TurnRated)
	}
	return nil
}

func applyRating(ctx context.Context, ex execer, id int64, rating int) (bool, error) {
	query := `
		UPDATE conversations
		SET user_rating = ?, was_helpful = ?, status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := ex.ExecContext(ctx, query,
		rating,
		rating >= 4,
		string(models.TurnRated),
		toMillis(time.Now().UTC()),
		id,
		string(models.TurnResponded),
		string(models.TurnRated),
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply rating: %w", err)
	}
	return affected(result) > 0, nil
}

func (c *Client) transitionFailure(ctx context.Context, id int64, next models.TurnStatus) error {
	turn, err := c.GetTurn(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("turn %d cannot move from %s to %s: %w", id, turn.Status, next, models.ErrInvalidTransition)
}

// ListSessionTurns returns the session's turns, most recent first.
func (c *Client) ListSessionTurns(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	query := `SELECT ` + turnColumns + ` FROM conversations
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return c.queryTurns(ctx, query, sessionID, limit)
}

// ListTurnsBetween returns turns created in [from, to), oldest first.
func (c *Client) ListTurnsBetween(ctx context.Context, from, to time.Time) ([]models.ConversationTurn, error) {
	query := `SELECT ` + turnColumns + ` FROM conversations
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`

	return c.queryTurns(ctx, query, toMillis(from), toMillis(to))
}

// ListRatedTurns returns the most recent turns rated at least minRating that carry both texts.
func (c *Client) ListRatedTurns(ctx context.Context, minRating, limit int) ([]models.ConversationTurn, error) {
	query := `SELECT ` + turnColumns + ` FROM conversations
		WHERE user_rating >= ?
			AND TRIM(user_message) != ''
			AND TRIM(bot_response) != ''
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return c.queryTurns(ctx, query, minRating, limit)
}

// IntentRatings averages ratings per detected intent, keeping intents below the threshold.
func (c *Client) IntentRatings(ctx context.Context, below float64) ([]models.IntentRating, error) {
	query := `
		SELECT intent_detected, AVG(user_rating), COUNT(*)
		FROM conversations
		WHERE intent_detected IS NOT NULL AND intent_detected != '' AND user_rating IS NOT NULL
		GROUP BY intent_detected
		HAVING AVG(user_rating) < ?
		ORDER BY AVG(user_rating) ASC, intent_detected ASC
	`

	rows, err := c.db.QueryContext(ctx, query, below)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate intent ratings: %w", err)
	}
	defer rows.Close()

	var ratings []models.IntentRating
	for rows.Next() {
		var r models.IntentRating
		if err := rows.Scan(&r.Intent, &r.AverageRating, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan intent rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// TopRatedResponses returns the best rated bot responses for an intent, most recent first on ties.
func (c *Client) TopRatedResponses(ctx context.Context, intent string, minRating, limit int) ([]string, error) {
	query := `
		SELECT bot_response
		FROM conversations
		WHERE intent_detected = ? AND user_rating >= ? AND TRIM(bot_response) != ''
		ORDER BY user_rating DESC, created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, intent, minRating, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top responses: %w", err)
	}
	defer rows.Close()

	var responses []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// PruneTurns keeps the keepLast most recent turns and deletes the rest in one statement.
func (c *Client) PruneTurns(ctx context.Context, keepLast int) (int64, error) {
	query := `
		DELETE FROM conversations
		WHERE id NOT IN (
			SELECT id FROM conversations
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`

	result, err := c.db.ExecContext(ctx, query, keepLast)
	if err != nil {
		return 0, fmt.Errorf("failed to prune turns: %w", err)
	}

	removed := affected(result)
	logger.Info("Pruned conversation turns", zap.Int64("removed", removed), zap.Int("keep_last", keepLast))
	return removed, nil
}

func (c *Client) CountTurns(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

func (c *Client) queryTurns(ctx context.Context, query string, args ...any) ([]models.ConversationTurn, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, *turn)
	}
	return turns, rows.Err()
}

func scanTurn(row rowScanner) (*models.ConversationTurn, error) {
	var (
		turn           models.ConversationTurn
		userID         sql.NullString
		intent         sql.NullString
		entities       string
		responseTimeMs sql.NullInt64
		rating         sql.NullInt64
		helpful        sql.NullBool
		status         string
		createdAt      int64
		updatedAt      int64
	)

	err := row.Scan(
		&turn.ID,
		&turn.SessionID,
		&userID,
		&turn.UserMessage,
		&turn.BotResponse,
		&intent,
		&entities,
		&responseTimeMs,
		&rating,
		&helpful,
		&status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	turn.UserID = userID.String
	turn.IntentDetected = intent.String
	turn.Status = models.TurnStatus(status)
	turn.CreatedAt = fromMillis(createdAt)
	turn.UpdatedAt = fromMillis(updatedAt)

	if responseTimeMs.Valid {
		v := int(responseTimeMs.Int64)
		turn.ResponseTimeMs = &v
	}
	if rating.Valid {
		v := int(rating.Int64)
		turn.UserRating = &v
	}
	if helpful.Valid {
		v := helpful.Bool
		turn.WasHelpful = &v
	}

	turn.Entities = []models.ExtractedEntity{}
	if entities != "" {
		if err := json.Unmarshal([]byte(entities), &turn.Entities); err != nil {
			logger.Warn("Failed to decode turn entities", zap.Int64("turn_id", turn.ID), zap.Error(err))
		}
	}

	return &turn, nil
}

func encodeEntities(entities []models.ExtractedEntity) (string, error) {
	if entities == nil {
		entities = []models.ExtractedEntity{}
	}
	return encodeJSON(entities)
}
