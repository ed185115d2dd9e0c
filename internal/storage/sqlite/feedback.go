package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unishop/backend/internal/storage/models"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordFeedback rates the turn and appends the feedback row in one transaction.
// Nothing is written when the turn is missing or cannot be rated.
func (c *Client) RecordFeedback(ctx context.Context, fb *models.UserFeedback) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied, err := applyRating(ctx, tx, fb.ConversationID, fb.Rating)
	if err != nil {
		return err
	}
	if !applied {
		// The single connection is held by tx until it ends.
		tx.Rollback()
		return c.transitionFailure(ctx, fb.ConversationID, models.TurnRated)
	}

	if err := insertFeedback(ctx, tx, fb); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}
	return nil
}

func insertFeedback(ctx context.Context, ex execer, fb *models.UserFeedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	result, err := ex.ExecContext(ctx, `
		INSERT INTO user_feedback (conversation_id, user_id, rating, comments, suggested_improvement, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		fb.ConversationID,
		fb.UserID,
		fb.Rating,
		nullString(fb.Comments),
		nullString(fb.SuggestedImprovement),
		toMillis(fb.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read feedback id: %w", err)
	}
	fb.ID = id
	return nil
}

// ListFeedback returns the feedback rows for a turn in insertion order.
func (c *Client) ListFeedback(ctx context.Context, turnID int64) ([]models.UserFeedback, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, rating, comments, suggested_improvement, created_at
		FROM user_feedback
		WHERE conversation_id = ?
		ORDER BY id ASC
	`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var feedback []models.UserFeedback
	for rows.Next() {
		var (
			fb         models.UserFeedback
			comments   sql.NullString
			suggestion sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&fb.ID, &fb.ConversationID, &fb.UserID, &fb.Rating, &comments,
			&suggestion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fb.Comments = comments.String
		fb.SuggestedImprovement = suggestion.String
		fb.CreatedAt = fromMillis(createdAt)
		feedback = append(feedback, fb)
	}
	return feedback, rows.Err()
}
