package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unishop/backend/internal/storage/models"
)

const exampleColumns = `id, question, answer, category, intent, confidence_score, usage_count,
	last_used, source, created_at, updated_at`

// deleteBatchSize stays under SQLite's host parameter limit.
const deleteBatchSize = 500

func (c *Client) InsertTrainingExample(ctx context.Context, ex *models.TrainingExample) error {
	now := time.Now().UTC()
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
	ex.UpdatedAt = ex.CreatedAt
	if ex.Source == "" {
		ex.Source = models.SourceManual
	}

	var lastUsed any
	if ex.LastUsed != nil {
		lastUsed = toMillis(*ex.LastUsed)
	}

	query := `
		INSERT INTO training_data (question, answer, category, intent, confidence_score, usage_count,
			last_used, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		ex.Question,
		ex.Answer,
		nullString(ex.Category),
		nullString(ex.Intent),
		ex.ConfidenceScore,
		ex.UsageCount,
		lastUsed,
		ex.Source,
		toMillis(ex.CreatedAt),
		toMillis(ex.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert training example: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read training example id: %w", err)
	}
	ex.ID = id
	return nil
}

func (c *Client) GetTrainingExample(ctx context.Context, id int64) (*models.TrainingExample, error) {
	query := `SELECT ` + exampleColumns + ` FROM training_data WHERE id = ?`

	ex, err := scanExample(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("training example", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get training example: %w", err)
	}
	return ex, nil
}

// ExampleExists reports whether any example has exactly this question.
func (c *Client) ExampleExists(ctx context.Context, question string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM training_data WHERE question = ?)`, question).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up training example: %w", err)
	}
	return exists, nil
}

// ListTrainingExamples returns examples newest first, optionally filtered by category.
func (c *Client) ListTrainingExamples(ctx context.Context, category string, limit int) ([]models.TrainingExample, error) {
	query := `SELECT ` + exampleColumns + ` FROM training_data`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list training examples: %w", err)
	}
	defer rows.Close()

	var examples []models.TrainingExample
	for rows.Next() {
		ex, err := scanExample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}
		examples = append(examples, *ex)
	}
	return examples, rows.Err()
}

// UpdateTrainingExample applies the non-nil fields of update.
func (c *Client) UpdateTrainingExample(ctx context.Context, id int64, update models.ExampleUpdate) (*models.TrainingExample, error) {
	sets := []string{}
	args := []any{}

	if update.Question != nil {
		sets = append(sets, "question = ?")
		args = append(args, *update.Question)
	}
	if update.Answer != nil {
		sets = append(sets, "answer = ?")
		args = append(args, *update.Answer)
	}
	if update.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, nullString(*update.Category))
	}
	if update.Intent != nil {
		sets = append(sets, "intent = ?")
		args = append(args, nullString(*update.Intent))
	}
	if update.ConfidenceScore != nil {
		sets = append(sets, "confidence_score = ?")
		args = append(args, *update.ConfidenceScore)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(time.Now().UTC()), id)

	query := `UPDATE training_data SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update training example: %w", err)
	}
	if affected(result) == 0 {
		return nil, notFound("training example", id)
	}

	return c.GetTrainingExample(ctx, id)
}

func (c *Client) DeleteTrainingExample(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM training_data WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete training example: %w", err)
	}
	if affected(result) == 0 {
		return notFound("training example", id)
	}
	return nil
}

// DuplicateExampleIDs lists every example whose question also belongs to an example with a lower id.
func (c *Client) DuplicateExampleIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT t1.id
		FROM training_data t1
		JOIN training_data t2 ON t1.question = t2.question AND t1.id > t2.id
		ORDER BY t1.id
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate examples: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Client) DeleteTrainingExamples(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM training_data WHERE id IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete training examples: %w", err)
		}
		removed += affected(result)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit training deletions: %w", err)
	}
	return removed, nil
}

// DeleteInvalidExamples removes examples with a blank question or answer.
func (c *Client) DeleteInvalidExamples(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM training_data WHERE TRIM(question) = '' OR TRIM(answer) = ''`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete invalid examples: %w", err)
	}
	return affected(result), nil
}

// IncrementUsage bumps the usage counter of every example labelled with intent.
func (c *Client) IncrementUsage(ctx context.Context, intent string, at time.Time) (int64, error) {
	ms := toMillis(at)
	result, err := c.db.ExecContext(ctx, `
		UPDATE training_data
		SET usage_count = usage_count + 1, last_used = ?, updated_at = ?
		WHERE intent = ?
	`, ms, ms, intent)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return affected(result), nil
}

func (c *Client) TrainingStats(ctx context.Context) (*models.TrainingStats, error) {
	stats := &models.TrainingStats{}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_data`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count training examples: %w", err)
	}

	var err error
	stats.ByCategory, err = c.labelCounts(ctx, "category")
	if err != nil {
		return nil, err
	}
	stats.ByIntent, err = c.labelCounts(ctx, "intent")
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// labelCounts groups training examples by a fixed column name.
func (c *Client) labelCounts(ctx context.Context, column string) ([]models.LabelCount, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM training_data
		WHERE %[1]s IS NOT NULL AND %[1]s != ''
		GROUP BY %[1]s
		ORDER BY COUNT(*) DESC, %[1]s ASC
	`, column)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group training examples by %s: %w", column, err)
	}
	defer rows.Close()

	counts := []models.LabelCount{}
	for rows.Next() {
		var lc models.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}

func scanExample(row rowScanner) (*models.TrainingExample, error) {
	var (
		ex        models.TrainingExample
		category  sql.NullString
		intent    sql.NullString
		lastUsed  sql.NullInt64
		createdAt int64
		updatedAt int64
	)

	err := row.Scan(
		&ex.ID,
		&ex.Question,
		&ex.Answer,
		&category,
		&intent,
		&ex.ConfidenceScore,
		&ex.UsageCount,
		&lastUsed,
		&ex.Source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ex.Category = category.String
	ex.Intent = intent.String
	ex.CreatedAt = fromMillis(createdAt)
	ex.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		t := fromMillis(lastUsed.Int64)
		ex.LastUsed = &t
	}
	return &ex, nil
}
