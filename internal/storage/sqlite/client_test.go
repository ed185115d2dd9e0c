package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/unishop/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	return client
}

func createTurn(t *testing.T, c *Client, session, message string, at time.Time) *models.ConversationTurn {
	t.Helper()

	turn := &models.ConversationTurn{SessionID: session, UserMessage: message, CreatedAt: at}
	if err := c.CreateTurn(context.Background(), turn); err != nil {
		t.Fatalf("Failed to create turn: %v", err)
	}
	return turn
}

func TestTurnLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	turn := createTurn(t, c, "s1", "hola", time.Now())
	if turn.ID == 0 {
		t.Fatal("Expected turn id to be assigned")
	}

	if err := c.ApplyRating(ctx, turn.ID, 5); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition rating a started turn, got %v", err)
	}

	err := c.RecordResponse(ctx, turn.ID, models.TurnResponse{
		BotResponse:    "¡Hola!",
		IntentDetected: "saludar",
		Entities:       []models.ExtractedEntity{{Type: models.EntityTypePrice, Value: 50000.0, Confidence: 0.9}},
		ResponseTimeMs: 12,
	})
	if err != nil {
		t.Fatalf("Failed to record response: %v", err)
	}

	if err := c.ApplyRating(ctx, turn.ID, 4); err != nil {
		t.Fatalf("Failed to apply rating: %v", err)
	}

	got, err := c.GetTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("Failed to get turn: %v", err)
	}
	if got.Status != models.TurnRated {
		t.Errorf("Expected status rated, got %s", got.Status)
	}
	if got.UserRating == nil || *got.UserRating != 4 {
		t.Errorf("Expected rating 4, got %v", got.UserRating)
	}
	if got.WasHelpful == nil || !*got.WasHelpful {
		t.Error("Expected was_helpful to be true")
	}
	if len(got.Entities) != 1 || got.Entities[0].Value != 50000.0 {
		t.Errorf("Expected price entity to round-trip, got %+v", got.Entities)
	}

	if err := c.RecordResponse(ctx, turn.ID, models.TurnResponse{BotResponse: "x"}); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition responding to a rated turn, got %v", err)
	}
}

func TestGetTurnNotFound(t *testing.T) {
	c := newTestClient(t)

	if _, err := c.GetTurn(context.Background(), 42); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := c.ApplyRating(context.Background(), 42, 3); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound rating a missing turn, got %v", err)
	}
}

func TestRecordFeedbackWritesNothingWhenTurnCannotBeRated(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	turn := createTurn(t, c, "s1", "hola", time.Now())

	fb := &models.UserFeedback{ConversationID: turn.ID, UserID: "u1", Rating: 5}
	if err := c.RecordFeedback(ctx, fb); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	missing := &models.UserFeedback{ConversationID: 999, UserID: "u1", Rating: 5}
	if err := c.RecordFeedback(ctx, missing); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	for _, id := range []int64{turn.ID, 999} {
		rows, err := c.ListFeedback(ctx, id)
		if err != nil {
			t.Fatalf("Failed to list feedback: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("Expected no feedback rows for turn %d, got %d", id, len(rows))
		}
	}

	if err := c.RecordResponse(ctx, turn.ID, models.TurnResponse{BotResponse: "¡Hola!", IntentDetected: "saludar"}); err != nil {
		t.Fatalf("Failed to record response: %v", err)
	}
	if err := c.RecordFeedback(ctx, fb); err != nil {
		t.Fatalf("Failed to record feedback: %v", err)
	}
	if fb.ID == 0 {
		t.Error("Expected feedback id to be assigned")
	}

	got, err := c.GetTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("Failed to get turn: %v", err)
	}
	if got.Status != models.TurnRated || got.UserRating == nil || *got.UserRating != 5 {
		t.Errorf("Expected rated turn with rating 5, got %+v", got)
	}
}

func TestPruneTurnsKeepsMostRecent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var ids []int64
	for i := 0; i < 1500; i++ {
		turn := createTurn(t, c, "s", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Millisecond))
		ids = append(ids, turn.ID)
	}

	removed, err := c.PruneTurns(ctx, 1000)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if removed != 500 {
		t.Errorf("Expected 500 removed, got %d", removed)
	}

	count, err := c.CountTurns(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1000 {
		t.Errorf("Expected 1000 turns, got %d", count)
	}

	if _, err := c.GetTurn(ctx, ids[499]); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected oldest turns to be pruned, got %v", err)
	}
	if _, err := c.GetTurn(ctx, ids[500]); err != nil {
		t.Errorf("Expected turn %d to survive: %v", ids[500], err)
	}
}

func TestDuplicateAndInvalidExamples(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, ex := range []models.TrainingExample{
		{Question: "¿cómo publico?", Answer: "a"},
		{Question: "¿cómo publico?", Answer: "b"},
		{Question: "¿cómo publico?", Answer: "c"},
		{Question: "   ", Answer: "d"},
		{Question: "precio", Answer: ""},
	} {
		ex := ex
		if err := c.InsertTrainingExample(ctx, &ex); err != nil {
			t.Fatalf("Failed to insert example: %v", err)
		}
	}

	ids, err := c.DuplicateExampleIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to find duplicates: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 duplicates, got %v", ids)
	}

	removed, err := c.DeleteTrainingExamples(ctx, ids)
	if err != nil || removed != 2 {
		t.Fatalf("Expected 2 removed, got %d (%v)", removed, err)
	}

	invalid, err := c.DeleteInvalidExamples(ctx)
	if err != nil || invalid != 2 {
		t.Fatalf("Expected 2 invalid removed, got %d (%v)", invalid, err)
	}

	stats, err := c.TrainingStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("Expected 1 example left, got %d", stats.Total)
	}
}

func TestUpsertKnowledgeUpdatesInPlace(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.UpsertKnowledge(ctx, &models.KnowledgeEntry{Topic: "envíos", Content: "v1", Category: "logística"})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	second, err := c.UpsertKnowledge(ctx, &models.KnowledgeEntry{Topic: "envíos", Content: "v2", Tags: []string{"envio"}})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Expected same id %d, got %d", first.ID, second.ID)
	}
	if second.Content != "v2" {
		t.Errorf("Expected content v2, got %q", second.Content)
	}
	if second.Category != "logística" {
		t.Errorf("Expected category to be kept, got %q", second.Category)
	}
	if !second.IsActive || second.Priority != 1 {
		t.Errorf("Expected active entry with priority 1, got %+v", second)
	}

	if err := c.SetKnowledgeActive(ctx, "envíos", false); err != nil {
		t.Fatalf("Failed to deactivate: %v", err)
	}
	active, err := c.ListActiveKnowledge(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active entries, got %d", len(active))
	}
}

func TestInsertIntentRejectsDuplicateName(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.InsertIntent(ctx, &models.Intent{Name: "saludar"}); err != nil {
		t.Fatalf("Failed to insert intent: %v", err)
	}
	if err := c.InsertIntent(ctx, &models.Intent{Name: "saludar"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for duplicate, got %v", err)
	}

	inserted, err := c.InsertIntentIfAbsent(ctx, &models.Intent{Name: "saludar"})
	if err != nil || inserted {
		t.Errorf("Expected no insert and no error, got %v (%v)", inserted, err)
	}
}

func TestDailyMetricsUpsert(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, total := range []int{3, 7} {
		err := c.UpsertDailyMetrics(ctx, &models.DailyMetrics{
			Date:               day,
			TotalConversations: total,
			TopIntents:         map[string]int{"saludar": total},
		})
		if err != nil {
			t.Fatalf("Failed to upsert metrics: %v", err)
		}
	}

	m, err := c.GetDailyMetrics(ctx, day)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	if m.TotalConversations != 7 || m.TopIntents["saludar"] != 7 {
		t.Errorf("Expected latest snapshot, got %+v", m)
	}
}
