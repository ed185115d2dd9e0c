package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/unishop/backend/internal/nlu"
	"github.com/unishop/backend/internal/responder"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/storage/sqlite"
)

type firstPicker struct{}

func (firstPicker) Intn(int) int { return 0 }

type failingGenerator struct{}

func (failingGenerator) Generate(string, []models.ExtractedEntity, string) (string, error) {
	return "", errors.New("no templates")
}

func (failingGenerator) FollowUps(string) []string { return nil }

type panickingClassifier struct{}

func (panickingClassifier) Classify(string) nlu.Classification { panic("bad rule") }

type brokenStore struct{ Store }

func (brokenStore) CreateTurn(context.Context, *models.ConversationTurn) error {
	return errors.New("disk full")
}

type unwritableStore struct{ Store }

func (unwritableStore) RecordResponse(context.Context, int64, models.TurnResponse) error {
	return errors.New("database is locked")
}

type slowStartStore struct{ Store }

func (s slowStartStore) CreateTurn(ctx context.Context, turn *models.ConversationTurn) error {
	time.Sleep(80 * time.Millisecond)
	return s.Store.CreateTurn(ctx, turn)
}

type countingCounter struct{ intents []string }

func (c *countingCounter) IncrementIntent(_ context.Context, intent string) error {
	c.intents = append(c.intents, intent)
	return nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	return db
}

func newTestDeps(t *testing.T, store Store) Deps {
	t.Helper()

	rules, err := nlu.LoadRules("")
	if err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	classifier, err := nlu.NewClassifier(rules)
	if err != nil {
		t.Fatalf("Failed to build classifier: %v", err)
	}

	return Deps{
		Store:      store,
		Classifier: classifier,
		Extractor:  nlu.NewExtractor(rules.Categories),
		Generator: responder.NewGenerator(responder.Config{
			Templates: rules.Templates(),
			FollowUps: rules.FollowUps(),
			Clauses:   responder.Clauses{Category: rules.Clauses.Category, Price: rules.Clauses.Price},
		}, firstPicker{}),
		FallbackResponse: rules.FallbackResponse,
	}
}

func TestHandleMessageRecordsRespondedTurn(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	example := &models.TrainingExample{Question: "busco libros", Answer: "usa el buscador", Intent: "buscar_producto"}
	if err := db.InsertTrainingExample(ctx, example); err != nil {
		t.Fatalf("Failed to seed example: %v", err)
	}

	counter := &countingCounter{}
	deps := newTestDeps(t, db)
	deps.Counter = counter
	svc := NewService(deps)

	result, err := svc.HandleMessage(ctx, MessageRequest{UserID: "u1", Text: "busco un libro de menos de 50000"})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if result.SessionID == "" {
		t.Error("Expected a generated session id")
	}
	if result.Intent != "buscar_producto" || result.Confidence != 1.0 {
		t.Errorf("Expected buscar_producto at 1.0, got %s at %v", result.Intent, result.Confidence)
	}
	if result.Source != SourceRules {
		t.Errorf("Expected source rules, got %s", result.Source)
	}
	if len(result.Entities) != 2 {
		t.Errorf("Expected category and price entities, got %+v", result.Entities)
	}

	turn, err := db.GetTurn(ctx, result.TurnID)
	if err != nil {
		t.Fatalf("Failed to load turn: %v", err)
	}
	if turn.Status != models.TurnResponded {
		t.Errorf("Expected responded turn, got %s", turn.Status)
	}
	if turn.BotResponse != result.Response || turn.IntentDetected != "buscar_producto" {
		t.Errorf("Turn does not match result: %+v", turn)
	}
	if turn.ResponseTimeMs == nil {
		t.Error("Expected response time to be stored")
	}

	stored, err := db.GetTrainingExample(ctx, example.ID)
	if err != nil {
		t.Fatalf("Failed to load example: %v", err)
	}
	if stored.UsageCount != 1 || stored.LastUsed == nil {
		t.Errorf("Expected usage to be incremented, got %+v", stored)
	}

	if len(counter.intents) != 1 || counter.intents[0] != "buscar_producto" {
		t.Errorf("Expected intent counter increment, got %v", counter.intents)
	}
}

func TestHandleMessageRejectsBlankText(t *testing.T) {
	db := newTestStore(t)
	svc := NewService(newTestDeps(t, db))

	_, err := svc.HandleMessage(context.Background(), MessageRequest{Text: "   "})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}

	count, err := db.CountTurns(context.Background())
	if err != nil {
		t.Fatalf("Failed to count turns: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no turns, got %d", count)
	}
}

func TestHandleMessageFallback(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"generator error", func(d *Deps) { d.Generator = failingGenerator{} }},
		{"classifier panic", func(d *Deps) { d.Classifier = panickingClassifier{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestStore(t)
			deps := newTestDeps(t, db)
			tt.mutate(&deps)
			svc := NewService(deps)

			result, err := svc.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "hola"})
			if err != nil {
				t.Fatalf("Expected fallback result, got error %v", err)
			}
			if result.Source != SourceFallback || result.Intent != models.IntentError || result.Confidence != 0 {
				t.Errorf("Unexpected fallback result: %+v", result)
			}
			if result.Response == "" {
				t.Error("Expected fallback text")
			}

			turn, err := db.GetTurn(context.Background(), result.TurnID)
			if err != nil {
				t.Fatalf("Failed to load turn: %v", err)
			}
			if turn.IntentDetected != models.IntentError || turn.Status != models.TurnResponded {
				t.Errorf("Expected persisted fallback, got %+v", turn)
			}
		})
	}
}

func TestHandleMessageFallbackSurvivesStoreFailure(t *testing.T) {
	db := newTestStore(t)
	deps := newTestDeps(t, unwritableStore{Store: db})
	deps.Generator = failingGenerator{}
	svc := NewService(deps)

	result, err := svc.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "hola"})
	if err != nil {
		t.Fatalf("Expected fallback result, got error %v", err)
	}
	if result.Source != SourceFallback || result.Response != deps.FallbackResponse {
		t.Errorf("Unexpected fallback result: %+v", result)
	}

	turn, err := db.GetTurn(context.Background(), result.TurnID)
	if err != nil {
		t.Fatalf("Failed to load turn: %v", err)
	}
	if turn.Status != models.TurnStarted {
		t.Errorf("Expected turn to stay started, got %s", turn.Status)
	}
}

func TestHandleMessageLatencyExcludesTurnInsert(t *testing.T) {
	db := newTestStore(t)
	svc := NewService(newTestDeps(t, slowStartStore{Store: db}))

	result, err := svc.HandleMessage(context.Background(), MessageRequest{Text: "hola"})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if result.LatencyMs >= 80 {
		t.Errorf("Expected latency to exclude the turn insert, got %dms", result.LatencyMs)
	}
}

func TestHandleMessageStoreUnavailable(t *testing.T) {
	db := newTestStore(t)
	svc := NewService(newTestDeps(t, brokenStore{Store: db}))

	_, err := svc.HandleMessage(context.Background(), MessageRequest{Text: "hola"})
	if !errors.Is(err, models.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestHistoryMostRecentFirst(t *testing.T) {
	db := newTestStore(t)
	svc := NewService(newTestDeps(t, db))
	ctx := context.Background()

	for _, text := range []string{"hola", "busco un libro", "adiós"} {
		if _, err := svc.HandleMessage(ctx, MessageRequest{SessionID: "s1", Text: text}); err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := svc.HandleMessage(ctx, MessageRequest{SessionID: "other", Text: "hola"}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	turns, err := svc.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(turns))
	}
	if turns[0].UserMessage != "adiós" || turns[2].UserMessage != "hola" {
		t.Errorf("Unexpected order: %q ... %q", turns[0].UserMessage, turns[2].UserMessage)
	}

	if _, err := svc.History(ctx, "", 10); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty session, got %v", err)
	}
}
