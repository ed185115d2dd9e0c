package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/unishop/backend/internal/conversation"
	"github.com/unishop/backend/internal/feedback"
	"github.com/unishop/backend/internal/knowledge"
	"github.com/unishop/backend/internal/learning"
	"github.com/unishop/backend/internal/nlu"
	"github.com/unishop/backend/internal/responder"
	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/storage/sqlite"
	"github.com/unishop/backend/internal/training"
)

type firstPicker struct{}

func (firstPicker) Intn(int) int { return 0 }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestApp(t *testing.T, extraDeps map[string]Pinger) (*fiber.App, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	rules, err := nlu.LoadRules("")
	if err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	classifier, err := nlu.NewClassifier(rules)
	if err != nil {
		t.Fatalf("Failed to build classifier: %v", err)
	}

	service := conversation.NewService(conversation.Deps{
		Store:      store,
		Classifier: classifier,
		Extractor:  nlu.NewExtractor(rules.Categories),
		Generator: responder.NewGenerator(responder.Config{
			Templates: rules.Templates(),
			FollowUps: rules.FollowUps(),
			Clauses:   responder.Clauses{Category: rules.Clauses.Category, Price: rules.Clauses.Price},
		}, firstPicker{}),
		FallbackResponse: rules.FallbackResponse,
	})
	curator := training.NewCurator(store)
	cfg := learning.DefaultConfig()

	deps := map[string]Pinger{"sqlite": store}
	for name, dep := range extraDeps {
		deps[name] = dep
	}

	app := fiber.New(fiber.Config{UnescapePath: true})
	Register(app, Handlers{
		Chat:      NewChatHandler(service, feedback.NewCollector(store, nil)),
		WebSocket: NewWebSocketHandler(service),
		Knowledge: NewKnowledgeHandler(knowledge.NewBase(store, knowledge.Options{})),
		Training:  NewTrainingHandler(curator),
		Learning:  NewLearningHandler(learning.NewOrchestrator(store, curator, nil, cfg), curator, cfg),
		Health:    NewHealthHandler(deps),
	})
	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestChatMessageThenFeedback(t *testing.T) {
	app, store := newTestApp(t, nil)

	var turn conversation.TurnResult
	status := doJSON(t, app, "POST", "/api/v1/chat/message", map[string]string{
		"message": "busco un libro de menos de 50000",
		"user_id": "u1",
	}, &turn)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if turn.Intent != "buscar_producto" {
		t.Errorf("Expected buscar_producto, got %s", turn.Intent)
	}

	status = doJSON(t, app, "POST", "/api/v1/chat/feedback", map[string]any{
		"conversation_id": turn.TurnID,
		"user_id":         "u1",
		"rating":          5,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}

	stored, err := store.GetTurn(context.Background(), turn.TurnID)
	if err != nil {
		t.Fatalf("Failed to load turn: %v", err)
	}
	if stored.UserRating == nil || *stored.UserRating != 5 {
		t.Errorf("Expected rating 5, got %v", stored.UserRating)
	}
	if stored.WasHelpful == nil || !*stored.WasHelpful {
		t.Errorf("Expected turn marked helpful, got %v", stored.WasHelpful)
	}

	var history struct {
		History []models.ConversationTurn `json:"history"`
	}
	status = doJSON(t, app, "GET", "/api/v1/chat/history/"+turn.SessionID, nil, &history)
	if status != http.StatusOK || len(history.History) != 1 {
		t.Errorf("Expected 1 history entry with 200, got %d entries with %d", len(history.History), status)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	app, store := newTestApp(t, nil)

	started := &models.ConversationTurn{SessionID: "s1", UserMessage: "hola"}
	if err := store.CreateTurn(context.Background(), started); err != nil {
		t.Fatalf("Failed to create turn: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty message", "POST", "/api/v1/chat/message", map[string]string{"message": "  "}, http.StatusBadRequest},
		{"rating out of range", "POST", "/api/v1/chat/feedback", map[string]any{"conversation_id": started.ID, "user_id": "u1", "rating": 9}, http.StatusBadRequest},
		{"unknown turn", "POST", "/api/v1/chat/feedback", map[string]any{"conversation_id": 999, "user_id": "u1", "rating": 4}, http.StatusNotFound},
		{"turn not responded", "POST", "/api/v1/chat/feedback", map[string]any{"conversation_id": started.ID, "user_id": "u1", "rating": 4}, http.StatusConflict},
		{"unknown example", "DELETE", "/api/v1/training/data/42", nil, http.StatusNotFound},
		{"bad example id", "PATCH", "/api/v1/training/data/abc", map[string]string{}, http.StatusBadRequest},
		{"blank search", "GET", "/api/v1/knowledge/search?q=", nil, http.StatusBadRequest},
		{"non-positive keep", "POST", "/api/v1/learning/cleanup/conversations?keepLast=0", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := doJSON(t, app, tt.method, tt.path, tt.body, nil); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrValidation), fiber.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrNotFound), fiber.StatusNotFound},
		{models.ErrInvalidTransition, fiber.StatusConflict},
		{fmt.Errorf("learning cycle: %w", models.ErrCycleInProgress), fiber.StatusConflict},
		{fmt.Errorf("start turn: %w: %w", models.ErrUnavailable, errors.New("disk full")), fiber.StatusServiceUnavailable},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("Expected %d for %v, got %d", tt.want, tt.err, got)
		}
	}
}

func TestKnowledgeEndpoints(t *testing.T) {
	app, _ := newTestApp(t, nil)

	status := doJSON(t, app, "POST", "/api/v1/knowledge", map[string]any{
		"topic":   "envíos",
		"content": "<p>Coordina la entrega con el vendedor</p>",
		"tags":    []string{"Logistica"},
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}

	var search struct {
		Results []models.KnowledgeEntry `json:"results"`
		Count   int                     `json:"count"`
	}
	status = doJSON(t, app, "GET", "/api/v1/knowledge/search?q=ENTREGA", nil, &search)
	if status != http.StatusOK || search.Count != 1 {
		t.Fatalf("Expected 1 result with 200, got %d with %d", search.Count, status)
	}
	if search.Results[0].Content != "Coordina la entrega con el vendedor" {
		t.Errorf("Expected markup stripped, got %q", search.Results[0].Content)
	}

	status = doJSON(t, app, "PATCH", "/api/v1/knowledge/env%C3%ADos/active", map[string]bool{"active": false}, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}

	status = doJSON(t, app, "GET", "/api/v1/knowledge/search?q=entrega", nil, &search)
	if status != http.StatusOK || search.Count != 0 {
		t.Errorf("Expected no results after deactivation, got %d", search.Count)
	}

	status = doJSON(t, app, "PATCH", "/api/v1/knowledge/desconocido/active", map[string]bool{"active": true}, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
}

func TestTrainingEndpoints(t *testing.T) {
	app, _ := newTestApp(t, nil)

	var example models.TrainingExample
	status := doJSON(t, app, "POST", "/api/v1/training/data", map[string]string{
		"question": "¿Cómo publico?",
		"answer":   "Usa el botón vender",
		"category": "ventas",
	}, &example)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}

	var updated models.TrainingExample
	path := fmt.Sprintf("/api/v1/training/data/%d", example.ID)
	status = doJSON(t, app, "PATCH", path, map[string]string{"answer": "Pulsa vender"}, &updated)
	if status != http.StatusOK || updated.Answer != "Pulsa vender" {
		t.Fatalf("Expected updated answer with 200, got %q with %d", updated.Answer, status)
	}

	var stats models.TrainingStats
	status = doJSON(t, app, "GET", "/api/v1/training/data/stats", nil, &stats)
	if status != http.StatusOK || stats.Total != 1 {
		t.Errorf("Expected total 1, got %d (%d)", stats.Total, status)
	}

	if status := doJSON(t, app, "DELETE", path, nil, nil); status != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", status)
	}

	status = doJSON(t, app, "POST", "/api/v1/training/intent", map[string]any{
		"name":     "comparar_precios",
		"priority": 2,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}
	status = doJSON(t, app, "POST", "/api/v1/training/intent", map[string]any{"name": "comparar_precios"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected duplicate intent to be rejected, got %d", status)
	}
}

func TestLearningCycleEndpoint(t *testing.T) {
	app, _ := newTestApp(t, nil)

	doJSON(t, app, "POST", "/api/v1/chat/message", map[string]string{"message": "Hola, buenos días"}, nil)

	var summary learning.CycleSummary
	status := doJSON(t, app, "POST", "/api/v1/learning/cycle", nil, &summary)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if !summary.CleanupPerformed || summary.Analysis == nil || summary.Analysis.TurnsInWindow != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	var report map[string]any
	if status := doJSON(t, app, "GET", "/api/v1/learning/performance", nil, &report); status != http.StatusOK {
		t.Errorf("Expected 200, got %d", status)
	}
	if _, ok := report["current_performance"]; !ok {
		t.Errorf("Expected current_performance in report, got %v", report)
	}
}

func TestReadiness(t *testing.T) {
	app, _ := newTestApp(t, nil)
	if status := doJSON(t, app, "GET", "/api/v1/ready", nil, nil); status != http.StatusOK {
		t.Errorf("Expected 200, got %d", status)
	}

	degraded, _ := newTestApp(t, map[string]Pinger{"redis": failingPinger{}})
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if status := doJSON(t, degraded, "GET", "/api/v1/ready", nil, &body); status != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", status)
	}
	if body.Checks["redis"] != "unavailable" || body.Checks["sqlite"] != "ok" {
		t.Errorf("Unexpected checks: %v", body.Checks)
	}
}

type staticCounts map[string]int64

func (s staticCounts) IntentCounts(context.Context) (map[string]int64, error) { return s, nil }

func TestIntentCountsEndpoint(t *testing.T) {
	app, _ := newTestApp(t, nil)
	if status := doJSON(t, app, "GET", "/api/v1/learning/intents", nil, nil); status != http.StatusNotImplemented {
		t.Errorf("Expected 501 without counters, got %d", status)
	}

	h := NewLearningHandler(nil, nil, learning.DefaultConfig()).WithIntentCounts(staticCounts{"saludar": 3})
	counted := fiber.New()
	counted.Get("/intents", h.IntentCounts)

	var body struct {
		Intents map[string]int64 `json:"intents"`
	}
	if status := doJSON(t, counted, "GET", "/intents", nil, &body); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if body.Intents["saludar"] != 3 {
		t.Errorf("Expected saludar count 3, got %v", body.Intents)
	}
}

func TestResponseChunksRebuildResponse(t *testing.T) {
	tests := []string{
		"¡Hola! ¿En qué te ayudo?",
		"Línea uno\nLínea dos",
		"dos  espacios ",
		"",
	}

	for _, text := range tests {
		chunks := responseChunks(text)
		if got := strings.Join(chunks, ""); got != text {
			t.Errorf("Expected chunks to rebuild %q, got %q", text, got)
		}
		for _, chunk := range chunks {
			if chunk == "" {
				t.Errorf("Expected no empty chunks for %q", text)
			}
		}
	}
}
