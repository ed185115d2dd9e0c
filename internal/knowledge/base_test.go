package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/internal/storage/sqlite"
)

type memoryCache struct {
	entries     map[string][]models.KnowledgeEntry
	invalidated int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]models.KnowledgeEntry)}
}

func (m *memoryCache) GetSearch(_ context.Context, key string) ([]models.KnowledgeEntry, bool, error) {
	entries, ok := m.entries[key]
	return entries, ok, nil
}

func (m *memoryCache) SetSearch(_ context.Context, key string, entries []models.KnowledgeEntry, _ time.Duration) error {
	m.entries[key] = entries
	return nil
}

func (m *memoryCache) InvalidateSearch(context.Context) error {
	m.entries = make(map[string][]models.KnowledgeEntry)
	m.invalidated++
	return nil
}

type fixedIndex struct {
	topics  []string
	queries []string
	indexed []string
	removed []string
}

func (f *fixedIndex) Index(_ context.Context, entry models.KnowledgeEntry) error {
	f.indexed = append(f.indexed, entry.Topic)
	return nil
}

func (f *fixedIndex) Remove(_ context.Context, topic string) error {
	f.removed = append(f.removed, topic)
	return nil
}

func (f *fixedIndex) Nearest(_ context.Context, query string, _ int) ([]string, error) {
	f.queries = append(f.queries, query)
	return f.topics, nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	return db
}

func seed(t *testing.T, store *sqlite.Client, topic, content string, priority int) {
	t.Helper()

	_, err := store.UpsertKnowledge(context.Background(), &models.KnowledgeEntry{
		Topic:    topic,
		Content:  content,
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("Failed to seed %q: %v", topic, err)
	}
}

func TestSearchMatchesCaseInsensitively(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "Envíos", "Los ENVÍOS se coordinan con el vendedor", 1)
	seed(t, store, "Pagos", "Aceptamos transferencias", 1)

	base := NewBase(store, Options{})
	results, err := base.Search(context.Background(), "envíos", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Topic != "Envíos" {
		t.Errorf("Expected topic Envíos, got %s", results[0].Topic)
	}
}

func TestSearchOrdersByPriorityAndCapsLimit(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "vender-basico", "como vender un producto", 1)
	seed(t, store, "vender-fotos", "fotos para vender mejor", 3)
	seed(t, store, "vender-precio", "precio justo al vender", 2)

	base := NewBase(store, Options{})
	results, err := base.Search(context.Background(), "VENDER", 2)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Topic != "vender-fotos" || results[1].Topic != "vender-precio" {
		t.Errorf("Expected [vender-fotos vender-precio], got [%s %s]", results[0].Topic, results[1].Topic)
	}
}

func TestSearchSkipsInactiveEntries(t *testing.T) {
	store := newTestStore(t)
	base := NewBase(store, Options{})
	ctx := context.Background()

	if _, err := base.Upsert(ctx, Input{Topic: "devoluciones", Content: "Tienes 5 días para devolver"}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if err := base.SetActive(ctx, "devoluciones", false); err != nil {
		t.Fatalf("Failed to deactivate: %v", err)
	}

	results, err := base.Search(ctx, "devolver", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	base := NewBase(newTestStore(t), Options{})

	_, err := base.Search(context.Background(), "   ", 5)
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestSearchUsesCacheUntilUpsert(t *testing.T) {
	store := newTestStore(t)
	cache := newMemoryCache()
	base := NewBase(store, Options{Cache: cache})
	ctx := context.Background()

	seed(t, store, "horarios", "Atendemos de lunes a viernes", 1)

	first, err := base.Search(ctx, "lunes", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(first))
	}

	// Written behind the cache's back, so only a cache hit hides it.
	seed(t, store, "horarios-sabado", "Los sábados abrimos; el lunes cerramos tarde", 1)

	second, err := base.Search(ctx, "lunes", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(second) != 1 {
		t.Errorf("Expected cached result of 1 entry, got %d", len(second))
	}

	if _, err := base.Upsert(ctx, Input{Topic: "horarios", Content: "Atendemos de lunes a sábado"}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if cache.invalidated != 1 {
		t.Errorf("Expected 1 invalidation, got %d", cache.invalidated)
	}

	third, err := base.Search(ctx, "lunes", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(third) != 2 {
		t.Errorf("Expected 2 results after invalidation, got %d", len(third))
	}
}

func TestSemanticFallbackOnlyWithoutTextMatch(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "seguridad", "Nunca compartas tu contraseña", 1)

	index := &fixedIndex{topics: []string{"seguridad", "desconocido"}}
	base := NewBase(store, Options{Semantic: index})
	ctx := context.Background()

	results, err := base.Search(ctx, "contraseña", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 1 || len(index.queries) != 0 {
		t.Errorf("Expected text match without semantic query, got %d results and %d queries", len(results), len(index.queries))
	}

	results, err = base.Search(ctx, "me robaron la cuenta", 5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(index.queries) != 1 {
		t.Fatalf("Expected 1 semantic query, got %d", len(index.queries))
	}
	if len(results) != 1 || results[0].Topic != "seguridad" {
		t.Errorf("Expected semantic hit seguridad, got %+v", results)
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	store := newTestStore(t)
	index := &fixedIndex{}
	base := NewBase(store, Options{Semantic: index})
	ctx := context.Background()

	created, err := base.Upsert(ctx, Input{Topic: "pagos", Content: "Efectivo", Category: "faq", Tags: []string{"Pago", "pago ", ""}})
	if err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}
	if created.Priority != 1 || !created.IsActive {
		t.Errorf("Expected active entry with priority 1, got priority %d active %v", created.Priority, created.IsActive)
	}
	if len(created.Tags) != 1 || created.Tags[0] != "pago" {
		t.Errorf("Expected tags [pago], got %v", created.Tags)
	}

	updated, err := base.Upsert(ctx, Input{Topic: "pagos", Content: "Efectivo o transferencia"})
	if err != nil {
		t.Fatalf("Failed to update entry: %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("Expected id %d, got %d", created.ID, updated.ID)
	}
	if updated.Content != "Efectivo o transferencia" {
		t.Errorf("Expected new content, got %q", updated.Content)
	}
	if updated.Category != "faq" {
		t.Errorf("Expected category to be kept, got %q", updated.Category)
	}
	if len(index.indexed) != 2 {
		t.Errorf("Expected 2 index calls, got %d", len(index.indexed))
	}
}

func TestUpsertValidation(t *testing.T) {
	base := NewBase(newTestStore(t), Options{})

	for _, in := range []Input{{Topic: "", Content: "x"}, {Topic: "x", Content: "  "}} {
		if _, err := base.Upsert(context.Background(), in); !errors.Is(err, models.ErrValidation) {
			t.Errorf("Expected ErrValidation for %+v, got %v", in, err)
		}
	}
}

func TestNormalizeContentStripsMarkup(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body><nav>Menu</nav>
		<h1>Envíos</h1><p>Coordina   la entrega<br>con el vendedor.</p><script>alert(1)</script></body></html>`

	got := normalizeContent(html)

	if strings.Contains(got, "Menu") || strings.Contains(got, "alert") || strings.Contains(got, "<") {
		t.Errorf("Expected markup and chrome removed, got %q", got)
	}
	if !strings.Contains(got, "Envíos") || !strings.Contains(got, "Coordina la entrega") {
		t.Errorf("Expected readable text, got %q", got)
	}

	if plain := normalizeContent("  precio < 5000 y > 100  "); plain != "precio < 5000 y > 100" {
		t.Errorf("Expected plain text untouched, got %q", plain)
	}
}
