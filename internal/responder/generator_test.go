package responder

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/unishop/backend/internal/storage/models"
)

type fixedPicker struct{ index int }

func (p fixedPicker) Intn(n int) int { return p.index % n }

func testConfig() Config {
	return Config{
		Templates: map[string][]string{
			"saludar":            {"Hola A", "Hola B"},
			models.IntentGeneral: {"No entendí"},
		},
		FollowUps: map[string][]string{
			models.IntentGeneral: {"¿Buscas algo?"},
		},
		Clauses: Clauses{
			Category: " Categoría %s.",
			Price:    " Presupuesto $%s.",
		},
	}
}

func TestGeneratePicksTemplate(t *testing.T) {
	g := NewGenerator(testConfig(), fixedPicker{index: 1})

	got, err := g.Generate("saludar", nil, "hola")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Hola B" {
		t.Errorf("Expected 'Hola B', got %q", got)
	}
}

func TestGenerateUnknownIntentFallsBackToGeneral(t *testing.T) {
	g := NewGenerator(testConfig(), fixedPicker{})

	got, err := g.Generate("desconocido", nil, "???")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "No entendí" {
		t.Errorf("Expected general template, got %q", got)
	}
	if qs := g.FollowUps("desconocido"); len(qs) != 1 {
		t.Errorf("Expected general follow-ups, got %v", qs)
	}
}

func TestGenerateAppendsFirstEntityClauses(t *testing.T) {
	g := NewGenerator(testConfig(), fixedPicker{})

	entities := []models.ExtractedEntity{
		{Type: models.EntityTypeCategory, Value: "libro", Confidence: 0.8},
		{Type: models.EntityTypeCategory, Value: "arte", Confidence: 0.8},
		{Type: models.EntityTypePrice, Value: 50000.0, Confidence: 0.9},
	}

	got, err := g.Generate("saludar", entities, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	want := "Hola A Categoría libro. Presupuesto $50.000."
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestGenerateWithoutTemplates(t *testing.T) {
	g := NewGenerator(Config{Templates: map[string][]string{}}, fixedPicker{})

	if _, err := g.Generate("saludar", nil, ""); !errors.Is(err, ErrNoTemplates) {
		t.Errorf("Expected ErrNoTemplates, got %v", err)
	}
}

func TestGenerateConcurrent(t *testing.T) {
	g := NewGenerator(testConfig(), rand.New(rand.NewSource(1)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := g.Generate("saludar", nil, "")
			if err != nil || !strings.HasPrefix(got, "Hola") {
				t.Errorf("Unexpected response %q (%v)", got, err)
			}
		}()
	}
	wg.Wait()
}

func TestFormatPrice(t *testing.T) {
	tests := map[any]string{
		500.0:     "500",
		50000.0:   "50.000",
		1200000.0: "1.200.000",
		12.5:      "12.50",
		"n/a":     "n/a",
	}
	for in, want := range tests {
		if got := formatPrice(in); got != want {
			t.Errorf("formatPrice(%v): expected %q, got %q", in, want, got)
		}
	}
}
