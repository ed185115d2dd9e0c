package responder

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/unishop/backend/internal/storage/models"
)

var ErrNoTemplates = errors.New("no response templates available")

// Picker chooses an index in [0, n). *rand.Rand satisfies it.
type Picker interface {
	Intn(n int) int
}

type Clauses struct {
	Category string
	Price    string
}

type Config struct {
	Templates map[string][]string
	FollowUps map[string][]string
	Clauses   Clauses
}

// Generator builds replies from intent templates. Picker access is serialized.
type Generator struct {
	templates map[string][]string
	followUps map[string][]string
	clauses   Clauses

	mu     sync.Mutex
	picker Picker
}

func NewGenerator(cfg Config, picker Picker) *Generator {
	return &Generator{
		templates: cfg.Templates,
		followUps: cfg.FollowUps,
		clauses:   cfg.Clauses,
		picker:    picker,
	}
}

// Generate picks a template for intent, falling back to general, and appends entity clauses.
func (g *Generator) Generate(intent string, entities []models.ExtractedEntity, text string) (string, error) {
	candidates, ok := g.templates[intent]
	if !ok {
		candidates = g.templates[models.IntentGeneral]
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("intent %q: %w", intent, ErrNoTemplates)
	}

	g.mu.Lock()
	response := candidates[g.picker.Intn(len(candidates))]
	g.mu.Unlock()

	if category, ok := firstEntity(entities, models.EntityTypeCategory); ok && g.clauses.Category != "" {
		response += fmt.Sprintf(g.clauses.Category, category.Value)
	}
	if price, ok := firstEntity(entities, models.EntityTypePrice); ok && g.clauses.Price != "" {
		response += fmt.Sprintf(g.clauses.Price, formatPrice(price.Value))
	}

	return response, nil
}

// FollowUps returns suggested next questions for intent.
func (g *Generator) FollowUps(intent string) []string {
	if questions, ok := g.followUps[intent]; ok {
		return questions
	}
	return g.followUps[models.IntentGeneral]
}

func firstEntity(entities []models.ExtractedEntity, entityType string) (models.ExtractedEntity, bool) {
	for _, e := range entities {
		if e.Type == entityType {
			return e, true
		}
	}
	return models.ExtractedEntity{}, false
}

func formatPrice(v any) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	if f == float64(int64(f)) {
		return groupThousands(strconv.FormatInt(int64(f), 10))
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// groupThousands inserts '.' separators the way prices are written locally.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	out := digits[:head]
	for i := head; i < len(digits); i += 3 {
		out += "." + digits[i:i+3]
	}
	return out
}
