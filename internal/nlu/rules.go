package nlu

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unishop/backend/internal/storage/models"
)

//go:embed rules.yaml
var defaultRules []byte

type IntentRule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Priority    int      `yaml:"priority"`
	Patterns    []string `yaml:"patterns"`
	Responses   []string `yaml:"responses"`
	FollowUps   []string `yaml:"follow_ups"`
}

// CategoryTerm maps a canonical category value to the words that reveal it.
type CategoryTerm struct {
	Value    string   `yaml:"value"`
	Synonyms []string `yaml:"synonyms"`
}

type ClauseFormats struct {
	Category string `yaml:"category"`
	Price    string `yaml:"price"`
}

type RuleSet struct {
	FallbackResponse string         `yaml:"fallback_response"`
	Clauses          ClauseFormats  `yaml:"clauses"`
	Categories       []CategoryTerm `yaml:"categories"`
	Intents          []IntentRule   `yaml:"intents"`
}

// LoadRules reads the rule tables from path, or the embedded defaults when path is empty.
func LoadRules(path string) (*RuleSet, error) {
	data := defaultRules
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*RuleSet, error) {
	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

func (r *RuleSet) Validate() error {
	seen := make(map[string]bool, len(r.Intents))
	hasGeneral := false

	for _, intent := range r.Intents {
		name := strings.TrimSpace(intent.Name)
		if name == "" {
			return fmt.Errorf("intent with empty name: %w", models.ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("duplicate intent %q: %w", name, models.ErrValidation)
		}
		seen[name] = true

		if name == models.IntentGeneral {
			if len(intent.Responses) == 0 {
				return fmt.Errorf("intent %q needs at least one response: %w", name, models.ErrValidation)
			}
			hasGeneral = true
			continue
		}

		if len(intent.Patterns) == 0 {
			return fmt.Errorf("intent %q has no patterns: %w", name, models.ErrValidation)
		}
		for _, p := range intent.Patterns {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return fmt.Errorf("intent %q pattern %q: %v: %w", name, p, err, models.ErrValidation)
			}
		}
	}

	if !hasGeneral {
		return fmt.Errorf("rules must define a %q intent: %w", models.IntentGeneral, models.ErrValidation)
	}
	return nil
}

// Templates returns the response templates keyed by intent name.
func (r *RuleSet) Templates() map[string][]string {
	out := make(map[string][]string, len(r.Intents))
	for _, intent := range r.Intents {
		out[intent.Name] = append([]string(nil), intent.Responses...)
	}
	return out
}

func (r *RuleSet) FollowUps() map[string][]string {
	out := make(map[string][]string, len(r.Intents))
	for _, intent := range r.Intents {
		out[intent.Name] = append([]string(nil), intent.FollowUps...)
	}
	return out
}

// CatalogIntents converts the rule tables into administrative catalog rows.
func (r *RuleSet) CatalogIntents() []models.Intent {
	intents := make([]models.Intent, 0, len(r.Intents))
	for _, rule := range r.Intents {
		priority := rule.Priority
		if priority == 0 {
			priority = 1
		}
		intents = append(intents, models.Intent{
			Name:              rule.Name,
			Description:       rule.Description,
			TrainingExamples:  append([]string{}, rule.Patterns...),
			ResponseTemplates: append([]string{}, rule.Responses...),
			FollowUpQuestions: append([]string{}, rule.FollowUps...),
			Priority:          priority,
		})
	}
	return intents
}

// CatalogTerms turns stored category entities into extractor terms.
func CatalogTerms(entities []models.CatalogEntity) []CategoryTerm {
	terms := make([]CategoryTerm, 0, len(entities))
	for _, e := range entities {
		if e.Type != models.EntityTypeCategory || strings.TrimSpace(e.Value) == "" {
			continue
		}
		terms = append(terms, CategoryTerm{Value: e.Value, Synonyms: e.Synonyms})
	}
	return terms
}
