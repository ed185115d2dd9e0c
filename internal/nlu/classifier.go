package nlu

import (
	"fmt"
	"regexp"

	"github.com/unishop/backend/internal/storage/models"
)

// Classification is the winning intent for a message.
// Confidence is the share of the intent's rules that matched, not a calibrated probability.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type compiledIntent struct {
	name  string
	rules []*regexp.Regexp
}

// Classifier scores messages against ordered regex rules. It is immutable and safe for concurrent use.
type Classifier struct {
	intents []compiledIntent
}

func NewClassifier(rules *RuleSet) (*Classifier, error) {
	c := &Classifier{}
	for _, intent := range rules.Intents {
		if intent.Name == models.IntentGeneral || len(intent.Patterns) == 0 {
			continue
		}

		compiled := compiledIntent{name: intent.Name}
		for _, p := range intent.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %q for intent %s: %w", p, intent.Name, err)
			}
			compiled.rules = append(compiled.rules, re)
		}
		c.intents = append(c.intents, compiled)
	}
	return c, nil
}

// Classify returns the intent with the highest rule coverage, or general with zero confidence.
func (c *Classifier) Classify(text string) Classification {
	best := Classification{Intent: models.IntentGeneral, Confidence: 0}

	for _, intent := range c.intents {
		matched := 0
		for _, re := range intent.rules {
			if re.MatchString(text) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}

		confidence := float64(matched) / float64(len(intent.rules))
		if confidence > best.Confidence {
			best = Classification{Intent: intent.name, Confidence: confidence}
		}
	}

	return best
}

// Intents lists the classifiable intent names in evaluation order.
func (c *Classifier) Intents() []string {
	names := make([]string, len(c.intents))
	for i, intent := range c.intents {
		names[i] = intent.name
	}
	return names
}
