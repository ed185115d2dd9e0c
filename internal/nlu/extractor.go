package nlu

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/unishop/backend/internal/storage/models"
)

const (
	categoryConfidence = 0.8
	priceConfidence    = 0.9
)

// pricePattern captures one amount with an optional magnitude or currency suffix.
// The suffix must end at a non-letter so "milímetros" is not read as thousands.
var pricePattern = regexp.MustCompile(`(?i)\$?\s*(\d{1,3}(?:[.,]\d{3})+|\d+(?:[.,]\d+)?)(?:\s*(millones|mill[oó]n|mil|k|pesos|cop|usd)(?:$|[^\p{L}\p{N}]))?`)

type categoryMatcher struct {
	value string
	terms []string
}

// Extractor pulls category and price entities out of free text.
// Only the first price in a message is reported.
type Extractor struct {
	categories []categoryMatcher
}

func NewExtractor(terms ...[]CategoryTerm) *Extractor {
	e := &Extractor{}
	index := make(map[string]int)

	for _, group := range terms {
		for _, term := range group {
			value := strings.ToLower(strings.TrimSpace(term.Value))
			if value == "" {
				continue
			}

			i, ok := index[value]
			if !ok {
				i = len(e.categories)
				index[value] = i
				e.categories = append(e.categories, categoryMatcher{value: value, terms: []string{value}})
			}
			for _, syn := range term.Synonyms {
				syn = strings.ToLower(strings.TrimSpace(syn))
				if syn != "" {
					e.categories[i].terms = append(e.categories[i].terms, syn)
				}
			}
		}
	}
	return e
}

func (e *Extractor) Extract(text string) []models.ExtractedEntity {
	entities := []models.ExtractedEntity{}
	lower := strings.ToLower(text)

	for _, cat := range e.categories {
		for _, term := range cat.terms {
			if strings.Contains(lower, term) {
				entities = append(entities, models.ExtractedEntity{
					Type:       models.EntityTypeCategory,
					Value:      cat.value,
					Confidence: categoryConfidence,
				})
				break
			}
		}
	}

	if price, ok := parsePrice(text); ok {
		entities = append(entities, models.ExtractedEntity{
			Type:       models.EntityTypePrice,
			Value:      price,
			Confidence: priceConfidence,
		})
	}

	return entities
}

func parsePrice(text string) (float64, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	number := m[1]
	if strings.Count(number, ".")+strings.Count(number, ",") > 0 && isGrouped(number) {
		number = strings.NewReplacer(".", "", ",", "").Replace(number)
	} else {
		number = strings.ReplaceAll(number, ",", ".")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToLower(m[2]) {
	case "k", "mil":
		value *= 1e3
	case "millón", "millon", "millones":
		value *= 1e6
	}
	return value, true
}

// isGrouped reports whether every separator is followed by exactly three digits.
func isGrouped(number string) bool {
	groups := strings.FieldsFunc(number, func(r rune) bool { return r == '.' || r == ',' })
	if len(groups) < 2 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}
