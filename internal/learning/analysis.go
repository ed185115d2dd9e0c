package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/unishop/backend/internal/storage/models"
	"github.com/unishop/backend/pkg/logger"
)

const minTermLength = 3

type CommonIssues struct {
	SlowResponses     int `json:"slow_responses"`
	LowRatedResponses int `json:"low_rated_responses"`
	EmptyResponses    int `json:"empty_responses"`
	IntentNotDetected int `json:"intent_not_detected"`
	StuckTurns        int `json:"stuck_turns"`
}

type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// Analysis covers the rated turns of a window: TotalConversations, ratings, CommonIssues and the
// suggestion ratios count rated turns only. StuckTurns and UnmatchedTerms scan every turn.
type Analysis struct {
	PeriodDays             int          `json:"period_days"`
	TurnsInWindow          int          `json:"turns_in_window"`
	TotalConversations     int          `json:"total_conversations"`
	AverageRating          float64      `json:"average_rating"`
	LowRated               int          `json:"low_rated"`
	HighRated              int          `json:"high_rated"`
	CommonIssues           CommonIssues `json:"common_issues"`
	ImprovementSuggestions []string     `json:"improvement_suggestions"`
	UnmatchedTerms         []TermCount  `json:"unmatched_terms"`
}

// Analyze summarises the turns created in the last days days.
func (o *Orchestrator) Analyze(ctx context.Context, days int) (*Analysis, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d: %w", days, models.ErrValidation)
	}

	now := o.now()
	turns, err := o.store.ListTurnsBetween(ctx, now.AddDate(0, 0, -days), now.Add(time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}

	analysis := &Analysis{
		PeriodDays:             days,
		TurnsInWindow:          len(turns),
		ImprovementSuggestions: []string{},
	}

	var ratingSum int
	var undetected []string
	for _, turn := range turns {
		notDetected := turn.IntentDetected == "" || turn.IntentDetected == models.IntentGeneral
		if notDetected {
			undetected = append(undetected, turn.UserMessage)
		}
		if turn.Status == models.TurnStarted && now.Sub(turn.CreatedAt) > o.cfg.StaleTurnAfter {
			analysis.CommonIssues.StuckTurns++
		}

		if turn.UserRating == nil {
			continue
		}

		rating := *turn.UserRating
		ratingSum += rating
		analysis.TotalConversations++
		if rating <= 2 {
			analysis.LowRated++
		}
		if rating >= 4 {
			analysis.HighRated++
		}

		if turn.ResponseTimeMs != nil && *turn.ResponseTimeMs > o.cfg.SlowResponseMs {
			analysis.CommonIssues.SlowResponses++
		}
		if strings.TrimSpace(turn.BotResponse) == "" {
			analysis.CommonIssues.EmptyResponses++
		}
		if notDetected {
			analysis.CommonIssues.IntentNotDetected++
		}
	}
	analysis.CommonIssues.LowRatedResponses = analysis.LowRated

	if analysis.TotalConversations > 0 {
		analysis.AverageRating = float64(ratingSum) / float64(analysis.TotalConversations)
	}

	analysis.ImprovementSuggestions = suggestImprovements(analysis)
	analysis.UnmatchedTerms = topTerms(undetected, o.cfg.TopTerms)

	logger.Info("Conversation analysis completed",
		zap.Int("days", days),
		zap.Int("turns", analysis.TurnsInWindow),
		zap.Int("rated", analysis.TotalConversations),
		zap.Float64("average_rating", analysis.AverageRating),
		zap.Int("suggestions", len(analysis.ImprovementSuggestions)),
	)

	return analysis, nil
}

func suggestImprovements(a *Analysis) []string {
	suggestions := []string{}
	total := float64(a.TotalConversations)

	if a.AverageRating < 3.0 {
		suggestions = append(suggestions, "El rating promedio es bajo. Considera revisar las respuestas del chatbot.")
	}
	if float64(a.CommonIssues.SlowResponses) > total*0.1 {
		suggestions = append(suggestions, "Muchas respuestas son lentas. Optimiza el rendimiento del chatbot.")
	}
	if float64(a.CommonIssues.IntentNotDetected) > total*0.2 {
		suggestions = append(suggestions, "Muchos mensajes no detectan intent. Mejora el entrenamiento de intents.")
	}
	if a.LowRated > 10 {
		suggestions = append(suggestions, "Hay muchas conversaciones con bajo rating. Revisa patrones de respuestas fallidas.")
	}
	return suggestions
}

var stopWords = map[string]bool{
	"que": true, "de": true, "la": true, "el": true, "en": true, "los": true, "las": true,
	"por": true, "con": true, "para": true, "una": true, "uno": true, "unos": true, "del": true,
	"al": true, "se": true, "lo": true, "mi": true, "me": true, "mis": true, "tu": true,
	"es": true, "hay": true, "como": true, "más": true, "pero": true, "sus": true, "muy": true,
	"este": true, "esta": true, "eso": true, "esto": true, "ese": true, "esa": true, "sin": true,
	"sobre": true, "también": true, "cuando": true, "donde": true, "quiero": true, "puedo": true,
}

// topTerms counts content words across messages, most frequent first, ties alphabetical.
func topTerms(messages []string, limit int) []TermCount {
	if limit <= 0 || len(messages) == 0 {
		return []TermCount{}
	}

	counts := make(map[string]int)
	for _, message := range messages {
		doc, err := prose.NewDocument(strings.ToLower(message),
			prose.WithTagging(false),
			prose.WithExtraction(false),
			prose.WithSegmentation(false),
		)
		if err != nil {
			logger.Debug("Failed to tokenize message", zap.Error(err))
			continue
		}

		for _, tok := range doc.Tokens() {
			term := strings.TrimFunc(tok.Text, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if utf8.RuneCountInString(term) < minTermLength || stopWords[term] || !hasLetter(term) {
				continue
			}
			counts[term]++
		}
	}

	terms := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		terms = append(terms, TermCount{Term: term, Count: count})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
