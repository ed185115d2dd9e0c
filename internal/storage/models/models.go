package models

import "time"

type TurnStatus string

const (
	TurnStarted   TurnStatus = "started"
	TurnResponded TurnStatus = "responded"
	TurnRated     TurnStatus = "rated"
)

// CanTransition reports whether a turn in status s may move to next.
// Re-applying responded or rated is allowed so retried writes stay idempotent.
func (s TurnStatus) CanTransition(next TurnStatus) bool {
	switch s {
	case TurnStarted:
		return next == TurnResponded
	case TurnResponded:
		return next == TurnResponded || next == TurnRated
	case TurnRated:
		return next == TurnRated
	default:
		return false
	}
}

const (
	EntityTypeCategory = "category"
	EntityTypePrice    = "price"

	IntentGeneral = "general"
	IntentError   = "error"

	SourceManual            = "manual"
	SourceGeneratedFeedback = "generated_from_feedback"
)

type ExtractedEntity struct {
	Type       string  `json:"type"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

type ConversationTurn struct {
	ID             int64             `json:"id"`
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id,omitempty"`
	UserMessage    string            `json:"user_message"`
	BotResponse    string            `json:"bot_response"`
	IntentDetected string            `json:"intent_detected,omitempty"`
	Entities       []ExtractedEntity `json:"entities"`
	ResponseTimeMs *int              `json:"response_time_ms,omitempty"`
	UserRating     *int              `json:"user_rating,omitempty"`
	WasHelpful     *bool             `json:"was_helpful,omitempty"`
	Status         TurnStatus        `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TurnResponse carries the fields written when a turn moves to responded.
type TurnResponse struct {
	BotResponse    string
	IntentDetected string
	Entities       []ExtractedEntity
	ResponseTimeMs int
}

type TrainingExample struct {
	ID              int64      `json:"id"`
	Question        string     `json:"question"`
	Answer          string     `json:"answer"`
	Category        string     `json:"category,omitempty"`
	Intent          string     `json:"intent,omitempty"`
	ConfidenceScore float64    `json:"confidence_score"`
	UsageCount      int        `json:"usage_count"`
	LastUsed        *time.Time `json:"last_used,omitempty"`
	Source          string     `json:"source"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExampleUpdate holds the fields to change; nil fields are left untouched.
type ExampleUpdate struct {
	Question        *string  `json:"question,omitempty"`
	Answer          *string  `json:"answer,omitempty"`
	Category        *string  `json:"category,omitempty"`
	Intent          *string  `json:"intent,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}

type TrainingStats struct {
	Total      int          `json:"total"`
	ByCategory []LabelCount `json:"by_category"`
	ByIntent   []LabelCount `json:"by_intent"`
}

type KnowledgeEntry struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags"`
	Source    string    `json:"source"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserFeedback struct {
	ID                   int64     `json:"id"`
	ConversationID       int64     `json:"conversation_id"`
	UserID               string    `json:"user_id"`
	Rating               int       `json:"rating"`
	Comments             string    `json:"comments,omitempty"`
	SuggestedImprovement string    `json:"suggested_improvement,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

type Intent struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	TrainingExamples  []string  `json:"training_examples"`
	ResponseTemplates []string  `json:"response_templates"`
	FollowUpQuestions []string  `json:"follow_up_questions"`
	Priority          int       `json:"priority"`
	CreatedAt         time.Time `json:"created_at"`
}

// CatalogEntity is a reference entry used to seed extraction, not an extracted value.
type CatalogEntity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Synonyms   []string  `json:"synonyms"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

type DailyMetrics struct {
	Date                  time.Time      `json:"date"`
	TotalConversations    int            `json:"total_conversations"`
	SuccessfulResponses   int            `json:"successful_responses"`
	AverageResponseTimeMs float64        `json:"average_response_time_ms"`
	AverageSatisfaction   float64        `json:"average_satisfaction"`
	TopIntents            map[string]int `json:"top_intents"`
	CreatedAt             time.Time      `json:"created_at"`
}

// IntentRating aggregates rated turns for one detected intent.
type IntentRating struct {
	Intent        string
	AverageRating float64
	Count         int
}

type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
