// Package domain holds the core entities and ports of the feedback analyzer.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage error")
	ErrModel           = errors.New("model error")
	ErrSchemaInvalid   = errors.New("schema invalid")
	ErrTransport       = errors.New("transport error")
	ErrQueueFull       = errors.New("queue full")
	ErrInternal        = errors.New("internal error")
)

// Sentiment is the closed sentiment set. Unknown values coerce to neutral.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// CoerceSentiment maps arbitrary input onto the closed sentiment set.
func CoerceSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return Sentiment(s)
	}
	return SentimentNeutral
}

// DefaultSummary replaces an empty model summary.
const DefaultSummary = "No summary provided."

// FeedbackRecord is an analyzed feedback item. Immutable once appended.
type FeedbackRecord struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	UserID         *string   `json:"userId"`
	Sentiment      Sentiment `json:"sentiment"`
	KeyTopics      []string  `json:"keyTopics"`
	ActionRequired bool      `json:"actionRequired"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Analysis is the transient LLM output for one feedback text.
type Analysis struct {
	Sentiment      Sentiment `json:"sentiment"`
	KeyTopics      []string  `json:"keyTopics"`
	ActionRequired bool      `json:"actionRequired"`
	Summary        string    `json:"summary"`
}

// HistoryItem is the list projection of a FeedbackRecord.
type HistoryItem struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
	Sentiment Sentiment `json:"sentiment"`
}

// Event types emitted by the upstream source.
const (
	EventJobStarted   = "job.started"
	EventItemAnalyzed = "item.analyzed"
	EventJobCompleted = "job.completed"
)

// Event is an upstream message. Seq is monotonically increasing and scoped
// to the upstream source; unknown payload fields are tolerated.
type Event struct {
	JobID   string         `json:"jobId"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// Repositories (ports)

// RecordStore is the append-only persisted log of analyzed records.
type RecordStore interface {
	Append(ctx Context, rec FeedbackRecord) error
	AppendMany(ctx Context, recs []FeedbackRecord) error
	ReadAll(ctx Context) ([]FeedbackRecord, error)
}

// CursorStore persists the highest fully-processed seq per job.
type CursorStore interface {
	Get(jobID string) int64
	Update(jobID string, seq int64) error
	All() map[string]int64
}

// Broadcaster (port)

// Broadcaster fans an event out to all live downstream subscribers.
type Broadcaster interface {
	Broadcast(ctx Context, ev Event)
}

// AIClient (port)

// AIClient is the external structured predictor: given prompts it returns a
// JSON string matching the schema described in the system prompt.
type AIClient interface {
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Context aliases context.Context so the domain stays import-light elsewhere.
type Context = context.Context
