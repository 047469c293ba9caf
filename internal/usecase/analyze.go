package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Analyzer wraps the structured predictor with single-item and batch
// feedback analysis.
type Analyzer struct {
	AI        domain.AIClient
	MaxTokens int
}

// NewAnalyzer constructs an Analyzer over the given AI client.
func NewAnalyzer(ai domain.AIClient, maxTokens int) Analyzer {
	return Analyzer{AI: ai, MaxTokens: maxTokens}
}

const analysisSystemPrompt = `You are analyzing user feedback. Respond with a single JSON object:
{"sentiment": "positive" | "neutral" | "negative", "key_topics": ["topic", ...], "action_required": true | false, "summary": "..."}
Return only the JSON object, no prose.`

const batchSystemPrompt = `You are analyzing user feedback. Respond with a single JSON object:
{"analyses": [{"sentiment": "positive" | "neutral" | "negative", "key_topics": ["topic", ...], "action_required": true | false, "summary": "..."}, ...]}
Return exactly one analysis per feedback entry, in the same order. Return only the JSON object, no prose.`

// analysisPrompt builds the single-item user prompt.
func analysisPrompt(feedback string) string {
	return fmt.Sprintf(`Analyze the sentiment, identify key topics, determine if action is required, and provide a summary.

IMPORTANT: The summary must be a complete, natural language sentence or phrase (about at least 5-7 words), not just 1-3 words.

Feedback:
"""%s"""`, feedback)
}

// batchAnalysisPrompt enumerates the items 1..N and demands N analyses back.
func batchAnalysisPrompt(feedbacks []string) string {
	var sb strings.Builder
	for i, text := range feedbacks {
		fmt.Fprintf(&sb, "%d. %q\n", i+1, text)
	}
	return fmt.Sprintf(`Analyze these %d feedback entries in the EXACT same order:

%s
For each feedback, analyze the sentiment, identify key topics, determine if action is required, and provide a summary.

IMPORTANT: Each summary must be a complete, natural language sentence or phrase (about at least 5-7 words), not just 1-3 words.`, len(feedbacks), sb.String())
}

// rawAnalysis is the model-facing result schema.
type rawAnalysis struct {
	Sentiment      string   `json:"sentiment"`
	KeyTopics      []string `json:"key_topics"`
	ActionRequired bool     `json:"action_required"`
	Summary        string   `json:"summary"`
}

type rawBatch struct {
	Analyses []rawAnalysis `json:"analyses"`
}

// normalizeTopics lowercases, trims and drops empty topic strings.
func normalizeTopics(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (r rawAnalysis) toDomain() domain.Analysis {
	summary := r.Summary
	if summary == "" {
		summary = domain.DefaultSummary
	}
	return domain.Analysis{
		Sentiment:      domain.CoerceSentiment(r.Sentiment),
		KeyTopics:      normalizeTopics(r.KeyTopics),
		ActionRequired: r.ActionRequired,
		Summary:        summary,
	}
}

// FallbackAnalysis is the sentinel analysis returned when the model call
// fails: neutral sentiment, topics ["error"], action required, summary
// carrying the error message.
func FallbackAnalysis(err error) domain.Analysis {
	return domain.Analysis{
		Sentiment:      domain.SentimentNeutral,
		KeyTopics:      []string{"error"},
		ActionRequired: true,
		Summary:        fmt.Sprintf("Error analyzing feedback: %v", err),
	}
}

// Analyze runs a single-item analysis. It never fails: any model or decode
// error is recovered locally into the fallback analysis.
func (a Analyzer) Analyze(ctx domain.Context, text string) domain.Analysis {
	content, err := a.AI.ChatJSON(ctx, analysisSystemPrompt, analysisPrompt(text), a.MaxTokens)
	if err != nil {
		return FallbackAnalysis(err)
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return FallbackAnalysis(fmt.Errorf("%w: decode analysis: %v", domain.ErrModel, err))
	}
	return raw.toDomain()
}

// AnalyzeBatch analyzes many texts in one model call, returning one analysis
// per input in the same order. A single-element batch delegates to Analyze.
// A result count mismatch fails the whole batch with a schema error.
func (a Analyzer) AnalyzeBatch(ctx domain.Context, texts []string) ([]domain.Analysis, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) == 1 {
		return []domain.Analysis{a.Analyze(ctx, texts[0])}, nil
	}

	content, err := a.AI.ChatJSON(ctx, batchSystemPrompt, batchAnalysisPrompt(texts), a.MaxTokens*len(texts))
	if err != nil {
		return nil, err
	}
	var raw rawBatch
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode batch: %v", domain.ErrSchemaInvalid, err)
	}
	if len(raw.Analyses) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d results, got %d", domain.ErrSchemaInvalid, len(texts), len(raw.Analyses))
	}
	out := make([]domain.Analysis, 0, len(texts))
	for _, r := range raw.Analyses {
		out = append(out, r.toDomain())
	}
	return out, nil
}
