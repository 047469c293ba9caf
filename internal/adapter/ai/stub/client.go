// Package stub implements a deterministic offline AIClient. It pattern-matches
// the analyzer prompts and synthesizes plausible structured output, which keeps
// every other layer testable without a provider key.
package stub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Client is a deterministic stand-in for the structured predictor.
type Client struct{}

// New constructs a stub AI client.
func New() *Client { return &Client{} }

type rawAnalysis struct {
	Sentiment      string   `json:"sentiment"`
	KeyTopics      []string `json:"key_topics"`
	ActionRequired bool     `json:"action_required"`
	Summary        string   `json:"summary"`
}

// ChatJSON recognizes the single and batch analysis prompts and returns JSON
// conforming to the schema named in the system prompt.
func (c *Client) ChatJSON(_ domain.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	if strings.Contains(systemPrompt, `"analyses"`) {
		texts := parseEnumerated(userPrompt)
		analyses := make([]rawAnalysis, 0, len(texts))
		for _, t := range texts {
			analyses = append(analyses, analyzeText(t))
		}
		b, err := json.Marshal(map[string]any{"analyses": analyses})
		if err != nil {
			return "", fmt.Errorf("stub marshal: %w", err)
		}
		return string(b), nil
	}

	text := segment(userPrompt, `"""`, `"""`)
	b, err := json.Marshal(analyzeText(text))
	if err != nil {
		return "", fmt.Errorf("stub marshal: %w", err)
	}
	return string(b), nil
}

var positiveHints = []string{"great", "love", "excellent", "amazing", "helpful", "kind", "clear", "smooth", "professional"}
var negativeHints = []string{"bad", "slow", "terrible", "wait", "rushed", "unresponsive", "broken", "not satisfied", "awful"}

// analyzeText derives a deterministic analysis from keyword hints.
func analyzeText(text string) rawAnalysis {
	lower := strings.ToLower(text)
	sentiment := "neutral"
	for _, h := range positiveHints {
		if strings.Contains(lower, h) {
			sentiment = "positive"
			break
		}
	}
	for _, h := range negativeHints {
		if strings.Contains(lower, h) {
			sentiment = "negative"
			break
		}
	}
	topics := make([]string, 0, 2)
	for _, t := range []string{"billing", "wait", "staff", "service", "doctor", "appointment"} {
		if strings.Contains(lower, t) {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		topics = []string{"general"}
	}
	summary := "User reported: " + firstWords(text, 8)
	return rawAnalysis{
		Sentiment:      sentiment,
		KeyTopics:      topics,
		ActionRequired: sentiment == "negative",
		Summary:        summary,
	}
}

// parseEnumerated extracts the quoted items of a batch prompt, lines shaped
// like `1. "feedback text"`.
func parseEnumerated(prompt string) []string {
	var out []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		dot := strings.Index(line, ". ")
		if dot <= 0 {
			continue
		}
		if _, err := strconv.Atoi(line[:dot]); err != nil {
			continue
		}
		quoted := strings.TrimSpace(line[dot+2:])
		if unq, err := strconv.Unquote(quoted); err == nil {
			out = append(out, unq)
		}
	}
	return out
}

func segment(s, startMarker, endMarker string) string {
	i := strings.Index(s, startMarker)
	if i == -1 {
		return s
	}
	s2 := s[i+len(startMarker):]
	j := strings.Index(s2, endMarker)
	if j == -1 {
		return strings.TrimSpace(s2)
	}
	return strings.TrimSpace(s2[:j])
}

func firstWords(s string, n int) string {
	parts := strings.Fields(s)
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, " ")
}
