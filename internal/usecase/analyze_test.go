package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
	"github.com/fairyhunter13/feedback-analyzer/internal/usecase"
)

type fakeAI struct {
	response string
	err      error
	lastSys  string
	lastUser string
	calls    int
}

func (f *fakeAI) ChatJSON(_ domain.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	f.calls++
	f.lastSys = systemPrompt
	f.lastUser = userPrompt
	return f.response, f.err
}

func TestAnalyze_Success(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{response: `{"sentiment":"Positive","key_topics":[" Billing ","","Wait"],"action_required":true,"summary":"Billing took too long to resolve."}`}
	a := usecase.NewAnalyzer(ai, 512)

	got := a.Analyze(context.Background(), "billing was slow")
	assert.Equal(t, domain.SentimentNeutral, got.Sentiment, "unknown casing coerces to neutral")
	assert.Equal(t, []string{"billing", "wait"}, got.KeyTopics)
	assert.True(t, got.ActionRequired)
	assert.Equal(t, "Billing took too long to resolve.", got.Summary)
	assert.Contains(t, ai.lastUser, `"""billing was slow"""`)
}

func TestAnalyze_EmptySummaryDefaulted(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{response: `{"sentiment":"negative","key_topics":["wait"],"action_required":true,"summary":""}`}
	a := usecase.NewAnalyzer(ai, 512)

	got := a.Analyze(context.Background(), "long wait")
	assert.Equal(t, domain.SentimentNegative, got.Sentiment)
	assert.Equal(t, domain.DefaultSummary, got.Summary)
}

func TestAnalyze_ModelErrorFallsBack(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{err: errors.New("provider unavailable")}
	a := usecase.NewAnalyzer(ai, 512)

	got := a.Analyze(context.Background(), "anything")
	assert.Equal(t, domain.SentimentNeutral, got.Sentiment)
	assert.Equal(t, []string{"error"}, got.KeyTopics)
	assert.True(t, got.ActionRequired)
	assert.Contains(t, got.Summary, "Error analyzing feedback:")
	assert.Contains(t, got.Summary, "provider unavailable")
}

func TestAnalyze_MalformedJSONFallsBack(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{response: "not json"}
	a := usecase.NewAnalyzer(ai, 512)

	got := a.Analyze(context.Background(), "anything")
	assert.Equal(t, []string{"error"}, got.KeyTopics)
	assert.True(t, got.ActionRequired)
}

func TestAnalyzeBatch_Success(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{response: `{"analyses":[
		{"sentiment":"positive","key_topics":["staff"],"action_required":false,"summary":"Staff was praised for being helpful."},
		{"sentiment":"negative","key_topics":["wait"],"action_required":true,"summary":"Customer complained about the wait time."}
	]}`}
	a := usecase.NewAnalyzer(ai, 512)

	got, err := a.AnalyzeBatch(context.Background(), []string{"great staff", "long wait"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.SentimentPositive, got[0].Sentiment)
	assert.Equal(t, domain.SentimentNegative, got[1].Sentiment)
	assert.Contains(t, ai.lastUser, `1. "great staff"`)
	assert.Contains(t, ai.lastUser, `2. "long wait"`)
}

func TestAnalyzeBatch_CountMismatchFails(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{response: `{"analyses":[{"sentiment":"neutral","key_topics":[],"action_required":false,"summary":"Only one came back."}]}`}
	a := usecase.NewAnalyzer(ai, 512)

	_, err := a.AnalyzeBatch(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
	assert.Contains(t, err.Error(), "expected 3 results, got 1")
}

func TestAnalyzeBatch_SingleDelegates(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{response: `{"sentiment":"positive","key_topics":["service"],"action_required":false,"summary":"Service was reported to be excellent."}`}
	a := usecase.NewAnalyzer(ai, 512)

	got, err := a.AnalyzeBatch(context.Background(), []string{"excellent service"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SentimentPositive, got[0].Sentiment)
	assert.Equal(t, 1, ai.calls)
	assert.NotContains(t, ai.lastSys, "analyses", "single item uses the single-object prompt")
}

func TestAnalyzeBatch_Empty(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{}
	a := usecase.NewAnalyzer(ai, 512)

	got, err := a.AnalyzeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, ai.calls)
}
