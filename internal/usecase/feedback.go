// Package usecase contains the application services: analysis, submission,
// history, insights and the bulk enrichment engine.
package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// FeedbackService handles single-item submission and history reads.
type FeedbackService struct {
	Records  domain.RecordStore
	Analyzer Analyzer
}

// NewFeedbackService constructs a FeedbackService.
func NewFeedbackService(records domain.RecordStore, analyzer Analyzer) FeedbackService {
	return FeedbackService{Records: records, Analyzer: analyzer}
}

// Submit analyzes one feedback text and persists the enriched record.
func (s FeedbackService) Submit(ctx domain.Context, text string, userID *string) (domain.FeedbackRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.FeedbackRecord{}, fmt.Errorf("%w: text required", domain.ErrInvalidArgument)
	}

	analysis := s.Analyzer.Analyze(ctx, text)

	rec := domain.FeedbackRecord{
		ID:             uuid.NewString(),
		Text:           text,
		UserID:         userID,
		Sentiment:      analysis.Sentiment,
		KeyTopics:      analysis.KeyTopics,
		ActionRequired: analysis.ActionRequired,
		Summary:        analysis.Summary,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.Records.Append(ctx, rec); err != nil {
		return domain.FeedbackRecord{}, err
	}
	return rec, nil
}

// History returns all records as history items, newest first.
func (s FeedbackService) History(ctx domain.Context) ([]domain.HistoryItem, error) {
	recs, err := s.Records.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	items := make([]domain.HistoryItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, domain.HistoryItem{
			ID:        r.ID,
			UserID:    r.UserID,
			Summary:   r.Summary,
			CreatedAt: r.CreatedAt,
			Sentiment: r.Sentiment,
		})
	}
	return items, nil
}
