package usecase

import (
	"sort"
	"time"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Metrics shapes (JSON field names are part of the API contract).

// TimeBucket is one 5-minute slot of the trailing hour.
type TimeBucket struct {
	Label      string                   `json:"label"`
	Count      int                      `json:"count"`
	Sentiments map[domain.Sentiment]int `json:"sentiments"`
}

// TopicCount is one entry of the topTopics ranking.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// TopicTrend carries daily counts for one of the top topics.
type TopicTrend struct {
	Topic string         `json:"topic"`
	Daily map[string]int `json:"daily"`
}

// Metrics is the aggregate analytics envelope.
type Metrics struct {
	SentimentDistribution map[domain.Sentiment]int `json:"sentimentDistribution"`
	SubmissionsByTime     []TimeBucket             `json:"submissionsByTime"`
	TopTopics             []TopicCount             `json:"topTopics"`
	TopicTrends           []TopicTrend             `json:"topicTrends"`
}

const (
	bucketCount = 12
	bucketSize  = 5 * time.Minute
)

// MetricsService derives analytics from the record store at call time.
type MetricsService struct {
	Records domain.RecordStore
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// NewMetricsService constructs a MetricsService.
func NewMetricsService(records domain.RecordStore) MetricsService {
	return MetricsService{Records: records}
}

// Compute reads all records and aggregates the metrics envelope.
func (s MetricsService) Compute(ctx domain.Context) (Metrics, error) {
	recs, err := s.Records.ReadAll(ctx)
	if err != nil {
		return Metrics{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return ComputeMetrics(recs, now().UTC()), nil
}

// ComputeMetrics aggregates sentiment distribution, trailing-hour submission
// buckets, top topics and topic trends from the given records.
func ComputeMetrics(recs []domain.FeedbackRecord, now time.Time) Metrics {
	dist := map[domain.Sentiment]int{
		domain.SentimentPositive: 0,
		domain.SentimentNeutral:  0,
		domain.SentimentNegative: 0,
	}

	// 12 buckets of 5 minutes covering the trailing hour, the last one
	// anchored at the 5-minute floor of now.
	windowStart := now.Truncate(bucketSize).Add(-(bucketCount - 1) * bucketSize)
	buckets := make([]TimeBucket, bucketCount)
	for i := range buckets {
		buckets[i] = TimeBucket{
			Label: windowStart.Add(time.Duration(i) * bucketSize).Format("15:04"),
			Sentiments: map[domain.Sentiment]int{
				domain.SentimentPositive: 0,
				domain.SentimentNeutral:  0,
				domain.SentimentNegative: 0,
			},
		}
	}

	topicCounts := map[string]int{}
	topicOrder := []string{}
	topicDaily := map[string]map[string]int{}
	daysSeen := map[string]struct{}{}

	for _, r := range recs {
		sentiment := domain.CoerceSentiment(string(r.Sentiment))
		dist[sentiment]++

		at := r.CreatedAt.UTC()
		if !at.Before(windowStart) {
			idx := int(at.Sub(windowStart) / bucketSize)
			if idx >= 0 && idx < bucketCount {
				buckets[idx].Count++
				buckets[idx].Sentiments[sentiment]++
			}
		}

		day := at.Format("2006-01-02")
		daysSeen[day] = struct{}{}
		for _, t := range r.KeyTopics {
			if _, ok := topicCounts[t]; !ok {
				topicOrder = append(topicOrder, t)
				topicDaily[t] = map[string]int{}
			}
			topicCounts[t]++
			topicDaily[t][day]++
		}
	}

	// Rank topics by count descending; ties keep first-seen order.
	ranked := make([]TopicCount, 0, len(topicOrder))
	for _, t := range topicOrder {
		ranked = append(ranked, TopicCount{Topic: t, Count: topicCounts[t]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })

	top := ranked
	if len(top) > 10 {
		top = top[:10]
	}

	trendTopics := ranked
	if len(trendTopics) > 5 {
		trendTopics = trendTopics[:5]
	}
	trends := make([]TopicTrend, 0, len(trendTopics))
	for _, tc := range trendTopics {
		daily := make(map[string]int, len(daysSeen))
		for day := range daysSeen {
			daily[day] = topicDaily[tc.Topic][day]
		}
		trends = append(trends, TopicTrend{Topic: tc.Topic, Daily: daily})
	}

	return Metrics{
		SentimentDistribution: dist,
		SubmissionsByTime:     buckets,
		TopTopics:             top,
		TopicTrends:           trends,
	}
}
