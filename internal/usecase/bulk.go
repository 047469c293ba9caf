package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Bulk engine knob bounds and defaults.
const (
	DefaultBulkRPM         = 30.0
	DefaultBulkBatchSize   = 10
	DefaultBulkConcurrency = 4
	MaxBulkBatchSize       = 50
	MaxBulkConcurrency     = 10
)

// BulkOptions are the per-upload knobs. Zero values fall back to defaults;
// out-of-range values are clamped.
type BulkOptions struct {
	RateLimitRPM   float64
	BatchSize      int
	MaxConcurrency int
}

func (o BulkOptions) normalized() BulkOptions {
	if o.RateLimitRPM == 0 {
		o.RateLimitRPM = DefaultBulkRPM
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBulkBatchSize
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.BatchSize > MaxBulkBatchSize {
		o.BatchSize = MaxBulkBatchSize
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = DefaultBulkConcurrency
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.MaxConcurrency > MaxBulkConcurrency {
		o.MaxConcurrency = MaxBulkConcurrency
	}
	return o
}

// bulkDelay derives the stagger delay from the RPM budget.
func bulkDelay(rpm float64) time.Duration {
	if rpm <= 0 {
		return 2 * time.Second
	}
	d := time.Duration(60 / rpm * float64(time.Second))
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// BulkSuccess reports one persisted item.
type BulkSuccess struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
}

// BulkFailure reports one rejected item.
type BulkFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkResult is the upload response envelope.
type BulkResult struct {
	Total          int           `json:"total"`
	Success        []BulkSuccess `json:"success"`
	Failed         []BulkFailure `json:"failed"`
	Batches        int           `json:"batches"`
	RateLimitRPM   float64       `json:"rateLimitRpm"`
	BatchSize      int           `json:"batchSize"`
	MaxConcurrency int           `json:"maxConcurrency"`
	DelaySeconds   float64       `json:"delaySeconds"`
}

// preparedItem is one valid upload row awaiting analysis.
type preparedItem struct {
	index     int
	id        string // from the source item, may be empty
	userID    *string
	createdAt time.Time
	text      string
}

// preparedBatch groups up to batchSize items for one model call.
type preparedBatch struct {
	number int
	items  []preparedItem
}

func (b preparedBatch) texts() []string {
	out := make([]string, len(b.items))
	for i, it := range b.items {
		out[i] = it.text
	}
	return out
}

// batchOutcome is the dispatch result for one batch.
type batchOutcome struct {
	batch    preparedBatch
	analyses []domain.Analysis
	err      error
}

// BulkService is the rate-limited, batch-parallel enrichment engine.
type BulkService struct {
	Records  domain.RecordStore
	Analyzer Analyzer
	// Sleep is injectable for tests; nil means a context-aware sleep.
	Sleep func(ctx domain.Context, d time.Duration) error
}

// NewBulkService constructs a BulkService.
func NewBulkService(records domain.RecordStore, analyzer Analyzer) BulkService {
	return BulkService{Records: records, Analyzer: analyzer}
}

func (s BulkService) sleep(ctx domain.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process runs the three-phase bulk enrichment over parsed upload items:
// prepare batches, dispatch them under a concurrency cap with staggered
// starts, then collect results and persist in one append.
func (s BulkService) Process(ctx domain.Context, items []map[string]any, opts BulkOptions) (BulkResult, error) {
	opts = opts.normalized()
	delay := bulkDelay(opts.RateLimitRPM)

	result := BulkResult{
		Total:          len(items),
		Success:        []BulkSuccess{},
		Failed:         []BulkFailure{},
		RateLimitRPM:   opts.RateLimitRPM,
		BatchSize:      opts.BatchSize,
		MaxConcurrency: opts.MaxConcurrency,
		DelaySeconds:   delay.Seconds(),
	}

	// Phase 1 — prepare.
	batches, prepFailures := prepareBatches(items, opts.BatchSize)
	result.Batches = len(batches)
	result.Failed = append(result.Failed, prepFailures...)

	// Phase 2 — dispatch. The stagger plus the semaphore approximate a
	// token bucket of rpm calls per minute while allowing overlap.
	sem := make(chan struct{}, opts.MaxConcurrency)
	outcomes := make([]batchOutcome, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch preparedBatch) {
			defer wg.Done()
			outcomes[i] = s.runBatch(ctx, batch, delay, sem)
		}(i, batch)
	}
	wg.Wait()

	// Phase 3 — collect in input order, then persist once.
	var records []domain.FeedbackRecord
	var pending []BulkSuccess
	for _, out := range outcomes {
		if out.err != nil {
			for _, it := range out.batch.items {
				result.Failed = append(result.Failed, BulkFailure{Index: it.index, Error: fmt.Sprintf("Batch error: %v", out.err)})
			}
			continue
		}
		for i, it := range out.batch.items {
			analysis := out.analyses[i]
			id := it.id
			if id == "" {
				id = uuid.NewString()
			}
			records = append(records, domain.FeedbackRecord{
				ID:             id,
				Text:           it.text,
				UserID:         it.userID,
				Sentiment:      analysis.Sentiment,
				KeyTopics:      analysis.KeyTopics,
				ActionRequired: analysis.ActionRequired,
				Summary:        analysis.Summary,
				CreatedAt:      it.createdAt,
			})
			pending = append(pending, BulkSuccess{Index: it.index, ID: id})
		}
	}

	if len(records) > 0 {
		if err := s.Records.AppendMany(ctx, records); err != nil {
			slog.Error("bulk persist failed", slog.Int("records", len(records)), slog.Any("error", err))
			for _, p := range pending {
				result.Failed = append(result.Failed, BulkFailure{Index: p.Index, Error: err.Error()})
			}
			return result, nil
		}
	}
	result.Success = append(result.Success, pending...)
	return result, nil
}

// runBatch waits its stagger slot, takes a semaphore token and analyzes.
func (s BulkService) runBatch(ctx domain.Context, batch preparedBatch, delay time.Duration, sem chan struct{}) batchOutcome {
	if err := s.sleep(ctx, delay*time.Duration(batch.number)); err != nil {
		return batchOutcome{batch: batch, err: err}
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return batchOutcome{batch: batch, err: ctx.Err()}
	}
	defer func() { <-sem }()

	analyses, err := s.Analyzer.AnalyzeBatch(ctx, batch.texts())
	if err != nil {
		slog.Warn("bulk batch analysis failed",
			slog.Int("batch", batch.number),
			slog.Int("items", len(batch.items)),
			slog.Any("error", err))
		return batchOutcome{batch: batch, err: err}
	}
	return batchOutcome{batch: batch, analyses: analyses}
}

// prepareBatches assigns global indexes, extracts fields and seals batches
// of up to batchSize valid items. Items without text become prep failures.
func prepareBatches(items []map[string]any, batchSize int) ([]preparedBatch, []BulkFailure) {
	var batches []preparedBatch
	var failures []BulkFailure
	current := preparedBatch{number: 0}

	seal := func() {
		if len(current.items) > 0 {
			batches = append(batches, current)
			current = preparedBatch{number: current.number + 1}
		}
	}

	for idx, item := range items {
		text := strings.TrimSpace(stringField(item, "text"))
		if text == "" {
			failures = append(failures, BulkFailure{Index: idx, Error: "Missing text"})
			continue
		}
		current.items = append(current.items, preparedItem{
			index:     idx,
			id:        stringField(item, "id"),
			userID:    userIDField(item),
			createdAt: createdAtField(item),
			text:      text,
		})
		if len(current.items) == batchSize {
			seal()
		}
	}
	seal()
	return batches, failures
}

func stringField(item map[string]any, key string) string {
	v, ok := item[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// userIDField accepts the aliases userId, user_id and user; first non-empty wins.
func userIDField(item map[string]any) *string {
	for _, key := range []string{"userId", "user_id", "user"} {
		if s := strings.TrimSpace(stringField(item, key)); s != "" {
			return &s
		}
	}
	return nil
}

// createdAtField parses createdAt/created_at as ISO; invalid or absent means now.
func createdAtField(item map[string]any) time.Time {
	for _, key := range []string{"createdAt", "created_at"} {
		raw := strings.TrimSpace(stringField(item, key))
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}
