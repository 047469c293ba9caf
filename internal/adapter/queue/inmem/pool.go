package inmem

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Pool drains the queue with a fixed set of workers. Each event is applied
// exactly once: the per-job cursor skips replays, and the cursor only advances
// after the event's effects are persisted.
type Pool struct {
	Queue       *Queue
	Records     domain.RecordStore
	Cursors     domain.CursorStore
	Broadcaster domain.Broadcaster
	Workers     int

	wg sync.WaitGroup

	jobMu    sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// NewPool constructs a worker pool.
func NewPool(q *Queue, records domain.RecordStore, cursors domain.CursorStore, bc domain.Broadcaster, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		Queue:       q,
		Records:     records,
		Cursors:     cursors,
		Broadcaster: bc,
		Workers:     workers,
		jobLocks:    make(map[string]*sync.Mutex),
	}
}

// Start launches the workers. They exit when ctx is canceled.
func (p *Pool) Start(ctx domain.Context) {
	for i := 0; i < p.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx domain.Context, id int) {
	log := slog.With(slog.Int("worker", id))
	for {
		ev, ok := p.Queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.Apply(ctx, ev, log)
	}
}

// jobLock returns the mutex serializing applies for one job.
func (p *Pool) jobLock(jobID string) *sync.Mutex {
	p.jobMu.Lock()
	defer p.jobMu.Unlock()
	l, ok := p.jobLocks[jobID]
	if !ok {
		l = &sync.Mutex{}
		p.jobLocks[jobID] = l
	}
	return l
}

// Apply processes one event: dedup against the cursor, persist any derived
// record, advance the cursor, then broadcast. The whole span runs under the
// job's lock so two workers holding duplicates of the same (jobId, seq)
// cannot both pass dedup before either writes the cursor.
func (p *Pool) Apply(ctx domain.Context, ev domain.Event, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	lock := p.jobLock(ev.JobID)
	lock.Lock()
	defer lock.Unlock()

	if ev.Seq <= p.Cursors.Get(ev.JobID) {
		observability.EventsDedupedTotal.Inc()
		log.Debug("skipping replayed event",
			slog.String("jobId", ev.JobID),
			slog.Int64("seq", ev.Seq))
		return
	}

	if ev.Type == domain.EventItemAnalyzed {
		rec := recordFromPayload(ev.Payload)
		if err := p.Records.Append(ctx, rec); err != nil {
			// The cursor still advances: a persist failure must not wedge
			// the stream on permanent replay of the same event.
			log.Error("persist analyzed item failed",
				slog.String("jobId", ev.JobID),
				slog.Int64("seq", ev.Seq),
				slog.Any("error", err))
		}
	}

	if err := p.Cursors.Update(ev.JobID, ev.Seq); err != nil {
		log.Error("cursor update failed",
			slog.String("jobId", ev.JobID),
			slog.Int64("seq", ev.Seq),
			slog.Any("error", err))
	}

	p.Broadcaster.Broadcast(ctx, ev)
	observability.EventsProcessedTotal.WithLabelValues(ev.Type).Inc()
}

// recordFromPayload maps an item.analyzed payload onto a feedback record.
// Analysis fields are taken verbatim from upstream; missing fields get the
// same defaults as a local analysis would.
func recordFromPayload(payload map[string]any) domain.FeedbackRecord {
	rec := domain.FeedbackRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Sentiment: domain.SentimentNeutral,
		Summary:   domain.DefaultSummary,
	}
	if payload == nil {
		return rec
	}
	if s, ok := payload["text"].(string); ok {
		rec.Text = s
	}
	if s, ok := payload["sentiment"].(string); ok {
		rec.Sentiment = domain.CoerceSentiment(s)
	}
	if raw, ok := payload["keyTopics"].([]any); ok {
		topics := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				topics = append(topics, s)
			}
		}
		rec.KeyTopics = topics
	}
	if b, ok := payload["actionRequired"].(bool); ok {
		rec.ActionRequired = b
	}
	if s, ok := payload["summary"].(string); ok && s != "" {
		rec.Summary = s
	}
	if s, ok := payload["userId"].(string); ok && s != "" {
		rec.UserID = &s
	}
	return rec
}
