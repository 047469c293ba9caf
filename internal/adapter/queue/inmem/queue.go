// Package inmem provides the bounded inbound event queue and the worker pool
// that applies upstream events to local state.
package inmem

import (
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Queue is a bounded in-process event buffer. Enqueue never blocks; when the
// buffer is full the event is rejected and the caller decides what to do.
type Queue struct {
	ch chan domain.Event
}

// NewQueue constructs a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan domain.Event, capacity)}
}

// TryEnqueue offers an event without blocking. Returns false when full.
func (q *Queue) TryEnqueue(ev domain.Event) bool {
	select {
	case q.ch <- ev:
		observability.InboundQueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		return false
	}
}

// Dequeue blocks until an event is available or ctx is canceled.
func (q *Queue) Dequeue(ctx domain.Context) (domain.Event, bool) {
	select {
	case ev := <-q.ch:
		observability.InboundQueueDepth.Set(float64(len(q.ch)))
		return ev, true
	case <-ctx.Done():
		return domain.Event{}, false
	}
}

// Depth reports the number of buffered events.
func (q *Queue) Depth() int { return len(q.ch) }
