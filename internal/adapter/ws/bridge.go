package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Enqueuer hands events to the inbound queue without blocking.
type Enqueuer interface {
	TryEnqueue(ev domain.Event) bool
}

// Bridge maintains the upstream WebSocket connection: it dials, resumes from
// the persisted cursors, and feeds received events into the inbound queue.
// Reconnects use exponential backoff that resets once a session is live.
type Bridge struct {
	URL       string
	Cursors   domain.CursorStore
	Queue     Enqueuer
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Dial is injectable for tests; nil means the default gorilla dialer.
	Dial func(url string) (*websocket.Conn, error)
	// Sleep is injectable for tests; nil means a context-aware timer. It
	// returns false when the wait was cut short by cancellation.
	Sleep func(ctx domain.Context, d time.Duration) bool

	// lastSeqByJob is the receive-side high-water mark. Informational only;
	// the worker pool's cursor dedup is the correctness mechanism.
	mu           sync.Mutex
	lastSeqByJob map[string]int64
}

// NewBridge constructs a Bridge.
func NewBridge(url string, cursors domain.CursorStore, queue Enqueuer, baseDelay, maxDelay time.Duration) *Bridge {
	return &Bridge{
		URL:          url,
		Cursors:      cursors,
		Queue:        queue,
		BaseDelay:    baseDelay,
		MaxDelay:     maxDelay,
		lastSeqByJob: make(map[string]int64),
	}
}

// LastSeq reports the highest seq received for a job this process lifetime.
func (b *Bridge) LastSeq(jobID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeqByJob[jobID]
}

func (b *Bridge) trackSeq(jobID string, seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.lastSeqByJob[jobID] {
		b.lastSeqByJob[jobID] = seq
	}
}

type resumeFrame struct {
	ResumeFromSeq int64 `json:"resumeFromSeq"`
}

// Run connects and reads until ctx is canceled. Each connection attempt that
// fails or drops is retried after the current backoff interval.
func (b *Bridge) Run(ctx domain.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.BaseDelay
	bo.MaxInterval = b.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := b.dial()
		if err != nil {
			wait := bo.NextBackOff()
			slog.Warn("upstream dial failed",
				slog.String("url", b.URL),
				slog.Duration("retryIn", wait),
				slog.Any("error", err))
			if !b.wait(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("upstream connected", slog.String("url", b.URL))

		if err := b.sendResume(conn); err != nil {
			_ = conn.Close()
			wait := bo.NextBackOff()
			slog.Warn("resume frame failed",
				slog.Duration("retryIn", wait),
				slog.Any("error", err))
			if !b.wait(ctx, wait) {
				return
			}
			continue
		}

		// The session is live: the next disconnect starts over at the base delay.
		bo.Reset()

		b.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		slog.Warn("upstream disconnected", slog.Duration("retryIn", wait))
		if !b.wait(ctx, wait) {
			return
		}
	}
}

func (b *Bridge) wait(ctx domain.Context, d time.Duration) bool {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func (b *Bridge) dial() (*websocket.Conn, error) {
	if b.Dial != nil {
		return b.Dial(b.URL)
	}
	conn, _, err := websocket.DefaultDialer.Dial(b.URL, nil)
	return conn, err
}

// sendResume tells the upstream the highest seq fully processed across all
// jobs, so replay starts just past it.
func (b *Bridge) sendResume(conn *websocket.Conn) error {
	var maxSeq int64
	for _, seq := range b.Cursors.All() {
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(resumeFrame{ResumeFromSeq: maxSeq})
}

// readLoop consumes frames until the connection drops or ctx is canceled.
// Malformed frames are logged and skipped; a full queue drops the event.
func (b *Bridge) readLoop(ctx domain.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("malformed upstream frame", slog.Any("error", err))
			continue
		}
		b.trackSeq(ev.JobID, ev.Seq)
		observability.EventsReceivedTotal.WithLabelValues(ev.Type).Inc()
		if !b.Queue.TryEnqueue(ev) {
			observability.EventsDroppedTotal.Inc()
			slog.Warn("inbound queue full, dropping event",
				slog.String("jobId", ev.JobID),
				slog.Int64("seq", ev.Seq),
				slog.String("type", ev.Type))
		}
	}
}

func sleepCtx(ctx domain.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
