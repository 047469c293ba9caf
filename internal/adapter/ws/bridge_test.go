package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ws"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

type memCursors struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *memCursors) Get(jobID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[jobID]
}

func (c *memCursors) Update(jobID string, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]int64{}
	}
	c.m[jobID] = seq
	return nil
}

func (c *memCursors) All() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

type captureQueue struct {
	mu     sync.Mutex
	events []domain.Event
	full   bool
}

func (q *captureQueue) TryEnqueue(ev domain.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.events = append(q.events, ev)
	return true
}

func (q *captureQueue) snapshot() []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Event, len(q.events))
	copy(out, q.events)
	return out
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// upstreamStub accepts one connection, records the resume frame and pushes
// the given frames.
func upstreamStub(t *testing.T, frames []string, gotResume chan<- int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		var resume struct {
			ResumeFromSeq int64 `json:"resumeFromSeq"`
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = json.Unmarshal(data, &resume)
		gotResume <- resume.ResumeFromSeq

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestBridge_ResumeAndIngest(t *testing.T) {
	t.Parallel()
	gotResume := make(chan int64, 1)
	srv := upstreamStub(t, []string{
		`{"jobId":"job-1","seq":6,"type":"item.analyzed","ts":"2026-08-24T12:00:00Z","payload":{"text":"hi"}}`,
		`not json at all`,
		`{"jobId":"job-1","seq":7,"type":"job.completed","ts":"2026-08-24T12:00:01Z"}`,
	}, gotResume)
	defer srv.Close()

	cursors := &memCursors{m: map[string]int64{"job-1": 5, "job-2": 3}}
	queue := &captureQueue{}
	bridge := ws.NewBridge(wsURL(srv), cursors, queue, 10*time.Millisecond, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { bridge.Run(ctx); close(done) }()

	select {
	case resume := <-gotResume:
		assert.Equal(t, int64(5), resume, "resume announces the max cursor across jobs")
	case <-time.After(2 * time.Second):
		t.Fatal("no resume frame received")
	}

	require.Eventually(t, func() bool { return len(queue.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	events := queue.snapshot()
	assert.Equal(t, int64(6), events[0].Seq)
	assert.Equal(t, domain.EventItemAnalyzed, events[0].Type)
	assert.Equal(t, int64(7), events[1].Seq, "malformed frame is skipped, not fatal")
	assert.Equal(t, int64(7), bridge.LastSeq("job-1"))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancel")
	}
}

func TestBridge_ReconnectsAfterRefusal(t *testing.T) {
	t.Parallel()
	gotResume := make(chan int64, 1)
	srv := upstreamStub(t, []string{
		`{"jobId":"job-9","seq":1,"type":"job.started","ts":"2026-08-24T12:00:00Z"}`,
	}, gotResume)
	// Closed first so the bridge has to retry before it can connect.
	srv.Close()

	reopened := upstreamStub(t, []string{
		`{"jobId":"job-9","seq":1,"type":"job.started","ts":"2026-08-24T12:00:00Z"}`,
	}, gotResume)
	defer reopened.Close()

	cursors := &memCursors{}
	queue := &captureQueue{}

	var attempts atomic.Int32
	bridge := ws.NewBridge(wsURL(srv), cursors, queue, 5*time.Millisecond, 20*time.Millisecond)
	bridge.Dial = func(string) (*websocket.Conn, error) {
		n := attempts.Add(1)
		target := wsURL(srv)
		if n >= 3 {
			target = wsURL(reopened)
		}
		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		return conn, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	require.Eventually(t, func() bool { return len(queue.snapshot()) >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3), "dial retried with backoff until the upstream came back")
}

// waitRecorder captures the delays the bridge sleeps between attempts.
type waitRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *waitRecorder) sleep(ctx context.Context, d time.Duration) bool {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err() == nil
}

func (w *waitRecorder) snapshot() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, len(w.waits))
	copy(out, w.waits)
	return out
}

func TestBridge_BackoffDoublesAndResets(t *testing.T) {
	t.Parallel()
	// One frame per session, then the server hangs up so the bridge has to
	// reconnect.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"jobId":"job-3","seq":1,"type":"job.started","ts":"2026-08-24T12:00:00Z"}`))
		_ = conn.Close()
	}))
	defer srv.Close()

	queue := &captureQueue{}
	bridge := ws.NewBridge(wsURL(srv), &memCursors{}, queue, 10*time.Millisecond, 40*time.Millisecond)

	var attempts atomic.Int32
	bridge.Dial = func(string) (*websocket.Conn, error) {
		if attempts.Add(1) != 5 {
			return nil, errors.New("connection refused")
		}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		return conn, err
	}
	rec := &waitRecorder{}
	bridge.Sleep = rec.sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { bridge.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 6 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancel")
	}

	waits := rec.snapshot()
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}, waits[:4], "delays double from the base and cap at the max")
	assert.Equal(t, 10*time.Millisecond, waits[4], "a live session resets the schedule")
	assert.Equal(t, 20*time.Millisecond, waits[5])
}

func TestBridge_ResumeSendFailureBacksOff(t *testing.T) {
	t.Parallel()
	gotResume := make(chan int64, 8)
	srv := upstreamStub(t, nil, gotResume)
	defer srv.Close()

	bridge := ws.NewBridge(wsURL(srv), &memCursors{}, &captureQueue{}, 10*time.Millisecond, 40*time.Millisecond)
	bridge.Dial = func(string) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		if err != nil {
			return nil, err
		}
		// A connection the upstream kills before the first write.
		_ = conn.Close()
		return conn, nil
	}
	rec := &waitRecorder{}
	bridge.Sleep = rec.sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { bridge.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancel")
	}

	waits := rec.snapshot()
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, waits[:3], "a failed resume send waits before redialing instead of spinning")
}
