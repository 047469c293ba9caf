// Command eventstub is a local stand-in for the upstream analysis feed. It
// serves a WebSocket endpoint that emits job.started, item.analyzed and
// job.completed events with a global monotonic seq, honoring the client's
// resumeFromSeq frame by replaying buffered events first.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

const historyCap = 1024

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type source struct {
	mu      sync.Mutex
	seq     int64
	history []domain.Event

	seeds    []string
	genRatio float64
	rng      *rand.Rand
}

func newSource(seeds []string, genRatio float64, rngSeed int64) *source {
	return &source{
		seeds:    seeds,
		genRatio: genRatio,
		rng:      rand.New(rand.NewSource(rngSeed)), //nolint:gosec // Synthetic data only.
	}
}

// next allocates the next global seq and records the event in the replay
// buffer.
func (s *source) next(jobID, typ string, payload map[string]any) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev := domain.Event{
		JobID:   jobID,
		Seq:     s.seq,
		Type:    typ,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}
	s.history = append(s.history, ev)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	return ev
}

// replayAfter snapshots buffered events with seq greater than the cursor.
func (s *source) replayAfter(seq int64) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.history {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

var sentiments = []string{"positive", "neutral", "negative"}

var fragments = map[string][]string{
	"positive": {
		"The staff was incredibly helpful and kind.",
		"Great experience, the whole visit went smoothly.",
		"Excellent service from start to finish.",
	},
	"neutral": {
		"The visit was okay, nothing special.",
		"Average experience overall.",
		"It was fine, about what I expected.",
	},
	"negative": {
		"The wait time was terrible and nobody apologized.",
		"Billing was confusing and support was unresponsive.",
		"The appointment felt rushed and unprofessional.",
	},
}

var topicPool = []string{"staff", "wait", "billing", "service", "appointment", "doctor"}

// generateItem produces one synthetic analyzed item, either by mutating a
// seed text or from the canned fragments.
func (s *source) generateItem() map[string]any {
	s.mu.Lock()
	rng := s.rng
	sentiment := sentiments[rng.Intn(len(sentiments))]
	var text string
	if len(s.seeds) > 0 && rng.Float64() >= s.genRatio {
		text = s.seeds[rng.Intn(len(s.seeds))]
	} else {
		pool := fragments[sentiment]
		text = pool[rng.Intn(len(pool))]
	}
	topics := []string{topicPool[rng.Intn(len(topicPool))]}
	if rng.Float64() < 0.4 {
		topics = append(topics, topicPool[rng.Intn(len(topicPool))])
	}
	s.mu.Unlock()

	return map[string]any{
		"text":           text,
		"sentiment":      sentiment,
		"keyTopics":      topics,
		"actionRequired": sentiment == "negative",
		"summary":        "User reported: " + firstWords(text, 8),
	}
}

func firstWords(s string, n int) string {
	parts := strings.Fields(s)
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, " ")
}

// runJobs emits one job per interval: job.started, a handful of
// item.analyzed events, then job.completed.
func (s *source) runJobs(interval time.Duration, broadcast func(domain.Event)) {
	for {
		jobID := "job-" + uuid.NewString()[:8]
		s.mu.Lock()
		items := 2 + s.rng.Intn(4)
		s.mu.Unlock()

		broadcast(s.next(jobID, domain.EventJobStarted, map[string]any{"items": items}))
		for i := 0; i < items; i++ {
			broadcast(s.next(jobID, domain.EventItemAnalyzed, s.generateItem()))
			time.Sleep(interval / time.Duration(items+1))
		}
		broadcast(s.next(jobID, domain.EventJobCompleted, map[string]any{"items": items}))
		time.Sleep(interval)
	}
}

type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func (h *hub) broadcast(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.Close()
			delete(h.conns, c)
		}
	}
}

func (h *hub) serve(src *source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		// The client announces where to resume; a silent client starts live.
		var resume struct {
			ResumeFromSeq int64 `json:"resumeFromSeq"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		if _, data, err := conn.ReadMessage(); err == nil {
			_ = json.Unmarshal(data, &resume)
		}
		_ = conn.SetReadDeadline(time.Time{})

		for _, ev := range src.replayAfter(resume.ResumeFromSeq) {
			data, _ := json.Marshal(ev)
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = conn.Close()
				return
			}
		}

		h.mu.Lock()
		h.conns[conn] = struct{}{}
		n := len(h.conns)
		h.mu.Unlock()
		slog.Info("client connected", slog.Int64("resumeFromSeq", resume.ResumeFromSeq), slog.Int("clients", n))

		// Drain until disconnect.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.mu.Lock()
					delete(h.conns, conn)
					h.mu.Unlock()
					_ = conn.Close()
					return
				}
			}
		}()
	}
}

func loadSeeds(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // Operator-provided path.
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		slog.Warn("seed file unreadable", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	var texts []string
	if err := json.Unmarshal(data, &texts); err == nil {
		return texts
	}
	var items []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, it := range items {
			if it.Text != "" {
				out = append(out, it.Text)
			}
		}
		return out
	}
	slog.Warn("seed file not recognized", slog.String("path", path))
	return nil
}

func main() {
	var (
		addr     = flag.String("addr", ":8765", "listen address")
		interval = flag.Duration("interval", 3*time.Second, "delay between jobs")
		seedFile = flag.String("seed-file", "data/stub_seed.json", "optional JSON file of feedback texts")
		genRatio = flag.Float64("generate-ratio", 0.5, "share of items generated from fragments vs seed texts")
		rngSeed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	src := newSource(loadSeeds(*seedFile), *genRatio, *rngSeed)
	h := &hub{conns: make(map[*websocket.Conn]struct{})}

	go src.runJobs(*interval, h.broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.serve(src))
	slog.Info("event stub listening", slog.String("addr", *addr))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
