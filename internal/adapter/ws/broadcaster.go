// Package ws holds the WebSocket edges: the downstream broadcaster and the
// upstream ingestion bridge.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

const writeWait = 10 * time.Second

// Subscriber receives serialized event frames. Send must be safe to call from
// the broadcast goroutine and should fail fast on a dead peer.
type Subscriber interface {
	Send(data []byte) error
	Close() error
}

// Broadcaster fans events out to all live subscribers. A failed send evicts
// the subscriber; a slow or dead client never blocks the others permanently.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[Subscriber]struct{})}
}

// Subscribe registers a subscriber.
func (b *Broadcaster) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	observability.BroadcastClients.Set(float64(n))
}

// Unsubscribe removes and closes a subscriber. Safe to call twice.
func (b *Broadcaster) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	n := len(b.subs)
	b.mu.Unlock()
	if ok {
		_ = s.Close()
	}
	observability.BroadcastClients.Set(float64(n))
}

// ClientCount reports the number of live subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast serializes the event once and sends it to a snapshot of the
// subscriber set. Subscribers whose send fails are evicted after the pass.
func (b *Broadcaster) Broadcast(_ domain.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("broadcast marshal failed", slog.String("jobId", ev.JobID), slog.Any("error", err))
		return
	}

	b.mu.Lock()
	snapshot := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		snapshot = append(snapshot, s)
	}
	b.mu.Unlock()

	var dead []Subscriber
	for _, s := range snapshot {
		if err := s.Send(data); err != nil {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		slog.Debug("evicting dead subscriber", slog.String("jobId", ev.JobID))
		b.Unsubscribe(s)
	}
	observability.BroadcastsTotal.Inc()
}

// ConnSubscriber adapts a gorilla connection into a Subscriber. Writes are
// serialized by a mutex since gorilla allows one concurrent writer.
type ConnSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConnSubscriber wraps a WebSocket connection.
func NewConnSubscriber(conn *websocket.Conn) *ConnSubscriber {
	return &ConnSubscriber{conn: conn}
}

// Send writes one text frame with a write deadline.
func (c *ConnSubscriber) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping writes a control ping frame.
func (c *ConnSubscriber) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close closes the underlying connection.
func (c *ConnSubscriber) Close() error {
	return c.conn.Close()
}
