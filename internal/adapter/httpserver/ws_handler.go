package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ws"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the dashboard origin; the API is CORS-open.
	CheckOrigin: func(*http.Request) bool { return true },
}

// EventsHandler upgrades the connection and subscribes it to the broadcaster.
// The read pump only watches for disconnects; clients never send data frames.
func EventsHandler(b *ws.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			LoggerFrom(r).Warn("websocket upgrade failed", "error", err)
			return
		}
		sub := ws.NewConnSubscriber(conn)
		b.Subscribe(sub)
		LoggerFrom(r).Info("websocket client connected", "clients", b.ClientCount())

		go pingLoop(conn, sub)

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		b.Unsubscribe(sub)
		LoggerFrom(r).Info("websocket client disconnected", "clients", b.ClientCount())
	}
}

func pingLoop(conn *websocket.Conn, sub *ws.ConnSubscriber) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for range t.C {
		if err := sub.Ping(); err != nil {
			_ = conn.Close()
			return
		}
	}
}
