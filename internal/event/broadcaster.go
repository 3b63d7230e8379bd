package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster fans payment events out to WebSocket subscribers. It is meant
// for operational dashboards; delivery is best effort and a slow client only
// loses its own messages.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]string // conn -> source service filter ("" = all)
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		conns: make(map[*websocket.Conn]string),
	}
}

// Subscribe registers a WebSocket connection. A non-empty sourceService
// restricts delivery to events from that service.
func (b *Broadcaster) Subscribe(conn *websocket.Conn, sourceService string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn] = sourceService
}

// Unsubscribe removes a WebSocket connection.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
}

// Broadcast sends an event envelope to all matching subscribers.
func (b *Broadcaster) Broadcast(env *Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.conns) == 0 {
		return
	}

	// Serialize once
	data, err := JSONCodec{}.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal event for broadcast", "error", err)
		return
	}

	for conn, filter := range b.conns {
		if filter != "" && filter != env.SourceService {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send event to websocket client",
				"error", err,
				"event_type", env.EventType,
			)
			// Connection will be cleaned up when the client disconnects
		}
	}
}

// HandleEvent adapts the broadcaster to the bus handler signature.
func (b *Broadcaster) HandleEvent(_ context.Context, env *Envelope) error {
	b.Broadcast(env)
	return nil
}

// ConnectionCount returns the number of active WebSocket connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
