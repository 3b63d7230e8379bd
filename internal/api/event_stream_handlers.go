// Package api provides the WebSocket endpoint for live payment event feeds.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/marketbase/paycore/internal/event"
	"github.com/marketbase/paycore/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper CORS checking based on configuration
		// For now, allow all origins (should be restricted in production)
		return true
	},
}

// EventStreamHandlers holds dependencies for the event feed endpoint.
type EventStreamHandlers struct {
	broadcaster *event.Broadcaster
}

// NewEventStreamHandlers creates a new EventStreamHandlers instance.
func NewEventStreamHandlers(broadcaster *event.Broadcaster) *EventStreamHandlers {
	return &EventStreamHandlers{broadcaster: broadcaster}
}

// SubscribeToPaymentEvents handles WebSocket connections for the live payment
// event feed.
// GET /payments/events?source_service=...
func (h *EventStreamHandlers) SubscribeToPaymentEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Optional filter on the publishing service
	sourceService := r.URL.Query().Get("source_service")

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	h.broadcaster.Subscribe(conn, sourceService)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to payment events",
		"source_service", sourceService,
		"request_id", requestID,
	)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"request_id", requestID,
		)
	}()

	// Keep connection alive - read messages to detect disconnection
	// We don't expect clients to send messages, but we need to read to detect when they disconnect
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err)
			}
			break
		}
	}
}
