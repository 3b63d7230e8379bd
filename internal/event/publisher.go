package event

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher broadcasts payment lifecycle events. Delivery is at-least-once;
// subscribers must be idempotent.
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// Handler processes one delivered event. A handler error is logged and never
// blocks delivery of subsequent events.
type Handler func(ctx context.Context, env *Envelope) error

// Bus is an in-process Publisher that fans events out to subscribed handlers,
// optionally filtered by source service.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscription
	logger      *slog.Logger
}

type subscription struct {
	name          string
	sourceService string // empty matches every source
	handler       Handler
}

// NewBus creates a new in-process event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler. When sourceService is non-empty, only events
// carrying that source service are delivered to the handler.
func (b *Bus) Subscribe(name, sourceService string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscription{
		name:          name,
		sourceService: sourceService,
		handler:       handler,
	})
}

// Publish delivers the event to every matching subscriber in order. Handler
// errors and panics are logged per subscriber and never propagate, so one
// failing consumer cannot block the others.
func (b *Bus) Publish(ctx context.Context, env *Envelope) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.sourceService != "" && sub.sourceService != env.SourceService {
			continue
		}
		b.deliver(ctx, sub, env)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, sub subscription, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				"subscriber", sub.name,
				"event_type", env.EventType,
				"payment_id", env.PaymentID,
				"panic", r,
			)
		}
	}()

	if err := sub.handler(ctx, env); err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			"subscriber", sub.name,
			"event_type", env.EventType,
			"payment_id", env.PaymentID,
			"error", err,
		)
	}
}
