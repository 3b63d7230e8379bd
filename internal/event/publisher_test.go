package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope(sourceService string) *Envelope {
	return &Envelope{
		EventType:     TypePaymentCompleted,
		PaymentID:     "pay_1",
		TransactionID: "txn_1",
		OrderID:       "ord_1",
		Timestamp:     time.Now().UTC(),
		SourceService: sourceService,
		Completed: &CompletedPayload{
			PaymentKey: "pk_1",
			PaidAmount: 50000,
		},
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(discardLogger())

	var mu sync.Mutex
	received := map[string]int{}
	record := func(name string) Handler {
		return func(ctx context.Context, env *Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			received[name]++
			return nil
		}
	}

	bus.Subscribe("orders", "", record("orders"))
	bus.Subscribe("dashboard", "", record("dashboard"))

	if err := bus.Publish(context.Background(), testEnvelope("checkout")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if received["orders"] != 1 || received["dashboard"] != 1 {
		t.Errorf("received = %v, want both subscribers delivered once", received)
	}
}

func TestBus_SourceServiceFilter(t *testing.T) {
	bus := NewBus(discardLogger())

	var mu sync.Mutex
	received := map[string]int{}
	record := func(name string) Handler {
		return func(ctx context.Context, env *Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			received[name]++
			return nil
		}
	}

	bus.Subscribe("checkout-only", "checkout", record("checkout-only"))
	bus.Subscribe("billing-only", "billing", record("billing-only"))
	bus.Subscribe("everything", "", record("everything"))

	if err := bus.Publish(context.Background(), testEnvelope("checkout")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if received["checkout-only"] != 1 {
		t.Errorf("checkout-only received %d, want 1", received["checkout-only"])
	}
	if received["billing-only"] != 0 {
		t.Errorf("billing-only received %d, want 0", received["billing-only"])
	}
	if received["everything"] != 1 {
		t.Errorf("everything received %d, want 1", received["everything"])
	}
}

func TestBus_HandlerErrorDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(discardLogger())

	delivered := false
	bus.Subscribe("failing", "", func(ctx context.Context, env *Envelope) error {
		return errors.New("consumer broken")
	})
	bus.Subscribe("healthy", "", func(ctx context.Context, env *Envelope) error {
		delivered = true
		return nil
	})

	if err := bus.Publish(context.Background(), testEnvelope("checkout")); err != nil {
		t.Fatalf("Publish must not surface handler errors: %v", err)
	}
	if !delivered {
		t.Error("healthy subscriber must still receive the event")
	}
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(discardLogger())

	delivered := false
	bus.Subscribe("panicking", "", func(ctx context.Context, env *Envelope) error {
		panic("handler bug")
	})
	bus.Subscribe("healthy", "", func(ctx context.Context, env *Envelope) error {
		delivered = true
		return nil
	})

	if err := bus.Publish(context.Background(), testEnvelope("checkout")); err != nil {
		t.Fatalf("Publish must survive a handler panic: %v", err)
	}
	if !delivered {
		t.Error("healthy subscriber must still receive the event")
	}
}

func TestBus_ConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus(discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe("sub", "", func(ctx context.Context, env *Envelope) error { return nil })
		}()
		go func() {
			defer wg.Done()
			if err := bus.Publish(context.Background(), testEnvelope("checkout")); err != nil {
				t.Errorf("Publish failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestEnvelope_DedupKey(t *testing.T) {
	env := testEnvelope("checkout")
	if got := env.DedupKey(); got != "pay_1:ord_1" {
		t.Errorf("DedupKey = %q, want %q", got, "pay_1:ord_1")
	}

	// Replays of the same payment and order must collapse to one key
	// regardless of timestamp.
	replay := testEnvelope("checkout")
	replay.Timestamp = env.Timestamp.Add(time.Minute)
	if replay.DedupKey() != env.DedupKey() {
		t.Error("replayed event must produce the same dedup key")
	}
}
