// Package dedup provides expiring key stores used by event consumers to
// suppress duplicate deliveries. Keys expire after a bounded window so the
// store never grows without bound.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the default duration a processed key is remembered.
const DefaultWindow = time.Hour

// ErrEmptyKey is returned when a caller passes an empty deduplication key.
var ErrEmptyKey = errors.New("dedup key cannot be empty")

// Store records processed event keys with a time-to-live.
//
// Seen reports whether a key is present within its window; MarkProcessed is
// an atomic test-and-set returning true when the key was newly recorded.
// Consumers check Seen before processing and call MarkProcessed only after a
// successful or explicitly-skipped outcome, so a failed attempt stays
// eligible for redelivery. The abstraction allows a process-local map for
// single instances and a shared store (Redis) under horizontal scaling.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type entry struct {
	expiresAt time.Time
}

// InMemoryStore implements Store with process-local storage.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	timeNow func() time.Time
}

// NewInMemoryStore creates a new in-memory dedup store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]entry),
		timeNow: time.Now,
	}
}

// Seen reports whether the key is present and unexpired.
func (s *InMemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return ok && s.timeNow().Before(e.expiresAt), nil
}

// MarkProcessed records the key unless it is already present and unexpired.
func (s *InMemoryStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = DefaultWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeNow()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

// DeleteExpired removes entries whose window has passed.
// Returns the number of entries deleted.
func (s *InMemoryStore) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeNow()
	deleted := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted
}

// Len returns the number of stored entries, expired or not.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunPeriodicCleanup removes expired entries at the given interval until the
// stop channel is closed. This function blocks and should typically be run
// in a goroutine.
func (s *InMemoryStore) RunPeriodicCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if deleted := s.DeleteExpired(); deleted > 0 {
				slog.Info("cleaned up expired dedup keys", "deleted", deleted)
			}
		case <-stop:
			slog.Info("stopping dedup cleanup")
			return
		}
	}
}
