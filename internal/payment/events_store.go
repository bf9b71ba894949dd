package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kue-app/backend/internal/database"
)

// EventStore remembers processed webhook deliveries.
type EventStore interface {
	// Seen reports whether id was already processed.
	Seen(ctx context.Context, id string) (bool, error)
	// Record marks id processed.
	Record(ctx context.Context, id, eventType string, at time.Time) error
	// PurgeBefore deletes records older than cutoff and returns how many.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresEventStore keeps processed ids in the webhook_events table.
type PostgresEventStore struct {
	db *database.DB
}

var _ EventStore = (*PostgresEventStore)(nil)

// NewPostgresEventStore creates a Postgres-backed event store.
func NewPostgresEventStore(db *database.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Seen implements EventStore.
func (s *PostgresEventStore) Seen(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}

// Record implements EventStore.
func (s *PostgresEventStore) Record(ctx context.Context, id, eventType string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (id, event_type, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, id, eventType, at)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// PurgeBefore implements EventStore.
func (s *PostgresEventStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge webhook events: %w", err)
	}
	return n, nil
}

// MemoryEventStore is an in-process EventStore.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string]time.Time
}

var _ EventStore = (*MemoryEventStore)(nil)

// NewMemoryEventStore creates an empty store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]time.Time)}
}

// Seen implements EventStore.
func (s *MemoryEventStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[id]
	return ok, nil
}

// Record implements EventStore.
func (s *MemoryEventStore) Record(_ context.Context, id, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		s.events[id] = at
	}
	return nil
}

// PurgeBefore implements EventStore.
func (s *MemoryEventStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.events {
		if at.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}
