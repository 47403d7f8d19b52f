package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ProcessedEvent is a provider webhook event that was fully applied.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	OrderID     uuid.UUID
	IntentID    string
	ProcessedAt time.Time
}

// EventLog remembers processed webhook event ids. Redeliveries are skipped
// before the order lock is taken.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, e ProcessedEvent) error
}

type postgresEventLog struct {
	db *pgxpool.Pool
}

func NewEventLog(db *pgxpool.Pool) EventLog {
	return &postgresEventLog{db: db}
}

func (l *postgresEventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_events WHERE event_id = $1)`, eventID).Scan(&seen)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("repository: failed to look up payment event")
		return false, fmt.Errorf("repository: failed to look up payment event: %w", err)
	}
	return seen, nil
}

func (l *postgresEventLog) Record(ctx context.Context, e ProcessedEvent) error {
	query := `
		INSERT INTO payment_events (event_id, event_type, order_id, intent_id, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`

	orderID := uuid.NullUUID{UUID: e.OrderID, Valid: e.OrderID != uuid.Nil}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}

	if _, err := l.db.Exec(ctx, query, e.EventID, e.EventType, orderID, e.IntentID, e.ProcessedAt); err != nil {
		log.Error().Err(err).Str("event_id", e.EventID).Msg("repository: failed to record payment event")
		return fmt.Errorf("repository: failed to record payment event: %w", err)
	}
	return nil
}

type MemoryEventLog struct {
	mu     sync.Mutex
	events map[string]ProcessedEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: make(map[string]ProcessedEvent)}
}

func (l *MemoryEventLog) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.events[eventID]
	return ok, nil
}

func (l *MemoryEventLog) Record(_ context.Context, e ProcessedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[e.EventID]; !ok {
		l.events[e.EventID] = e
	}
	return nil
}

func (l *MemoryEventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
