package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Run event types.
const (
	EventRunStarted    = "run_started"
	EventRoundPlanned  = "round_planned"
	EventPageFetched   = "page_fetched"
	EventPageGated     = "page_gated"
	EventFieldResolved = "field_resolved"
	EventRunFinished   = "run_finished"
)

// RunEvent is one append-only entry in a run's event log.
type RunEvent struct {
	ID        int64           `db:"id"`
	ProductID string          `db:"product_id"`
	RunID     string          `db:"run_id"`
	Round     int             `db:"round"`
	EventType string          `db:"event_type"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
}

// EventRepository appends and reads run events. The log is append-only:
// there are no update or delete operations.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append writes one event and fills in its assigned ID and timestamp.
func (r *EventRepository) Append(ctx context.Context, event *RunEvent) error {
	if event.Payload == nil {
		event.Payload = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO run_events (product_id, run_id, round, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		event.ProductID, event.RunID, event.Round, event.EventType, event.Payload,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}

	return nil
}

// AppendJSON marshals a payload and appends it in one step.
func (r *EventRepository) AppendJSON(ctx context.Context, productID, runID string, round int, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return r.Append(ctx, &RunEvent{
		ProductID: productID,
		RunID:     runID,
		Round:     round,
		EventType: eventType,
		Payload:   raw,
	})
}

// ListByRun returns a run's events in insertion order.
func (r *EventRepository) ListByRun(ctx context.Context, productID, runID string) ([]*RunEvent, error) {
	var events []*RunEvent
	query := `
		SELECT id, product_id, run_id, round, event_type, payload, created_at
		FROM run_events
		WHERE product_id = $1 AND run_id = $2
		ORDER BY id ASC
	`

	if err := r.db.SelectContext(ctx, &events, query, productID, runID); err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}

	if events == nil {
		events = []*RunEvent{}
	}
	return events, nil
}

// CountByType returns per-event-type counts for one run.
func (r *EventRepository) CountByType(ctx context.Context, productID, runID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM run_events
		WHERE product_id = $1 AND run_id = $2
		GROUP BY event_type
	`, productID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count run events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if scanErr := rows.Scan(&eventType, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", scanErr)
		}
		counts[eventType] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate event counts: %w", rowsErr)
	}

	return counts, nil
}
