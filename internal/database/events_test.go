package database_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/spechawk/internal/database"
)

var eventColumns = []string{
	"id", "product_id", "run_id", "round", "event_type", "payload", "created_at",
}

func newEventRepo(t *testing.T) (*database.EventRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewEventRepository(db)

	return repo, mock, func() { mockDB.Close() }
}

func TestEventRepository_AppendAssignsID(t *testing.T) {
	repo, mock, cleanup := newEventRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO run_events").
		WithArgs("p1", "run-1", 0, database.EventRunStarted, json.RawMessage(`{"brand":"Razer"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(41), now))

	event := database.RunEvent{
		ProductID: "p1",
		RunID:     "run-1",
		EventType: database.EventRunStarted,
		Payload:   json.RawMessage(`{"brand":"Razer"}`),
	}
	if err := repo.Append(context.Background(), &event); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if event.ID != 41 {
		t.Errorf("expected id 41, got %d", event.ID)
	}
	if event.CreatedAt.IsZero() {
		t.Error("expected created_at to be filled")
	}

	expectationsMet(t, mock)
}

func TestEventRepository_AppendDefaultsEmptyPayload(t *testing.T) {
	repo, mock, cleanup := newEventRepo(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO run_events").
		WithArgs("p1", "run-1", 2, database.EventRoundPlanned, json.RawMessage(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

	event := database.RunEvent{
		ProductID: "p1",
		RunID:     "run-1",
		Round:     2,
		EventType: database.EventRoundPlanned,
	}
	if err := repo.Append(context.Background(), &event); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestEventRepository_AppendJSON(t *testing.T) {
	repo, mock, cleanup := newEventRepo(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO run_events").
		WithArgs("p1", "run-1", 1, database.EventFieldResolved, json.RawMessage(`{"field":"weight","status":"accepted"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), time.Now()))

	payload := struct {
		Field  string `json:"field"`
		Status string `json:"status"`
	}{Field: "weight", Status: "accepted"}

	if err := repo.AppendJSON(context.Background(), "p1", "run-1", 1, database.EventFieldResolved, payload); err != nil {
		t.Fatalf("AppendJSON() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestEventRepository_ListByRunOrdersByID(t *testing.T) {
	repo, mock, cleanup := newEventRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM run_events WHERE product_id .+ ORDER BY id ASC").
		WithArgs("p1", "run-1").
		WillReturnRows(
			sqlmock.NewRows(eventColumns).
				AddRow(int64(1), "p1", "run-1", 0, database.EventRunStarted, []byte(`{}`), now).
				AddRow(int64(2), "p1", "run-1", 0, database.EventRoundPlanned, []byte(`{"tier":"tier0"}`), now),
		)

	events, err := repo.ListByRun(context.Background(), "p1", "run-1")
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != database.EventRunStarted {
		t.Errorf("expected first event run_started, got %s", events[0].EventType)
	}

	expectationsMet(t, mock)
}

func TestEventRepository_CountByType(t *testing.T) {
	repo, mock, cleanup := newEventRepo(t)
	defer cleanup()

	mock.ExpectQuery("SELECT event_type, COUNT").
		WithArgs("p1", "run-1").
		WillReturnRows(
			sqlmock.NewRows([]string{"event_type", "count"}).
				AddRow(database.EventPageFetched, 12).
				AddRow(database.EventFieldResolved, 9),
		)

	counts, err := repo.CountByType(context.Background(), "p1", "run-1")
	if err != nil {
		t.Fatalf("CountByType() error = %v", err)
	}
	if counts[database.EventPageFetched] != 12 {
		t.Errorf("expected 12 fetches, got %d", counts[database.EventPageFetched])
	}
	if counts[database.EventFieldResolved] != 9 {
		t.Errorf("expected 9 resolutions, got %d", counts[database.EventFieldResolved])
	}

	expectationsMet(t, mock)
}
