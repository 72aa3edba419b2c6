package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/spechawk/internal/database"
	"github.com/jonesrussell/spechawk/internal/domain"
)

// survivorColumns lists the columns returned by survivor SELECT queries.
var survivorColumns = []string{
	"id", "product_id", "run_id", "field", "value", "source_url", "host", "root_domain",
	"role", "tier", "method", "confidence", "quote", "span_start", "span_end",
	"retrieved_at", "created_at", "updated_at",
}

func newCandidateRepo(t *testing.T) (*database.CandidateRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewCandidateRepository(db)

	return repo, mock, func() { mockDB.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCandidateRepository_UpsertFillsTimestamps(t *testing.T) {
	repo, mock, cleanup := newCandidateRepo(t)
	defer cleanup()

	now := time.Now()
	survivor := database.SurvivorCandidate{
		ID:        "cand-1",
		ProductID: "p1",
		RunID:     "run-1",
		Field:     "weight",
		Value:     "54 g",
		SourceURL: "https://www.razer.com/gaming-mice/razer-viper-v3-pro",
	}

	mock.ExpectQuery("INSERT INTO survivor_candidates").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	if err := repo.Upsert(context.Background(), &survivor); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if survivor.CreatedAt.IsZero() || survivor.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be filled from RETURNING")
	}

	expectationsMet(t, mock)
}

func TestCandidateRepository_ListByRun(t *testing.T) {
	repo, mock, cleanup := newCandidateRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM survivor_candidates WHERE product_id").
		WithArgs("p1", "run-1").
		WillReturnRows(
			sqlmock.NewRows(survivorColumns).
				AddRow("cand-1", "p1", "run-1", "weight", "54 g",
					"https://www.razer.com/a", "www.razer.com", "razer.com",
					"manufacturer", 1, "dom_table", 1.0, "Weight: 54 g", 10, 22,
					now, now, now).
				AddRow("cand-2", "p1", "run-1", "weight", "54 g",
					"https://www.rtings.com/b", "www.rtings.com", "rtings.com",
					"lab_review", 2, "dom_table", 0.9, "54 g", 4, 8,
					now, now, now),
		)

	survivors, err := repo.ListByRun(context.Background(), "p1", "run-1")
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(survivors) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(survivors))
	}
	if survivors[0].RootDomain != "razer.com" {
		t.Errorf("expected root domain razer.com, got %s", survivors[0].RootDomain)
	}
	if survivors[1].Tier != 2 {
		t.Errorf("expected tier 2, got %d", survivors[1].Tier)
	}

	expectationsMet(t, mock)
}

func TestCandidateRepository_ListByRunEmpty(t *testing.T) {
	repo, mock, cleanup := newCandidateRepo(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .+ FROM survivor_candidates WHERE product_id").
		WithArgs("p1", "run-9").
		WillReturnRows(sqlmock.NewRows(survivorColumns))

	survivors, err := repo.ListByRun(context.Background(), "p1", "run-9")
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if survivors == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(survivors) != 0 {
		t.Fatalf("expected 0 survivors, got %d", len(survivors))
	}

	expectationsMet(t, mock)
}

func TestCandidateRepository_DeleteByProduct(t *testing.T) {
	repo, mock, cleanup := newCandidateRepo(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM survivor_candidates WHERE product_id").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.DeleteByProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("DeleteByProduct() error = %v", err)
	}
	if deleted != 7 {
		t.Errorf("expected 7 deleted rows, got %d", deleted)
	}

	expectationsMet(t, mock)
}

func TestFromCandidate(t *testing.T) {
	retrieved := time.Now()
	c := domain.Candidate{
		ID:         "cand-1",
		Field:      "weight",
		Value:      "54 g",
		SourceURL:  "https://www.razer.com/a",
		Host:       "www.razer.com",
		RootDomain: "razer.com",
		Role:       domain.RoleManufacturer,
		Tier:       domain.TierManufacturer,
		Method:     domain.MethodDOMTable,
		Evidence: domain.Evidence{
			URL:         "https://www.razer.com/a",
			Quote:       "Weight: 54 g",
			QuoteSpan:   [2]int{10, 22},
			RetrievedAt: retrieved,
		},
	}

	survivor := database.FromCandidate("p1", "run-1", c, 0.97)

	if survivor.ProductID != "p1" || survivor.RunID != "run-1" {
		t.Errorf("unexpected keys: %s/%s", survivor.ProductID, survivor.RunID)
	}
	if survivor.Role != "manufacturer" || survivor.Tier != 1 {
		t.Errorf("unexpected role/tier: %s/%d", survivor.Role, survivor.Tier)
	}
	if survivor.SpanStart != 10 || survivor.SpanEnd != 22 {
		t.Errorf("unexpected span: %d-%d", survivor.SpanStart, survivor.SpanEnd)
	}
	if !survivor.RetrievedAt.Equal(retrieved) {
		t.Error("retrieved_at not carried over")
	}
}
