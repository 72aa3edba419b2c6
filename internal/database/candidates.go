package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// SurvivorCandidate is a candidate that passed the identity gate and was
// kept by consensus, persisted for audit and recompile.
type SurvivorCandidate struct {
	ID          string    `db:"id"`
	ProductID   string    `db:"product_id"`
	RunID       string    `db:"run_id"`
	Field       string    `db:"field"`
	Value       string    `db:"value"`
	SourceURL   string    `db:"source_url"`
	Host        string    `db:"host"`
	RootDomain  string    `db:"root_domain"`
	Role        string    `db:"role"`
	Tier        int       `db:"tier"`
	Method      string    `db:"method"`
	Confidence  float64   `db:"confidence"`
	Quote       string    `db:"quote"`
	SpanStart   int       `db:"span_start"`
	SpanEnd     int       `db:"span_end"`
	RetrievedAt time.Time `db:"retrieved_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// FromCandidate converts a pipeline candidate into its persisted form.
func FromCandidate(productID, runID string, c domain.Candidate, confidence float64) SurvivorCandidate {
	return SurvivorCandidate{
		ID:          c.ID,
		ProductID:   productID,
		RunID:       runID,
		Field:       c.Field,
		Value:       c.Value,
		SourceURL:   c.SourceURL,
		Host:        c.Host,
		RootDomain:  c.RootDomain,
		Role:        string(c.Role),
		Tier:        int(c.Tier),
		Method:      string(c.Method),
		Confidence:  confidence,
		Quote:       c.Evidence.Quote,
		SpanStart:   c.Evidence.QuoteSpan[0],
		SpanEnd:     c.Evidence.QuoteSpan[1],
		RetrievedAt: c.Evidence.RetrievedAt,
	}
}

// CandidateRepository handles database operations for surviving candidates.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository creates a new candidate repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// Upsert inserts a survivor, updating the value and confidence when the
// same (product, run, field, source) was already recorded. Re-running a
// merge is therefore idempotent.
func (r *CandidateRepository) Upsert(ctx context.Context, c *SurvivorCandidate) error {
	query := `
		INSERT INTO survivor_candidates (
			id, product_id, run_id, field, value, source_url, host, root_domain,
			role, tier, method, confidence, quote, span_start, span_end, retrieved_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (product_id, run_id, field, source_url)
		DO UPDATE SET
			value = EXCLUDED.value,
			confidence = EXCLUDED.confidence,
			quote = EXCLUDED.quote,
			span_start = EXCLUDED.span_start,
			span_end = EXCLUDED.span_end,
			retrieved_at = EXCLUDED.retrieved_at,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		c.ID, c.ProductID, c.RunID, c.Field, c.Value, c.SourceURL, c.Host, c.RootDomain,
		c.Role, c.Tier, c.Method, c.Confidence, c.Quote, c.SpanStart, c.SpanEnd, c.RetrievedAt,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert survivor candidate: %w", err)
	}

	return nil
}

// ListByRun retrieves a run's survivors ordered by field then source.
func (r *CandidateRepository) ListByRun(ctx context.Context, productID, runID string) ([]*SurvivorCandidate, error) {
	var survivors []*SurvivorCandidate
	query := `
		SELECT id, product_id, run_id, field, value, source_url, host, root_domain,
		       role, tier, method, confidence, quote, span_start, span_end,
		       retrieved_at, created_at, updated_at
		FROM survivor_candidates
		WHERE product_id = $1 AND run_id = $2
		ORDER BY field, source_url
	`

	if err := r.db.SelectContext(ctx, &survivors, query, productID, runID); err != nil {
		return nil, fmt.Errorf("failed to list survivor candidates: %w", err)
	}

	if survivors == nil {
		survivors = []*SurvivorCandidate{}
	}
	return survivors, nil
}

// ListByField retrieves every run's survivors for one product field, newest
// first. Used by recompile to replay consensus without refetching.
func (r *CandidateRepository) ListByField(ctx context.Context, productID, field string) ([]*SurvivorCandidate, error) {
	var survivors []*SurvivorCandidate
	query := `
		SELECT id, product_id, run_id, field, value, source_url, host, root_domain,
		       role, tier, method, confidence, quote, span_start, span_end,
		       retrieved_at, created_at, updated_at
		FROM survivor_candidates
		WHERE product_id = $1 AND field = $2
		ORDER BY retrieved_at DESC
	`

	if err := r.db.SelectContext(ctx, &survivors, query, productID, field); err != nil {
		return nil, fmt.Errorf("failed to list survivor candidates by field: %w", err)
	}

	if survivors == nil {
		survivors = []*SurvivorCandidate{}
	}
	return survivors, nil
}

// DeleteByProduct removes every survivor for a product. Used when a new
// identity lock invalidates earlier evidence.
func (r *CandidateRepository) DeleteByProduct(ctx context.Context, productID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM survivor_candidates WHERE product_id = $1`, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete survivor candidates: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows, nil
}
