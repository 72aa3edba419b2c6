package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// DocumentIndexer is the slice of ElasticStore the artifact indexer uses.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
	EnsureIndex(ctx context.Context, index string, mapping map[string]any) error
}

// ArtifactDocument is the searchable shape of one harvested product spec.
type ArtifactDocument struct {
	ProductID       string                             `json:"product_id"`
	Category        string                             `json:"category"`
	RunID           string                             `json:"run_id"`
	Validated       bool                               `json:"validated"`
	ValidatedReason string                             `json:"validated_reason,omitempty"`
	Confidence      float64                            `json:"confidence"`
	StopReason      string                             `json:"stop_reason,omitempty"`
	Rounds          int                                `json:"rounds"`
	Fields          map[string]string                  `json:"fields"`
	Units           map[string]string                  `json:"units,omitempty"`
	FieldConfidence map[string]float64                 `json:"field_confidence,omitempty"`
	Provenance      map[string]domain.FieldProvenance  `json:"provenance,omitempty"`
	Lights          map[string]domain.TrafficLight     `json:"lights,omitempty"`
	IndexedAt       time.Time                          `json:"indexed_at"`
}

// ArtifactIndexer publishes run outputs to the category's artifact index.
type ArtifactIndexer struct {
	store DocumentIndexer
	log   logger.Interface
	now   func() time.Time
}

// NewArtifactIndexer creates an indexer over a document store.
func NewArtifactIndexer(store DocumentIndexer, log logger.Interface) *ArtifactIndexer {
	return &ArtifactIndexer{
		store: store,
		log:   log.WithComponent("artifact_indexer"),
		now:   time.Now,
	}
}

// IndexName returns the artifact index for a category.
func IndexName(category string) string {
	return "spechawk_" + sanitizeIndexName(category) + "_artifacts"
}

// EnsureArtifactIndex creates the category index with its mapping.
func (i *ArtifactIndexer) EnsureArtifactIndex(ctx context.Context, category string) error {
	return i.store.EnsureIndex(ctx, IndexName(category), artifactMapping())
}

// IndexArtifact publishes one run's artifact. The document ID is the
// product ID so re-runs overwrite the previous artifact.
func (i *ArtifactIndexer) IndexArtifact(
	ctx context.Context,
	category string,
	summary domain.RunSummary,
	artifact domain.SpecArtifact,
	provenance map[string]domain.FieldProvenance,
	lights map[string]domain.TrafficLight,
) error {
	if artifact.ProductID == "" {
		return fmt.Errorf("artifact indexer: missing product id")
	}

	doc := ArtifactDocument{
		ProductID:       artifact.ProductID,
		Category:        category,
		RunID:           summary.RunID,
		Validated:       summary.Validated,
		ValidatedReason: summary.ValidatedReason,
		Confidence:      summary.Confidence,
		StopReason:      summary.StopReason,
		Rounds:          summary.Rounds,
		Fields:          artifact.Fields,
		Units:           artifact.Units,
		FieldConfidence: artifact.Confidence,
		Provenance:      provenance,
		Lights:          lights,
		IndexedAt:       i.now(),
	}

	index := IndexName(category)
	if err := i.store.IndexDocument(ctx, index, artifact.ProductID, doc); err != nil {
		return fmt.Errorf("index artifact %s: %w", artifact.ProductID, err)
	}

	i.log.Info("artifact indexed",
		"index", index,
		"product_id", artifact.ProductID,
		"validated", summary.Validated,
		"fields", len(artifact.Fields),
	)
	return nil
}

// artifactMapping is the index mapping for artifact documents. Field
// values stay unmapped objects; the searchable surface is identity and
// outcome metadata.
func artifactMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"product_id":       map[string]any{"type": "keyword"},
				"category":         map[string]any{"type": "keyword"},
				"run_id":           map[string]any{"type": "keyword"},
				"validated":        map[string]any{"type": "boolean"},
				"validated_reason": map[string]any{"type": "keyword"},
				"confidence":       map[string]any{"type": "float"},
				"stop_reason":      map[string]any{"type": "keyword"},
				"rounds":           map[string]any{"type": "integer"},
				"indexed_at":       map[string]any{"type": "date"},
				"fields":           map[string]any{"type": "object", "enabled": true},
			},
		},
	}
}

var (
	invalidIndexChars      = regexp.MustCompile(`[\s"*,/<>?\\|]`)
	repeatedUnderscores    = regexp.MustCompile(`_{2,}`)
)

// sanitizeIndexName lowercases a category and strips characters that are
// invalid in Elasticsearch index names.
func sanitizeIndexName(name string) string {
	if name == "" {
		return "unknown"
	}

	normalized := strings.ToLower(name)
	normalized = invalidIndexChars.ReplaceAllString(normalized, "_")
	normalized = strings.ReplaceAll(normalized, ".", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = repeatedUnderscores.ReplaceAllString(normalized, "_")
	normalized = strings.Trim(normalized, "_")
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
