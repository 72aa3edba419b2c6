package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/storage"
)

// fakeDocumentStore records index operations for assertions.
type fakeDocumentStore struct {
	indexedIndex string
	indexedID    string
	indexedDoc   any

	ensuredIndex   string
	ensuredMapping map[string]any
}

func (f *fakeDocumentStore) IndexDocument(_ context.Context, index, id string, document any) error {
	f.indexedIndex = index
	f.indexedID = id
	f.indexedDoc = document
	return nil
}

func (f *fakeDocumentStore) EnsureIndex(_ context.Context, index string, mapping map[string]any) error {
	f.ensuredIndex = index
	f.ensuredMapping = mapping
	return nil
}

func TestIndexName_SanitizesCategory(t *testing.T) {
	assert.Equal(t, "spechawk_gaming_mice_artifacts", storage.IndexName("gaming_mice"))
	assert.Equal(t, "spechawk_gaming_mice_artifacts", storage.IndexName("Gaming Mice"))
	assert.Equal(t, "spechawk_usb_c_hubs_artifacts", storage.IndexName("USB-C/Hubs"))
	assert.Equal(t, "spechawk_unknown_artifacts", storage.IndexName(""))
}

func TestArtifactIndexer_IndexesUnderProductID(t *testing.T) {
	store := &fakeDocumentStore{}
	indexer := storage.NewArtifactIndexer(store, logger.NewNoOp())

	summary := domain.RunSummary{
		ProductID:  "mouse-viper-v3-pro",
		RunID:      "run-1",
		Validated:  true,
		Confidence: 0.97,
		StopReason: "complete",
		Rounds:     2,
	}
	artifact := domain.SpecArtifact{
		ProductID:  "mouse-viper-v3-pro",
		Fields:     map[string]string{"weight": "54"},
		Units:      map[string]string{"weight": "g"},
		Confidence: map[string]float64{"weight": 1.0},
	}

	err := indexer.IndexArtifact(context.Background(), "gaming_mice", summary, artifact, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "spechawk_gaming_mice_artifacts", store.indexedIndex)
	assert.Equal(t, "mouse-viper-v3-pro", store.indexedID)

	doc, ok := store.indexedDoc.(storage.ArtifactDocument)
	require.True(t, ok)
	assert.True(t, doc.Validated)
	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "54", doc.Fields["weight"])
	assert.Equal(t, "gaming_mice", doc.Category)
	assert.False(t, doc.IndexedAt.IsZero())
}

func TestArtifactIndexer_RejectsMissingProductID(t *testing.T) {
	indexer := storage.NewArtifactIndexer(&fakeDocumentStore{}, logger.NewNoOp())

	err := indexer.IndexArtifact(context.Background(), "gaming_mice", domain.RunSummary{}, domain.SpecArtifact{}, nil, nil)
	assert.Error(t, err)
}

func TestArtifactIndexer_EnsureIndexUsesMapping(t *testing.T) {
	store := &fakeDocumentStore{}
	indexer := storage.NewArtifactIndexer(store, logger.NewNoOp())

	require.NoError(t, indexer.EnsureArtifactIndex(context.Background(), "gaming_mice"))

	assert.Equal(t, "spechawk_gaming_mice_artifacts", store.ensuredIndex)
	require.Contains(t, store.ensuredMapping, "mappings")
}
