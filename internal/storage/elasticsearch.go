package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/spechawk/internal/logger"
)

// ElasticConfig holds connection settings for the artifact cluster.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
}

// NewElasticClient builds the v8 client from config.
func NewElasticClient(cfg ElasticConfig) (*es.Client, error) {
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return client, nil
}

// ElasticStore wraps the ES client with the document operations the
// indexer needs.
type ElasticStore struct {
	client *es.Client
	log    logger.Interface
}

// NewElasticStore wraps an existing client.
func NewElasticStore(client *es.Client, log logger.Interface) *ElasticStore {
	return &ElasticStore{client: client, log: log.WithComponent("elasticsearch")}
}

// IndexDocument writes one document with an explicit ID.
func (s *ElasticStore) IndexDocument(ctx context.Context, index, id string, document any) error {
	if s.client == nil {
		return errors.New("elasticsearch client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultIndexTimeout)
	defer cancel()

	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", index, id, err)
	}

	res, err := s.client.Index(
		index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("index document %s/%s: %w", index, id, err)
	}
	defer drainAndClose(res.Body, s.log)

	if res.IsError() {
		return fmt.Errorf("index document %s/%s: status %s", index, id, res.Status())
	}

	s.log.Debug("document indexed", "index", index, "doc_id", id)
	return nil
}

// GetDocument fetches a document by ID into out.
func (s *ElasticStore) GetDocument(ctx context.Context, index, id string, out any) error {
	if s.client == nil {
		return errors.New("elasticsearch client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultIndexTimeout)
	defer cancel()

	res, err := s.client.Get(index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get document %s/%s: %w", index, id, err)
	}
	defer drainAndClose(res.Body, s.log)

	if res.StatusCode == 404 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, index, id)
	}
	if res.IsError() {
		return fmt.Errorf("get document %s/%s: status %s", index, id, res.Status())
	}

	var envelope struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", index, id, err)
	}
	if err := json.Unmarshal(envelope.Source, out); err != nil {
		return fmt.Errorf("decode source %s/%s: %w", index, id, err)
	}
	return nil
}

// EnsureIndex creates the index with a mapping when it does not exist.
func (s *ElasticStore) EnsureIndex(ctx context.Context, index string, mapping map[string]any) error {
	if s.client == nil {
		return errors.New("elasticsearch client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultIndexTimeout)
	defer cancel()

	exists, err := s.client.Indices.Exists([]string{index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	drainAndClose(exists.Body, s.log)
	if exists.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping for %s: %w", index, err)
	}

	res, err := s.client.Indices.Create(
		index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer drainAndClose(res.Body, s.log)

	if res.IsError() {
		return fmt.Errorf("create index %s: status %s", index, res.Status())
	}

	s.log.Info("index created", "index", index)
	return nil
}

// TestConnection pings the cluster.
func (s *ElasticStore) TestConnection(ctx context.Context) error {
	if s.client == nil {
		return errors.New("elasticsearch client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer drainAndClose(res.Body, s.log)

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: status %s", res.Status())
	}
	return nil
}

func drainAndClose(body io.ReadCloser, log logger.Interface) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	if err := body.Close(); err != nil {
		log.Warn("failed to close response body", "error", err.Error())
	}
}
