// Package storage persists run artifacts: a file-backed object store for
// snapshots and summaries, and an Elasticsearch indexer for the searchable
// artifact surface.
package storage

import (
	"context"
	"errors"
	"time"
)

// Default operation timeouts.
const (
	DefaultIndexTimeout = 10 * time.Second
	DefaultPingTimeout  = 5 * time.Second
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("storage: not found")

// Store reads and writes JSON objects by key. Keys are slash-separated
// paths, e.g. "runs/mouse-viper-v3-pro/summary.json".
type Store interface {
	ReadJSON(ctx context.Context, key string, out any) error
	WriteObject(ctx context.Context, key string, value any) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
