package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonesrussell/spechawk/internal/logger"
)

// FileStore is a Store rooted at a directory. Writes are atomic: the
// object lands in a temp file in the target directory and is renamed over
// the destination, so readers never observe a partial object.
type FileStore struct {
	root string
	log  logger.Interface
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, log logger.Interface) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create root: %w", err)
	}
	return &FileStore{root: root, log: log.WithComponent("filestore")}, nil
}

// ReadJSON loads and unmarshals the object at key.
func (s *FileStore) ReadJSON(_ context.Context, key string, out any) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("file store: read %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("file store: decode %s: %w", key, err)
	}
	return nil
}

// WriteObject marshals value and writes it atomically.
func (s *FileStore) WriteObject(_ context.Context, key string, value any) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode %s: %w", key, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file store: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".obj-*.json")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: rename %s: %w", key, err)
	}

	s.log.Debug("object written", "key", key, "bytes", len(data))
	return nil
}

// ListKeys returns every stored key under a prefix, sorted by path walk
// order.
func (s *FileStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".obj-") {
			return nil
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}

		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("file store: list %q: %w", prefix, walkErr)
	}
	return keys, nil
}

// Delete removes the object at key. Deleting a missing key is not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file store: delete %s: %w", key, err)
	}
	return nil
}

// path resolves a key inside the root, rejecting escapes.
func (s *FileStore) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("file store: empty key")
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("file store: key escapes root: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}
