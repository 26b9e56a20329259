// Package blob stores uploaded audio files. The engine only ever addresses
// blobs by opaque key; the directory layout below the root is an
// implementation detail.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the blob surface the upload handler and the ingestion workers
// share.
type Store interface {
	// Save writes the blob and returns its key.
	Save(ctx context.Context, name string, data []byte) (key string, err error)

	// Load reads the blob by key.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error
}

// DirStore keeps blobs as files under one root directory.
type DirStore struct {
	root string
}

var _ Store = (*DirStore)(nil)

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &DirStore{root: root}, nil
}

// Save implements [Store]. The key is the sanitised file name; an existing
// blob with the same key is overwritten.
func (s *DirStore) Save(_ context.Context, name string, data []byte) (string, error) {
	key := sanitize(name)
	if key == "" {
		return "", fmt.Errorf("blob: save: empty name")
	}
	if err := os.WriteFile(filepath.Join(s.root, key), data, 0o644); err != nil {
		return "", fmt.Errorf("blob: save %s: %w", key, err)
	}
	return key, nil
}

// Load implements [Store].
func (s *DirStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, sanitize(key)))
	if err != nil {
		return nil, fmt.Errorf("blob: load %s: %w", key, err)
	}
	return data, nil
}

// Delete implements [Store].
func (s *DirStore) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(s.root, sanitize(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

// sanitize strips path separators so a key can never escape the root.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." {
		return ""
	}
	return name
}
