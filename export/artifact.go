package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArtifactStore persists rendered export files. Put returns a stable
// reference for the Export row's file_ref: a filesystem path or an
// s3:// URL depending on the backend.
type ArtifactStore interface {
	Put(ctx context.Context, name string, body io.Reader) (string, error)
}

// FSStore writes artifacts into a base directory.
type FSStore struct {
	dir string
}

// NewFSStore creates a filesystem-backed artifact store. The directory
// is created on first Put.
func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

// Put writes the artifact and returns its path.
func (s *FSStore) Put(_ context.Context, name string, body io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact %s: %w", name, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact %s: %w", name, err)
	}
	return path, nil
}
