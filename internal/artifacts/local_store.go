package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalStore stores artifact bytes on the local filesystem, sharded
// by date under the base path.
type LocalStore struct {
	mu       sync.RWMutex
	basePath string
	index    map[string]string // artifact id -> relative path
}

// NewLocalStore creates a local disk store.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &LocalStore{
		basePath: basePath,
		index:    make(map[string]string),
	}, nil
}

// Put stores artifact data on disk. Writes go to a temp file first,
// then an atomic rename.
func (s *LocalStore) Put(ctx context.Context, id string, data io.Reader, mimeType string) (string, int64, error) {
	now := time.Now()
	relDir := filepath.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))
	dir := filepath.Join(s.basePath, relDir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create artifact dir: %w", err)
	}

	filename := id + extensionForMime(mimeType)
	filePath := filepath.Join(dir, filename)

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, data)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write artifact: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("rename artifact: %w", err)
	}

	s.mu.Lock()
	s.index[id] = filepath.Join(relDir, filename)
	s.mu.Unlock()

	return "file://" + filePath, n, nil
}

// Get retrieves artifact data by id.
func (s *LocalStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	relPath, ok := s.index[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(s.basePath, relPath))
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes an artifact from disk.
func (s *LocalStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	relPath, ok := s.index[id]
	if ok {
		delete(s.index, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return os.Remove(filepath.Join(s.basePath, relPath))
}

// Close releases resources.
func (s *LocalStore) Close() error {
	return nil
}

// extensionForMime returns a file extension for a MIME type.
func extensionForMime(mimeType string) string {
	switch mimeType {
	case "text/plain":
		return ".txt"
	case "text/markdown":
		return ".md"
	case "text/csv":
		return ".csv"
	case "text/html":
		return ".html"
	case "application/json":
		return ".json"
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".dat"
	}
}
