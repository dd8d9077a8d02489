package artifacts

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/loom/pkg/models"
)

// MemoryRepository is an in-memory implementation for tests and
// single-process deployments.
type MemoryRepository struct {
	mu     sync.RWMutex
	meta   map[string]*models.Artifact
	data   map[string][]byte
	logger *slog.Logger
}

// NewMemoryRepository creates an in-memory repository.
func NewMemoryRepository(logger *slog.Logger) *MemoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryRepository{
		meta:   make(map[string]*models.Artifact),
		data:   make(map[string][]byte),
		logger: logger,
	}
}

// Create persists the artifact and its bytes in memory.
func (r *MemoryRepository) Create(ctx context.Context, artifact *models.Artifact, data io.Reader) (*models.Artifact, error) {
	stored := *artifact
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	stored.SizeBytes = int64(len(buf))
	stored.Path = "inline://" + stored.ID

	r.mu.Lock()
	r.meta[stored.ID] = &stored
	r.data[stored.ID] = buf
	r.mu.Unlock()

	return &stored, nil
}

// Get returns artifact metadata by id.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.meta[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

// Open returns a reader over the artifact's bytes.
func (r *MemoryRepository) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	r.mu.RLock()
	buf, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// List returns artifacts matching the filter, newest first.
func (r *MemoryRepository) List(ctx context.Context, filter Filter) ([]*models.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Artifact
	for _, a := range r.meta {
		if filter.SessionID != "" && a.SessionID != filter.SessionID {
			continue
		}
		if filter.MimeType != "" && a.MimeType != filter.MimeType {
			continue
		}
		if !filter.CreatedAfter.IsZero() && !a.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !a.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		clone := *a
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Delete removes the artifact.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.meta, id)
	delete(r.data, id)
	r.mu.Unlock()
	return nil
}

// Close releases resources.
func (r *MemoryRepository) Close() error {
	return nil
}
