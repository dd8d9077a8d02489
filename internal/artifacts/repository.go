// Package artifacts persists generated documents: metadata in a
// repository, bytes in a store. The document tool writes through
// CreateFunc so tools never see a concrete repository type.
package artifacts

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tessellate-ai/loom/pkg/models"
)

// ErrNotFound is returned when an artifact id does not exist.
var ErrNotFound = errors.New("artifact not found")

// CreateFunc persists one generated document and returns its record.
// The document tool depends on this signature only.
type CreateFunc func(ctx context.Context, artifact *models.Artifact, data io.Reader) (*models.Artifact, error)

// Filter narrows artifact listings.
type Filter struct {
	SessionID     string
	MimeType      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Repository stores artifact metadata and data.
type Repository interface {
	// Create persists the artifact and its bytes. A missing id is
	// generated; SizeBytes is set from the data actually written.
	Create(ctx context.Context, artifact *models.Artifact, data io.Reader) (*models.Artifact, error)

	// Get returns artifact metadata by id.
	Get(ctx context.Context, id string) (*models.Artifact, error)

	// Open returns a reader over the artifact's bytes.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// List returns artifacts matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*models.Artifact, error)

	// Delete removes the artifact and its bytes. Deleting a missing
	// artifact is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}

// Store holds artifact bytes. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes the data and returns a reference string.
	Put(ctx context.Context, id string, data io.Reader, mimeType string) (ref string, size int64, err error)

	// Get opens the stored bytes.
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete removes the stored bytes. Missing ids are not an error.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
