// Package sessions persists conversations: session records and their
// message history. Two implementations exist, an in-memory store for
// tests and single-process use and a Postgres store for deployments.
package sessions

import (
	"context"
	"errors"

	"github.com/tessellate-ai/loom/pkg/models"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// ListOptions configures session listing.
type ListOptions struct {
	UserID string
	OrgID  string
	Limit  int
	Offset int
}

// Store is the interface for session persistence.
type Store interface {
	// Create persists a new session. A missing id is generated.
	Create(ctx context.Context, session *models.Session) error

	// Get returns a session by id.
	Get(ctx context.Context, id string) (*models.Session, error)

	// GetOrCreate returns the session with the given id, creating it
	// when absent.
	GetOrCreate(ctx context.Context, id, userID, orgID string) (*models.Session, error)

	// Update persists session changes.
	Update(ctx context.Context, session *models.Session) error

	// Touch bumps the session's updated_at to now.
	Touch(ctx context.Context, id string) error

	// Delete removes a session and its messages.
	Delete(ctx context.Context, id string) error

	// List returns sessions matching the options, most recently
	// updated first.
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// AppendMessage adds a message to the session history.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// GetHistory returns the most recent limit messages in
	// chronological order. Zero limit means all messages.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Close releases resources.
	Close() error
}
