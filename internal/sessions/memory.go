package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/loom/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

// Create persists a new session.
func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

// Get returns a session by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

// GetOrCreate returns the session, creating it when absent.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id, userID, orgID string) (*models.Session, error) {
	if id != "" {
		if session, err := s.Get(ctx, id); err == nil {
			return session, nil
		}
	}
	session := &models.Session{ID: id, UserID: userID, OrgID: orgID}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Update persists session changes.
func (s *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now().UTC()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

// Touch bumps updated_at.
func (s *MemoryStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a session and its messages.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// List returns sessions matching the options, most recently updated
// first.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Session
	for _, session := range s.sessions {
		if opts.UserID != "" && session.UserID != opts.UserID {
			continue
		}
		if opts.OrgID != "" && session.OrgID != opts.OrgID {
			continue
		}
		clone := *session
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// AppendMessage adds a message to the session history.
func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.SessionID = sessionID

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	clone := *msg
	s.messages[sessionID] = append(s.messages[sessionID], &clone)
	s.sessions[sessionID].UpdatedAt = time.Now().UTC()
	return nil
}

// GetHistory returns the most recent limit messages in chronological
// order.
func (s *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	result := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		clone := *m
		result[i] = &clone
	}
	return result, nil
}

// Close releases resources.
func (s *MemoryStore) Close() error {
	return nil
}

// DeleteIdleBefore removes sessions whose updated_at is before the
// cutoff. Used by the expiry janitor.
func (s *MemoryStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.messages, id)
			count++
		}
	}
	return count, nil
}
