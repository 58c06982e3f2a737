package memory

import (
	"context"
	"sync"
	"time"

	"github.com/seclens/seclens/internal/domain/session"
)

// SessionStore implements session.Store with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
//
// The bulk sweep operations hold the write lock for the whole predicate,
// so a Touch that lands before the sweep is observed by it and a Touch
// that lands after sees the swept state — a session can never be deleted
// with a fresh LastActivity.
type SessionStore struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session.Session),
	}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Get retrieves a session by ID, active or not.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Touch sets LastActivity iff the session exists and is active.
// LastActivity never moves backwards.
func (s *SessionStore) Touch(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return session.ErrSessionNotFound
	}
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
	return nil
}

// Deactivate marks the session inactive.
func (s *SessionStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	sess.Active = false
	return nil
}

// DeactivateIdle marks inactive every active session with LastActivity
// before the cutoff.
func (s *SessionStore) DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, sess := range s.sessions {
		if sess.Active && sess.LastActivity.Before(cutoff) {
			sess.Active = false
			affected++
		}
	}
	return affected, nil
}

// DeleteInactiveBefore hard-deletes inactive sessions with LastActivity
// before the cutoff.
func (s *SessionStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, sess := range s.sessions {
		if !sess.Active && sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// CountActive returns the number of active sessions for a credential.
func (s *SessionStore) CountActive(ctx context.Context, credentialID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Active && sess.CredentialID == credentialID {
			count++
		}
	}
	return count, nil
}

// Stats returns aggregate counts over the session population.
func (s *SessionStore) Stats(ctx context.Context) (*session.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &session.Stats{Total: len(s.sessions)}
	for _, sess := range s.sessions {
		if !sess.Active {
			continue
		}
		stats.Active++
		if sess.ConnType == session.ConnStream {
			stats.Streams++
		}
		if stats.OldestActive.IsZero() || sess.CreatedAt.Before(stats.OldestActive) {
			stats.OldestActive = sess.CreatedAt
		}
	}
	return stats, nil
}

// Size returns the number of sessions currently stored.
// Useful for testing sweep behavior.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copySession creates a copy of a session.
func copySession(sess *session.Session) *session.Session {
	sessCopy := *sess
	return &sessCopy
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
