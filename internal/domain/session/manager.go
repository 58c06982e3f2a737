package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for the session lifecycle.
const (
	// DefaultIdleCutoff is how long a session may sit idle before it stops
	// validating and the sweep deactivates it.
	DefaultIdleCutoff = 30 * time.Minute
	// DefaultRetention is how long an inactive session row is kept before
	// the sweep hard-deletes it.
	DefaultRetention = 24 * time.Hour
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 1 * time.Minute
	// DefaultMaxPerCredential caps concurrent active sessions per credential.
	DefaultMaxPerCredential = 10
)

// Config holds session manager configuration.
type Config struct {
	// IdleCutoff is the idle timeout. Default: 30 minutes.
	IdleCutoff time.Duration
	// Retention is how long inactive rows are kept. Default: 24 hours.
	Retention time.Duration
	// SweepInterval is the background sweep period. Default: 1 minute.
	SweepInterval time.Duration
	// MaxPerCredential caps active sessions per credential. Default: 10.
	MaxPerCredential int
}

func (c Config) withDefaults() Config {
	if c.IdleCutoff <= 0 {
		c.IdleCutoff = DefaultIdleCutoff
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxPerCredential <= 0 {
		c.MaxPerCredential = DefaultMaxPerCredential
	}
	return c
}

// Manager manages session lifecycle: admission, activity tracking,
// validation, and the idle/retention sweep.
type Manager struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once // prevent double-close panic on Stop()

	onSweep func(deactivated, deleted int64)
}

// SetSweepObserver installs a callback invoked after every sweep with the
// phase counts. Set before StartSweeper; used to feed metrics.
func (m *Manager) SetSweepObserver(fn func(deactivated, deleted int64)) {
	m.onSweep = fn
}

// NewManager creates a new Manager with the given store and config.
func NewManager(store Store, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Create admits a new session for a credential, enforcing the
// per-credential concurrent-session cap. Returns ErrSessionLimit when the
// cap is reached.
func (m *Manager) Create(ctx context.Context, credentialID string, connType ConnType, clientIP, userAgent string) (*Session, error) {
	active, err := m.store.CountActive(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("count active sessions: %w", err)
	}
	if active >= m.cfg.MaxPerCredential {
		return nil, fmt.Errorf("%w: credential has %d active sessions", ErrSessionLimit, active)
	}

	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:           id,
		CredentialID: credentialID,
		ConnType:     connType,
		ClientIP:     clientIP,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.logger.Info("session created",
		"session_id", sess.ID,
		"credential_id", credentialID,
		"conn_type", connType,
	)
	return sess, nil
}

// Touch records activity on a session. No-op returning ErrSessionNotFound
// when the session doesn't exist or is inactive.
func (m *Manager) Touch(ctx context.Context, id string) error {
	return m.store.Touch(ctx, id, time.Now().UTC())
}

// Validate returns true iff the session is active and within the idle
// cutoff. Inactive or missing sessions validate false, never error.
func (m *Manager) Validate(ctx context.Context, id string) bool {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return false
	}
	if !sess.Active {
		return false
	}
	return sess.IdleSince(time.Now().UTC()) < m.cfg.IdleCutoff
}

// Close explicitly terminates a session.
func (m *Manager) Close(ctx context.Context, id string) error {
	if err := m.store.Deactivate(ctx, id); err != nil {
		return err
	}
	m.logger.Info("session closed", "session_id", id)
	return nil
}

// Stats returns aggregate session statistics.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.store.Stats(ctx)
}

// Sweep deactivates idle sessions and hard-deletes inactive sessions past
// retention. Idempotent and safe to run concurrently with request
// handling: both phases are single conditional store operations, so a
// session touched mid-sweep keeps its fresh LastActivity and survives.
func (m *Manager) Sweep(ctx context.Context) (deactivated, deleted int64, err error) {
	now := time.Now().UTC()

	deactivated, err = m.store.DeactivateIdle(ctx, now.Add(-m.cfg.IdleCutoff))
	if err != nil {
		return 0, 0, fmt.Errorf("deactivate idle sessions: %w", err)
	}

	deleted, err = m.store.DeleteInactiveBefore(ctx, now.Add(-m.cfg.Retention))
	if err != nil {
		return deactivated, 0, fmt.Errorf("delete retained sessions: %w", err)
	}

	if m.onSweep != nil {
		m.onSweep(deactivated, deleted)
	}
	if deactivated > 0 || deleted > 0 {
		m.logger.Debug("session sweep",
			"deactivated", deactivated,
			"deleted", deleted,
		)
	}
	return deactivated, deleted, nil
}

// StartSweeper starts the background sweep goroutine.
// The goroutine runs until ctx is canceled or Stop() is called.
func (m *Manager) StartSweeper(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				if _, _, err := m.Sweep(ctx); err != nil {
					m.logger.Error("session sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop signals the sweep goroutine to stop and waits for it to exit.
// Safe to call multiple times.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

// GenerateSessionID creates a cryptographically random session ID.
// Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
