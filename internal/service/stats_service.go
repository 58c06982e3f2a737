package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seclens/seclens/internal/domain/session"
	"github.com/seclens/seclens/internal/domain/tool"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple
// goroutines. Session figures are read live from the session store.
type StatsService struct {
	ok     atomic.Int64
	failed atomic.Int64

	// Per-taxonomy-code counters (mutex-protected map).
	mu         sync.Mutex
	codeCounts map[string]int64

	sessions *session.Manager
}

// NewStatsService creates a new StatsService with all counters zeroed.
func NewStatsService(sessions *session.Manager) *StatsService {
	return &StatsService{
		codeCounts: make(map[string]int64),
		sessions:   sessions,
	}
}

// Observe records a dispatch outcome. Satisfies tool.Observer.
func (s *StatsService) Observe(_ string, code tool.Code, _ time.Duration) {
	if code == "" {
		s.ok.Add(1)
		return
	}
	s.failed.Add(1)
	s.mu.Lock()
	s.codeCounts[string(code)]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	DispatchesOK     int64            `json:"dispatches_ok"`
	DispatchesFailed int64            `json:"dispatches_failed"`
	CodeCounts       map[string]int64 `json:"code_counts"`
	Sessions         *session.Stats   `json:"sessions,omitempty"`
}

// GetStats returns a snapshot of all counters plus live session figures.
// The snapshot is consistent per-counter but not atomically across all
// counters.
func (s *StatsService) GetStats(ctx context.Context) Stats {
	s.mu.Lock()
	cc := make(map[string]int64, len(s.codeCounts))
	for k, v := range s.codeCounts {
		cc[k] = v
	}
	s.mu.Unlock()

	stats := Stats{
		DispatchesOK:     s.ok.Load(),
		DispatchesFailed: s.failed.Load(),
		CodeCounts:       cc,
	}
	if s.sessions != nil {
		if sessStats, err := s.sessions.Stats(ctx); err == nil {
			stats.Sessions = sessStats
		}
	}
	return stats
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.ok.Store(0)
	s.failed.Store(0)

	s.mu.Lock()
	s.codeCounts = make(map[string]int64)
	s.mu.Unlock()
}
