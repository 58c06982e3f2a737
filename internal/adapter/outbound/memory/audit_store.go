package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/seclens/seclens/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store writing JSON Lines to a writer.
// Also keeps a bounded in-memory ring buffer for recent-record queries.
type AuditStore struct {
	encoder *json.Encoder
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []audit.Record
	cap    int
}

// NewAuditStore creates a new audit store writing to stdout.
func NewAuditStore() *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout)
}

// NewAuditStoreWithWriter creates an audit store writing to the given writer.
func NewAuditStoreWithWriter(w io.Writer) *AuditStore {
	return &AuditStore{
		encoder: json.NewEncoder(w),
		recent:  make([]audit.Record, 0, defaultRecentCap),
		cap:     defaultRecentCap,
	}
}

// Append writes records as JSON lines and retains them in the ring buffer.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if err := s.encoder.Encode(rec); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			s.recent = s.recent[1:]
		}
		s.recent = append(s.recent, rec)
	}
	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *AuditStore) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op; the store does not own the writer.
func (s *AuditStore) Close() error {
	return nil
}

// Recent returns a copy of the most recent records, oldest first.
func (s *AuditStore) Recent() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]audit.Record, len(s.recent))
	copy(result, s.recent)
	return result
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)
