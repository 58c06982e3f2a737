package audit

import (
	"context"
)

// Store persists audit records.
// Interface owned by the domain per hexagonal architecture.
// Implementations handle batching and async writes; Append must be
// non-blocking from the caller's perspective.
type Store interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
