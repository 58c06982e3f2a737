// Package session manages connection-oriented sessions across tool calls.
package session

import (
	"time"
)

// ConnType distinguishes request/response calls from long-lived streams.
type ConnType string

const (
	// ConnRequest is a plain request/response connection.
	ConnRequest ConnType = "request"
	// ConnStream is a long-lived streaming connection (stdio, SSE).
	ConnStream ConnType = "stream"
)

// Session tracks a credential's connection across tool calls.
//
// Lifecycle: ACTIVE → (idle timeout | explicit close) → inactive →
// (retention expiry) → deleted. An inactive session is never returned by
// validation queries; it lingers only until the retention sweep removes it.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// CredentialID references the credential this session belongs to.
	CredentialID string
	// ConnType records how the client is connected.
	ConnType ConnType
	// ClientIP is the remote address, for audit.
	ClientIP string
	// UserAgent is the client's user agent string, for audit.
	UserAgent string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// LastActivity is the last time the session was used (UTC).
	// Monotonically non-decreasing while the session is active.
	LastActivity time.Time
	// Active is false once the session is closed or idle-expired.
	Active bool
}

// IdleSince returns how long the session has been idle relative to now.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Stats summarizes the session population.
type Stats struct {
	// Total is the number of session rows, active or not.
	Total int
	// Active is the number of active sessions.
	Active int
	// Streams is the number of active streaming sessions.
	Streams int
	// OldestActive is the creation time of the oldest active session;
	// zero when there are no active sessions.
	OldestActive time.Time
}
