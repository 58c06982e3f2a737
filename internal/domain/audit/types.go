// Package audit contains domain types for audit logging.
package audit

import (
	"strings"
	"time"
)

// Outcome constants for tool-call audit records.
const (
	// OutcomeOK indicates the tool call succeeded.
	OutcomeOK = "ok"
	// OutcomeError indicates the tool call failed; Code carries the taxonomy code.
	OutcomeError = "error"
)

// EventType constants. Tool calls use EventTypeToolCall; authentication
// and workflow transitions get their own categories.
const (
	// EventTypeToolCall is the default event type for tool invocations.
	EventTypeToolCall = "tool_call"

	// Access control events
	EventTypeAuthFailed       = "access.auth_failed"
	EventTypeDelegationDenied = "access.delegation_denied"
	EventTypeSessionCreate    = "access.session_create"
	EventTypeSessionClose     = "access.session_close"
	EventTypeSessionLimit     = "access.session_limit"

	// Exception workflow events
	EventTypeExceptionSubmit  = "workflow.exception_submit"
	EventTypeExceptionApprove = "workflow.exception_approve"
	EventTypeExceptionReject  = "workflow.exception_reject"
	EventTypeExceptionCancel  = "workflow.exception_cancel"
	EventTypeExceptionExpire  = "workflow.exception_expire"
)

// Record represents a single auditable event.
type Record struct {
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// EventType categorizes the event (tool_call, access.*, workflow.*).
	EventType string `json:"event_type"`
	// RequestID is for correlation across systems.
	RequestID string `json:"request_id"`
	// CredentialID of the authenticating credential.
	CredentialID string `json:"credential_id,omitempty"`
	// DelegatedUserID of the impersonated user, when delegating.
	DelegatedUserID string `json:"delegated_user_id,omitempty"`
	// SessionID of the connection session, when present.
	SessionID string `json:"session_id,omitempty"`
	// ToolName is the invoked tool for tool_call events.
	ToolName string `json:"tool_name,omitempty"`
	// ToolArguments are the (redacted) arguments passed to the tool.
	ToolArguments map[string]any `json:"tool_arguments,omitempty"`
	// Outcome is "ok" or "error".
	Outcome string `json:"outcome"`
	// Code is the taxonomy error code when Outcome is "error".
	Code string `json:"code,omitempty"`
	// Reason is a short human-readable explanation.
	Reason string `json:"reason,omitempty"`
	// TargetID references the affected entity (exception request, grant).
	TargetID string `json:"target_id,omitempty"`
	// LatencyMicros is the handler latency in microseconds.
	LatencyMicros int64 `json:"latency_micros,omitempty"`
	// SourceIP is the client address, when known.
	SourceIP string `json:"source_ip,omitempty"`
}

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
