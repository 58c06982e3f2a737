package mcp

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server-defined error codes in the implementation-reserved range.
const (
	// CodeUnauthorized: missing, unknown, revoked or expired credential.
	CodeUnauthorized = -32000
	// CodeForbidden: authenticated but not permitted.
	CodeForbidden = -32001
	// CodeNotFound: the referenced entity does not exist.
	CodeNotFound = -32002
	// CodeToolError: the tool ran and failed.
	CodeToolError = -32003
	// CodeConflict: a concurrent writer won an optimistic-lock race.
	CodeConflict = -32004
	// CodeInvalidState: the operation is not valid in the entity's
	// current lifecycle state.
	CodeInvalidState = -32005
)
