// Package mcpserver is the inbound MCP protocol adapter. It decodes
// JSON-RPC frames, routes the MCP methods and maps the typed error
// taxonomy onto JSON-RPC error codes. Two transports share the handler:
// HTTP (credentials in headers) and stdio (credentials in params._meta).
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/session"
	"github.com/seclens/seclens/internal/domain/tool"
	"github.com/seclens/seclens/internal/service"
	"github.com/seclens/seclens/pkg/mcp"
)

// Server identity sent in the initialize handshake.
const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "seclens"
)

// Request carries one decoded frame plus its transport context.
type Request struct {
	// Msg is the decoded JSON-RPC message.
	Msg *mcp.Message
	// ExecCtx is the authenticated execution context.
	ExecCtx *delegation.ExecutionContext
	// SessionID is the transport session, empty before initialize.
	SessionID string
	// ConnType is how the client is connected.
	ConnType session.ConnType
	// SourceIP is the client address ("local" for stdio).
	SourceIP string
	// UserAgent is the client's user agent, when known.
	UserAgent string
}

// Handler routes MCP methods to the invocation service.
type Handler struct {
	invocations *service.InvocationService
	version     string
	logger      *slog.Logger
}

// NewHandler creates a Handler. version is the server build version
// reported in the initialize handshake.
func NewHandler(invocations *service.InvocationService, version string, logger *slog.Logger) *Handler {
	return &Handler{invocations: invocations, version: version, logger: logger}
}

// Handle processes one request and returns the response frame, or nil for
// notifications.
func (h *Handler) Handle(ctx context.Context, req *Request) *mcp.Response {
	if req.Msg.IsNotification() {
		// Notifications (notifications/initialized etc.) get no response.
		return nil
	}
	id := req.Msg.RawID()

	switch req.Msg.Method() {
	case "initialize":
		return h.handleInitialize(ctx, req, id)
	case "ping":
		return mcp.NewResultResponse(id, map[string]any{})
	case "tools/list":
		return h.handleToolsList(req, id)
	case "tools/call":
		return h.handleToolsCall(ctx, req, id)
	case "session/close":
		return h.handleSessionClose(ctx, req, id)
	case "":
		return mcp.NewErrorResponse(id, mcp.CodeInvalidRequest, "not a request", nil)
	default:
		return mcp.NewErrorResponse(id, mcp.CodeMethodNotFound, "unknown method "+req.Msg.Method(), nil)
	}
}

func (h *Handler) handleInitialize(ctx context.Context, req *Request, id json.RawMessage) *mcp.Response {
	sess, err := h.invocations.OpenSession(ctx, req.ExecCtx, req.ConnType, req.SourceIP, req.UserAgent)
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			return mcp.NewErrorResponse(id, mcp.CodeForbidden, "session limit reached for credential", nil)
		}
		h.logger.Error("session creation failed", "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "session creation failed", nil)
	}

	return mcp.NewResultResponse(id, map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]any{
			"name":    ServerName,
			"version": h.version,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"sessionId": sess.ID,
	})
}

func (h *Handler) handleToolsList(req *Request, id json.RawMessage) *mcp.Response {
	defs := h.invocations.ListTools(req.ExecCtx)
	tools := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema.JSONSchema(),
		})
	}
	return mcp.NewResultResponse(id, map[string]any{"tools": tools})
}

func (h *Handler) handleToolsCall(ctx context.Context, req *Request, id json.RawMessage) *mcp.Response {
	params := req.Msg.ParseParams()
	if params == nil {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "missing params", nil)
	}
	name, _ := params["name"].(string)
	if name == "" {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "missing tool name", nil)
	}
	args, _ := params["arguments"].(map[string]any)

	meta := tool.Meta{
		RequestID: uuid.New().String(),
		SessionID: req.SessionID,
		SourceIP:  req.SourceIP,
	}

	result := h.invocations.Call(ctx, req.ExecCtx, name, args, meta)
	if !result.OK() {
		return toolErrorResponse(id, result.Err)
	}

	text, err := json.Marshal(result.Payload)
	if err != nil {
		h.logger.Error("payload marshal failed", "tool", name, "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "internal error", nil)
	}
	return mcp.NewResultResponse(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
		"structuredContent": result.Payload,
		"isError":           false,
	})
}

func (h *Handler) handleSessionClose(ctx context.Context, req *Request, id json.RawMessage) *mcp.Response {
	sessionID := req.SessionID
	if params := req.Msg.ParseParams(); params != nil {
		if explicit, ok := params["sessionId"].(string); ok && explicit != "" {
			sessionID = explicit
		}
	}
	if sessionID == "" {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "no session to close", nil)
	}
	h.invocations.CloseSession(ctx, sessionID)
	return mcp.NewResultResponse(id, map[string]any{"closed": true})
}

// toolErrorResponse maps the taxonomy onto JSON-RPC codes. The taxonomy
// code always rides along in error.data so clients keep the fine
// distinction the JSON-RPC code collapses.
func toolErrorResponse(id json.RawMessage, terr *tool.Error) *mcp.Response {
	data := map[string]any{"code": string(terr.Code)}
	if len(terr.Fields) > 0 {
		data["fields"] = terr.Fields
	}
	return mcp.NewErrorResponse(id, jsonrpcCode(terr.Code), terr.Message, data)
}

func jsonrpcCode(code tool.Code) int {
	switch code {
	case tool.CodeToolNotFound:
		return mcp.CodeMethodNotFound
	case tool.CodeValidation:
		return mcp.CodeInvalidParams
	case tool.CodeAuthorization, tool.CodeDelegationRequired, tool.CodeForbidden:
		return mcp.CodeForbidden
	case tool.CodeNotFound:
		return mcp.CodeNotFound
	case tool.CodeConflict:
		return mcp.CodeConflict
	case tool.CodeInvalidState:
		return mcp.CodeInvalidState
	case tool.CodeExecution:
		return mcp.CodeToolError
	case tool.CodeUnavailable:
		return mcp.CodeInternalError
	default:
		return mcp.CodeInternalError
	}
}

// authErrorResponse maps authentication failures onto JSON-RPC codes.
// Terminal credential failures stay indistinct; delegation failures carry
// their typed code in error.data.
func authErrorResponse(id json.RawMessage, err error) *mcp.Response {
	var delegErr *delegation.Error
	switch {
	case errors.As(err, &delegErr):
		return mcp.NewErrorResponse(id, mcp.CodeUnauthorized, delegErr.Message,
			map[string]any{"code": string(delegErr.Code)})
	case errors.Is(err, service.ErrUnauthenticated):
		return mcp.NewErrorResponse(id, mcp.CodeUnauthorized, "authentication failed", nil)
	case errors.Is(err, service.ErrAuthUnavailable):
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "authentication temporarily unavailable", nil)
	default:
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "internal error", nil)
	}
}
