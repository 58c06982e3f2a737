package mcpserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/seclens/seclens/internal/domain/session"
	"github.com/seclens/seclens/pkg/mcp"
)

// maxFrameBytes bounds a single newline-delimited JSON-RPC frame.
const maxFrameBytes = 1 << 20

// StdioTransport serves MCP over newline-delimited JSON-RPC on
// stdin/stdout. Clients that cannot set HTTP headers pass the credential
// token as params._meta.token and the delegate as
// params._meta.delegateEmail on every request.
type StdioTransport struct {
	handler *Handler
	logger  *slog.Logger

	in  io.Reader
	out io.Writer
	mu  sync.Mutex // serializes writes to out

	// sessionID is the single stdio session, set by initialize. One
	// process, one client, one session.
	sessionID string
}

// NewStdioTransport creates a stdio transport reading os.Stdin and writing
// os.Stdout.
func NewStdioTransport(handler *Handler, logger *slog.Logger) *StdioTransport {
	return &StdioTransport{
		handler: handler,
		logger:  logger,
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// Start reads frames until EOF or context cancellation.
func (t *StdioTransport) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Copy: scanner reuses its buffer on the next Scan.
		frame := make([]byte, len(line))
		copy(frame, line)

		t.handleFrame(ctx, frame)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func (t *StdioTransport) handleFrame(ctx context.Context, frame []byte) {
	msg, err := mcp.WrapMessage(frame)
	if err != nil {
		t.write(mcp.NewErrorResponse(rawID(frame), mcp.CodeParseError, "invalid JSON-RPC message", nil))
		return
	}

	execCtx, err := t.handler.invocations.Authenticate(ctx, msg.Meta("token"), msg.Meta("delegateEmail"), "local")
	if err != nil {
		if !msg.IsNotification() {
			t.write(authErrorResponse(msg.RawID(), err))
		}
		return
	}

	resp := t.handler.Handle(ctx, &Request{
		Msg:       msg,
		ExecCtx:   execCtx,
		SessionID: t.sessionID,
		ConnType:  session.ConnStream,
		SourceIP:  "local",
	})
	if resp == nil {
		return
	}

	// initialize established the session; remember it for later frames.
	if msg.Method() == "initialize" && resp.Error == nil {
		if result, ok := resp.Result.(map[string]any); ok {
			if id, ok := result["sessionId"].(string); ok {
				t.sessionID = id
			}
		}
	}
	t.write(resp)
}

func (t *StdioTransport) write(resp *mcp.Response) {
	data, err := resp.Encode()
	if err != nil {
		t.logger.Error("response encode failed", "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.out.Write(append(data, '\n'))
}

// Close gracefully shuts down the transport. For stdio there are no
// resources to clean up.
func (t *StdioTransport) Close() error {
	return nil
}
