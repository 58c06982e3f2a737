package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	inboundhttp "github.com/seclens/seclens/internal/adapter/inbound/http"
	"github.com/seclens/seclens/internal/domain/session"
	"github.com/seclens/seclens/internal/service"
	"github.com/seclens/seclens/pkg/mcp"
)

// maxBodyBytes bounds a single JSON-RPC frame over HTTP.
const maxBodyBytes = 1 << 20

// HTTPTransport serves MCP over HTTP POST. Credentials travel in headers:
// Authorization: Bearer for the token, X-Delegate-Email for delegation,
// Mcp-Session-Id for the session established by initialize.
type HTTPTransport struct {
	handler     *Handler
	invocations *service.InvocationService
	sessions    *session.Manager

	server  *http.Server
	addr    string
	logger  *slog.Logger
	metrics *inboundhttp.Metrics
	health  *inboundhttp.HealthChecker
	reg     *prometheus.Registry
}

// HTTPOption is a functional option for configuring HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithAddr sets the listen address. Default "127.0.0.1:8080".
func WithAddr(addr string) HTTPOption {
	return func(t *HTTPTransport) { t.addr = addr }
}

// WithHTTPLogger sets the transport logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.logger = logger }
}

// WithMetrics sets pre-built metrics and their registry. When unset the
// transport builds its own registry with the standard Go collectors.
func WithMetrics(reg *prometheus.Registry, m *inboundhttp.Metrics) HTTPOption {
	return func(t *HTTPTransport) {
		t.reg = reg
		t.metrics = m
	}
}

// WithHealthChecker sets the health checker for /healthz.
func WithHealthChecker(hc *inboundhttp.HealthChecker) HTTPOption {
	return func(t *HTTPTransport) { t.health = hc }
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(handler *Handler, invocations *service.InvocationService, sessions *session.Manager, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		handler:     handler,
		invocations: invocations,
		sessions:    sessions,
		addr:        "127.0.0.1:8080",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if t.reg == nil {
		t.reg = prometheus.NewRegistry()
		t.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = inboundhttp.NewMetrics(t.reg)
	}

	mux := http.NewServeMux()
	if t.health != nil {
		mux.Handle("/healthz", t.health.Handler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.reg, promhttp.HandlerOpts{Registry: t.reg}))
	mux.Handle("/mcp", http.HandlerFunc(t.serveMCP))
	mux.Handle("/mcp/", http.HandlerFunc(t.serveMCP))

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Keep the active-sessions gauge fresh without a store hit per scrape.
	gaugeDone := make(chan struct{})
	go t.refreshSessionGauge(ctx, gaugeDone)

	select {
	case <-ctx.Done():
		close(gaugeDone)
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		close(gaugeDone)
		return err
	}
}

// serveMCP handles one JSON-RPC frame per POST.
func (t *HTTPTransport) serveMCP(w http.ResponseWriter, r *http.Request) {
	method := "unknown"
	status := "ok"
	defer func() {
		if t.metrics != nil {
			t.metrics.RequestsTotal.WithLabelValues(method, status).Inc()
		}
	}()

	if r.Method != http.MethodPost {
		status = "error"
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		status = "error"
		writeResponse(w, http.StatusBadRequest, mcp.NewErrorResponse(nil, mcp.CodeParseError, "unreadable request body", nil))
		return
	}

	msg, err := mcp.WrapMessage(body)
	if err != nil {
		status = "error"
		writeResponse(w, http.StatusBadRequest, mcp.NewErrorResponse(rawID(body), mcp.CodeParseError, "invalid JSON-RPC message", nil))
		return
	}
	method = msg.Method()

	sourceIP := clientIP(r)
	execCtx, err := t.invocations.Authenticate(r.Context(), bearerToken(r), r.Header.Get("X-Delegate-Email"), sourceIP)
	if err != nil {
		status = "error"
		writeResponse(w, http.StatusUnauthorized, authErrorResponse(msg.RawID(), err))
		return
	}

	resp := t.handler.Handle(r.Context(), &Request{
		Msg:       msg,
		ExecCtx:   execCtx,
		SessionID: r.Header.Get("Mcp-Session-Id"),
		ConnType:  session.ConnRequest,
		SourceIP:  sourceIP,
		UserAgent: r.UserAgent(),
	})
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if resp.Error != nil {
		status = "error"
	}
	writeResponse(w, http.StatusOK, resp)
}

func (t *HTTPTransport) refreshSessionGauge(ctx context.Context, done <-chan struct{}) {
	if t.sessions == nil || t.metrics == nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if stats, err := t.sessions.Stats(ctx); err == nil {
				t.metrics.ActiveSessions.Set(float64(stats.Active))
			}
		}
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

func writeResponse(w http.ResponseWriter, httpStatus int, resp *mcp.Response) {
	data, err := resp.Encode()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(data)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// clientIP prefers the first X-Forwarded-For entry, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rawID pulls the id field out of bytes that failed full decoding, so even
// parse errors echo the ID when one is recoverable.
func rawID(body []byte) json.RawMessage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe["id"]
}
