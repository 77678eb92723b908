// Package dashboard serves the local control panel API: gateway lifecycle,
// log access, port diagnostics and live updates over a websocket.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"html"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/journal"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/service"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

const writeTimeout = 5 * time.Second

// Gateway is the supervisor surface the control panel drives.
type Gateway interface {
	Status() service.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Log() *service.LogBuffer
	Subscribe() chan service.Status
	Unsubscribe(ch chan service.Status)
}

// clientConn wraps a websocket connection with a write mutex for safe concurrent writes.
type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *clientConn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: localOrigin,
}

// localOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests from loopback pages.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return loopbackHost(u.Host)
}

// loopbackHost reports whether a host or host:port names the local machine.
func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// guard rejects requests addressed to a non-loopback Host, which covers DNS
// rebinding. Mutating requests must also come from a local origin and carry
// a JSON body type, so a cross-site form or text/plain POST never reaches a
// handler.
func guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r.Host) {
			writeError(w, http.StatusForbidden, fmt.Errorf("host %q is not allowed", r.Host))
			return
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !localOrigin(r) {
			writeError(w, http.StatusForbidden, fmt.Errorf("origin %q is not allowed", r.Header.Get("Origin")))
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, errors.New("content type must be application/json"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Event is a websocket message.
type Event struct {
	Type     string                `json:"type"`
	Status   *service.Status       `json:"status,omitempty"`
	Entry    *service.LogEntry     `json:"entry,omitempty"`
	Snapshot *diagnostics.Snapshot `json:"snapshot,omitempty"`
}

// Event types.
const (
	EventStatus = "status"
	EventLog    = "log"
	EventPorts  = "ports"
)

// EventSource lists persisted events.
type EventSource interface {
	Recent(ctx context.Context, limit int, kind journal.Kind) ([]journal.Event, error)
}

// Option configures a Server.
type Option func(*Server)

// WithEvents serves GET /api/events from src.
func WithEvents(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// Server is the control panel HTTP server.
type Server struct {
	store    *settings.Store
	gateway  Gateway
	diag     *diagnostics.Controller
	gatherer prometheus.Gatherer
	events   EventSource
	limiter  *rate.Limiter

	mux       *http.ServeMux
	server    *http.Server
	clients   map[*clientConn]bool
	clientsMu sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
	started   bool
	startedMu sync.Mutex
}

// New creates a server. gatherer may be nil to disable /metrics.
func New(store *settings.Store, gateway Gateway, diag *diagnostics.Controller, gatherer prometheus.Gatherer, opts ...Option) *Server {
	cfg := store.Get().Dashboard
	s := &Server{
		store:    store,
		gateway:  gateway,
		diag:     diag,
		gatherer: gatherer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ChecksPerSecond), 1),
		mux:      http.NewServeMux(),
		clients:  make(map[*clientConn]bool),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler returns the guarded HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return guard(s.mux)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /api/logs", s.handleGetLogs)
	s.mux.HandleFunc("DELETE /api/logs", s.handleClearLogs)
	s.mux.HandleFunc("POST /api/gateway/{action}", s.handleGatewayAction)
	s.mux.HandleFunc("GET /api/ports", s.handleGetPorts)
	s.mux.HandleFunc("GET /api/ports/pending", s.handleGetPending)
	s.mux.HandleFunc("POST /api/ports/kill", s.handleKill)
	s.mux.HandleFunc("POST /api/ports/confirm", s.handleConfirm)
	s.mux.HandleFunc("POST /api/ports/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/settings/attach-only", s.handleGetAttachOnly)
	s.mux.HandleFunc("PUT /api/settings/attach-only", s.handlePutAttachOnly)
	s.mux.HandleFunc("GET /api/config/session-store", s.handleGetSessionStore)
	s.mux.HandleFunc("PUT /api/config/session-store", s.handlePutSessionStore)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	if s.events != nil {
		s.mux.HandleFunc("GET /api/events", s.handleGetEvents)
	}
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("GET /{$}", s.handleFallback)
}

// Start binds addr and serves in the background. It returns the base URL.
func (s *Server) Start(addr string) (string, error) {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	if s.started {
		return "", errors.New("dashboard already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Subscribe before serving so no event is missed by early clients.
	statuses := s.gateway.Subscribe()
	logs := s.gateway.Log().Subscribe()
	snapshots := s.diag.Subscribe()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("dashboard server error", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		defer s.gateway.Unsubscribe(statuses)
		defer s.gateway.Log().Unsubscribe(logs)
		defer s.diag.Unsubscribe(snapshots)
		s.forward(statuses, logs, snapshots)
	}()

	s.started = true
	base := "http://" + ln.Addr().String()
	logging.Info("dashboard listening", "url", base)
	return base, nil
}

// Stop shuts the server down. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	s.startedMu.Lock()
	wasStarted := s.started
	s.started = false
	s.startedMu.Unlock()

	if !wasStarted {
		return nil
	}

	close(s.stopChan)

	s.clientsMu.Lock()
	for client := range s.clients {
		_ = client.conn.Close()
	}
	s.clientsMu.Unlock()

	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// forward relays status, log and port events to websocket clients.
func (s *Server) forward(statuses <-chan service.Status, logs <-chan service.LogEntry, snapshots <-chan diagnostics.Snapshot) {
	for {
		select {
		case <-s.stopChan:
			return
		case st, ok := <-statuses:
			if !ok {
				return
			}
			s.Broadcast(Event{Type: EventStatus, Status: &st})
		case entry, ok := <-logs:
			if !ok {
				return
			}
			s.Broadcast(Event{Type: EventLog, Entry: &entry})
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			s.Broadcast(Event{Type: EventPorts, Snapshot: &snap})
		}
	}
}

// Broadcast sends ev to all connected websocket clients.
func (s *Server) Broadcast(ev Event) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		if err := client.send(ev); err != nil {
			logging.Debug("websocket send failed", "error", err)
		}
	}
}

// handleWebSocket handles websocket connections for live updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &clientConn{conn: conn}

	st := s.gateway.Status()
	snap := s.diag.Snapshot()
	if err := client.send(Event{Type: EventStatus, Status: &st}); err != nil {
		_ = conn.Close()
		return
	}
	if err := client.send(Event{Type: EventPorts, Snapshot: &snap}); err != nil {
		_ = conn.Close()
		return
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		_ = conn.Close()
	}()

	// Clients only read; this loop detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleFallback renders a minimal HTML status page.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	st := s.gateway.Status()
	snap := s.diag.Snapshot()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>OpenClaw Gateway</title>
    <meta charset="utf-8">
    <style>
        body { font-family: system-ui, sans-serif; max-width: 900px; margin: 40px auto; padding: 20px; }
        .port { background: #f5f5f5; padding: 12px; margin: 8px 0; border-radius: 6px; }
    </style>
</head>
<body>
    <h1>Gateway: %s</h1>
    <p>Restarts: %d</p>
`, st.State, st.RestartCount)

	for _, report := range snap.Reports {
		fmt.Fprintf(w, "    <div class=\"port\">%s</div>\n", html.EscapeString(report.Summary))
	}

	fmt.Fprint(w, `    <hr>
    <p><a href="/api/status">Status (JSON)</a> | <a href="/api/ports">Ports (JSON)</a></p>
</body>
</html>`)
}
