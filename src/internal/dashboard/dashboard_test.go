package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssalihsrz/openclaw/src/internal/configpatch"
	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/journal"
	"github.com/ssalihsrz/openclaw/src/internal/metrics"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

type fakeGateway struct {
	mu       sync.Mutex
	status   service.Status
	startErr error
	starts   int
	stops    int
	log      *service.LogBuffer
	subs     map[chan service.Status]struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		status: service.Status{State: service.StateStopped},
		log:    service.NewLogBuffer(1024),
		subs:   make(map[chan service.Status]struct{}),
	}
}

func (g *fakeGateway) Status() service.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *fakeGateway) set(state service.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status.State = state
	for ch := range g.subs {
		select {
		case ch <- g.status:
		default:
		}
	}
}

func (g *fakeGateway) Start(context.Context) error {
	g.mu.Lock()
	g.starts++
	err := g.startErr
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.set(service.StateRunning)
	return nil
}

func (g *fakeGateway) Stop(context.Context) error {
	g.mu.Lock()
	g.stops++
	g.mu.Unlock()
	g.set(service.StateStopped)
	return nil
}

func (g *fakeGateway) Restart(ctx context.Context) error {
	_ = g.Stop(ctx)
	return g.Start(ctx)
}

func (g *fakeGateway) Log() *service.LogBuffer { return g.log }

func (g *fakeGateway) Subscribe() chan service.Status {
	ch := make(chan service.Status, 8)
	g.mu.Lock()
	g.subs[ch] = struct{}{}
	g.mu.Unlock()
	return ch
}

func (g *fakeGateway) Unsubscribe(ch chan service.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.subs[ch]; ok {
		delete(g.subs, ch)
		close(ch)
	}
}

type staticInspector struct {
	mu        sync.Mutex
	listeners map[int][]portmanager.Listener
	calls     int
}

func (s *staticInspector) Inspect(_ context.Context, port int) portmanager.PortReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return portmanager.PortReport{Port: port, Summary: "checked", Listeners: append([]portmanager.Listener{}, s.listeners[port]...)}
}

func (s *staticInspector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingTerminator struct {
	mu   sync.Mutex
	pids []int
}

func (r *recordingTerminator) Terminate(_ context.Context, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids = append(r.pids, pid)
	return nil
}

func (r *recordingTerminator) killed() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int{}, r.pids...)
}

type fixture struct {
	srv     *Server
	http    *httptest.Server
	store   *settings.Store
	gateway *fakeGateway
	insp    *staticInspector
	term    *recordingTerminator
	diag    *diagnostics.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := settings.Default()
	cfg.ConfigDocument = filepath.Join(dir, "openclaw.json")
	cfg.Dashboard.ChecksPerSecond = 1000
	store := settings.NewStore(filepath.Join(dir, "gatewayctl.yaml"), cfg)

	insp := &staticInspector{listeners: map[int][]portmanager.Listener{
		18789: {{PID: 100, Command: "openclaw", FullCommandLine: "openclaw gateway", Expected: true}},
		18790: {{PID: 300, Command: "python3", FullCommandLine: "python3 -m http.server"}},
	}}
	term := &recordingTerminator{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	diag := diagnostics.NewController(store, insp, term, m)
	gw := newFakeGateway()

	srv := New(store, gw, diag, reg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, http: ts, store: store, gateway: gw, insp: insp, term: term, diag: diag}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandleGetStatus(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	st := decode[service.Status](t, resp)
	assert.Equal(t, service.StateStopped, st.State)
}

func TestGatewayActions(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/gateway/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.StateRunning, decode[service.Status](t, resp).State)

	resp = f.do(t, http.MethodPost, "/api/gateway/restart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/gateway/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.StateStopped, decode[service.Status](t, resp).State)

	assert.Equal(t, 2, f.gateway.starts)
	assert.Equal(t, 2, f.gateway.stops)

	resp = f.do(t, http.MethodPost, "/api/gateway/explode", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGatewayStart_Conflict(t *testing.T) {
	f := newFixture(t)
	f.gateway.startErr = service.ErrAlreadyRunning

	resp := f.do(t, http.MethodPost, "/api/gateway/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decode[errorResponse](t, resp).Error, "already running")
}

func TestLogs_GetSinceAndClear(t *testing.T) {
	f := newFixture(t)
	f.gateway.log.Append("first\n")
	f.gateway.log.Append("second\n")

	resp := f.do(t, http.MethodGet, "/api/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[LogsResponse](t, resp)
	require.Len(t, logs.Entries, 2)
	assert.Equal(t, 1024, logs.MaxBytes)

	resp = f.do(t, http.MethodGet, "/api/logs?since="+strconv.FormatUint(logs.Entries[0].Seq, 10), nil)
	since := decode[LogsResponse](t, resp)
	require.Len(t, since.Entries, 1)
	assert.Equal(t, "second\n", since.Entries[0].Text)

	resp = f.do(t, http.MethodGet, "/api/logs?since=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/logs", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, f.gateway.log.Size())
}

func TestGetPorts_RateLimitedServesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.srv.limiter.SetLimit(0)
	f.srv.limiter.SetBurst(1)

	resp := f.do(t, http.MethodGet, "/api/ports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(CachedHeader))
	snap := decode[diagnostics.Snapshot](t, resp)
	require.Len(t, snap.Reports, 2)
	assert.Equal(t, 18789, snap.Reports[0].Port)

	calls := f.insp.callCount()
	resp = f.do(t, http.MethodGet, "/api/ports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(CachedHeader))
	assert.Len(t, decode[diagnostics.Snapshot](t, resp).Reports, 2)
	assert.Equal(t, calls, f.insp.callCount(), "limited request must not inspect again")
}

func TestKillFlow(t *testing.T) {
	f := newFixture(t)
	_, err := f.diag.CheckPorts(context.Background())
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/ports/kill", pidRequest{PID: 999})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/ports/kill", pidRequest{PID: 300})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kill := decode[KillResponse](t, resp)
	assert.True(t, kill.Terminated)
	assert.False(t, kill.Pending)
	assert.Equal(t, []int{300}, f.term.killed())

	resp = f.do(t, http.MethodPost, "/api/ports/kill", pidRequest{PID: 100})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kill = decode[KillResponse](t, resp)
	assert.True(t, kill.Pending)
	assert.NotEmpty(t, kill.TicketID)
	assert.Equal(t, []int{300}, f.term.killed(), "expected listener waits for confirmation")

	resp = f.do(t, http.MethodGet, "/api/ports/pending", nil)
	pending := decode[struct {
		Pending *portmanager.Listener `json:"pending"`
	}](t, resp)
	require.NotNil(t, pending.Pending)
	assert.Equal(t, 100, pending.Pending.PID)

	resp = f.do(t, http.MethodPost, "/api/ports/confirm", pidRequest{PID: 300})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, []int{300}, f.term.killed())

	resp = f.do(t, http.MethodPost, "/api/ports/confirm", pidRequest{PID: 100})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int{300, 100}, f.term.killed())

	resp = f.do(t, http.MethodPost, "/api/ports/confirm", pidRequest{PID: 100})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.diag.CheckPorts(context.Background())
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/ports/kill", pidRequest{PID: 100})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/ports/cancel", nil)
	body := decode[struct {
		Cancelled bool `json:"cancelled"`
	}](t, resp)
	assert.True(t, body.Cancelled)
	assert.Empty(t, f.term.killed())
}

func TestKill_InvalidBody(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/api/ports/kill", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAttachOnlySetting(t *testing.T) {
	f := newFixture(t)
	sub := f.store.Subscribe()
	defer f.store.Unsubscribe(sub)

	resp := f.do(t, http.MethodGet, "/api/settings/attach-only", nil)
	assert.False(t, decode[attachOnlyBody](t, resp).AttachOnly)

	resp = f.do(t, http.MethodPut, "/api/settings/attach-only", attachOnlyBody{AttachOnly: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[attachOnlyBody](t, resp).AttachOnly)
	assert.True(t, f.store.Get().AttachOnly)

	select {
	case s := <-sub:
		assert.True(t, s.AttachOnly)
	case <-time.After(time.Second):
		t.Fatal("settings change not broadcast")
	}

	data, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "attachOnly: true")
}

func TestSessionStore_WritesDocument(t *testing.T) {
	f := newFixture(t)
	doc := f.store.Get().ConfigDocument
	require.NoError(t, os.WriteFile(doc, []byte(`{"other":{"x":1}}`), 0600))

	resp := f.do(t, http.MethodPut, "/api/config/session-store", sessionStoreBody{Path: "/data/sessions"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	value, err := configpatch.SessionStore(doc)
	require.NoError(t, err)
	assert.Equal(t, "/data/sessions", value)

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	d, err := configpatch.ParseDocument(data)
	require.NoError(t, err)
	x, ok := d.Get("other", "x")
	require.True(t, ok)
	assert.JSONEq(t, "1", string(x))

	resp = f.do(t, http.MethodGet, "/api/config/session-store", nil)
	got := decode[SessionStoreResponse](t, resp)
	assert.Equal(t, "/data/sessions", got.Path)
	assert.Equal(t, "/data/sessions", got.DocumentValue)
}

func TestSessionStore_KeepsSettingWhenDocumentWriteFails(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	_, err := f.store.Update(func(s *settings.Settings) {
		s.ConfigDocument = filepath.Join(blocker, "openclaw.json")
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPut, "/api/config/session-store", sessionStoreBody{Path: "/data/sessions"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[SessionStoreResponse](t, resp)
	assert.NotEmpty(t, body.Error)

	assert.Equal(t, "/data/sessions", f.store.Get().SessionStore)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.diag.CheckPorts(context.Background())
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "gatewayctl_port_check_duration_seconds")
}

func TestFallbackPage(t *testing.T) {
	f := newFixture(t)
	_, err := f.diag.CheckPorts(context.Background())
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Gateway: stopped")
	assert.Contains(t, buf.String(), "checked")
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	f := newFixture(t)
	url, err := f.srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.srv.Stop(ctx)
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventStatus, ev.Type)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventPorts, ev.Type)

	// The client is registered after the initial events; wait for it.
	require.Eventually(t, func() bool {
		f.srv.clientsMu.RLock()
		defer f.srv.clientsMu.RUnlock()
		return len(f.srv.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.gateway.log.Append("hello\n")
	ev = Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventLog, ev.Type)
	require.NotNil(t, ev.Entry)
	assert.Equal(t, "hello\n", ev.Entry.Text)

	f.gateway.set(service.StateRunning)
	ev = Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventStatus, ev.Type)
	require.NotNil(t, ev.Status)
	assert.Equal(t, service.StateRunning, ev.Status.State)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Del("Origin")
	assert.True(t, upgrader.CheckOrigin(req))
}

func TestStop_NotStartedIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.srv.Stop(context.Background()))
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	j, err := journal.Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	require.NoError(t, j.Record(context.Background(), journal.Event{Kind: journal.KindState, State: "running"}))
	require.NoError(t, j.Record(context.Background(), journal.Event{Kind: journal.KindKill, Outcome: "terminated"}))

	srv := New(f.store, f.gateway, f.diag, nil, WithEvents(j))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events?kind=state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]journal.Event](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, "running", events[0].State)

	bad, err := http.Get(ts.URL + "/api/events?limit=-1")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	noMetrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer noMetrics.Body.Close()
	assert.Equal(t, http.StatusNotFound, noMetrics.StatusCode)
}

func TestEventsEndpoint_DisabledWithoutJournal(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMutatingRoutes_RejectCrossSiteRequests(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/ports", nil)

	post := func(path, contentType, origin string) int {
		req, err := http.NewRequest(http.MethodPost, f.http.URL+path, strings.NewReader(`{"pid":100}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", contentType)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post("/api/ports/kill", "text/plain", "https://evil.example"))
	assert.Equal(t, http.StatusForbidden, post("/api/ports/confirm", "text/plain", "https://evil.example"))
	assert.Equal(t, http.StatusForbidden, post("/api/gateway/stop", "application/json", "https://evil.example"))
	assert.Equal(t, http.StatusUnsupportedMediaType, post("/api/ports/kill", "text/plain", ""))
	assert.Equal(t, http.StatusUnsupportedMediaType, post("/api/ports/kill", "application/x-www-form-urlencoded", "http://localhost:5173"))

	_, pending := f.diag.Pending()
	assert.False(t, pending)
	assert.Empty(t, f.term.killed())
	assert.Zero(t, f.gateway.stops)

	assert.Equal(t, http.StatusOK, post("/api/ports/kill", "application/json; charset=utf-8", "http://localhost:5173"))
}

func TestGuard_RejectsForeignHost(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Host = "rebind.example:18800"
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, host := range []string{"127.0.0.1:18800", "localhost:18800", "[::1]:18800", "localhost"} {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, host)
	}
}
