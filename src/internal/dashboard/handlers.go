package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ssalihsrz/openclaw/src/internal/configpatch"
	"github.com/ssalihsrz/openclaw/src/internal/diagnostics"
	"github.com/ssalihsrz/openclaw/src/internal/journal"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
	"github.com/ssalihsrz/openclaw/src/internal/portmanager"
	"github.com/ssalihsrz/openclaw/src/internal/service"
	"github.com/ssalihsrz/openclaw/src/internal/settings"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 * 1024

// CachedHeader is set on /api/ports responses served from the last snapshot.
const CachedHeader = "X-Ports-Cached"

type errorResponse struct {
	Error string `json:"error"`
}

type pidRequest struct {
	PID int `json:"pid"`
}

// KillResponse describes the outcome of a kill request.
type KillResponse struct {
	TicketID string               `json:"ticketId"`
	Listener portmanager.Listener `json:"listener"`
	// Pending is set when the listener awaits confirmation.
	Pending    bool `json:"pending"`
	Terminated bool `json:"terminated"`
}

type attachOnlyBody struct {
	AttachOnly bool `json:"attachOnly"`
}

type sessionStoreBody struct {
	Path string `json:"path"`
}

// SessionStoreResponse reports the stored path and where it was written.
type SessionStoreResponse struct {
	Path     string `json:"path"`
	Document string `json:"document"`
	// DocumentValue is the value currently in the config document.
	DocumentValue string `json:"documentValue,omitempty"`
	Error         string `json:"error,omitempty"`
}

// LogsResponse is the body of GET /api/logs.
type LogsResponse struct {
	Entries  []service.LogEntry `json:"entries"`
	Size     int                `json:"size"`
	MaxBytes int                `json:"maxBytes"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Status())
}

// handleGetLogs returns retained log entries, optionally only those after ?since=seq.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	buf := s.gateway.Log()

	entries := buf.Entries()
	if since := r.URL.Query().Get("since"); since != "" {
		seq, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since %q", since))
			return
		}
		entries = buf.Since(seq)
	}
	if entries == nil {
		entries = []service.LogEntry{}
	}

	writeJSON(w, http.StatusOK, LogsResponse{Entries: entries, Size: buf.Size(), MaxBytes: buf.MaxBytes()})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.gateway.Log().Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGatewayAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.gateway.Start(r.Context())
	case "stop":
		err = s.gateway.Stop(r.Context())
	case "restart":
		err = s.gateway.Restart(r.Context())
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown gateway action %q", action))
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.gateway.Status())
	case errors.Is(err, service.ErrStartInProgress), errors.Is(err, service.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleGetPorts runs a port check, or returns the last snapshot when checks
// arrive faster than the configured rate.
func (s *Server) handleGetPorts(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set(CachedHeader, "true")
		writeJSON(w, http.StatusOK, s.diag.Snapshot())
		return
	}
	if _, err := s.diag.CheckPorts(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.diag.Snapshot())
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Pending *portmanager.Listener `json:"pending"`
	}{}
	if l, ok := s.diag.Pending(); ok {
		resp.Pending = &l
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleKill requests termination of a listener by pid. The expected flag
// comes from the last port check, never from the client.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req pidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ticket, err := s.diag.RequestKillPID(r.Context(), req.PID)
	if errors.Is(err, diagnostics.ErrUnknownListener) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resolved := ticket.Resolved()
	writeJSON(w, http.StatusOK, KillResponse{
		TicketID:   ticket.ID,
		Listener:   ticket.Listener,
		Pending:    !resolved,
		Terminated: resolved,
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req pidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.diag.Confirm(r.Context(), req.PID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.diag.Snapshot())
	case errors.Is(err, diagnostics.ErrNoPendingKill), errors.Is(err, diagnostics.ErrPendingMismatch):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Cancelled bool `json:"cancelled"`
	}{s.diag.Cancel()})
}

func (s *Server) handleGetAttachOnly(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, attachOnlyBody{AttachOnly: s.store.Get().AttachOnly})
}

func (s *Server) handlePutAttachOnly(w http.ResponseWriter, r *http.Request) {
	var req attachOnlyBody
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.store.SetAttachOnly(req.AttachOnly); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, attachOnlyBody{AttachOnly: s.store.Get().AttachOnly})
}

func (s *Server) handleGetSessionStore(w http.ResponseWriter, r *http.Request) {
	cfg := s.store.Get()
	resp := SessionStoreResponse{Path: cfg.SessionStore, Document: cfg.ConfigDocument}
	value, err := configpatch.SessionStore(cfg.ConfigDocument)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.DocumentValue = value
	writeJSON(w, http.StatusOK, resp)
}

// handlePutSessionStore records the path in settings first, so the entered
// value survives a failed document write.
func (s *Server) handlePutSessionStore(w http.ResponseWriter, r *http.Request) {
	var req sessionStoreBody
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, err := s.store.Update(func(st *settings.Settings) { st.SessionStore = req.Path })
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Save(); err != nil {
		logging.Warn("failed to persist settings", "error", err)
	}

	resp := SessionStoreResponse{Path: cfg.SessionStore, Document: cfg.ConfigDocument}
	if err := configpatch.SetSessionStore(cfg.ConfigDocument, req.Path); err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.DocumentValue = req.Path
	writeJSON(w, http.StatusOK, resp)
}

// handleGetEvents lists journal events, newest first. ?limit and ?kind filter.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	events, err := s.events.Recent(r.Context(), limit, journal.Kind(r.URL.Query().Get("kind")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
