// Package api implements the hub's HTTP surface: registry reads, state
// reads and writes, command dispatch, automation management, and the
// events websocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/automation"
	"github.com/JacobSoderblom/krypin/internal/buildinfo"
	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/metrics"
	"github.com/JacobSoderblom/krypin/internal/model"
	"github.com/JacobSoderblom/krypin/internal/storage"
)

// defaultHistoryLimit caps history responses when the client does not
// pass an explicit limit.
const defaultHistoryLimit = 50

// writeJSON encodes v to w. An encode failure almost always means the
// client went away mid-response, so it is logged at debug and dropped.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Rescheduler is notified after automation writes so time triggers stay
// in sync with the stored definitions.
type Rescheduler interface {
	Sync(ctx context.Context) error
}

// Server is the hub's HTTP API server.
type Server struct {
	bind    string
	store   storage.Store
	bus     bus.Bus
	engine  *automation.Engine
	resched Rescheduler
	metrics *metrics.Metrics
	tokens  []string
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. The API starts open; call
// SetTokens to require authentication.
func NewServer(bind string, store storage.Store, b bus.Bus, engine *automation.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bind:   bind,
		store:  store,
		bus:    b,
		engine: engine,
		logger: logger,
	}
}

// SetTokens configures the accepted API tokens. An empty list leaves
// every endpoint open.
func (s *Server) SetTokens(tokens []string) {
	s.tokens = tokens
}

// SetMetrics configures the collectors behind /metrics and the request
// counter.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetRescheduler configures the scheduler resync hook invoked after
// automation writes.
func (s *Server) SetRescheduler(r Rescheduler) {
	s.resched = r
}

// routes builds the full handler tree. /healthz and /metrics stay
// public; everything under /v1 goes through requireAuth.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /v1/areas", s.requireAuth(s.handleAreaList))
	mux.HandleFunc("GET /v1/devices", s.requireAuth(s.handleDeviceList))
	mux.HandleFunc("GET /v1/entities", s.requireAuth(s.handleEntityList))

	mux.HandleFunc("GET /v1/states/{entityID}", s.requireAuth(s.handleStateGet))
	mux.HandleFunc("GET /v1/states/{entityID}/history", s.requireAuth(s.handleStateHistory))
	mux.HandleFunc("POST /v1/states/{entityID}", s.requireAuth(s.handleStateSet))

	mux.HandleFunc("POST /v1/command/{entityID}", s.requireAuth(s.handleCommandSend))

	mux.HandleFunc("POST /v1/automations", s.requireAuth(s.handleAutomationCreate))
	mux.HandleFunc("GET /v1/automations", s.requireAuth(s.handleAutomationList))
	mux.HandleFunc("POST /v1/automations/{id}/enable", s.requireAuth(s.handleAutomationEnable))
	mux.HandleFunc("POST /v1/automations/{id}/disable", s.requireAuth(s.handleAutomationDisable))
	mux.HandleFunc("POST /v1/automations/{id}/test", s.requireAuth(s.handleAutomationTest))

	mux.HandleFunc("GET /v1/events/ws", s.requireAuth(s.handleEventsWS))

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called. Handler contexts descend from ctx, so
// cancelling it ends long-lived sessions like the events websocket.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.bind,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "bind", s.bind)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for the request log and
// the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the events websocket take over the connection; the
// wrapped writer must support it.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, strconv.Itoa(rec.status))
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	}, s.logger)
}

// Registry handlers

func (s *Server) handleAreaList(w http.ResponseWriter, r *http.Request) {
	areas, err := s.store.ListAreas(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, areas, s.logger)
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, devices, s.logger)
}

func (s *Server) handleEntityList(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.ListEntities(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entities, s.logger)
}

// State handlers

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("entityID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid entity_id")
		return
	}

	state, err := s.store.LatestEntityState(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "no state")
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, state, s.logger)
}

func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("entityID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid entity_id")
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = &t
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	states, err := s.store.EntityStateHistory(r.Context(), id, since, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if states == nil {
		states = []model.EntityState{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, states, s.logger)
}

type setStateRequest struct {
	Value      any            `json:"value"`
	Attributes map[string]any `json:"attributes"`
	Source     *string        `json:"source"`
}

func (s *Server) handleStateSet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("entityID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid entity_id")
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	attrs := req.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	source := req.Source
	if source == nil {
		if label := CallerLabel(r.Context()); label != "" {
			source = &label
		}
	}

	now := time.Now().UTC()
	state := model.EntityState{
		EntityID:    id,
		Value:       req.Value,
		Attributes:  attrs,
		LastChanged: now,
		LastUpdated: now,
		Source:      source,
	}
	if err := s.store.SetEntityState(r.Context(), state); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"ok": true}, s.logger)
}

// Command handler

// sendCommandRequest is lenient: a missing action means "set", a
// missing value rides as null, and a malformed correlation_id is
// ignored rather than rejected.
type sendCommandRequest struct {
	Action        string `json:"action"`
	Value         any    `json:"value"`
	CorrelationID string `json:"correlation_id"`
}

func (s *Server) handleCommandSend(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("entityID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid entity_id")
		return
	}

	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		req.Action = "set"
	}
	var correlation *uuid.UUID
	if req.CorrelationID != "" {
		if parsed, err := uuid.Parse(req.CorrelationID); err == nil {
			correlation = &parsed
		}
	}

	caller := CallerLabel(r.Context())
	if caller == "" {
		caller = "anonymous"
	}
	s.logger.Info("sending command", "entity_id", id, "user", caller)

	payload, err := json.Marshal(contract.CommandSet{
		Action:        req.Action,
		Value:         req.Value,
		CorrelationID: correlation,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "encode command: "+err.Error())
		return
	}
	if err := s.bus.Publish(r.Context(), bus.Message{Topic: contract.CommandTopic(id), Payload: payload}); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"status": "accepted"}
	if correlation != nil {
		resp["correlation_id"] = correlation
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, resp, s.logger)
}

// Automation handlers

func (s *Server) handleAutomationCreate(w http.ResponseWriter, r *http.Request) {
	var req automation.NewAutomation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def, err := s.engine.Create(r.Context(), req)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.resync(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, def, s.logger)
}

func (s *Server) handleAutomationList(w http.ResponseWriter, r *http.Request) {
	defs, err := s.engine.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if defs == nil {
		defs = []automation.Definition{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, defs, s.logger)
}

func (s *Server) handleAutomationEnable(w http.ResponseWriter, r *http.Request) {
	s.setAutomationEnabled(w, r, true)
}

func (s *Server) handleAutomationDisable(w http.ResponseWriter, r *http.Request) {
	s.setAutomationEnabled(w, r, false)
}

func (s *Server) setAutomationEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid id")
		return
	}

	def, err := s.engine.SetEnabled(r.Context(), id, enabled)
	if errors.Is(err, automation.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.resync(r.Context())

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, def, s.logger)
}

func (s *Server) handleAutomationTest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid id")
		return
	}

	var event automation.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.engine.Test(r.Context(), id, event)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, run, s.logger)
}

// resync pushes automation changes into the time trigger scheduler.
// Failures are logged; the write that prompted the resync already
// succeeded.
func (s *Server) resync(ctx context.Context) {
	if s.resched == nil {
		return
	}
	if err := s.resched.Sync(ctx); err != nil {
		s.logger.Warn("scheduler sync failed", "error", err)
	}
}
