package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/automation"
	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/metrics"
	"github.com/JacobSoderblom/krypin/internal/model"
	"github.com/JacobSoderblom/krypin/internal/storage"
)

// newTestServer wires a server around in-memory backends. Routing,
// middleware, and auth behave exactly as in production.
func newTestServer(t *testing.T) (*Server, *storage.Memory, *bus.Memory) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := storage.NewMemory()
	b := bus.NewMemory(nil)
	t.Cleanup(func() { b.Close() })
	engine := automation.NewEngine(automation.NewMemoryStore(), st, b, logger, nil)

	return NewServer("127.0.0.1:0", st, b, engine, logger), st, b
}

// seedEntity stores a device with one light entity and returns the
// entity id.
func seedEntity(t *testing.T, st storage.Store) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	device := model.Device{ID: uuid.New(), Name: "lamp", Adapter: "demo", Metadata: map[string]any{}}
	if err := st.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("seed device: %v", err)
	}
	entity := model.Entity{
		ID:         uuid.New(),
		DeviceID:   device.ID,
		Name:       "lamp",
		Domain:     model.DomainLight,
		Attributes: map[string]any{},
	}
	if err := st.UpsertEntity(ctx, entity); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	return entity.ID
}

// doRequest routes one request through the full handler tree.
func doRequest(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// errorMessage decodes the {"error": msg} body.
func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.SetTokens([]string{"secret"})
	h := srv.routes()

	// Stays public even with tokens configured.
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
	if body["version"] == "" {
		t.Error("version missing from healthz body")
	}
}

func TestRegistryLists(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.routes()
	ctx := context.Background()

	area := model.Area{ID: uuid.New(), Name: "kitchen"}
	if err := st.UpsertArea(ctx, area); err != nil {
		t.Fatalf("seed area: %v", err)
	}
	entityID := seedEntity(t, st)

	rec := doRequest(t, h, http.MethodGet, "/v1/areas", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("areas status = %d, want %d", rec.Code, http.StatusOK)
	}
	var areas []model.Area
	if err := json.Unmarshal(rec.Body.Bytes(), &areas); err != nil {
		t.Fatalf("decode areas: %v", err)
	}
	if len(areas) != 1 || areas[0].Name != "kitchen" {
		t.Errorf("areas = %+v, want one named kitchen", areas)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/devices", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("devices status = %d, want %d", rec.Code, http.StatusOK)
	}
	var devices []model.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("got %d devices, want 1", len(devices))
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/entities", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("entities status = %d, want %d", rec.Code, http.StatusOK)
	}
	var entities []model.Entity
	if err := json.Unmarshal(rec.Body.Bytes(), &entities); err != nil {
		t.Fatalf("decode entities: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != entityID {
		t.Errorf("entities = %+v, want the seeded one", entities)
	}
}

func TestStateSetAndGet(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.routes()
	entityID := seedEntity(t, st)

	rec := doRequest(t, h, http.MethodPost, "/v1/states/"+entityID.String(),
		`{"value":true,"attributes":{"brightness":128}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var ok map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &ok); err != nil {
		t.Fatalf("decode set response: %v", err)
	}
	if !ok["ok"] {
		t.Errorf("set response = %v, want ok true", ok)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/states/"+entityID.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
	var state model.EntityState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Value != true {
		t.Errorf("value = %v, want true", state.Value)
	}
	if got := state.Attributes["brightness"]; got != float64(128) {
		t.Errorf("brightness = %v, want 128", got)
	}
	if state.Source != nil {
		t.Errorf("source = %q, want nil on an open API", *state.Source)
	}
	if state.LastChanged.IsZero() || !state.LastChanged.Equal(state.LastUpdated) {
		t.Errorf("timestamps = %v / %v, want equal and set", state.LastChanged, state.LastUpdated)
	}
}

func TestStateGetErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.routes()

	rec := doRequest(t, h, http.MethodGet, "/v1/states/not-a-uuid", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorMessage(t, rec); got != "invalid entity_id" {
		t.Errorf("error = %q, want %q", got, "invalid entity_id")
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/states/"+uuid.NewString(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := errorMessage(t, rec); got != "no state" {
		t.Errorf("error = %q, want %q", got, "no state")
	}
}

func TestStateSetErrors(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.routes()

	// Unknown entity violates referential integrity.
	rec := doRequest(t, h, http.MethodPost, "/v1/states/"+uuid.NewString(), `{"value":1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	entityID := seedEntity(t, st)
	rec = doRequest(t, h, http.MethodPost, "/v1/states/"+entityID.String(), `{"value":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorMessage(t, rec); got != "invalid request body" {
		t.Errorf("error = %q, want %q", got, "invalid request body")
	}
}

func TestStateHistory(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.routes()
	entityID := seedEntity(t, st)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		state := model.EntityState{
			EntityID:    entityID,
			Value:       float64(i),
			Attributes:  map[string]any{},
			LastChanged: ts,
			LastUpdated: ts,
		}
		if err := st.SetEntityState(ctx, state); err != nil {
			t.Fatalf("seed state %d: %v", i, err)
		}
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/states/"+entityID.String()+"/history", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var states []model.EntityState
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("got %d states, want 3", len(states))
	}
	if states[0].Value != float64(2) || states[2].Value != float64(0) {
		t.Errorf("order = [%v %v %v], want most recent first", states[0].Value, states[1].Value, states[2].Value)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/states/"+entityID.String()+"/history?limit=2", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode limited history: %v", err)
	}
	if len(states) != 2 || states[0].Value != float64(2) {
		t.Errorf("limited history = %+v, want the 2 newest", states)
	}

	since := base.Add(time.Second).Format(time.RFC3339)
	rec = doRequest(t, h, http.MethodGet, "/v1/states/"+entityID.String()+"/history?since="+since, "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode since history: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("got %d states since %s, want 2", len(states), since)
	}
}

func TestStateHistoryBadQuery(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.routes()
	entityID := seedEntity(t, st)

	tests := []struct {
		name  string
		query string
	}{
		{"bad since", "?since=yesterday"},
		{"zero limit", "?limit=0"},
		{"negative limit", "?limit=-5"},
		{"non-numeric limit", "?limit=lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/v1/states/"+entityID.String()+"/history"+tt.query, "", nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestCommandSendPublishes(t *testing.T) {
	srv, _, b := newTestServer(t)
	h := srv.routes()

	ch, err := b.Subscribe(context.Background(), contract.TopicCommandPrefix+"*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	entityID := uuid.New()
	correlation := uuid.New()
	rec := doRequest(t, h, http.MethodPost, "/v1/command/"+entityID.String(),
		`{"value":"on","correlation_id":"`+correlation.String()+`"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("status = %v, want accepted", resp["status"])
	}
	if resp["correlation_id"] != correlation.String() {
		t.Errorf("correlation_id = %v, want %s", resp["correlation_id"], correlation)
	}

	select {
	case msg := <-ch:
		if msg.Topic != contract.CommandTopic(entityID) {
			t.Errorf("topic = %q, want %q", msg.Topic, contract.CommandTopic(entityID))
		}
		cmd, err := contract.DecodeCommandSet(msg.Payload)
		if err != nil {
			t.Fatalf("decode command: %v", err)
		}
		if cmd.Action != "set" {
			t.Errorf("action = %q, want %q", cmd.Action, "set")
		}
		if cmd.Value != "on" {
			t.Errorf("value = %v, want on", cmd.Value)
		}
		if cmd.CorrelationID == nil || *cmd.CorrelationID != correlation {
			t.Errorf("correlation = %v, want %s", cmd.CorrelationID, correlation)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published command")
	}
}

func TestCommandSendLenientBody(t *testing.T) {
	srv, _, b := newTestServer(t)
	h := srv.routes()

	ch, err := b.Subscribe(context.Background(), contract.TopicCommandPrefix+"*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// No body at all: action defaults, value rides as null, and a
	// malformed correlation id is dropped rather than rejected.
	entityID := uuid.New()
	rec := doRequest(t, h, http.MethodPost, "/v1/command/"+entityID.String(), "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, present := resp["correlation_id"]; present {
		t.Error("correlation_id present without one being sent")
	}

	select {
	case msg := <-ch:
		cmd, err := contract.DecodeCommandSet(msg.Payload)
		if err != nil {
			t.Fatalf("decode command: %v", err)
		}
		if cmd.Action != "set" || cmd.Value != nil || cmd.CorrelationID != nil {
			t.Errorf("command = %+v, want bare set", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published command")
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/command/"+entityID.String(),
		`{"action":"toggle","correlation_id":"not-a-uuid"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	select {
	case msg := <-ch:
		cmd, err := contract.DecodeCommandSet(msg.Payload)
		if err != nil {
			t.Fatalf("decode command: %v", err)
		}
		if cmd.Action != "toggle" || cmd.CorrelationID != nil {
			t.Errorf("command = %+v, want toggle without correlation", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the second command")
	}
}

func TestCommandSendErrors(t *testing.T) {
	srv, _, b := newTestServer(t)
	h := srv.routes()

	rec := doRequest(t, h, http.MethodPost, "/v1/command/banana", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorMessage(t, rec); got != "invalid entity_id" {
		t.Errorf("error = %q, want %q", got, "invalid entity_id")
	}

	b.Close()
	rec = doRequest(t, h, http.MethodPost, "/v1/command/"+uuid.NewString(), `{"value":1}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status after bus close = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestAutomationLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.routes()

	body := `{
		"name": "evening lights",
		"trigger": {"type": "manual"},
		"actions": [{"type": "log", "message": "fired"}]
	}`
	rec := doRequest(t, h, http.MethodPost, "/v1/automations", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var def automation.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode definition: %v", err)
	}
	if def.ID == uuid.Nil {
		t.Error("definition id missing")
	}
	if !def.Enabled {
		t.Error("enabled = false, want default true")
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/automations", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	var defs []automation.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != def.ID {
		t.Errorf("list = %+v, want the created automation", defs)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/automations/"+def.ID.String()+"/disable", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want %d", rec.Code, http.StatusOK)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode disabled definition: %v", err)
	}
	if def.Enabled {
		t.Error("enabled = true after disable")
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/automations/"+def.ID.String()+"/enable", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want %d", rec.Code, http.StatusOK)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode enabled definition: %v", err)
	}
	if !def.Enabled {
		t.Error("enabled = false after enable")
	}
}

func TestAutomationEnableErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.routes()

	rec := doRequest(t, h, http.MethodPost, "/v1/automations/bogus/enable", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorMessage(t, rec); got != "invalid id" {
		t.Errorf("error = %q, want %q", got, "invalid id")
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/automations/"+uuid.NewString()+"/enable", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAutomationCreateInvalid(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.routes()

	rec := doRequest(t, h, http.MethodPost, "/v1/automations",
		`{"trigger": {"type": "manual"}}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorMessage(t, rec); got != "missing name" {
		t.Errorf("error = %q, want %q", got, "missing name")
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/automations", `{`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAutomationTest(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.routes()

	body := `{
		"name": "on demand",
		"trigger": {"type": "manual"},
		"actions": [{"type": "log", "message": "ran"}]
	}`
	rec := doRequest(t, h, http.MethodPost, "/v1/automations", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var def automation.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode definition: %v", err)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/automations/"+def.ID.String()+"/test",
		`{"type": "manual"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var run automation.TestRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode test run: %v", err)
	}
	if !run.Executed {
		t.Errorf("executed = false, reason = %v", run.Reason)
	}

	// An event the trigger does not match reports why.
	rec = doRequest(t, h, http.MethodPost, "/v1/automations/"+def.ID.String()+"/test",
		`{"type": "heartbeat"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test status = %d, want %d", rec.Code, http.StatusOK)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode test run: %v", err)
	}
	if run.Executed || run.Reason == nil {
		t.Errorf("run = %+v, want not executed with a reason", run)
	}
}

// recordingScheduler counts resync calls.
type recordingScheduler struct {
	calls int
}

func (r *recordingScheduler) Sync(context.Context) error {
	r.calls++
	return nil
}

func TestAutomationWritesResyncScheduler(t *testing.T) {
	srv, _, _ := newTestServer(t)
	sched := &recordingScheduler{}
	srv.SetRescheduler(sched)
	h := srv.routes()

	body := `{
		"name": "wake up",
		"trigger": {"type": "time", "cron": "0 7 * * *"},
		"actions": [{"type": "log", "message": "morning"}]
	}`
	rec := doRequest(t, h, http.MethodPost, "/v1/automations", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if sched.calls != 1 {
		t.Fatalf("sync calls after create = %d, want 1", sched.calls)
	}

	var def automation.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode definition: %v", err)
	}
	doRequest(t, h, http.MethodPost, "/v1/automations/"+def.ID.String()+"/disable", "", nil)
	if sched.calls != 2 {
		t.Errorf("sync calls after disable = %d, want 2", sched.calls)
	}

	// Failed writes never trigger a resync.
	doRequest(t, h, http.MethodPost, "/v1/automations/"+uuid.NewString()+"/enable", "", nil)
	if sched.calls != 2 {
		t.Errorf("sync calls after failed enable = %d, want 2", sched.calls)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.SetMetrics(metrics.New())
	h := srv.routes()

	// The first scrape populates the request counter the second one reads.
	if rec := doRequest(t, h, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	rec := doRequest(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "krypin_http_requests_total") {
		t.Error("request counter missing from /metrics output")
	}
}
