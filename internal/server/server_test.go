package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/morezero/subject-router/internal/config"
	"github.com/morezero/subject-router/internal/handlers"
	"github.com/morezero/subject-router/pkg/db"
	"github.com/morezero/subject-router/pkg/metrics"
	"github.com/morezero/subject-router/pkg/routing"
)

const serverTestPrefix = "server:server_test"

type fakeComms struct{ up bool }

func (f fakeComms) Connected() bool { return f.up }

type fakeDB struct {
	pingErr  error
	recent   []db.DispatchRecord
	counts   []db.OutcomeCount
	listErr  error
	subject  string
	limit    int
	countErr error
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) ListRecent(_ context.Context, subject string, limit int) ([]db.DispatchRecord, error) {
	f.subject, f.limit = subject, limit
	return f.recent, f.listErr
}

func (f *fakeDB) CountByOutcome(context.Context, time.Time) ([]db.OutcomeCount, error) {
	return f.counts, f.countErr
}

func testTable(t *testing.T) *routing.Table {
	t.Helper()
	table, err := routing.Build([]routing.Entry{
		{Subject: "api.ping", QueueGroup: "api.ping.group", StaticResponse: []byte("pong")},
		{Subject: "api.register", QueueGroup: "api.register.group", HandlerID: "Register", RequestTypeID: "RegisterRequest", Roles: []string{"admin"}},
	})
	if err != nil {
		t.Fatalf("%s - build table: %v", serverTestPrefix, err)
	}
	return table
}

// testServer returns a Server with fakes and test config for HTTP handler tests.
func testServer(t *testing.T, comms connectionChecker, database *fakeDB) *Server {
	t.Helper()
	s := &Server{
		cfg:   &config.Config{HealthCheckTimeout: 5 * time.Second},
		table: testTable(t),
		comms: comms,
	}
	if database != nil {
		s.database = database
		s.dispatches = database
	}
	return s
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthHandler_Healthy(t *testing.T) {
	s := testServer(t, fakeComms{up: true}, &fakeDB{})
	rec := serve(s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /health status %d, want 200", serverTestPrefix, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s - Content-Type = %q", serverTestPrefix, ct)
	}
	var out HealthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if out.Status != "healthy" || out.Routes != 2 || !out.Checks.Comms {
		t.Errorf("%s - health = %+v", serverTestPrefix, out)
	}
	if out.Checks.Database == nil || !*out.Checks.Database {
		t.Errorf("%s - database check should be reported healthy", serverTestPrefix)
	}
}

func TestHealthHandler_CommsDown(t *testing.T) {
	s := testServer(t, fakeComms{up: false}, nil)
	rec := serve(s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("%s - /health status %d, want 503", serverTestPrefix, rec.Code)
	}
	var out HealthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if out.Checks.Database != nil {
		t.Errorf("%s - database check should be omitted when disabled", serverTestPrefix)
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	s := testServer(t, fakeComms{up: true}, &fakeDB{pingErr: errors.New("refused")})
	rec := serve(s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("%s - /health status %d, want 503", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"database":false`) {
		t.Errorf("%s - body = %s", serverTestPrefix, rec.Body.String())
	}
}

func TestReadyHandler(t *testing.T) {
	s := testServer(t, fakeComms{up: true}, nil)
	if rec := serve(s, http.MethodGet, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - /ready before start = %d, want 503", serverTestPrefix, rec.Code)
	}
	s.ready.Store(true)
	if rec := serve(s, http.MethodGet, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("%s - /ready after start = %d, want 200", serverTestPrefix, rec.Code)
	}
}

func TestRoutesHandler_List(t *testing.T) {
	s := testServer(t, fakeComms{up: true}, nil)
	rec := serve(s, http.MethodGet, "/routes")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /routes status %d", serverTestPrefix, rec.Code)
	}
	var out []RouteView
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if len(out) != 2 {
		t.Fatalf("%s - got %d routes, want 2", serverTestPrefix, len(out))
	}
	if out[0].Subject != "api.ping" || !out[0].Static {
		t.Errorf("%s - first route = %+v", serverTestPrefix, out[0])
	}
	if out[1].Handler != "Register" || out[1].RequestType != "RegisterRequest" || out[1].Static {
		t.Errorf("%s - second route = %+v", serverTestPrefix, out[1])
	}
}

func TestRoutesHandler_Lookup(t *testing.T) {
	s := testServer(t, fakeComms{up: true}, nil)

	rec := serve(s, http.MethodGet, "/routes?subject=api.register")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - lookup status %d", serverTestPrefix, rec.Code)
	}
	var view RouteView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if view.QueueGroup != "api.register.group" || len(view.Roles) != 1 {
		t.Errorf("%s - view = %+v", serverTestPrefix, view)
	}

	if rec := serve(s, http.MethodGet, "/routes?subject=api.unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("%s - unknown subject status %d, want 404", serverTestPrefix, rec.Code)
	}
	if rec := serve(s, http.MethodPost, "/routes"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("%s - POST status %d, want 405", serverTestPrefix, rec.Code)
	}
}

func TestDispatchesHandler(t *testing.T) {
	database := &fakeDB{
		recent: []db.DispatchRecord{{ID: 7, Subject: "api.register", Outcome: metrics.OutcomeOK, Replied: true}},
		counts: []db.OutcomeCount{{Outcome: metrics.OutcomeOK, Count: 1}},
	}
	s := testServer(t, fakeComms{up: true}, database)

	rec := serve(s, http.MethodGet, "/dispatches?subject=api.register&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /dispatches status %d: %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	if database.subject != "api.register" || database.limit != 5 {
		t.Errorf("%s - ListRecent got subject=%q limit=%d", serverTestPrefix, database.subject, database.limit)
	}
	var out struct {
		Recent   []db.DispatchRecord `json:"recent"`
		LastHour []db.OutcomeCount   `json:"lastHour"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if len(out.Recent) != 1 || out.Recent[0].ID != 7 || len(out.LastHour) != 1 {
		t.Errorf("%s - body = %+v", serverTestPrefix, out)
	}
}

func TestDispatchesHandler_Errors(t *testing.T) {
	disabled := testServer(t, fakeComms{up: true}, nil)
	if rec := serve(disabled, http.MethodGet, "/dispatches"); rec.Code != http.StatusNotFound {
		t.Errorf("%s - disabled log status %d, want 404", serverTestPrefix, rec.Code)
	}

	s := testServer(t, fakeComms{up: true}, &fakeDB{})
	if rec := serve(s, http.MethodGet, "/dispatches?limit=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("%s - negative limit status %d, want 400", serverTestPrefix, rec.Code)
	}

	failing := testServer(t, fakeComms{up: true}, &fakeDB{listErr: errors.New("down")})
	if rec := serve(failing, http.MethodGet, "/dispatches"); rec.Code != http.StatusInternalServerError {
		t.Errorf("%s - list error status %d, want 500", serverTestPrefix, rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	s := testServer(t, fakeComms{up: true}, nil)
	if rec := serve(s, http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("%s - /metrics without registry = %d, want 404", serverTestPrefix, rec.Code)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.NewDispatch(promReg)
	if err := m.Register(); err != nil {
		t.Fatalf("%s - register metrics: %v", serverTestPrefix, err)
	}
	m.ObserveRequest("api.ping", "", metrics.OutcomeStatic, time.Millisecond)
	s.gatherer = promReg

	rec := serve(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /metrics status %d", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "subject_router_dispatch_") {
		t.Errorf("%s - dispatch metrics missing from exposition", serverTestPrefix)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("%s - ParseLogLevel(%q) = %v, want %v", serverTestPrefix, in, got, want)
		}
	}
}

func TestNewRegistry_CoversShippedRoutes(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("%s - NewRegistry: %v", serverTestPrefix, err)
	}
	table := testTable(t)
	missingHandlers, missingTypes := reg.Missing(table.HandlerIDs(), table.RequestTypeIDs())
	if len(missingHandlers) != 0 || len(missingTypes) != 0 {
		t.Errorf("%s - missing handlers=%v types=%v", serverTestPrefix, missingHandlers, missingTypes)
	}
	if !reg.HasType(handlers.RegisterRequestType) {
		t.Errorf("%s - %s not registered", serverTestPrefix, handlers.RegisterRequestType)
	}
}
