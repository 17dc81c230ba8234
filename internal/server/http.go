package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/subject-router/pkg/commsutil"
	"github.com/morezero/subject-router/pkg/routing"
)

const httpLogPrefix = "server:http"

// HealthChecks reports each dependency; Database is nil when the dispatch log is disabled.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string       `json:"status"`
	Routes    int          `json:"routes"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// RouteView is the public form of a route.
type RouteView struct {
	Subject     string   `json:"subject"`
	QueueGroup  string   `json:"queueGroup"`
	Handler     string   `json:"handler,omitempty"`
	RequestType string   `json:"requestType,omitempty"`
	Static      bool     `json:"static"`
	Roles       []string `json:"roles,omitempty"`
}

// NewRouteView converts a table entry.
func NewRouteView(e routing.Entry) RouteView {
	return RouteView{
		Subject:     e.Subject,
		QueueGroup:  e.QueueGroup,
		Handler:     e.HandlerID,
		RequestType: e.RequestTypeID,
		Static:      e.IsStatic(),
		Roles:       e.Roles,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/routes", s.handleRoutes)
	mux.HandleFunc("/dispatches", s.handleDispatches)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Health checks every dependency within HEALTH_CHECK_TIMEOUT.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.table != nil {
		out.Routes = s.table.Len()
	}
	out.Checks.Comms = s.comms != nil && s.comms.Connected()
	if !out.Checks.Comms {
		out.Status = "unhealthy"
	}
	if s.database != nil {
		ok := true
		if err := s.database.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - database health check failed: %v", httpLogPrefix, err))
			ok = false
			out.Status = "unhealthy"
		}
		out.Checks.Database = &ok
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleRoutes lists the route table, or resolves ?subject= the way the dispatcher does.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.table == nil {
		writeJSON(w, http.StatusOK, []RouteView{})
		return
	}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		e, ok := s.table.Lookup(subject)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route for " + subject})
			return
		}
		writeJSON(w, http.StatusOK, NewRouteView(e))
		return
	}
	entries := s.table.Entries()
	out := make([]RouteView, len(entries))
	for i, e := range entries {
		out[i] = NewRouteView(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDispatches returns recent dispatch log rows (?subject=, ?limit=) and outcome counts for the last hour.
func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if s.dispatches == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dispatch log disabled"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	recent, err := s.dispatches.ListRecent(ctx, r.URL.Query().Get("subject"), limit)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - list dispatches: %v", httpLogPrefix, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read dispatch log"})
		return
	}
	counts, err := s.dispatches.CountByOutcome(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - count dispatches: %v", httpLogPrefix, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read dispatch log"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent": recent, "lastHour": counts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := commsutil.EncodePayload(v)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", httpLogPrefix, err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
