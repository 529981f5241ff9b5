// Package httpapi serves the control endpoints: health, readiness, metrics,
// reconcile triggers, last cycle status and commit history.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/ledger"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

// Pinger reports whether the device is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Controller is the part of the orchestrator the server drives.
type Controller interface {
	Trigger(reason string)
	Last() *reconcile.CycleResult
}

// History answers commit history queries.
type History interface {
	GetByResource(ctx context.Context, kind, name string, limit int) ([]*ledger.Entry, error)
	GetByType(ctx context.Context, eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
}

const (
	defaultHistoryLimit = 50
	pingTimeout         = 5 * time.Second
)

// Server is the control HTTP server.
type Server struct {
	addr       string
	pinger     Pinger
	controller Controller
	history    History
	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

// NewServer creates a server. history and gatherer may be nil, which disables
// their endpoints.
func NewServer(addr string, pinger Pinger, controller Controller, history History, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr:       addr,
		pinger:     pinger,
		controller: controller,
		history:    history,
		gatherer:   gatherer,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("POST /reconcile", s.handleReconcile)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.history != nil {
		mux.HandleFunc("GET /history", s.handleHistory)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "http"
	}
	log.Info().Str("reason", reason).Str("remote", r.RemoteAddr).Msg("Reconcile requested")

	s.controller.Trigger(reason)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

type kindStatus struct {
	Discovered int `json:"discovered"`
	Resources  int `json:"resources"`
	Changed    int `json:"changed"`
	Failed     int `json:"failed"`
}

type cycleStatus struct {
	ID         string                `json:"id"`
	Trigger    string                `json:"trigger"`
	Started    time.Time             `json:"started"`
	DurationMS int64                 `json:"duration_ms"`
	Changed    int                   `json:"changed"`
	Failed     int                   `json:"failed"`
	Kinds      map[string]kindStatus `json:"kinds"`
	Errors     map[string]string     `json:"errors,omitempty"`
	Failures   []resourceFailure     `json:"failures,omitempty"`
}

type resourceFailure struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

func newCycleStatus(c *reconcile.CycleResult) cycleStatus {
	status := cycleStatus{
		ID:         c.ID,
		Trigger:    c.Trigger,
		Started:    c.Started,
		DurationMS: c.Duration.Milliseconds(),
		Changed:    c.Changed(),
		Failed:     c.Failed(),
		Kinds:      make(map[string]kindStatus, len(c.Kinds)),
	}
	for _, k := range c.Kinds {
		status.Kinds[string(k.Kind)] = kindStatus{
			Discovered: k.Discovered,
			Resources:  len(k.Outcomes),
			Changed:    k.Changed(),
			Failed:     k.Failed(),
		}
		for _, out := range k.Outcomes {
			if out.Err != nil {
				status.Failures = append(status.Failures, resourceFailure{
					Kind:   string(k.Kind),
					Name:   out.Name,
					Action: out.Action.String(),
					Error:  out.Err.Error(),
				})
			}
		}
	}
	if len(c.Errors) > 0 {
		status.Errors = make(map[string]string, len(c.Errors))
		for kind, err := range c.Errors {
			status.Errors[string(kind)] = err.Error()
		}
	}
	return status
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last := s.controller.Last()
	if last == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, newCycleStatus(last))
}

type historyEntry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Name      string         `json:"name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// handleHistory lists ledger entries for one resource (?kind=&name=) or of
// one event type (?type=), newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	switch {
	case q.Get("kind") != "" && q.Get("name") != "":
		entries, err = s.history.GetByResource(r.Context(), q.Get("kind"), q.Get("name"), limit)
	case q.Get("type") != "":
		entries, err = s.history.GetByType(r.Context(), ledger.EventType(q.Get("type")), limit)
	default:
		http.Error(w, "either kind and name, or type, is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("History query failed")
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:        e.ID,
			EventType: string(e.EventType),
			Timestamp: e.Timestamp,
			CycleID:   e.CycleID,
			Kind:      e.Kind,
			Name:      e.Name,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
