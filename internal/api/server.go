// Package api exposes the job manager as a JSON HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/CZERTAINLY/RepoStats/internal/ghapi"
	"github.com/CZERTAINLY/RepoStats/internal/service"
)

const maxUpload = 1 << 20

// Server routes API requests to the manager. Jobs started through the API
// run under the context given to New, not under the request context.
type Server struct {
	ctx      context.Context
	manager  *service.Manager
	github   *ghapi.Client
	router   *mux.Router
	upgrader websocket.Upgrader
	poll     time.Duration
	version  string
	rps      float64
	burst    int
}

type Option func(*Server)

func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

// WithPollInterval sets how often websocket streams look for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.poll = d
	}
}

func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

func New(ctx context.Context, manager *service.Manager, github *ghapi.Client, opts ...Option) *Server {
	s := &Server{
		ctx:     ctx,
		manager: manager,
		github:  github,
		poll:    500 * time.Millisecond,
		version: "dev",
		rps:     defaultRPS,
		burst:   defaultBurst,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(logRequests, RateLimit(ctx, s.rps, s.burst))
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/analyze", s.analyze).Methods(http.MethodPost)
	a.HandleFunc("/status/{id}", s.status).Methods(http.MethodGet)
	a.HandleFunc("/cancel/{id}", s.cancel).Methods(http.MethodPost)
	a.HandleFunc("/results/{id}", s.results).Methods(http.MethodGet)
	a.HandleFunc("/download/{id}", s.download).Methods(http.MethodGet)
	a.HandleFunc("/jobs", s.jobs).Methods(http.MethodGet)
	a.HandleFunc("/sample", s.sample).Methods(http.MethodGet)
	a.HandleFunc("/validate-token", s.validateToken).Methods(http.MethodPost)
	a.HandleFunc("/rate-limit", s.rateLimit).Methods(http.MethodPost)
	a.HandleFunc("/ws/{id}", s.stream).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}
