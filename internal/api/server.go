// Package api serves the admin surface: health probe, status
// snapshot, transition history, manual failover and Prometheus
// metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/failover"
)

// Version is stamped at build time.
var Version = "0.1.0"

// StatusSource exposes the live state the status endpoint reports.
type StatusSource interface {
	Snapshot() map[string]any
}

// FailoverController is the slice of the orchestrator the server
// drives.
type FailoverController interface {
	State() failover.State
	ForceFailover(ctx context.Context) (*failover.Session, error)
	Events(limit int) []failover.Event
}

type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server

	status     StatusSource
	controller FailoverController
	metrics    http.Handler

	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
}

// Config holds the listener settings.
type Config struct {
	Port int
}

// NewServer wires the admin routes. metricsHandler may be nil, which
// disables the /metrics route.
func NewServer(cfg Config, logger *zap.Logger, status StatusSource, controller FailoverController, metricsHandler http.Handler) *Server {
	s := &Server{
		logger:     logger,
		router:     mux.NewRouter(),
		status:     status,
		controller: controller,
		metrics:    metricsHandler,
		startTime:  time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/events", s.handleEvents).Methods("GET")
	s.router.HandleFunc("/failover", s.handleForceFailover).Methods("POST")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	s.router.Use(s.loggingMiddleware)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.status.Snapshot()
	snapshot["failover_state"] = s.controller.State()
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"events": s.controller.Events(limit),
	})
}

func (s *Server) handleForceFailover(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.ForceFailover(r.Context())
	if err != nil {
		s.errorCount.Add(1)
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Warn("manual failover requested",
		zap.String("session_id", sess.ID),
		zap.String("remote_addr", r.RemoteAddr),
	)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sess.ID,
		"state":      s.controller.State(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) Start() error {
	s.logger.Info("starting admin server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
