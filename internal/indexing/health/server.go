package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admin is the lifecycle surface exposed under /admin.
type Admin interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StatusFunc renders the indexer status for /status.
type StatusFunc func(ctx context.Context) (any, error)

// Server provides HTTP endpoints for health monitoring and administration.
type Server struct {
	monitor *Monitor
	admin   Admin
	status  StatusFunc
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new health server. admin and status may be nil, in
// which case their routes are not registered.
func NewServer(monitor *Monitor, admin Admin, status StatusFunc, port int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		admin:   admin,
		status:  status,
		logger:  logger.With("component", "http"),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	if status != nil {
		mux.HandleFunc("/status", s.handleStatus)
	}
	if admin != nil {
		mux.HandleFunc("/admin/start", s.handleAdmin(admin.Start))
		mux.HandleFunc("/admin/stop", s.handleAdmin(admin.Stop))
	}

	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Check(r.Context(), false)

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	writeJSON(w, http.StatusOK, s.monitor.Check(r.Context(), refresh))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.status(r.Context())
	if err != nil {
		s.logger.Error("Status query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAdmin(action func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		if err := action(r.Context()); err != nil {
			s.logger.Error("Admin action failed", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
