// Package api provides the embedded HTTP surface for sweepnet: scan
// submission, result retrieval, live progress over websockets, and
// Prometheus metrics. The server is deliberately unauthenticated and
// meant for loopback or trusted-network use.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweepnet/sweepnet/internal/config"
	"github.com/sweepnet/sweepnet/internal/logging"
	"github.com/sweepnet/sweepnet/internal/metrics"
)

const (
	readTimeout    = 10 * time.Second
	writeTimeout   = 0 // websocket progress streams disable the write deadline
	idleTimeout    = 60 * time.Second
	maxHeaderBytes = 1 << 20

	systemMetricsInterval = 15 * time.Second
)

// Server is the embedded API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	scans      *scanManager
	log        *logging.Logger
	startTime  time.Time
}

// New creates an API server from the main configuration.
func New(cfg *config.Config) *Server {
	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		scans:     newScanManager(cfg.API.RequestTimeout),
		log:       logging.Default().WithComponent("api"),
		startTime: time.Now(),
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:        server.router,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	return server
}

// Start runs the server until the context is canceled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting API server", "address", s.httpServer.Addr)

	metrics.GetGlobalMetrics().StartPeriodicUpdates(ctx, systemMetricsInterval)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.log.Info("stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.API.ShutdownTimeout)
	defer cancel()

	s.scans.cancelAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	s.router.HandleFunc("/version", s.versionHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(
		metrics.GetGlobalMetrics().GetRegistry(),
		promhttp.HandlerOpts{},
	)).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/scans", s.submitScanHandler).Methods("POST")
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods("GET")
	api.HandleFunc("/scans/{id}/progress", s.progressHandler).Methods("GET")
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	cors := s.config.API.CORS
	if cors.Enabled {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedMethods(cors.AllowedMethods),
			handlers.AllowedHeaders(cors.AllowedHeaders),
		))
	}
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and metrics.
// Hijack is forwarded so the websocket upgrade on the progress route
// still works through the middleware chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		path := routePattern(r)
		pm := metrics.GetGlobalMetrics()
		pm.IncrementHTTPRequests(r.Method, path, strconv.Itoa(recorder.status))
		pm.RecordHTTPDuration(r.Method, path, duration)

		s.log.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"remote_addr", r.RemoteAddr,
			"duration", duration)
	})
}

// routePattern returns the mux route template so metric labels stay
// bounded; raw paths would make one series per scan ID.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server listen address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":   "sweepnet",
		"version":   "0.1.0",
		"timestamp": time.Now().UTC(),
	})
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.log.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.writeJSON(w, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}
