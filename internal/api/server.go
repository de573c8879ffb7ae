// Package api serves the local control interface: JSON endpoints over the
// engine, a websocket event stream and the Prometheus scrape endpoint.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/audiolink/internal/clock"
	"grimm.is/audiolink/internal/engine"
	"grimm.is/audiolink/internal/events"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/journal"
	"grimm.is/audiolink/internal/logging"
	"grimm.is/audiolink/internal/metrics"
	"grimm.is/audiolink/internal/ratelimit"
	"grimm.is/audiolink/internal/routing"
)

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	// MutationLimit caps state-changing requests per client per
	// MutationWindow. Zero disables the cap.
	MutationLimit  int
	MutationWindow time.Duration
}

// DefaultServerConfig returns the default limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
		MutationLimit:     20,
		MutationWindow:    time.Second,
	}
}

// Controller is the engine surface the API drives.
type Controller interface {
	Status() engine.Status
	Entries(role routing.Role) []routing.ListEntry
	SetSelection(role routing.Role, keys []graph.Key) error
	ClearSelection(role routing.Role) error
	SetAuto(role routing.Role, enabled bool) error
	SetStreaming(enabled bool) error
	SetHubGain(db float64) error
	RouteProcess(pid int) error
}

// ServerOptions holds dependencies for the API server. Controller is
// required; Journal and Events may be nil.
type ServerOptions struct {
	Controller Controller
	Journal    *journal.Store
	Events     *events.Hub
	Metrics    *metrics.Registry
	Logs       *logging.RingBuffer
	Logger     *logging.Logger
}

// Server handles API requests.
type Server struct {
	ctl       Controller
	journal   *journal.Store
	metrics   *metrics.Registry
	logs      *logging.RingBuffer
	logger    *logging.Logger
	stream    *EventStream
	cfg       *ServerConfig
	limiter   *ratelimit.Limiter
	startTime time.Time

	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("api: controller is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Logs == nil {
		opts.Logs = logging.RecentLogs()
	}

	s := &Server{
		ctl:       opts.Controller,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		logs:      opts.Logs,
		logger:    logger.WithComponent("api"),
		cfg:       DefaultServerConfig(),
		startTime: clock.Now(),
	}
	s.limiter = ratelimit.New(s.cfg.MutationLimit, s.cfg.MutationWindow)
	if opts.Events != nil {
		s.stream = NewEventStream(opts.Events, s.logger)
	}
	s.initRoutes()
	return s, nil
}

// initRoutes initializes the HTTP router
func (s *Server) initRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/{role}", s.handleEntries)
	mux.HandleFunc("PUT /api/{role}/selection", s.handleSetSelection)
	mux.HandleFunc("POST /api/{role}/clear", s.handleClearSelection)
	mux.HandleFunc("PUT /api/{role}/auto", s.handleSetAuto)

	mux.HandleFunc("PUT /api/streaming", s.handleSetStreaming)
	mux.HandleFunc("PUT /api/hub/gain", s.handleSetGain)
	mux.HandleFunc("POST /api/route/process", s.handleRouteProcess)

	mux.HandleFunc("GET /api/journal", s.handleJournal)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/ws", s.handleEventsWS)

	mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux = mux
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.metricsMiddleware(s.rateLimitMiddleware(s.maxBodyMiddleware(s.cfg.MaxBodyBytes)(s.mux))))
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener serves on an existing listener until Shutdown.
func (s *Server) ServeListener(listener net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
	s.logger.Info("API server starting", "addr", listener.Addr().String())
	err := s.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stream != nil {
		s.stream.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs all API requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/metrics" {
			return
		}
		duration := clock.Since(start).Round(time.Millisecond)
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		default:
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		}
	})
}

// metricsMiddleware counts requests by their matched route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := routeLabel(r)
		s.metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		s.metrics.APILatency.WithLabelValues(r.Method, route).Observe(clock.Since(start).Seconds())
	})
}

// routeLabel returns the matched mux pattern without its method, or
// "unmatched". The mux sets r.Pattern on the request in place.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// limiterMaxKeys bounds the limiter's memory before old windows are pruned.
const limiterMaxKeys = 1024

// rateLimitMiddleware throttles state-changing requests per client host.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if s.limiter.Len() > limiterMaxKeys {
			s.limiter.Prune(time.Minute)
		}
		if !s.limiter.Allow(key) {
			retry := s.limiter.RetryAfter(key)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)+1))
			WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodyMiddleware limits the size of request bodies.
func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets the websocket upgrade take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
