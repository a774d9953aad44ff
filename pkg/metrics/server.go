package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	obsReadHeaderTimeout = 5 * time.Second
	obsWriteTimeout      = 10 * time.Second
	obsShutdownTimeout   = 5 * time.Second
)

// ServerConfig configures the observability server.
type ServerConfig struct {
	Collector *Collector
	Logger    *Logger
	Version   string

	// Metrics mounts /metrics.
	Metrics bool
	// Health mounts /health, /healthz and /readyz.
	Health bool
}

// Server exposes the collector and health endpoints over HTTP. It never shares
// a port with the benchmarked listener.
type Server struct {
	router chi.Router
	health *Health
	logger *Logger
}

// NewServer builds the router for cfg.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	s := &Server{
		router: chi.NewRouter(),
		health: NewHealth(cfg.Collector, cfg.Version),
		logger: cfg.Logger.Named("observability"),
	}
	s.router.Use(middleware.Recoverer, middleware.NoCache)

	if cfg.Metrics {
		s.router.Method(http.MethodGet, "/metrics", cfg.Collector.Handler())
	}
	if cfg.Health {
		s.router.Get("/health", s.handleHealth)
		s.router.Get("/healthz", s.handleLive)
		s.router.Get("/readyz", s.handleReady)
	}
	return s
}

// Health returns the evaluator behind the health endpoints.
func (s *Server) Health() *Health {
	return s.health
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rep := s.health.Report()
	code := http.StatusOK
	if rep.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	rep := s.health.Report()
	ready := rep.Status != StatusDown
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": rep.Status, "ready": ready})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve listens on addr and serves until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: obsReadHeaderTimeout,
		WriteTimeout:      obsWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observability server listening", Fields{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), obsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
