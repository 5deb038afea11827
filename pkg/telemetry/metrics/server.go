package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains configuration for the metrics server.
type Config struct {
	// ListenAddress is the address to serve on, e.g. "127.0.0.1:9090".
	ListenAddress string

	// ReadHeaderTimeout bounds header reads on the scrape endpoint.
	// Default: 5 seconds.
	ReadHeaderTimeout time.Duration
}

// Server exposes the Prometheus scrape endpoint and a liveness probe.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server for the default Prometheus registry.
func NewServer(config Config) *Server {
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = 5 * time.Second
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	return &Server{
		server: &http.Server{
			Addr:              config.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		logger: slog.Default().With("component", "metrics.server"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("Metrics server listening", "address", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint,
// serving all collectors registered on the default registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		},
	)
}
