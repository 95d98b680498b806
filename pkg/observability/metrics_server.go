package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justjake/querylink/pkg/config"
)

// MetricsServer serves Prometheus metrics over HTTP.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewMetricsServer creates a MetricsServer exposing gatherer. A nil gatherer
// means the default registry. Returns nil if cfg is nil (metrics disabled).
func NewMetricsServer(cfg *config.PrometheusConfig, gatherer prometheus.Gatherer, logger *slog.Logger) *MetricsServer {
	if cfg == nil {
		return nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.GetPath(), promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:    cfg.GetListen(),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start binds the listen address and serves in a goroutine. Bind errors are
// returned; serve errors are logged. Use Shutdown to stop the server.
func (s *MetricsServer) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("starting metrics server", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, else the configured one.
func (s *MetricsServer) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Enabled returns true if the metrics server is configured.
func (s *MetricsServer) Enabled() bool {
	return s != nil && s.server != nil
}

func (s *MetricsServer) String() string {
	if s == nil {
		return "MetricsServer(disabled)"
	}
	return fmt.Sprintf("MetricsServer(addr=%s)", s.Addr())
}
