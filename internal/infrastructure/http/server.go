// Package http serves the process's Prometheus scrape endpoint. It is
// the only HTTP surface the engine exposes; everything else is outbound
// calls to the exchange.
package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market_maker/internal/logging"
)

// MetricsServer serves /metrics for the Prometheus exporter registered
// by internal/telemetry, which publishes into the default registry
// promhttp.Handler() reads from.
type MetricsServer struct {
	port   int
	logger logging.Logger
	srv    *http.Server
}

// NewMetricsServer builds a metrics server bound to port.
func NewMetricsServer(port int, logger logging.Logger) *MetricsServer {
	return &MetricsServer{port: port, logger: logger}
}

// Start begins serving /metrics in the background. ListenAndServe
// errors other than a clean shutdown are logged, not returned, since
// the metrics endpoint is not load-bearing for trading correctness.
func (s *MetricsServer) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts the metrics server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping metrics server")
	return s.srv.Shutdown(ctx)
}
