// Package metrics exposes the exporter's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (client, fetcher,
// writer, exporter, ratelimit) via promauto and land in the default registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the mux served by Serve: /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Server serves Handler until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr. Use ":0" for an ephemeral port.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ticket_export_requests_total{status} (Counter): Freshservice requests by HTTP status
//   - ticket_export_request_duration_seconds (Histogram): Request duration
//   - ticket_export_errors_total{class} (Counter): Errors by class (client, not_found, server, rate_limit, network, payload)
//
// Retry Metrics (pkg/fetcher):
//   - ticket_export_retries_total (Counter): Rate-limited attempts that were retried
//   - ticket_export_retry_backoff_seconds (Histogram): Backoff durations
//   - ticket_export_retry_exhausted_total (Counter): Tickets abandoned after the last attempt
//   - ticket_export_fetch_results_total{reason} (Counter): Fetch outcomes
//
// Output Metrics (pkg/writer, pkg/exporter):
//   - ticket_export_records_written_total (Counter): Ticket files written
//   - ticket_export_write_errors_total{stage} (Counter): Write failures by stage
//   - ticket_export_partitions_total{outcome} (Counter): Finished partitions (ok, failed)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ticket_export_rate_limit_remaining (Gauge): Requests left in the current window
//   - ticket_export_rate_limit_blocks_total (Counter): Requests held until window reset
//   - ticket_export_rate_limit_throttles_total (Counter): Requests delayed on a low budget
//
// Example Prometheus Queries:
//
//   # Export throughput
//   rate(ticket_export_records_written_total[5m])
//
//   # Share of tickets lost to rate limiting
//   rate(ticket_export_retry_exhausted_total[5m]) / rate(ticket_export_fetch_results_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ticket_export_request_duration_seconds_bucket[5m]))
