// Package metrics exposes the tap's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (auth, client,
// ratelimit, state, sink, tap) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the /metrics endpoint and a reference for all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the tap.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Auth Metrics (pkg/auth):
//   - searchstax_token_acquisitions_total{outcome} (Counter): Credential exchanges by outcome
//
// Rate Limit Metrics (pkg/ratelimit):
//   - searchstax_rate_limit_remaining (Gauge): Last X-RateLimit-Remaining reported upstream
//   - searchstax_rate_limit_blocks_total (Counter): Requests held back by a Retry-After window
//   - searchstax_rate_limit_wait_seconds (Histogram): Time spent waiting for the pacer
//
// Request Metrics (pkg/client):
//   - searchstax_requests_total{resource, status} (Counter): Requests by resource and HTTP status
//   - searchstax_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - searchstax_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, auth)
//   - searchstax_reauthentications_total (Counter): Token re-acquisitions after a 401
//
// Retry Metrics (pkg/client):
//   - searchstax_retries_total{error_class} (Counter): Retry attempts by error class
//   - searchstax_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - searchstax_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Extraction Metrics (pkg/tap, pkg/sink, pkg/state):
//   - searchstax_pages_total{resource} (Counter): Pages fetched
//   - searchstax_records_written_total{resource} (Counter): Records emitted
//   - searchstax_records_dropped_total{resource, reason} (Counter): Records not emitted (skipped, schema, primary_key, below_bookmark)
//   - searchstax_resource_errors_total{resource} (Counter): Failed resource loops
//   - searchstax_bookmark_advances_total{resource} (Counter): Bookmark advances
//   - searchstax_run_duration_seconds (Histogram): Duration of a full run
//
// Example Prometheus Queries:
//
//   # Records per second by resource
//   sum by (resource) (rate(searchstax_records_written_total[5m]))
//
//   # Retry pressure
//   rate(searchstax_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(searchstax_request_duration_seconds_bucket[5m]))

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics for the lifetime of a run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr and starts serving in the background.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger.With().Str("component", "metrics").Logger(),
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
