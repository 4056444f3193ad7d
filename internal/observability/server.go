// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/access"
	"github.com/bidmart/bidmart/internal/bulk"
)

// readinessTimeout bounds a single readiness probe.
const readinessTimeout = 2 * time.Second

// ReadinessChecker reports whether the service can serve bulk operations.
// A nil error means ready.
type ReadinessChecker func(ctx context.Context) error

// Compile-time interface checks.
var (
	_ bulk.Recorder   = (*Metrics)(nil)
	_ access.Recorder = (*Metrics)(nil)
)

// Metrics contains custom Prometheus metrics for BidMart.
type Metrics struct {
	BulkOperations   *prometheus.CounterVec
	BulkItems        *prometheus.CounterVec
	BulkDuration     *prometheus.HistogramVec
	PermissionChecks *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// NewMetrics creates and registers custom BidMart metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BulkOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidmart_bulk_operations_total",
				Help: "Total number of bulk operations by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		BulkItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidmart_bulk_items_total",
				Help: "Total number of bulk items processed by collection and outcome",
			},
			[]string{"collection", "outcome"},
		),
		BulkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidmart_bulk_duration_seconds",
				Help:    "Bulk operation latency by mode",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		PermissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidmart_permission_checks_total",
				Help: "Total number of permission checks by required role and result",
			},
			[]string{"required_role", "result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidmart_http_requests_total",
				Help: "Total number of API requests by route and status code",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(m.BulkOperations)
	reg.MustRegister(m.BulkItems)
	reg.MustRegister(m.BulkDuration)
	reg.MustRegister(m.PermissionChecks)
	reg.MustRegister(m.HTTPRequests)

	return m
}

// RecordBatch implements bulk.Recorder.
func (m *Metrics) RecordBatch(mode bulk.Mode, collection, _ string, result bulk.Result, elapsed time.Duration) {
	m.BulkOperations.WithLabelValues(string(mode), batchStatus(result)).Inc()
	if result.SuccessCount > 0 {
		m.BulkItems.WithLabelValues(collection, "success").Add(float64(result.SuccessCount))
	}
	if result.FailedCount > 0 {
		m.BulkItems.WithLabelValues(collection, "failed").Add(float64(result.FailedCount))
	}
	m.BulkDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

// RecordPermissionCheck implements access.Recorder.
func (m *Metrics) RecordPermissionCheck(required access.Role, valid bool) {
	result := "denied"
	if valid {
		result = "granted"
	}
	m.PermissionChecks.WithLabelValues(string(required), result).Inc()
}

// RecordHTTPRequest counts one API response.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func batchStatus(r bulk.Result) string {
	switch {
	case !r.Success:
		return "failed"
	case r.Partial():
		return "partial"
	default:
		return "success"
	}
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	logger     *slog.Logger
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
		logger:   slog.Default(),
	}
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Local httpSrv avoids racing with a later Start.
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state so Stop can be retried.
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 when the readiness checker passes, 503 otherwise.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.isReady(ctx); err != nil {
		s.logger.WarnContext(ctx, "readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("not ready\n"))
		return
	}

	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}
