// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// Metrics contains the engine's Prometheus gauges and counters. This is
// ambient instrumentation, not a spec feature (SPEC_FULL.md DOMAIN STACK):
// subscriptions active, catch-up batches served, events delivered by phase,
// acks received, buffer-overflow terminations, and aggregate in-flight depth.
type Metrics struct {
	SubscriptionsActive       prometheus.Gauge
	CatchUpBatchesServed      prometheus.Counter
	EventsDelivered           *prometheus.CounterVec
	AcksReceived              prometheus.Counter
	BufferOverflowTerminations prometheus.Counter
	InFlightDepth             prometheus.Gauge
}

// NewMetrics creates and registers the engine's custom metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventstore_subscriptions_active",
			Help: "Number of subscriptions currently running (any state but unsubscribed).",
		}),
		CatchUpBatchesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_catchup_batches_served_total",
			Help: "Total historical batches read and delivered by the catch-up worker.",
		}),
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventstore_events_delivered_total",
				Help: "Total events delivered to subscribers, by delivery phase.",
			},
			[]string{"phase"},
		),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_acks_received_total",
			Help: "Total acks received across all subscriptions.",
		}),
		BufferOverflowTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventstore_buffer_overflow_terminations_total",
			Help: "Total subscriptions terminated for exceeding their pending buffer budget.",
		}),
		InFlightDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventstore_in_flight_depth",
			Help: "Sum of last_seen - last_ack across all active subscriptions.",
		}),
	}

	reg.MustRegister(
		m.SubscriptionsActive,
		m.CatchUpBatchesServed,
		m.EventsDelivered,
		m.AcksReceived,
		m.BufferOverflowTerminations,
		m.InFlightDepth,
	)

	return m
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register custom metrics
	metrics := NewMetrics(registry)

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}

	return s
}

// Metrics returns the engine metrics for recording FSM events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints. The returned channel carries
// at most one error — a failure of the underlying Serve loop after Start has
// already returned — and is closed once the server is fully stopped.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server. Safe to call
// concurrently; only the caller that wins the CompareAndSwap performs the
// actual shutdown, the rest return nil immediately.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return fmt.Errorf("failed to shutdown observability server: %w", err)
		}
	}

	slog.Info("observability server stopped")
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
// This is a simple check that the process is alive.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready to accept connections,
// or 503 if not ready.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready\n"))
}
