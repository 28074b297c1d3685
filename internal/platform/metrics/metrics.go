// Package metrics holds the Prometheus collectors shared by the three binaries.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatewayCalls        *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	escrowOperations     *prometheus.CounterVec
	idempotencyDecisions *prometheus.CounterVec

	outboxDispatched prometheus.Counter
	outboxFailures   prometheus.Counter
	outboxExhausted  prometheus.Gauge

	notifierEvents *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Payment processor attempts by outcome",
		}, []string{"operation", "outcome"}),
		gatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Latency of payment processor attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		escrowOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Escrow operations by result",
		}, []string{"operation", "result"}),
		idempotencyDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_decisions_total",
			Help: "Idempotency guard decisions",
		}, []string{"operation", "decision"}),
		outboxDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_dispatched_total",
			Help: "Outbox events published to the event stream",
		}),
		outboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_delivery_failures_total",
			Help: "Failed outbox delivery attempts",
		}),
		outboxExhausted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_events_exhausted",
			Help: "Undispatched events that used up their delivery attempts",
		}),
		notifierEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_events_total",
			Help: "Events handled by the notifier",
		}, []string{"event_type", "result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveGatewayCall(operation, outcome string, elapsed time.Duration) {
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
	m.gatewayCallDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) EscrowOperation(operation, result string) {
	m.escrowOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) IdempotencyDecision(operation, decision string) {
	m.idempotencyDecisions.WithLabelValues(operation, decision).Inc()
}

func (m *Metrics) OutboxDispatched(n int) {
	m.outboxDispatched.Add(float64(n))
}

func (m *Metrics) OutboxFailed() {
	m.outboxFailures.Inc()
}

func (m *Metrics) SetOutboxExhausted(n int64) {
	m.outboxExhausted.Set(float64(n))
}

func (m *Metrics) NotifierEvent(eventType, result string) {
	m.notifierEvents.WithLabelValues(eventType, result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled. Used by the binaries
// without an HTTP API of their own.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
