// Package metrics exposes Prometheus metrics on a dedicated listener,
// separate from the API server so scrapes never compete with vault
// traffic.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "membership_security"

var (
	auditWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_writes_total",
		Help:      "Audit log writes by outcome.",
	}, []string{"status"})

	vaultOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vault_operations_total",
		Help:      "Vault operations by operation and outcome.",
	}, []string{"operation", "status"})

	sweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intel_sweeps_total",
		Help:      "Intelligence sweep runs by outcome.",
	}, []string{"status"})

	threatsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "threats_active",
		Help:      "Currently ACTIVE threat records.",
	})
)

// RecordAuditWrite counts one audit write attempt.
func RecordAuditWrite(status string) {
	auditWrites.WithLabelValues(status).Inc()
}

// RecordVaultOperation counts one vault operation.
func RecordVaultOperation(operation, status string) {
	vaultOperations.WithLabelValues(operation, status).Inc()
}

// RecordSweep counts one intelligence sweep.
func RecordSweep(status string) {
	sweepRuns.WithLabelValues(status).Inc()
}

// SetActiveThreats updates the active threat gauge.
func SetActiveThreats(n int) {
	threatsActive.Set(float64(n))
}

// MetricsServer serves the /metrics endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address.
func New(name, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		auditWrites,
		vaultOperations,
		sweepRuns,
		threatsActive,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
