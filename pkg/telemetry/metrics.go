package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for settings loads, lint runs,
// watcher reloads and snapshots. A disabled Metrics is a no-op.
type Metrics struct {
	config MetricsConfig

	// Load metrics
	configLoads  *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	diagnostics  *prometheus.CounterVec
	lastLoad     prometheus.Gauge

	// Lint metrics
	policyEvaluations *prometheus.CounterVec
	policyViolations  *prometheus.CounterVec
	policyDuration    prometheus.Histogram

	// Watch metrics
	watchReloads *prometheus.CounterVec

	// History metrics
	snapshots       *prometheus.CounterVec
	driftDetections *prometheus.CounterVec
	driftedKeys     prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		configLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_loads_total",
				Help:      "Total number of settings file loads",
			},
			[]string{"format", "status"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_load_duration_seconds",
				Help:      "Duration of settings file loads in seconds",
				Buckets:   buckets,
			},
			[]string{"format"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_diagnostics_total",
				Help:      "Total number of load diagnostics by severity",
			},
			[]string{"severity"},
		),
		lastLoad: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_load_timestamp_seconds",
				Help:      "Unix time of the last successful load",
			},
		),

		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of lint runs",
			},
			[]string{"allowed"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),
		policyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "policy_evaluation_duration_seconds",
				Help:      "Duration of lint runs in seconds",
				Buckets:   buckets,
			},
		),

		watchReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of watcher reloads",
			},
			[]string{"status"},
		),

		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_total",
				Help:      "Total number of snapshot store operations",
			},
			[]string{"operation", "status"},
		),
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_checks_total",
				Help:      "Total number of drift checks",
			},
			[]string{"drifted"},
		),
		driftedKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drifted_keys",
				Help:      "Number of settings that differ from the latest snapshot",
			},
		),
	}

	registry.MustRegister(
		m.configLoads,
		m.loadDuration,
		m.diagnostics,
		m.lastLoad,
		m.policyEvaluations,
		m.policyViolations,
		m.policyDuration,
		m.watchReloads,
		m.snapshots,
		m.driftDetections,
		m.driftedKeys,
	)

	return m, nil
}

// Load Metrics

// RecordLoad records a settings load with its outcome and duration.
func (m *Metrics) RecordLoad(format, status string, duration time.Duration) {
	if m.configLoads == nil {
		return
	}
	m.configLoads.WithLabelValues(format, status).Inc()
	m.loadDuration.WithLabelValues(format).Observe(duration.Seconds())
	if status == StatusOK {
		m.lastLoad.SetToCurrentTime()
	}
}

// RecordDiagnostic counts a load diagnostic.
func (m *Metrics) RecordDiagnostic(severity string) {
	if m.diagnostics == nil {
		return
	}
	m.diagnostics.WithLabelValues(severity).Inc()
}

// Lint Metrics

// RecordPolicyEvaluation records a lint run.
func (m *Metrics) RecordPolicyEvaluation(allowed bool, duration time.Duration) {
	if m.policyEvaluations == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(fmt.Sprint(allowed)).Inc()
	m.policyDuration.Observe(duration.Seconds())
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Watch Metrics

// RecordWatchReload records a watcher reload.
func (m *Metrics) RecordWatchReload(status string) {
	if m.watchReloads == nil {
		return
	}
	m.watchReloads.WithLabelValues(status).Inc()
}

// History Metrics

// RecordSnapshot records a snapshot store operation.
func (m *Metrics) RecordSnapshot(operation, status string) {
	if m.snapshots == nil {
		return
	}
	m.snapshots.WithLabelValues(operation, status).Inc()
}

// RecordDriftCheck records a drift check and the number of drifted keys.
func (m *Metrics) RecordDriftCheck(changes int) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(fmt.Sprint(changes > 0)).Inc()
	m.driftedKeys.Set(float64(changes))
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is cancelled and returns the
// bound address. It does nothing when metrics are disabled.
func (m *Metrics) StartMetricsServer(ctx context.Context) (string, error) {
	if !m.config.Enabled {
		return "", nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			FromContext(ctx).WithError(err).Error("Metrics server stopped")
		}
	}()

	return ln.Addr().String(), nil
}
