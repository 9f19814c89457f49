// Package metrics provides Prometheus-based metrics collection for sweepnet.
// The Prometheus collectors back the /metrics endpoint of the embedded API
// server and mirror the names used by the in-process registry.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all sweepnet metrics
	namespace = "sweepnet"

	// Subsystems
	subsystemScan   = "scan"
	subsystemProbe  = "probe"
	subsystemBanner = "banner"
	subsystemSystem = "system"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanErrors   *prometheus.CounterVec
	activeScans  prometheus.Gauge

	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	probeRetries  *prometheus.CounterVec
	activeProbes  prometheus.Gauge

	// Banner metrics
	bannerGrabs *prometheus.CounterVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initProbeMetrics()
	pm.initBannerMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scan jobs performed by type and status",
		},
		[]string{"scan_type", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"scan_type"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan errors by type",
		},
		[]string{"scan_type", "error_type"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of scan jobs currently running",
		},
	)
}

// initProbeMetrics initializes per-probe metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of port probes by scan type and resulting state",
		},
		[]string{"scan_type", "state"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Round-trip time of individual probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"scan_type"},
	)

	pm.probeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "retries_total",
			Help:      "Total number of probe retry attempts",
		},
		[]string{"scan_type"},
	)

	pm.activeProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "active",
			Help:      "Number of probes currently in flight",
		},
	)
}

// initBannerMetrics initializes banner grabbing metrics
func (pm *PrometheusMetrics) initBannerMetrics() {
	pm.bannerGrabs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBanner,
			Name:      "grabs_total",
			Help:      "Total number of banner grab attempts by outcome",
		},
		[]string{"status"},
	)
}

// initAPIMetrics initializes HTTP API metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "http_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-level metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Number of active goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.scanErrors,
		pm.activeScans,
		pm.probesTotal,
		pm.probeDuration,
		pm.probeRetries,
		pm.activeProbes,
		pm.bannerGrabs,
		pm.httpRequests,
		pm.httpDuration,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler setup
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// IncrementScansTotal increments the scan counter
func (pm *PrometheusMetrics) IncrementScansTotal(scanType, status string) {
	pm.scansTotal.WithLabelValues(scanType, status).Inc()
}

// RecordScanDuration records scan duration
func (pm *PrometheusMetrics) RecordScanDuration(scanType string, duration time.Duration) {
	pm.scanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// IncrementScanErrors increments scan error counter
func (pm *PrometheusMetrics) IncrementScanErrors(scanType, errorType string) {
	pm.scanErrors.WithLabelValues(scanType, errorType).Inc()
}

// SetActiveScans sets the number of active scan jobs
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// IncrementProbesTotal counts a completed probe by state
func (pm *PrometheusMetrics) IncrementProbesTotal(scanType, state string) {
	pm.probesTotal.WithLabelValues(scanType, state).Inc()
}

// RecordProbeDuration records a single probe round-trip time
func (pm *PrometheusMetrics) RecordProbeDuration(scanType string, duration time.Duration) {
	pm.probeDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// IncrementProbeRetries counts probe retry attempts
func (pm *PrometheusMetrics) IncrementProbeRetries(scanType string) {
	pm.probeRetries.WithLabelValues(scanType).Inc()
}

// SetActiveProbes sets the number of probes in flight
func (pm *PrometheusMetrics) SetActiveProbes(count int) {
	pm.activeProbes.Set(float64(count))
}

// IncrementBannerGrabs counts banner grab attempts by outcome
func (pm *PrometheusMetrics) IncrementBannerGrabs(status string) {
	pm.bannerGrabs.WithLabelValues(status).Inc()
}

// IncrementHTTPRequests counts API requests
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records API request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes memory, goroutine and uptime gauges
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	pm.memoryUsage.Set(float64(m.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.mu.Lock()
	pm.lastUpdate = time.Now()
	pm.mu.Unlock()
}

// GetUptime returns the process uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the time of the last system metrics refresh
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics on an interval until the
// context is canceled.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.UpdateSystemMetrics()
			}
		}
	}()
}

// Global Prometheus metrics instance
var (
	globalMetrics     *PrometheusMetrics
	globalMetricsOnce sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
