// Package metrics exposes the relayer's Prometheus collectors.
package metrics

import (
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayer"

// Metrics holds every collector on its own registry so tests can build
// independent instances.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	relaySubmissions *prometheus.CounterVec
	confirmWait      *prometheus.HistogramVec
	relayerBalance   prometheus.Gauge

	watcherRuns        prometheus.Counter
	watcherTransitions *prometheus.CounterVec
	watcherErrors      prometheus.Counter

	rateLimitRejections *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}, []string{"method", "path"}),
		relaySubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "executions_total",
			Help:      "Relay executions by outcome.",
		}, []string{"outcome"}),
		confirmWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "confirmation_wait_seconds",
			Help:      "Time spent waiting for inclusion after broadcast.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9),
		}, []string{"result"}),
		relayerBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "account_balance_wei",
			Help:      "Last observed balance of the relayer account.",
		}),
		watcherRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "runs_total",
			Help:      "Reconciliation runs.",
		}),
		watcherTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "transitions_total",
			Help:      "Status transitions applied by the reconciliation watcher.",
		}, []string{"status"}),
		watcherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "item_errors_total",
			Help:      "Per-transaction errors during reconciliation.",
		}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.relaySubmissions,
		m.confirmWait,
		m.relayerBalance,
		m.watcherRuns,
		m.watcherTransitions,
		m.watcherErrors,
		m.rateLimitRejections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRelay records the outcome of one relay execution.
func (m *Metrics) RecordRelay(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.relaySubmissions.WithLabelValues(outcome).Inc()
}

// RecordConfirmationWait records how long the relayer waited for a receipt.
func (m *Metrics) RecordConfirmationWait(result string, d time.Duration) {
	m.confirmWait.WithLabelValues(result).Observe(d.Seconds())
}

// SetRelayerBalance records the last observed relayer balance.
func (m *Metrics) SetRelayerBalance(wei *big.Int) {
	if wei == nil {
		return
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	m.relayerBalance.Set(f)
}

// RecordWatcherRun records one reconciliation run.
func (m *Metrics) RecordWatcherRun(confirmed, failed, errors int) {
	m.watcherRuns.Inc()
	m.watcherTransitions.WithLabelValues("CONFIRMED").Add(float64(confirmed))
	m.watcherTransitions.WithLabelValues("FAILED").Add(float64(failed))
	m.watcherErrors.Add(float64(errors))
}

// RecordRateLimitRejection records a rejected check for scope ("ip" or "actor").
func (m *Metrics) RecordRateLimitRejection(scope string) {
	m.rateLimitRejections.WithLabelValues(scope).Inc()
}
