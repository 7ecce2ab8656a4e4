package bridge

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rbridge/resolver"
)

const namespace = "rbridge"

// Metrics are the bridge's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	executions    *prometheus.CounterVec
	executionTime prometheus.Histogram
	retries       prometheus.Counter
	installs      *prometheus.CounterVec
	installTime   *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
	cacheLookups  *prometheus.CounterVec
}

var _ resolver.Observer = (*Metrics)(nil)

// NewMetrics registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "R executions by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		executionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time of R executions, including installs and retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_retries_total",
			Help:      "Re-evaluations after installing a missing package.",
		}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_installs_total",
			Help:      "Package install attempts by repository and result.",
		}, []string{"repo", "result"}),
		installTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "package_install_duration_seconds",
			Help:      "Time spent per package install attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"repo", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting for the R session.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Catalog and dataset cache lookups by cache and result.",
		}, []string{"cache", "result"}),
	}
	m.registry.MustRegister(
		m.executions, m.executionTime, m.retries,
		m.installs, m.installTime, m.queueDepth, m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveExecution records one finished request
func (m *Metrics) ObserveExecution(res *ExecuteResult, elapsed time.Duration) {
	outcome, kind := "success", "none"
	if !res.Success {
		outcome = "failure"
		kind = string(res.ErrorKind)
	}
	m.executions.WithLabelValues(outcome, kind).Inc()
	m.executionTime.Observe(elapsed.Seconds())
	if res.Attempts > 1 {
		m.retries.Add(float64(res.Attempts - 1))
	}
}

// ObserveInstall implements resolver.Observer
func (m *Metrics) ObserveInstall(pkg, repo, result string, elapsed time.Duration) {
	m.installs.WithLabelValues(repo, result).Inc()
	m.installTime.WithLabelValues(repo, result).Observe(elapsed.Seconds())
}

// SetQueueDepth is the job manager's depth hook
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) cacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}
