package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors this module
// exercises: invocation counts/latency and VM lifecycle counts. The
// hosting process mounts PrometheusHandler on its own HTTP server (this
// module has no server of its own, see cmd/sandboxjs serve).
type PrometheusMetrics struct {
	registry *prometheus.Registry

	invocationsTotal  *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	vmsCreated        prometheus.Counter
	vmsStopped        prometheus.Counter
	uptime            prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under
// namespace (e.g. "sandboxjs").
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of sandbox function invocations",
			},
			[]string{"function", "status"},
		),

		invocationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of sandbox function invocations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"function"},
		),

		vmsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vms_created_total",
				Help:      "Total sandbox VMs provisioned",
			},
		),

		vmsStopped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vms_stopped_total",
				Help:      "Total sandbox VMs stopped",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the metrics subsystem was initialized",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.invocationsTotal,
		pm.invocationLatency,
		pm.vmsCreated,
		pm.vmsStopped,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusInvocation records an invocation in the Prometheus collectors.
func RecordPrometheusInvocation(funcName string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.invocationsTotal.WithLabelValues(funcName, status).Inc()
	promMetrics.invocationLatency.WithLabelValues(funcName).Observe(float64(durationMs))
}

// RecordPrometheusVMCreated records a VM creation in Prometheus.
func RecordPrometheusVMCreated() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsCreated.Inc()
}

// RecordPrometheusVMStopped records a VM stop in Prometheus.
func RecordPrometheusVMStopped() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsStopped.Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping, for
// the hosting process to mount on its own server.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry, for a host process
// that wants to register its own additional collectors alongside these.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
