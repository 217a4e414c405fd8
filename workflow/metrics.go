package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects workflow and streaming metrics.
//
// Metrics exposed (all namespaced with "devspace_"):
//
//  1. runs_started_total (counter): labels workflow.
//  2. runs_finished_total (counter): labels workflow, status.
//  3. active_runs (gauge): runs executing in this process.
//  4. step_latency_ms (histogram): labels workflow, step, status.
//  5. step_retries_total (counter): labels workflow, step.
//  6. chunks_appended_total (counter): labels workflow.
//  7. active_streams (gauge): output channels held by the run registry.
//  8. stream_subscribers (gauge): HTTP stream connections attached.
//
// All methods are safe on a nil receiver, which records nothing.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := workflow.NewPrometheusMetrics(registry)
//	engine, _ := workflow.New(ledger, runs, workflow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	runsStarted       *prometheus.CounterVec
	runsFinished      *prometheus.CounterVec
	activeRuns        prometheus.Gauge
	stepLatency       *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	chunks            *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	streamSubscribers prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all metrics with registry.
// A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devspace",
			Name:      "runs_started_total",
			Help:      "Workflow runs started",
		}, []string{"workflow"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devspace",
			Name:      "runs_finished_total",
			Help:      "Workflow runs that reached a terminal status",
		}, []string{"workflow", "status"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devspace",
			Name:      "active_runs",
			Help:      "Workflow runs currently executing in this process",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devspace",
			Name:      "step_latency_ms",
			Help:      "Step attempt duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"workflow", "step", "status"}), // status: success, error
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devspace",
			Name:      "step_retries_total",
			Help:      "Step attempts that failed and were retried",
		}, []string{"workflow", "step"}),
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devspace",
			Name:      "chunks_appended_total",
			Help:      "Chunks appended to run output channels",
		}, []string{"workflow"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devspace",
			Name:      "active_streams",
			Help:      "Output channels currently held by the run registry",
		}),
		streamSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devspace",
			Name:      "stream_subscribers",
			Help:      "HTTP stream connections currently attached to a run",
		}),
	}
}

func (pm *PrometheusMetrics) runStarted(workflow string) {
	if pm == nil {
		return
	}
	pm.runsStarted.WithLabelValues(workflow).Inc()
	pm.activeRuns.Inc()
}

func (pm *PrometheusMetrics) runFinished(workflow, status string) {
	if pm == nil {
		return
	}
	pm.runsFinished.WithLabelValues(workflow, status).Inc()
	pm.activeRuns.Dec()
}

func (pm *PrometheusMetrics) recordStepLatency(workflow, step string, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stepLatency.WithLabelValues(workflow, step, status).Observe(float64(latency.Milliseconds()))
}

func (pm *PrometheusMetrics) incrementRetries(workflow, step string) {
	if pm == nil {
		return
	}
	pm.retries.WithLabelValues(workflow, step).Inc()
}

func (pm *PrometheusMetrics) chunkAppended(workflow string) {
	if pm == nil {
		return
	}
	pm.chunks.WithLabelValues(workflow).Inc()
}

// SetActiveStreams records the number of registered output channels. Pass it
// to stream.Registry.Observe.
func (pm *PrometheusMetrics) SetActiveStreams(n int) {
	if pm == nil {
		return
	}
	pm.activeStreams.Set(float64(n))
}

// StreamAttached records a new HTTP stream subscriber.
func (pm *PrometheusMetrics) StreamAttached() {
	if pm == nil {
		return
	}
	pm.streamSubscribers.Inc()
}

// StreamDetached records a subscriber leaving.
func (pm *PrometheusMetrics) StreamDetached() {
	if pm == nil {
		return
	}
	pm.streamSubscribers.Dec()
}
