// Package metrics exposes pool, latency, and persistence gauges in Prometheus
// format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joss/turnpool/internal/perf"
	"github.com/joss/turnpool/internal/pool"
)

const namespace = "turnpool"

// PipelineStats is the persistence pipeline view published each poll.
type PipelineStats struct {
	SchedulerPending int
	SchedulerRunning int
	BatcherPending   int
	BatchFlushes     uint64
	Processed        int64
	Failed           int64
}

// Registry holds every turnpool collector on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	traces *prometheus.HistogramVec

	ttftP95     prometheus.Gauge
	ttftSamples prometheus.Gauge
	turnLimit   prometheus.Gauge
	approvals   prometheus.Gauge

	configuredWorkers prometheus.Gauge
	activeWorkers     prometheus.Gauge
	pinnedThreads     prometheus.Gauge
	queuedTurns       prometheus.Gauge
	inFlightTurns     prometheus.Gauge
	workerHealth      *prometheus.GaugeVec
	workerFailures    *prometheus.GaugeVec
	workerRestarts    *prometheus.GaugeVec

	pipeline *prometheus.GaugeVec
}

var _ perf.Tracer = (*Registry)(nil)

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

// NewRegistry creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		traces: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trace_duration_seconds",
			Help:      "Named timing samples, e.g. runtime.ttft.",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
		}, []string{"name"}),
		ttftP95:           gauge("ttft_p95_milliseconds", "Rolling p95 time to first token."),
		ttftSamples:       gauge("ttft_samples", "Samples in the rolling TTFT window."),
		turnLimit:         gauge("turn_limit", "Adaptive global in-flight turn limit."),
		approvals:         gauge("approvals_pending", "Approval requests awaiting a decision."),
		configuredWorkers: gauge("workers_configured", "Configured worker count."),
		activeWorkers:     gauge("workers_active", "Workers not stopped."),
		pinnedThreads:     gauge("threads_pinned", "Threads pinned to a worker."),
		queuedTurns:       gauge("turns_queued", "Turns queued inside workers."),
		inFlightTurns:     gauge("turns_in_flight", "Turns currently streaming."),
		workerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_health",
			Help:      "1 for the worker's current health state.",
		}, []string{"worker", "health"}),
		workerFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_failures",
			Help:      "Failures recorded per worker.",
		}, []string{"worker"}),
		workerRestarts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_restarts",
			Help:      "Successful restarts per worker.",
		}, []string{"worker"}),
		pipeline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persistence_jobs",
			Help:      "Persistence pipeline counters by stage.",
		}, []string{"stage"}),
	}

	r.reg.MustRegister(
		r.traces,
		r.ttftP95, r.ttftSamples, r.turnLimit, r.approvals,
		r.configuredWorkers, r.activeWorkers, r.pinnedThreads, r.queuedTurns, r.inFlightTurns,
		r.workerHealth, r.workerFailures, r.workerRestarts,
		r.pipeline,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Record implements perf.Tracer.
func (r *Registry) Record(name string, d time.Duration) {
	r.traces.WithLabelValues(name).Observe(d.Seconds())
}

// PublishPool updates pool gauges from a snapshot.
func (r *Registry) PublishPool(s pool.Snapshot) {
	r.configuredWorkers.Set(float64(s.ConfiguredWorkerCount))
	r.activeWorkers.Set(float64(s.ActiveWorkerCount))
	r.pinnedThreads.Set(float64(s.PinnedThreadCount))
	r.queuedTurns.Set(float64(s.TotalQueuedTurns))
	r.inFlightTurns.Set(float64(s.TotalInFlightTurns))

	r.workerHealth.Reset()
	r.workerFailures.Reset()
	r.workerRestarts.Reset()
	for _, w := range s.Workers {
		id := w.WorkerID.String()
		r.workerHealth.WithLabelValues(id, string(w.Health)).Set(1)
		r.workerFailures.WithLabelValues(id).Set(float64(w.FailureCount))
		r.workerRestarts.WithLabelValues(id).Set(float64(w.RestartCount))
	}
}

// PublishPerf updates the TTFT gauges.
func (r *Registry) PublishPerf(s perf.Snapshot) {
	r.ttftP95.Set(s.RollingP95TTFTMS)
	r.ttftSamples.Set(float64(s.SampleCount))
}

// PublishPipeline updates persistence gauges.
func (r *Registry) PublishPipeline(s PipelineStats) {
	r.pipeline.WithLabelValues("scheduler_pending").Set(float64(s.SchedulerPending))
	r.pipeline.WithLabelValues("scheduler_running").Set(float64(s.SchedulerRunning))
	r.pipeline.WithLabelValues("batcher_pending").Set(float64(s.BatcherPending))
	r.pipeline.WithLabelValues("batch_flushes").Set(float64(s.BatchFlushes))
	r.pipeline.WithLabelValues("processed").Set(float64(s.Processed))
	r.pipeline.WithLabelValues("failed").Set(float64(s.Failed))
}

// SetTurnLimit records the adaptive limit.
func (r *Registry) SetTurnLimit(limit int) {
	r.turnLimit.Set(float64(limit))
}

// SetPendingApprovals records the approval backlog.
func (r *Registry) SetPendingApprovals(n int) {
	r.approvals.Set(float64(n))
}
