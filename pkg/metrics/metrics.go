package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource manager metrics
	BuffersAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ufo_buffers_allocated_total",
			Help: "Total number of buffers allocated by the resource manager",
		},
	)

	BuffersReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ufo_buffers_released_total",
			Help: "Total number of buffers released back to the free pool",
		},
	)

	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ufo_buffer_pool_size",
			Help: "Current number of buffers sitting in the free pool",
		},
	)

	KernelsCompiled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ufo_kernels_compiled_total",
			Help: "Total number of kernels compiled across all loaded programs",
		},
	)

	// Scheduler metrics
	GraphsRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ufo_graphs_run_total",
			Help: "Total number of task graphs executed to completion",
		},
	)

	GraphRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ufo_graph_run_duration_seconds",
			Help:    "Wall-clock duration of a task graph run, from Setup to every executor joining",
			Buckets: prometheus.DefBuckets,
		},
	)

	FramesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ufo_frames_processed_total",
			Help: "Total number of frames processed by a task, labeled by node name",
		},
		[]string{"node"},
	)

	TaskProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ufo_task_process_duration_seconds",
			Help:    "Time spent inside a single Task.Process call, labeled by node name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	TaskErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ufo_task_errors_total",
			Help: "Total number of task errors, labeled by node name",
		},
		[]string{"node"},
	)

	// Daemon / messenger metrics
	DaemonRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ufo_daemon_requests_total",
			Help: "Total number of daemon requests by message type and outcome",
		},
		[]string{"type", "outcome"},
	)

	DaemonRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ufo_daemon_request_duration_seconds",
			Help:    "Daemon request handling duration in seconds, by message type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	RemoteTaskReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ufo_remote_task_reconnects_total",
			Help: "Total number of times a remote task proxy had to reconnect to its node",
		},
		[]string{"node"},
	)

	DeviceComputeUnits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ufo_device_compute_units",
			Help: "Compute units reported by each enumerated device, labeled by device name",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(BuffersAllocated)
	prometheus.MustRegister(BuffersReleased)
	prometheus.MustRegister(PoolSize)
	prometheus.MustRegister(KernelsCompiled)

	prometheus.MustRegister(GraphsRun)
	prometheus.MustRegister(GraphRunDuration)
	prometheus.MustRegister(FramesProcessed)
	prometheus.MustRegister(TaskProcessDuration)
	prometheus.MustRegister(TaskErrorsTotal)

	prometheus.MustRegister(DaemonRequestsTotal)
	prometheus.MustRegister(DaemonRequestDuration)
	prometheus.MustRegister(RemoteTaskReconnects)
	prometheus.MustRegister(DeviceComputeUnits)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
