/*
Package metrics provides Prometheus metrics collection and exposition for the
pipeline runtime.

Metrics are registered at package init and exposed over HTTP for scraping by
a Prometheus server.

# Metrics Catalog

Resource manager:

	ufo_buffers_allocated_total       Counter  new buffer allocations
	ufo_buffers_released_total        Counter  buffers returned to the free pool
	ufo_buffer_pool_size              Gauge    buffers currently pooled
	ufo_kernels_compiled_total        Counter  kernels compiled across all programs
	ufo_device_compute_units{device}  Gauge    compute units per enumerated device

Scheduler:

	ufo_graphs_run_total                  Counter    graph runs completed
	ufo_graph_run_duration_seconds        Histogram  wall-clock run duration
	ufo_frames_processed_total{node}      Counter    frames processed per node
	ufo_task_process_duration_seconds{node}  Histogram  time inside Task.Process
	ufo_task_errors_total{node}           Counter    task errors per node

Daemon:

	ufo_daemon_requests_total{type,outcome}      Counter    requests handled
	ufo_daemon_request_duration_seconds{type}    Histogram  handling latency
	ufo_remote_task_reconnects_total{node}       Counter    remote proxy reconnects

# Usage

	import "github.com/cuemby/ufo-core/pkg/metrics"

	timer := metrics.NewTimer()
	// ... run a graph ...
	timer.ObserveDuration(metrics.GraphRunDuration)
	metrics.GraphsRun.Inc()

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so a typo surfaces immediately at startup.

Label Discipline:
  - Labels stay low-cardinality (node name, device name, message type).
    Frame and buffer IDs never become labels.

Timer Pattern:
  - NewTimer at operation start, ObserveDuration(Vec) when it ends.
*/
package metrics
