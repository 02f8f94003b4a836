// Package metrics exposes prometheus instrumentation for the WAL,
// snapshot, and replay subsystems. The teacher carries no metrics;
// grounded on ClusterCockpit-cc-backend and abdoElHodaky-tradSys,
// both of which wire prometheus/client_golang counters/gauges/
// histograms around their own hot paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric one service instance reports. Each
// service (balance, matching, settlement) constructs its own with a
// distinct "service" label so one process (or one /metrics scrape
// target per service) never mixes the three.
type Registry struct {
	reg *prometheus.Registry

	WALAppends         prometheus.Counter
	WALAppendErrors    prometheus.Counter
	WALFlushDuration   prometheus.Histogram
	WALBytesWritten    prometheus.Counter
	WALCurrentSeqID    prometheus.Gauge

	SnapshotsTaken     prometheus.Counter
	SnapshotDuration   prometheus.Histogram
	SnapshotFailures   prometheus.Counter

	ReplayRequests     prometheus.Counter
	ReplayRecordsSent  prometheus.Counter
	ReplayDuration     prometheus.Histogram

	CommandsExecuted   prometheus.Counter
	CommandErrors      prometheus.Counter
	QueueDepth         prometheus.Gauge
}

// New builds a Registry whose metrics are all labeled with service.
func New(service string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"service": service}

	return &Registry{
		reg: reg,

		WALAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "wal_appends_total", Help: "WAL records appended.", ConstLabels: constLabels,
		}),
		WALAppendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "wal_append_errors_total", Help: "WAL append failures.", ConstLabels: constLabels,
		}),
		WALFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "wal_flush_duration_seconds", Help: "flush_and_sync latency.",
			ConstLabels: constLabels, Buckets: prometheus.DefBuckets,
		}),
		WALBytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "wal_bytes_written_total", Help: "Bytes appended to the WAL.", ConstLabels: constLabels,
		}),
		WALCurrentSeqID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wal_current_seq_id", Help: "Most recently appended WAL seq_id.", ConstLabels: constLabels,
		}),

		SnapshotsTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "snapshots_taken_total", Help: "Snapshots successfully written.", ConstLabels: constLabels,
		}),
		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "snapshot_duration_seconds", Help: "Snapshot write latency.",
			ConstLabels: constLabels, Buckets: prometheus.DefBuckets,
		}),
		SnapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_failures_total", Help: "Snapshot write failures.", ConstLabels: constLabels,
		}),

		ReplayRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "replay_requests_total", Help: "Replay HTTP requests served.", ConstLabels: constLabels,
		}),
		ReplayRecordsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "replay_records_sent_total", Help: "WAL records streamed to replay clients.", ConstLabels: constLabels,
		}),
		ReplayDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "replay_request_duration_seconds", Help: "Replay request latency.",
			ConstLabels: constLabels, Buckets: prometheus.DefBuckets,
		}),

		CommandsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "commands_executed_total", Help: "Commands executed by the processor loop.", ConstLabels: constLabels,
		}),
		CommandErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "command_errors_total", Help: "Commands that returned an error from Execute.", ConstLabels: constLabels,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth", Help: "Commands currently buffered in the ring buffer.", ConstLabels: constLabels,
		}),
	}
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
