// Package metrics exposes the Daemon's Prometheus instrumentation:
// package-level Gauge/Counter/Histogram declarations registered in init,
// a scrape Handler, and a small Timer helper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CAS metrics
	CASBlobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_cas_blobs_total",
			Help: "Total number of blobs resident in the CAS store",
		},
	)

	CASInsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrift_cas_inserts_total",
			Help: "Total number of CAS insert calls by outcome (new, dedup_hit)",
		},
		[]string{"outcome"},
	)

	CASIntegrityFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_cas_integrity_failures_total",
			Help: "Total number of blobs that failed re-hash verification",
		},
	)

	CASGCRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_cas_gc_removed_total",
			Help: "Total number of blobs removed by CAS garbage collection",
		},
	)

	// Manifest metrics
	ManifestGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vrift_manifest_generation",
			Help: "Current manifest generation counter by workspace",
		},
		[]string{"workspace_id"},
	)

	ManifestSnapshotPublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_manifest_snapshot_publish_duration_seconds",
			Help:    "Time taken to flatten and publish a manifest snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Daemon metrics
	WorkspacesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_workspaces_registered",
			Help: "Total number of currently registered workspaces",
		},
	)

	StagingFilesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_staging_files_total",
			Help: "Total number of open staging files across all workspaces",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_commit_duration_seconds",
			Help:    "Time taken to hash, insert, and apply a CommitWrite",
			Buckets: prometheus.DefBuckets,
		},
	)

	OrphanSweepRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_orphan_sweep_removed_total",
			Help: "Total number of stale staging files removed by the orphan sweep",
		},
	)

	FDCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_fd_cache_size",
			Help: "Current number of file descriptors held in the Daemon's FD cache",
		},
	)

	FDCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_fd_cache_evictions_total",
			Help: "Total number of LRU evictions from the Daemon's FD cache",
		},
	)

	// IPC / protocol metrics
	IPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrift_ipc_requests_total",
			Help: "Total number of Shim<->Daemon IPC requests by opcode and status",
		},
		[]string{"opcode", "status"},
	)

	IPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vrift_ipc_request_duration_seconds",
			Help:    "Shim<->Daemon IPC request duration in seconds by opcode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"opcode"},
	)
)

func init() {
	prometheus.MustRegister(CASBlobsTotal)
	prometheus.MustRegister(CASInsertsTotal)
	prometheus.MustRegister(CASIntegrityFailuresTotal)
	prometheus.MustRegister(CASGCRemovedTotal)
	prometheus.MustRegister(ManifestGeneration)
	prometheus.MustRegister(ManifestSnapshotPublishDuration)
	prometheus.MustRegister(WorkspacesRegistered)
	prometheus.MustRegister(StagingFilesTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(OrphanSweepRemovedTotal)
	prometheus.MustRegister(FDCacheSize)
	prometheus.MustRegister(FDCacheEvictionsTotal)
	prometheus.MustRegister(IPCRequestsTotal)
	prometheus.MustRegister(IPCRequestDuration)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
