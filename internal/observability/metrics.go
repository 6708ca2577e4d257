package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backup engine's control
// plane. Every backupctl invocation that touches the store records into
// these, and the "metrics" subcommand serves the registry ad hoc over HTTP
// via Handler.
type Metrics struct {
	CommandsTotal       *prometheus.CounterVec
	PolicyDeniedTotal   *prometheus.CounterVec
	SnapshotsTotal      *prometheus.CounterVec
	SnapshotDuration    prometheus.Histogram
	ChunksStoredTotal   prometheus.Counter
	ChunksDedupedTotal  prometheus.Counter
	BytesStoredTotal    prometheus.Counter
	VerifyTotal         *prometheus.CounterVec
	RestoreTotal        *prometheus.CounterVec
	RollbackDetections  prometheus.Counter
	StoreSizeBytes      prometheus.Gauge
	WALRecoveryRunsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultline_commands_total",
				Help: "Control-plane commands executed, by command and outcome",
			},
			[]string{"command", "status"},
		),

		PolicyDeniedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultline_policy_denied_total",
				Help: "Commands refused by the policy engine before execution",
			},
			[]string{"command", "user"},
		),

		SnapshotsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultline_snapshots_total",
				Help: "Snapshot creation attempts, by outcome",
			},
			[]string{"status"},
		),

		SnapshotDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vaultline_snapshot_duration_seconds",
				Help:    "Snapshot creation wall-clock time",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
		),

		ChunksStoredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultline_chunks_stored_total",
				Help: "Chunks newly written to the content-addressed store",
			},
		),

		ChunksDedupedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultline_chunks_deduped_total",
				Help: "Chunks whose content already existed in the store",
			},
		),

		BytesStoredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultline_bytes_stored_total",
				Help: "Bytes written into newly stored chunks",
			},
		),

		VerifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultline_verify_total",
				Help: "Snapshot verification runs, by result kind",
			},
			[]string{"kind"},
		),

		RestoreTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultline_restore_total",
				Help: "Restore operations, by outcome",
			},
			[]string{"status"},
		),

		RollbackDetections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultline_rollback_detections_total",
				Help: "Anti-rollback hash-chain checks that failed",
			},
		),

		StoreSizeBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaultline_store_size_bytes",
				Help: "Total size on disk of the chunk store",
			},
		),

		WALRecoveryRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultline_wal_recovery_runs_total",
				Help: "Process starts that found and cleaned up an incomplete transaction",
			},
		),
	}
}

// RecordCommand records a finished control-plane command.
func (m *Metrics) RecordCommand(command string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}

// RecordPolicyDenied records a pre-execution policy refusal.
func (m *Metrics) RecordPolicyDenied(command, user string) {
	m.PolicyDeniedTotal.WithLabelValues(command, user).Inc()
}

// RecordSnapshot records a snapshot creation attempt's outcome and
// duration.
func (m *Metrics) RecordSnapshot(success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SnapshotsTotal.WithLabelValues(status).Inc()
	m.SnapshotDuration.Observe(durationSeconds)
}

// RecordChunkStored records a chunk written to the store (as opposed to
// deduplicated) and its byte size.
func (m *Metrics) RecordChunkStored(size int) {
	m.ChunksStoredTotal.Inc()
	m.BytesStoredTotal.Add(float64(size))
}

// RecordChunkDeduped records a chunk that was already present.
func (m *Metrics) RecordChunkDeduped() {
	m.ChunksDedupedTotal.Inc()
}

// RecordVerify records a verify run's result kind ("" for a clean pass).
func (m *Metrics) RecordVerify(kind string) {
	if kind == "" {
		kind = "ok"
	}
	m.VerifyTotal.WithLabelValues(kind).Inc()
	if kind == "RollbackDetected" {
		m.RollbackDetections.Inc()
	}
}

// RecordRestore records a restore operation's outcome.
func (m *Metrics) RecordRestore(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RestoreTotal.WithLabelValues(status).Inc()
}

// RecordWALRecovery records that process startup found and cleaned up an
// incomplete transaction.
func (m *Metrics) RecordWALRecovery() {
	m.WALRecoveryRunsTotal.Inc()
}

// SetStoreSizeBytes updates the gauge tracking total on-disk store size.
func (m *Metrics) SetStoreSizeBytes(n int64) {
	m.StoreSizeBytes.Set(float64(n))
}

// Handler exposes the Prometheus metrics endpoint, for an operator who
// wants to scrape backupctl's accumulated counters from a long-lived
// "metrics" subcommand invocation rather than a textfile collector.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
