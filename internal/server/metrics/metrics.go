// Package metrics exposes Prometheus instrumentation for the storage server.
// A nil *Metrics is valid and records nothing, so components can run
// without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a reaper purge is attributed to.
const (
	ReasonStale      = "stale"
	ReasonCorrupt    = "corrupt"
	ReasonNoTracking = "no_tracking"
)

type Metrics struct {
	ChunksAccepted    prometheus.Counter     // gophdrive_upload_chunks_accepted_total
	UploadsCompleted  prometheus.Counter     // gophdrive_uploads_completed_total
	UploadsCancelled  prometheus.Counter     // gophdrive_uploads_cancelled_total
	BytesStored       prometheus.Counter     // gophdrive_bytes_stored_total
	QuotaRejections   prometheus.Counter     // gophdrive_quota_rejections_total
	AssemblySeconds   prometheus.Histogram   // gophdrive_upload_assembly_duration_seconds
	ReaperPurges      *prometheus.CounterVec // gophdrive_reaper_purges_total{reason}
	ReaperSessions    prometheus.Gauge       // gophdrive_reaper_sessions_observed
	DeletedFiles      prometheus.Counter     // gophdrive_deleted_files_total
	DeletedBytes      prometheus.Counter     // gophdrive_deleted_bytes_total
	ArchivesBuilt     prometheus.Counter     // gophdrive_archives_built_total
	ReconcileFindings *prometheus.CounterVec // gophdrive_reconcile_findings_total{kind}
}

// New registers all collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ChunksAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_upload_chunks_accepted_total",
			Help: "Chunks persisted into upload sessions",
		}),
		UploadsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_uploads_completed_total",
			Help: "Uploads assembled into files",
		}),
		UploadsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_uploads_cancelled_total",
			Help: "Upload sessions cancelled by clients",
		}),
		BytesStored: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_bytes_stored_total",
			Help: "Bytes committed to permanent storage",
		}),
		QuotaRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_quota_rejections_total",
			Help: "Uploads rejected for exceeding the quota",
		}),
		AssemblySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gophdrive_upload_assembly_duration_seconds",
			Help:    "Time spent assembling and committing uploads",
			Buckets: prometheus.DefBuckets,
		}),
		ReaperPurges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophdrive_reaper_purges_total",
			Help: "Upload sessions purged by the reaper",
		}, []string{"reason"}),
		ReaperSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "gophdrive_reaper_sessions_observed",
			Help: "Upload sessions seen by the last reaper scan",
		}),
		DeletedFiles: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_deleted_files_total",
			Help: "Files removed by delete operations",
		}),
		DeletedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_deleted_bytes_total",
			Help: "Bytes credited back by delete operations",
		}),
		ArchivesBuilt: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrive_archives_built_total",
			Help: "Zip archives streamed to clients",
		}),
		ReconcileFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophdrive_reconcile_findings_total",
			Help: "Inconsistencies found by the reconciler",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.ChunksAccepted.Inc()
}

func (m *Metrics) RecordUpload(bytes int64, took time.Duration) {
	if m == nil {
		return
	}
	m.UploadsCompleted.Inc()
	m.BytesStored.Add(float64(bytes))
	m.AssemblySeconds.Observe(took.Seconds())
}

func (m *Metrics) RecordCancel() {
	if m == nil {
		return
	}
	m.UploadsCancelled.Inc()
}

func (m *Metrics) RecordQuotaRejection() {
	if m == nil {
		return
	}
	m.QuotaRejections.Inc()
}

func (m *Metrics) RecordReaperScan(observed int) {
	if m == nil {
		return
	}
	m.ReaperSessions.Set(float64(observed))
}

func (m *Metrics) RecordReaperPurge(reason string) {
	if m == nil {
		return
	}
	m.ReaperPurges.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDelete(files int, bytes int64) {
	if m == nil {
		return
	}
	m.DeletedFiles.Add(float64(files))
	m.DeletedBytes.Add(float64(bytes))
}

func (m *Metrics) RecordArchive() {
	if m == nil {
		return
	}
	m.ArchivesBuilt.Inc()
}

// RecordReconcileFinding counts drift, missing_artifact or orphan_artifact findings.
func (m *Metrics) RecordReconcileFinding(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconcileFindings.WithLabelValues(kind).Add(float64(n))
}
