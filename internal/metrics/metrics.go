// Package metrics exposes prometheus collectors for blob I/O, batch operations, archive builds
// and signed downloads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BlobOps        *prometheus.CounterVec   // uploadnest_blob_operations_total{operation,status}
	BlobOpDuration *prometheus.HistogramVec // uploadnest_blob_operation_duration_seconds{operation}
	BytesWritten   prometheus.Counter       // uploadnest_blob_bytes_written_total
	BytesRead      prometheus.Counter       // uploadnest_blob_bytes_read_total

	BatchItems    *prometheus.CounterVec // uploadnest_batch_items_total{operation,outcome}
	Compensations *prometheus.CounterVec // uploadnest_upload_compensations_total{status}

	ArchivesBuilt  *prometheus.CounterVec // uploadnest_archives_total{status}
	ArchiveEntries prometheus.Histogram   // uploadnest_archive_entries

	Downloads *prometheus.CounterVec // uploadnest_downloads_total{result}
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		BlobOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadnest_blob_operations_total",
			Help: "Blob store operations by operation and status",
		}, []string{"operation", "status"}),
		BlobOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uploadnest_blob_operation_duration_seconds",
			Help:    "Blob store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "uploadnest_blob_bytes_written_total",
			Help: "Bytes committed to the blob store",
		}),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "uploadnest_blob_bytes_read_total",
			Help: "Bytes streamed out of the blob store",
		}),
		BatchItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadnest_batch_items_total",
			Help: "Batch items by operation and outcome",
		}, []string{"operation", "outcome"}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadnest_upload_compensations_total",
			Help: "Orphaned blob deletions after failed record creation",
		}, []string{"status"}),
		ArchivesBuilt: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadnest_archives_total",
			Help: "Archive builds by status",
		}, []string{"status"}),
		ArchiveEntries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "uploadnest_archive_entries",
			Help:    "Entries per built archive",
			Buckets: []float64{2, 5, 10, 25, 50, 100, 250},
		}),
		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadnest_downloads_total",
			Help: "Signed download requests by result",
		}, []string{"result"}),
	}
}

// HandlerFor serves the collectors registered on g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordBlobOp(op string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.BlobOps.WithLabelValues(op, status(err)).Inc()
	m.BlobOpDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) RecordWrite(n int64) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) RecordRead(n int64) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

// RecordBatch counts succeeded and failed items of one batch.
func (m *Metrics) RecordBatch(op string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.BatchItems.WithLabelValues(op, "success").Add(float64(succeeded))
	m.BatchItems.WithLabelValues(op, "failure").Add(float64(failed))
}

func (m *Metrics) RecordCompensation(err error) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) RecordArchive(entries int, err error) {
	if m == nil {
		return
	}
	m.ArchivesBuilt.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.ArchiveEntries.Observe(float64(entries))
	}
}

// RecordDownload counts gateway outcomes: served, denied, not_found.
func (m *Metrics) RecordDownload(result string) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(result).Inc()
}
