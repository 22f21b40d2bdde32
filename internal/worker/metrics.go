package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	artifactsTotal       *prometheus.CounterVec
	pdfPagesTotal        prometheus.Counter
	missingPagesTotal    prometheus.Counter
	lockConflictsTotal   prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	artifactBytesTotal   prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbook_worker_jobs_total",
			Help: "Total worker jobs by kind and final status.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelbook_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelbook_worker_active_jobs",
			Help: "Current number of active jobs in the worker.",
		}),
		artifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelbook_worker_artifacts_total",
			Help: "Artifacts produced by operation; derived=false counts passthroughs.",
		}, []string{"operation", "derived"}),
		pdfPagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbook_worker_pdf_pages_total",
			Help: "Total pages written to exported photobooks.",
		}),
		missingPagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbook_worker_pdf_missing_pages_total",
			Help: "Photobook pages emitted without their photo.",
		}),
		lockConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbook_worker_export_lock_conflicts_total",
			Help: "Exports deferred because another worker held the photobook lock.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbook_usage_pixels_processed_total",
			Help: "Total pixels written across successful jobs.",
		}),
		artifactBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbook_usage_artifact_bytes_total",
			Help: "Total bytes of artifacts written across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelbook_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.artifactsTotal,
		m.pdfPagesTotal,
		m.missingPagesTotal,
		m.lockConflictsTotal,
		m.pixelsProcessedTotal,
		m.artifactBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
