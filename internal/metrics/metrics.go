// Package metrics holds the Prometheus collectors exported by the server.
//
// Every method is safe to call on a nil *Metrics so components can be built
// without instrumentation in tests and one-off CLI commands.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filevault"

// Metrics groups request, upload, and blob lifecycle collectors on one registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	bytesWritten    prometheus.Counter
	blobsReclaimed  prometheus.Counter
	bytesReclaimed  prometheus.Counter
	refRepairs      prometheus.Counter
	orphanFiles     prometheus.Counter
	reconcileRuns   *prometheus.CounterVec
	compensations   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry(), true)
}

// NewWithRegistry registers collectors on reg. Runtime collectors are added
// only when withRuntime is set so tests can assert on an isolated registry.
func NewWithRegistry(reg *prometheus.Registry, withRuntime bool) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by outcome.",
		}, []string{"result"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_bytes_written_total",
			Help:      "Logical bytes published as new blobs.",
		}),
		blobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_reclaimed_total",
			Help:      "Blobs deleted after their reference count reached zero.",
		}),
		bytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_bytes_reclaimed_total",
			Help:      "Logical bytes freed by blob reclamation.",
		}),
		refRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_ref_repairs_total",
			Help:      "Blob reference counts corrected by reconciliation.",
		}),
		orphanFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_orphan_files_removed_total",
			Help:      "Blob files removed because no metadata row referenced them.",
		}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation sweeps by outcome.",
		}, []string{"result"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_compensations_total",
			Help:      "Blob releases performed after a failed metadata commit.",
		}, []string{"result"}),
	}

	cs := []prometheus.Collector{
		m.requests, m.requestDuration, m.uploads, m.bytesWritten, m.blobsReclaimed,
		m.bytesReclaimed, m.refRepairs, m.orphanFiles, m.reconcileRuns, m.compensations,
	}
	if withRuntime {
		cs = append(cs, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// UploadResult counts one finished upload: stored, deduplicated, or failed.
func (m *Metrics) UploadResult(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) BlobWritten(sizeBytes int64) {
	if m == nil || sizeBytes <= 0 {
		return
	}
	m.bytesWritten.Add(float64(sizeBytes))
}

func (m *Metrics) BlobReclaimed(sizeBytes int64) {
	if m == nil {
		return
	}
	m.blobsReclaimed.Inc()
	if sizeBytes > 0 {
		m.bytesReclaimed.Add(float64(sizeBytes))
	}
}

func (m *Metrics) RefRepaired() {
	if m == nil {
		return
	}
	m.refRepairs.Inc()
}

func (m *Metrics) OrphanFileRemoved() {
	if m == nil {
		return
	}
	m.orphanFiles.Inc()
}

func (m *Metrics) ReconcileRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) Compensation(err error) {
	if m == nil {
		return
	}
	result := "released"
	if err != nil {
		result = "failed"
	}
	m.compensations.WithLabelValues(result).Inc()
}
