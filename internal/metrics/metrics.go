// Package metrics holds the Prometheus collectors of the service.
// Every record method is safe on a nil *Metrics, so services run without
// a registry in tests and CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filevault"

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	InvariantViolations *prometheus.CounterVec   // filevault_invariant_violations_total{kind}
	QuotaRejections     prometheus.Counter       // filevault_quota_rejections_total
	Uploads             *prometheus.CounterVec   // filevault_uploads_total{result}
	UploadedBytes       prometheus.Counter       // filevault_uploaded_bytes_total
	PurgedFiles         prometheus.Counter       // filevault_purged_files_total
	PurgedBytes         prometheus.Counter       // filevault_purged_bytes_total
	ShareResolutions    *prometheus.CounterVec   // filevault_share_resolutions_total{result}
	BlobOps             *prometheus.CounterVec   // filevault_blob_operations_total{op,result}
	BlobDuration        *prometheus.HistogramVec // filevault_blob_operation_duration_seconds{op}
	HTTPRequests        *prometheus.CounterVec   // filevault_http_requests_total{method,route,status}
	HTTPDuration        *prometheus.HistogramVec // filevault_http_request_duration_seconds{method,route}
}

// New registers the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		InvariantViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Detected accounting inconsistencies by kind",
		}, []string{"kind"}),
		QuotaRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Uploads rejected because the tenant quota was exhausted",
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by result",
		}, []string{"result"}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of successfully recorded uploads",
		}),
		PurgedFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_files_total",
			Help:      "Files permanently deleted",
		}),
		PurgedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_bytes_total",
			Help:      "Bytes released by permanent deletion",
		}),
		ShareResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_resolutions_total",
			Help:      "Share link resolutions by result",
		}, []string{"result"}),
		BlobOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_operations_total",
			Help:      "Blob store attempts by operation and result",
		}, []string{"op", "result"}),
		BlobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blob_operation_duration_seconds",
			Help:      "Blob store attempt duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method and route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) InvariantViolation(kind string) {
	if m == nil {
		return
	}
	m.InvariantViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.QuotaRejections.Inc()
}

// UploadResult records an upload outcome; size counts only on "ok".
func (m *Metrics) UploadResult(result string, size int64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
	if result == "ok" {
		m.UploadedBytes.Add(float64(size))
	}
}

func (m *Metrics) Purged(size int64) {
	if m == nil {
		return
	}
	m.PurgedFiles.Inc()
	m.PurgedBytes.Add(float64(size))
}

func (m *Metrics) ShareResolved(result string) {
	if m == nil {
		return
	}
	m.ShareResolutions.WithLabelValues(result).Inc()
}

// ObserveBlob matches storage.Observer.
func (m *Metrics) ObserveBlob(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BlobOps.WithLabelValues(op, result).Inc()
	m.BlobDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
