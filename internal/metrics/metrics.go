package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. Each instance carries its
// own registry so tests can create metrics without colliding on the default
// global registry.
type Metrics struct {
	registry *prometheus.Registry

	DownloadsTotal   prometheus.Counter
	DownloadErrors   prometheus.Counter
	ActiveDownloads  prometheus.Gauge
	DownloadDuration prometheus.Histogram
	DownloadSize     prometheus.Histogram
	DiskUsage        prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DownloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steam_downloads_total",
			Help: "Total number of downloads started",
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steam_download_errors_total",
			Help: "Total number of download errors",
		}),
		ActiveDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steam_active_downloads",
			Help: "Number of active downloads",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "steam_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		DownloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "steam_download_size_bytes",
			Help:    "Download size in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
		}),
		DiskUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steam_disk_usage_bytes",
			Help: "Disk usage of the volume path in bytes",
		}),
	}

	m.registry.MustRegister(
		m.DownloadsTotal,
		m.DownloadErrors,
		m.ActiveDownloads,
		m.DownloadDuration,
		m.DownloadSize,
		m.DiskUsage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
