// Package metrics exposes Prometheus instrumentation for mioski runs.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mioski"

// Metrics holds the collectors for one process.
type Metrics struct {
	// entriesTotal counts processed manifest entries by result (success/failure).
	entriesTotal *prometheus.CounterVec
	// failuresTotal counts classified failures by kind.
	failuresTotal *prometheus.CounterVec
	// attemptsTotal counts download attempts by outcome.
	attemptsTotal *prometheus.CounterVec
	// downloadedBytes counts bytes written to temp files.
	downloadedBytes prometheus.Counter
	// downloadSeconds tracks whole-download duration including retries.
	downloadSeconds prometheus.Histogram
	// artifactBytes tracks final artifact sizes.
	artifactBytes prometheus.Histogram
	// partsTotal counts delivered parts by result.
	partsTotal *prometheus.CounterVec
	// inProgress is 1 while an entry is being processed.
	inProgress prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// It panics if registration fails, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Manifest entries processed, by result.",
		}, []string{"result"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Classified failures, by kind.",
		}, []string{"kind"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_attempts_total",
			Help:      "Download attempts, by outcome.",
		}, []string{"outcome"}),
		downloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to download temp files.",
		}),
		downloadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of a download including retries.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1s .. ~4.5h
		}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Size of acquired artifacts.",
			Buckets: []float64{
				1 << 20,   // 1MiB
				10 << 20,  // 10MiB
				100 << 20, // 100MiB
				1 << 30,   // 1GiB
				2 << 30,   // 2GiB
				8 << 30,   // 8GiB
			},
		}),
		partsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_delivered_total",
			Help:      "Parts handed to the uploader, by result.",
		}, []string{"result"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries_in_progress",
			Help:      "Entries currently being processed.",
		}),
	}

	reg.MustRegister(
		m.entriesTotal,
		m.failuresTotal,
		m.attemptsTotal,
		m.downloadedBytes,
		m.downloadSeconds,
		m.artifactBytes,
		m.partsTotal,
		m.inProgress,
	)
	return m
}

// EntryStarted marks an entry as in progress.
func (m *Metrics) EntryStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

// EntryFinished records the result of an entry. kind is empty on success.
func (m *Metrics) EntryFinished(kind string) {
	if m == nil {
		return
	}
	m.inProgress.Dec()
	if kind == "" {
		m.entriesTotal.WithLabelValues("success").Inc()
		return
	}
	m.entriesTotal.WithLabelValues("failure").Inc()
	m.failuresTotal.WithLabelValues(kind).Inc()
}

// Attempt records one download attempt. outcome is "success" or a failure kind.
func (m *Metrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

// Downloaded adds n bytes to the download counter.
func (m *Metrics) Downloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadedBytes.Add(float64(n))
}

// DownloadDuration records how long a download took, in seconds.
func (m *Metrics) DownloadDuration(seconds float64) {
	if m == nil {
		return
	}
	m.downloadSeconds.Observe(seconds)
}

// ArtifactSize records the final size of an acquired artifact.
func (m *Metrics) ArtifactSize(n int64) {
	if m == nil {
		return
	}
	m.artifactBytes.Observe(float64(n))
}

// PartDelivered records one uploader call.
func (m *Metrics) PartDelivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.partsTotal.WithLabelValues("success").Inc()
		return
	}
	m.partsTotal.WithLabelValues("failure").Inc()
}
