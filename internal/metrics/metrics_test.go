package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.EntryStarted()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["mioski_entries_in_progress"])
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestEntryFinished(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EntryStarted()
	m.EntryFinished("")
	m.EntryStarted()
	m.EntryFinished("too_large")
	m.EntryStarted()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failuresTotal.WithLabelValues("too_large")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inProgress))
}

func TestAttemptsAndBytes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Attempt("transfer_failure")
	m.Attempt("success")
	m.Downloaded(1024)
	m.Downloaded(0)
	m.Downloaded(-5)
	m.PartDelivered(true)
	m.PartDelivered(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("transfer_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.downloadedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partsTotal.WithLabelValues("failure")))
}

func TestHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DownloadDuration(3.5)
	m.ArtifactSize(5 << 20)

	assert.Equal(t, 1, testutil.CollectAndCount(m.downloadSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(m.artifactBytes))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EntryStarted()
		m.EntryFinished("x")
		m.Attempt("success")
		m.Downloaded(10)
		m.DownloadDuration(1)
		m.ArtifactSize(1)
		m.PartDelivered(true)
	})
}
