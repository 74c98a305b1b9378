package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkfsm/mioski/internal/config"
	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
)

const tempDir = "/tmp/mioski-test"

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		TempDir:        tempDir,
		AttemptTimeout: 5 * time.Second,
		Retry: config.RetryConfig{
			Attempts:   3,
			Backoff:    time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
		},
	}
}

func newTestDownloader(t *testing.T, opts Options) (*Downloader, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(tempDir, 0o755))
	client := mhttp.NewClient(mhttp.DefaultOptions())
	return New(fs, client, discardLogger(), nil, opts), fs
}

func assertNoTempFiles(t *testing.T, fs afero.Fs) {
	t.Helper()
	entries, err := afero.ReadDir(fs, tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left behind")
}

func readResult(t *testing.T, fs afero.Fs, res *Result) []byte {
	t.Helper()
	got, err := afero.ReadFile(fs, res.Path)
	require.NoError(t, err)
	return got
}

// serveRange serves data, honouring an open-ended Range header.
func serveRange(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("ETag", `"v1"`)
	w.Header().Set("Accept-Ranges", "bytes")

	rng := r.Header.Get("Range")
	if rng == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
		return
	}

	start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
	if err != nil || start >= len(data) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)-start))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start:])
}

// serveCutOff declares the full length but only sends the first n bytes,
// so the client sees an unexpected EOF.
func serveCutOff(w http.ResponseWriter, data []byte, n int) {
	w.Header().Set("ETag", `"v1"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data[:n])
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// recorder captures the Range and If-Range headers of every GET.
type recorder struct {
	mu       sync.Mutex
	ranges   []string
	ifRanges []string
}

func (rec *recorder) record(r *http.Request) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.ranges = append(rec.ranges, r.Header.Get("Range"))
	rec.ifRanges = append(rec.ifRanges, r.Header.Get("If-Range"))
	return len(rec.ranges)
}

func TestDownloadWhole(t *testing.T) {
	data := testData(100 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL+"/movie.mp4", int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), res.Size)
	assert.True(t, strings.HasSuffix(res.Path, ".mp4"))
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

func TestDownloadUnknownSize(t *testing.T) {
	data := testData(20 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL+"/clip", -1)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.Path, ".bin"))
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

func TestDownloadResumesAfterDisconnect(t *testing.T) {
	data := testData(256 * 1024)
	const cutAt = 100_000

	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			serveCutOff(w, data, cutAt)
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL+"/file.bin", int64(len(data)))
	require.NoError(t, err)

	require.Len(t, rec.ranges, 2)
	assert.Equal(t, "", rec.ranges[0])
	assert.Equal(t, fmt.Sprintf("bytes=%d-", cutAt), rec.ranges[1])
	assert.Equal(t, `"v1"`, rec.ifRanges[1])
	assert.Equal(t, int64(len(data)), res.Size)
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)), "resumed file differs from source")
}

func TestDownloadRangeIgnoredRestartsFromZero(t *testing.T) {
	data := testData(64 * 1024)

	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			serveCutOff(w, data, 10_000)
			return
		}
		// Ignore Range and send everything.
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL, int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, "bytes=10000-", rec.ranges[1])
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

// statusWriter records the status code a handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status *int32
}

func (w statusWriter) WriteHeader(code int) {
	atomic.StoreInt32(w.status, int32(code))
	w.ResponseWriter.WriteHeader(code)
}

func TestDownloadResumesWithWeakETag(t *testing.T) {
	data := testData(64 * 1024)
	const cutAt = 40_960
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		modTime     time.Time
		wantIfRange string
	}{
		{"without last-modified", time.Time{}, ""},
		{"with last-modified", modified, modified.Format(http.TimeFormat)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			var status int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("ETag", `W/"v1"`)
				if rec.record(r) == 1 {
					if !tt.modTime.IsZero() {
						w.Header().Set("Last-Modified", tt.modTime.Format(http.TimeFormat))
					}
					w.Header().Set("Content-Length", strconv.Itoa(len(data)))
					w.Write(data[:cutAt])
					w.(http.Flusher).Flush()
					return
				}
				http.ServeContent(statusWriter{w, &status}, r, "clip.mp4", tt.modTime, bytes.NewReader(data))
			}))
			defer server.Close()

			d, fs := newTestDownloader(t, testOptions())
			res, err := d.Download(context.Background(), server.URL+"/clip.mp4", int64(len(data)))
			require.NoError(t, err)

			require.Len(t, rec.ranges, 2)
			assert.Equal(t, fmt.Sprintf("bytes=%d-", cutAt), rec.ranges[1])
			assert.Equal(t, tt.wantIfRange, rec.ifRanges[1])
			assert.Equal(t, int32(http.StatusPartialContent), atomic.LoadInt32(&status), "resume was answered with the whole body")
			assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
		})
	}
}

func TestDownloadShortBodyRetriesOnSizeMismatch(t *testing.T) {
	data := testData(50 * 1024)
	short := data[:20*1024]

	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			// Complete response, just smaller than the probed size.
			w.Header().Set("Content-Length", strconv.Itoa(len(short)))
			w.Write(short)
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL, int64(len(data)))
	require.NoError(t, err)

	require.Len(t, rec.ranges, 2)
	assert.Equal(t, fmt.Sprintf("bytes=%d-", len(short)), rec.ranges[1])
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

func TestDownloadOversizedBodyIsCutAndRetried(t *testing.T) {
	data := testData(40 * 1024)
	padded := append(append([]byte{}, data...), testData(8*1024)...)

	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(padded)))
			w.Write(padded)
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL, int64(len(data)))
	require.NoError(t, err)

	require.Len(t, rec.ranges, 2)
	assert.Equal(t, "", rec.ranges[1], "oversized attempt should restart from zero")
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

func TestDownloadWithinTolerance(t *testing.T) {
	data := testData(30 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, _ := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL, int64(len(data))+SizeTolerance)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), res.Size)
}

func TestDownloadExhaustedRetries(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL, 1000)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, failure.ErrExhaustedRetries))
	assert.True(t, errors.Is(err, mhttp.ErrServerError), "last attempt error should be wrapped")
	assert.Equal(t, failure.ExhaustedRetries, failure.KindOf(err))
	assert.Equal(t, int32(3), requests.Load())
	assertNoTempFiles(t, fs)
}

func TestDownloadPersistentSizeMismatchExhausts(t *testing.T) {
	data := testData(10 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	_, err := d.Download(context.Background(), server.URL, int64(len(data))+10_000)

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrExhaustedRetries))
	assert.True(t, errors.Is(err, failure.ErrSizeMismatch))
	assertNoTempFiles(t, fs)
}

func TestDownloadTooLargeIssuesNoRequest(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	opts := testOptions()
	opts.Ceiling = 10_000
	d, fs := newTestDownloader(t, opts)

	_, err := d.Download(context.Background(), server.URL, 10_001)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrTooLarge))
	assert.Equal(t, int32(0), requests.Load())
	assertNoTempFiles(t, fs)
}

func TestDownloadTooLargeDiscoveredFromResponse(t *testing.T) {
	data := testData(20 * 1024)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		serveRange(w, r, data)
	}))
	defer server.Close()

	opts := testOptions()
	opts.Ceiling = 1024
	d, fs := newTestDownloader(t, opts)

	_, err := d.Download(context.Background(), server.URL, -1)
	require.Error(t, err)
	assert.Equal(t, failure.TooLarge, failure.KindOf(err))
	assert.Equal(t, int32(1), requests.Load(), "too large is not retried")
	assertNoTempFiles(t, fs)
}

func TestDownloadContentRangeMismatch(t *testing.T) {
	data := testData(30 * 1024)
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			serveCutOff(w, data, 5000)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	_, err := d.Download(context.Background(), server.URL, int64(len(data)))

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrExhaustedRetries))
	assert.Contains(t, err.Error(), "content range starts at 0, want 5000")
	assertNoTempFiles(t, fs)
}

func TestDownloadCompleteBeforeDisconnect(t *testing.T) {
	data := testData(12 * 1024)
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			// Every byte arrives but the declared length is one more.
			w.Header().Set("Content-Length", strconv.Itoa(len(data)+1))
			w.Write(data)
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()

	d, fs := newTestDownloader(t, testOptions())
	res, err := d.Download(context.Background(), server.URL, int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("bytes=%d-", len(data)), rec.ranges[1])
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

func TestDownloadCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := testOptions()
	opts.Retry.Backoff = time.Minute
	opts.Retry.MaxBackoff = time.Minute
	d, fs := newTestDownloader(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Download(ctx, server.URL, 100)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, failure.TransferFailure, failure.KindOf(err))
	assertNoTempFiles(t, fs)
}

func TestDownloadAttemptTimeoutIsRetried(t *testing.T) {
	data := testData(4 * 1024)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		serveRange(w, r, data)
	}))
	defer server.Close()

	opts := testOptions()
	opts.AttemptTimeout = 100 * time.Millisecond
	d, fs := newTestDownloader(t, opts)

	res, err := d.Download(context.Background(), server.URL, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.True(t, bytes.Equal(data, readResult(t, fs, res)))
}

func TestBackoff(t *testing.T) {
	d := &Downloader{opts: Options{Retry: config.RetryConfig{
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
	}}}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, d.backoff(i+1), "attempt %d", i+1)
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	d := &Downloader{opts: Options{Retry: config.RetryConfig{
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
		Jitter:     true,
	}}}

	for i := 0; i < 100; i++ {
		got := d.backoff(3)
		assert.GreaterOrEqual(t, got, 2*time.Second)
		assert.LessOrEqual(t, got, 4*time.Second)
	}
}

func TestTempSuffix(t *testing.T) {
	tests := map[string]string{
		"https://example.com/a/movie.mkv":         ".mkv",
		"https://example.com/a/movie.mp4?x=1":     ".mp4",
		"https://example.com/download":            ".bin",
		"https://example.com/a.verylongextension": ".bin",
		"://bad": ".bin",
	}
	for in, want := range tests {
		assert.Equal(t, want, tempSuffix(in), in)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TempDir = "/var/tmp"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "/var/tmp", opts.TempDir)
	assert.Equal(t, int64(20_000_000_000), opts.Ceiling)
	assert.Equal(t, time.Hour, opts.AttemptTimeout)
	assert.Equal(t, 3, opts.Retry.Attempts)
}
