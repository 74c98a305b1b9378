package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/config"
	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
	"github.com/pkfsm/mioski/internal/metrics"
	"github.com/pkfsm/mioski/internal/progress"
)

const (
	// ChunkSize is the read increment used when streaming a body to disk.
	ChunkSize = 8 * 1024

	// SizeTolerance is the largest accepted difference between the expected
	// and the transferred size.
	SizeTolerance = 1024
)

// Options configures a Downloader.
type Options struct {
	// TempDir is where temp files are created. Empty means the OS default.
	TempDir string

	// Ceiling is the largest expected size that will be downloaded at all.
	// Zero disables the check.
	Ceiling int64

	// AttemptTimeout bounds each attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration

	// Retry controls the number of attempts and the backoff between them.
	Retry config.RetryConfig

	// ProgressInterval is how many bytes pass between progress log lines.
	ProgressInterval int64
}

// OptionsFromConfig derives downloader options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TempDir:        cfg.TempDir,
		Ceiling:        cfg.Ceiling(),
		AttemptTimeout: cfg.DownloadTimeout,
		Retry:          cfg.Retry,
	}
}

// State tracks one Download call. It is owned by that call.
type State struct {
	URL          string
	Path         string
	ExpectedSize int64 // -1 when unknown
	BytesWritten int64
	Attempt      int

	// Validator of the resource as last seen, for If-Range.
	ETag         string
	WeakETag     bool
	LastModified string
}

// IfRange returns the If-Range value for the next resumed request.
func (st *State) IfRange() string {
	return mhttp.IfRange(st.ETag, st.WeakETag, st.LastModified)
}

// Result is a completed download. The caller owns the file at Path.
type Result struct {
	Path string
	Size int64
}

// Downloader performs resumable downloads into temp files.
type Downloader struct {
	fs      afero.Fs
	client  *mhttp.Client
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options
}

// New returns a Downloader writing to fs. m may be nil.
func New(fs afero.Fs, client *mhttp.Client, log *slog.Logger, m *metrics.Metrics, opts Options) *Downloader {
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 1
	}
	return &Downloader{fs: fs, client: client, log: log, metrics: m, opts: opts}
}

// Download fetches url into a fresh temp file. expected is the probed size,
// or negative when unknown.
//
// On failure the temp file is removed and the returned error is a
// *failure.Error of kind TooLarge, TransferFailure or ExhaustedRetries.
func (d *Downloader) Download(ctx context.Context, rawURL string, expected int64) (*Result, error) {
	if expected < 0 {
		expected = -1
	}

	f, err := afero.TempFile(d.fs, d.opts.TempDir, "mioski-*"+tempSuffix(rawURL))
	if err != nil {
		return nil, failure.New(failure.TransferFailure, "download", rawURL, fmt.Errorf("create temp file: %w", err))
	}

	st := &State{URL: rawURL, Path: f.Name(), ExpectedSize: expected}
	done := false
	defer func() {
		if done {
			return
		}
		f.Close()
		if err := d.fs.Remove(st.Path); err != nil {
			d.log.Warn("Could not remove temp file", slog.String("path", st.Path), slog.Any("error", err))
		}
	}()

	if d.tooLarge(expected) {
		return nil, failure.Newf(failure.TooLarge, "download", rawURL,
			"size %s exceeds ceiling %s", progress.FormatBytes(expected), progress.FormatBytes(d.opts.Ceiling))
	}

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= d.opts.Retry.Attempts; attempt++ {
		st.Attempt = attempt

		if attempt > 1 {
			delay := d.backoff(attempt - 1)
			d.log.Info("Retrying download",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, failure.New(failure.TransferFailure, "download", rawURL, err)
			}
		}

		err := d.attempt(ctx, f, st)
		if err == nil {
			d.metrics.Attempt("success")
			d.metrics.DownloadDuration(time.Since(started).Seconds())
			if err := f.Close(); err != nil {
				return nil, failure.New(failure.TransferFailure, "download", rawURL, fmt.Errorf("close temp file: %w", err))
			}
			done = true
			return &Result{Path: st.Path, Size: st.BytesWritten}, nil
		}

		kind := failure.KindOf(err)
		d.metrics.Attempt(string(kind))

		if ctx.Err() != nil {
			return nil, failure.New(failure.TransferFailure, "download", rawURL, ctx.Err())
		}
		if !kind.Retryable() {
			return nil, err
		}

		lastErr = err
		d.log.Warn("Download attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.opts.Retry.Attempts),
			slog.Any("error", err),
		)
	}

	return nil, failure.New(failure.ExhaustedRetries, "download", rawURL, lastErr)
}

// attempt performs one GET and streams the body into f.
func (d *Downloader) attempt(ctx context.Context, f afero.File, st *State) error {
	if d.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.AttemptTimeout)
		defer cancel()
	}

	start := int64(0)
	if st.Attempt > 1 {
		info, err := f.Stat()
		if err != nil {
			return d.transferErr(st, fmt.Errorf("stat temp file: %w", err))
		}
		start = info.Size()
	}
	if st.ExpectedSize >= 0 && start > st.ExpectedSize {
		start = 0
	}

	resp, err := d.client.Get(ctx, st.URL, start, st.IfRange())
	if errors.Is(err, mhttp.ErrRangeNotSatisfiable) && start > 0 && start == st.ExpectedSize {
		// Previous attempt wrote every byte but failed before EOF.
		st.BytesWritten = start
		return nil
	}
	if err != nil {
		if errors.Is(err, mhttp.ErrRangeNotSatisfiable) {
			if terr := reset(f); terr != nil {
				return d.transferErr(st, terr)
			}
		}
		return d.transferErr(st, err)
	}
	defer resp.Body.Close()

	if resp.ETag != "" {
		st.ETag, st.WeakETag = resp.ETag, resp.WeakETag
	}
	if resp.LastModified != "" {
		st.LastModified = resp.LastModified
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if start > 0 {
			d.log.Info("Server ignored range, restarting from zero",
				slog.String("url", st.URL), slog.Int64("offset", start))
		}
		start = 0
		if err := reset(f); err != nil {
			return d.transferErr(st, err)
		}
	case http.StatusPartialContent:
		if resp.Start != start {
			return d.transferErr(st, fmt.Errorf("content range starts at %d, want %d", resp.Start, start))
		}
		if err := f.Truncate(start); err != nil {
			return d.transferErr(st, fmt.Errorf("truncate temp file: %w", err))
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return d.transferErr(st, fmt.Errorf("seek temp file: %w", err))
		}
	}

	if st.ExpectedSize < 0 && resp.Total >= 0 {
		st.ExpectedSize = resp.Total
		if d.tooLarge(resp.Total) {
			return failure.Newf(failure.TooLarge, "download", st.URL,
				"size %s exceeds ceiling %s", progress.FormatBytes(resp.Total), progress.FormatBytes(d.opts.Ceiling))
		}
	}

	body := io.Reader(resp.Body)
	if st.ExpectedSize >= 0 {
		body = io.LimitReader(resp.Body, st.ExpectedSize+SizeTolerance+1-start)
	}

	st.BytesWritten = start
	tracker := progress.NewTrackerInterval(d.log, filepath.Base(st.Path), st.ExpectedSize, start, d.opts.ProgressInterval)
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return d.transferErr(st, fmt.Errorf("write temp file: %w", werr))
			}
			st.BytesWritten += int64(n)
			tracker.Write(buf[:n])
			d.metrics.Downloaded(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return d.transferErr(st, rerr)
		}
	}

	if st.ExpectedSize >= 0 {
		diff := st.BytesWritten - st.ExpectedSize
		if diff > SizeTolerance || diff < -SizeTolerance {
			if diff > 0 {
				if err := reset(f); err != nil {
					return d.transferErr(st, err)
				}
			}
			return failure.Newf(failure.SizeMismatch, "download", st.URL,
				"got %d bytes, expected %d", st.BytesWritten, st.ExpectedSize)
		}
	}

	tracker.Done()
	return nil
}

func (d *Downloader) transferErr(st *State, err error) error {
	return failure.New(failure.TransferFailure, "download", st.URL, fmt.Errorf("attempt %d: %w", st.Attempt, err))
}

func (d *Downloader) tooLarge(size int64) bool {
	return d.opts.Ceiling > 0 && size > d.opts.Ceiling
}

// backoff returns the delay after the given failed attempt:
// Backoff * 2^(attempt-1), capped at MaxBackoff.
func (d *Downloader) backoff(attempt int) time.Duration {
	delay := d.opts.Retry.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if d.opts.Retry.MaxBackoff > 0 && delay >= d.opts.Retry.MaxBackoff {
			break
		}
	}
	if d.opts.Retry.MaxBackoff > 0 && delay > d.opts.Retry.MaxBackoff {
		delay = d.opts.Retry.MaxBackoff
	}
	if d.opts.Retry.Jitter && delay > 0 {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
	}
	return delay
}

func reset(f afero.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek temp file: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tempSuffix returns the extension of the URL path, or ".bin".
func tempSuffix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".bin"
	}
	ext := path.Ext(u.Path)
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}
