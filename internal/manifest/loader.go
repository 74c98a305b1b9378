package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gocloud.dev/blob"

	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
)

// DefaultCachePath is where fetched manifests are kept.
const DefaultCachePath = "media_data.json"

// FetchTimeout bounds a remote manifest fetch.
const FetchTimeout = 60 * time.Second

// maxManifestSize guards against reading something that is not a manifest.
const maxManifestSize = 64 << 20

// Loader fetches manifests and maintains the local cache.
type Loader struct {
	fs     afero.Fs
	client *mhttp.Client
	log    *slog.Logger
}

// NewLoader returns a Loader. The cache file lives on fs.
func NewLoader(fs afero.Fs, client *mhttp.Client, log *slog.Logger) *Loader {
	return &Loader{fs: fs, client: client, log: log}
}

// Load returns the entries from src, falling back to the cache at cachePath
// when src is empty or the fetch fails. A successful fetch replaces the cache.
func (l *Loader) Load(ctx context.Context, src, cachePath string) ([]Entry, error) {
	if cachePath == "" {
		cachePath = DefaultCachePath
	}

	if src != "" {
		l.log.Info("Fetching manifest", slog.String("source", redact(src)))
		data, err := l.fetch(ctx, src)
		if err == nil {
			var entries []Entry
			entries, err = Decode(data)
			if err == nil {
				if werr := afero.WriteFile(l.fs, cachePath, data, 0o644); werr != nil {
					l.log.Warn("Could not write manifest cache", slog.String("path", cachePath), slog.Any("error", werr))
				}
				l.log.Info("Loaded manifest", slog.Int("entries", len(entries)), slog.String("source", redact(src)))
				return entries, nil
			}
		}
		if ctx.Err() != nil {
			return nil, failure.New(failure.ManifestFailure, "load", redact(src), ctx.Err())
		}
		l.log.Warn("Manifest fetch failed, using cache",
			slog.String("source", redact(src)),
			slog.String("cache", cachePath),
			slog.Any("error", err),
		)
	}

	data, err := afero.ReadFile(l.fs, cachePath)
	if err != nil {
		return nil, failure.New(failure.ManifestFailure, "load", "", fmt.Errorf("read cache: %w", err))
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, err
	}
	l.log.Info("Loaded manifest from cache", slog.Int("entries", len(entries)), slog.String("path", cachePath))
	return entries, nil
}

func (l *Loader) fetch(ctx context.Context, src string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return l.fetchHTTP(ctx, DirectURL(src))
	}
	return fetchBlob(ctx, src)
}

func (l *Loader) fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	resp, err := l.client.Get(ctx, src, 0, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readLimited(resp.Body)
}

// fetchBlob reads the object named by the key query parameter of a bucket URL.
func fetchBlob(ctx context.Context, src string) ([]byte, error) {
	bucketURL, key, err := SplitBucketURL(src)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	defer bucket.Close()

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()
	return readLimited(r)
}

// SplitBucketURL separates the key query parameter from a bucket URL.
func SplitBucketURL(src string) (bucketURL, key string, err error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", "", fmt.Errorf("parse manifest url: %w", err)
	}
	if u.Scheme == "" {
		return "", "", fmt.Errorf("manifest url %q has no scheme", src)
	}
	q := u.Query()
	key = q.Get("key")
	if key == "" {
		return "", "", fmt.Errorf("manifest url %q has no key parameter", src)
	}
	q.Del("key")
	u.RawQuery = q.Encode()
	return u.String(), key, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxManifestSize {
		return nil, errors.New("manifest too large")
	}
	return data, nil
}

// redact drops credentials and query strings from URLs before logging.
func redact(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	u.User = nil
	if strings.HasPrefix(u.Scheme, "http") {
		u.RawQuery = ""
	}
	return u.String()
}
