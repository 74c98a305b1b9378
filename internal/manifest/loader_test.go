package manifest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
)

const (
	remoteDoc = `[{"id": 1, "name": "Remote", "link": "https://example.com/r.mp4"}]`
	cachedDoc = `[{"id": 9, "name": "Cached", "link": "https://example.com/c.mp4"}]`
)

func newTestLoader(fs afero.Fs) *Loader {
	return NewLoader(fs, mhttp.NewClient(mhttp.DefaultOptions()), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadFromHTTPWritesCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(remoteDoc))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	entries, err := newTestLoader(fs).Load(context.Background(), server.URL+"/media.json", "/data/media_data.json")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Remote", entries[0].Name)

	cached, err := afero.ReadFile(fs, "/data/media_data.json")
	require.NoError(t, err)
	assert.Equal(t, remoteDoc, string(cached))
}

func TestLoadFallsBackToCache(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"invalid document": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>quota exceeded</html>`))
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "media_data.json", []byte(cachedDoc), 0o644))

			entries, err := newTestLoader(fs).Load(context.Background(), server.URL, "")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "Cached", entries[0].Name)

			// The cache is not overwritten by a failed fetch.
			cached, _ := afero.ReadFile(fs, "media_data.json")
			assert.Equal(t, cachedDoc, string(cached))
		})
	}
}

func TestLoadWithoutSourceUsesCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "cache.json", []byte(cachedDoc), 0o644))

	entries, err := newTestLoader(fs).Load(context.Background(), "", "cache.json")
	require.NoError(t, err)
	assert.Equal(t, int64(9), entries[0].ID)
}

func TestLoadNoSourceNoCache(t *testing.T) {
	_, err := newTestLoader(afero.NewMemMapFs()).Load(context.Background(), "", "missing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrManifestFailure))
}

func TestLoadFromBucket(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media.json"), []byte(remoteDoc), 0o644))

	fs := afero.NewMemMapFs()
	entries, err := newTestLoader(fs).Load(context.Background(), "file://"+dir+"?key=media.json", "cache.json")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Remote", entries[0].Name)

	exists, err := afero.Exists(fs, "cache.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadFromBucketMissingKeyFallsBack(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "cache.json", []byte(cachedDoc), 0o644))

	entries, err := newTestLoader(fs).Load(context.Background(), "file://"+dir+"?key=absent.json", "cache.json")
	require.NoError(t, err)
	assert.Equal(t, "Cached", entries[0].Name)
}

func TestLoadCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(remoteDoc))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "media_data.json", []byte(cachedDoc), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader(fs).Load(ctx, server.URL, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSplitBucketURL(t *testing.T) {
	bucketURL, key, err := SplitBucketURL("s3://media?region=us-east-1&key=lists/media.json")
	require.NoError(t, err)
	assert.Equal(t, "s3://media?region=us-east-1", bucketURL)
	assert.Equal(t, "lists/media.json", key)

	bucketURL, key, err = SplitBucketURL("mem://?key=a.json")
	require.NoError(t, err)
	assert.Equal(t, "mem:", bucketURL)
	assert.Equal(t, "a.json", key)

	bkt, err := blob.OpenBucket(context.Background(), bucketURL)
	require.NoError(t, err)
	bkt.Close()

	_, _, err = SplitBucketURL("s3://media")
	assert.Error(t, err)

	_, _, err = SplitBucketURL("media.json")
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://example.com/media.json", redact("https://user:pw@example.com/media.json?token=secret"))
	assert.Equal(t, "s3://bucket?key=a.json", redact("s3://bucket?key=a.json"))
}
