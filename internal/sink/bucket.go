package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"gocloud.dev/blob"

	"github.com/pkfsm/mioski/internal/failure"
	"github.com/pkfsm/mioski/internal/progress"
	"github.com/pkfsm/mioski/internal/runner"
	"github.com/pkfsm/mioski/pkg/delivery"
)

// Bucket stores deliveries in a gocloud bucket using the delivery layout.
// The record of an entry is written when its last part arrives and every
// earlier part of the same entry was stored.
type Bucket struct {
	bucket *blob.Bucket
	owned  bool
	fs     afero.Fs
	prefix string
	log    *slog.Logger

	mu      sync.Mutex
	pending map[int64]*delivery.Record
}

// OpenBucket opens the bucket at rawURL. A "prefix" query parameter sets the
// key prefix and is removed before the URL is handed to gocloud.
func OpenBucket(ctx context.Context, rawURL string, fs afero.Fs, log *slog.Logger) (*Bucket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("sink: parse url: %w", err)
	}
	q := u.Query()
	prefix := q.Get("prefix")
	q.Del("prefix")
	u.RawQuery = q.Encode()

	bkt, err := blob.OpenBucket(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("sink: open bucket: %w", err)
	}
	b := NewBucket(bkt, fs, prefix, log)
	b.owned = true
	return b, nil
}

// NewBucket wraps an open bucket. The caller keeps ownership of bucket.
func NewBucket(bucket *blob.Bucket, fs afero.Fs, prefix string, log *slog.Logger) *Bucket {
	return &Bucket{
		bucket:  bucket,
		fs:      fs,
		prefix:  prefix,
		log:     log.With(slog.String("component", "sink")),
		pending: make(map[int64]*delivery.Record),
	}
}

// Upload stores one part. The first part of an entry also stores its
// thumbnail; a thumbnail that cannot be stored is logged and skipped.
func (b *Bucket) Upload(ctx context.Context, d runner.Delivery) error {
	dir := delivery.PartsPrefix(b.prefix, d.EntryID)
	key := dir + d.FileName

	f, err := b.fs.Open(d.Path)
	if err != nil {
		return failure.New(failure.UploadFailure, "open part", d.Path, err)
	}
	size, sum, err := delivery.Put(ctx, b.bucket, key, f, d.MIMEType)
	f.Close()
	if err != nil {
		return failure.New(failure.UploadFailure, "store part", key, err)
	}

	b.log.Info("part stored",
		slog.Int64("id", d.EntryID),
		slog.String("key", key),
		slog.Int("part", d.Part),
		slog.Int("total", d.Total),
		slog.String("size", progress.FormatBytes(size)),
	)

	b.mu.Lock()
	rec := b.pending[d.EntryID]
	if d.Part == 1 || rec == nil {
		rec = &delivery.Record{EntryID: d.EntryID, Name: d.Name, MIMEType: d.MIMEType, PartsPrefix: dir}
		b.pending[d.EntryID] = rec
	}
	rec.Parts = append(rec.Parts, delivery.PartInfo{
		Object:   d.FileName,
		Sequence: d.Part,
		Size:     size,
		Checksum: sum,
		Caption:  d.Caption,
	})
	done := d.Part == d.Total
	if done {
		delete(b.pending, d.EntryID)
	}
	b.mu.Unlock()

	if d.Part == 1 && d.Thumbnail != "" {
		if thumb, err := b.storeThumbnail(ctx, dir, d.Thumbnail); err != nil {
			b.log.Warn("thumbnail not stored", slog.Int64("id", d.EntryID), slog.Any("error", err))
		} else {
			rec.Thumbnail = thumb
		}
	}

	if !done {
		return nil
	}
	if len(rec.Parts) != d.Total {
		return failure.Newf(failure.UploadFailure, "write record", delivery.RecordKey(b.prefix, d.EntryID),
			"have %d of %d parts", len(rec.Parts), d.Total)
	}
	if err := delivery.WriteRecord(ctx, b.bucket, b.prefix, rec); err != nil {
		return failure.New(failure.UploadFailure, "write record", delivery.RecordKey(b.prefix, d.EntryID), err)
	}
	b.log.Debug("delivery record written", slog.Int64("id", d.EntryID), slog.Int("parts", len(rec.Parts)))
	return nil
}

func (b *Bucket) storeThumbnail(ctx context.Context, dir, path string) (string, error) {
	f, err := b.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := "thumbnail" + filepath.Ext(path)
	if _, _, err := delivery.Put(ctx, b.bucket, dir+name, f, ""); err != nil {
		return "", err
	}
	return name, nil
}

// Close closes the bucket if OpenBucket opened it.
func (b *Bucket) Close() error {
	if b.owned {
		return b.bucket.Close()
	}
	return nil
}
