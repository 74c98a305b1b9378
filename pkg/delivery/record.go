package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// RecordSuffix ends the key of every delivery record.
const RecordSuffix = ".delivery.json"

// ErrIncomplete is returned by WriteRecord when the record does not list a
// contiguous run of parts.
var ErrIncomplete = errors.New("delivery: record is incomplete")

// Record describes a completely delivered entry.
type Record struct {
	EntryID     int64      `json:"entry_id"`
	Name        string     `json:"name"`
	MIMEType    string     `json:"mime_type,omitempty"`
	TotalSize   int64      `json:"total_size"`
	PartsPrefix string     `json:"parts_prefix"`
	Parts       []PartInfo `json:"parts"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}

// PartInfo describes one stored part. Object is relative to PartsPrefix.
type PartInfo struct {
	Object   string `json:"object"`
	Sequence int    `json:"sequence"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// PartsPrefix returns the directory holding the objects of entry id.
func PartsPrefix(prefix string, id int64) string {
	return join(prefix, strconv.FormatInt(id, 10)) + "/"
}

// RecordKey returns the key of the record for entry id.
func RecordKey(prefix string, id int64) string {
	return join(prefix, strconv.FormatInt(id, 10)+RecordSuffix)
}

func join(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Put streams r into key and returns the number of bytes stored and their
// hex SHA256. On error the write is cancelled so no partial object is
// committed.
func Put(ctx context.Context, bucket *blob.Bucket, key string, r io.Reader, contentType string) (int64, string, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return 0, "", fmt.Errorf("delivery: create writer %s: %w", key, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		cancel()
		w.Close()
		return 0, "", fmt.Errorf("delivery: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, "", fmt.Errorf("delivery: commit %s: %w", key, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// WriteRecord stores rec under its RecordKey. Parts must be numbered 1..n in
// order; TotalSize and CompletedAt are filled in when zero.
func WriteRecord(ctx context.Context, bucket *blob.Bucket, prefix string, rec *Record) error {
	if len(rec.Parts) == 0 {
		return ErrIncomplete
	}
	var total int64
	for i, p := range rec.Parts {
		if p.Sequence != i+1 {
			return fmt.Errorf("%w: part %d has sequence %d", ErrIncomplete, i+1, p.Sequence)
		}
		total += p.Size
	}
	if rec.TotalSize == 0 {
		rec.TotalSize = total
	}
	if rec.PartsPrefix == "" {
		rec.PartsPrefix = PartsPrefix(prefix, rec.EntryID)
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("delivery: marshal record: %w", err)
	}
	if err := bucket.WriteAll(ctx, RecordKey(prefix, rec.EntryID), data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("delivery: write record: %w", err)
	}
	return nil
}

// ReadRecord loads the record of entry id. A missing record yields an error
// for which IsNotExist reports true.
func ReadRecord(ctx context.Context, bucket *blob.Bucket, prefix string, id int64) (*Record, error) {
	data, err := bucket.ReadAll(ctx, RecordKey(prefix, id))
	if err != nil {
		return nil, fmt.Errorf("delivery: read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("delivery: unmarshal record: %w", err)
	}
	return &rec, nil
}

// List returns the IDs of all entries with a record under prefix, ascending.
func List(ctx context.Context, bucket *blob.Bucket, prefix string) ([]int64, error) {
	dir := strings.Trim(prefix, "/")
	if dir != "" {
		dir += "/"
	}

	var ids []int64
	iter := bucket.List(&blob.ListOptions{Prefix: dir, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("delivery: list: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, RecordSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, dir), RecordSuffix)
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// IsNotExist reports whether err means the object does not exist.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
