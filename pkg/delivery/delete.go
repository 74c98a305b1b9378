package delivery

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// Delete removes a delivered entry: every part, the thumbnail, then the
// record. Parts that are already gone are skipped.
func Delete(ctx context.Context, bucket *blob.Bucket, prefix string, id int64) error {
	rec, err := ReadRecord(ctx, bucket, prefix, id)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(rec.Parts)+1)
	for _, part := range rec.Parts {
		keys = append(keys, rec.PartsPrefix+part.Object)
	}
	if rec.Thumbnail != "" {
		keys = append(keys, rec.PartsPrefix+rec.Thumbnail)
	}
	for _, key := range keys {
		if err := bucket.Delete(ctx, key); err != nil && !IsNotExist(err) {
			return fmt.Errorf("delivery: delete %s: %w", key, err)
		}
	}

	if err := bucket.Delete(ctx, RecordKey(prefix, id)); err != nil {
		return fmt.Errorf("delivery: delete record: %w", err)
	}
	return nil
}

// DeletePartial removes whatever objects an interrupted delivery of entry
// id left behind. If a record exists the entry is complete and Delete is
// used instead. It returns the number of objects removed.
func DeletePartial(ctx context.Context, bucket *blob.Bucket, prefix string, id int64) (int, error) {
	exists, err := bucket.Exists(ctx, RecordKey(prefix, id))
	if err != nil {
		return 0, fmt.Errorf("delivery: check record: %w", err)
	}
	if exists {
		rec, err := ReadRecord(ctx, bucket, prefix, id)
		if err != nil {
			return 0, err
		}
		n := len(rec.Parts)
		if rec.Thumbnail != "" {
			n++
		}
		return n, Delete(ctx, bucket, prefix, id)
	}

	var keys []string
	iter := bucket.List(&blob.ListOptions{Prefix: PartsPrefix(prefix, id)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("delivery: list parts: %w", err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("delivery: nothing stored for entry %d", id)
	}

	for _, key := range keys {
		if err := bucket.Delete(ctx, key); err != nil && !IsNotExist(err) {
			return 0, fmt.Errorf("delivery: delete %s: %w", key, err)
		}
	}
	return len(keys), nil
}
