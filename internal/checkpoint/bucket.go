package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BucketStore keeps the checkpoint as a JSON object in a gocloud bucket.
type BucketStore struct {
	bucket *blob.Bucket
	key    string
	owned  bool
}

// OpenBucket opens the bucket at bucketURL and stores the checkpoint at key.
func OpenBucket(ctx context.Context, bucketURL, key string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open bucket: %w", err)
	}
	return &BucketStore{bucket: bucket, key: key, owned: true}, nil
}

// NewBucketStore wraps an already open bucket. Close does not close it.
func NewBucketStore(bucket *blob.Bucket, key string) *BucketStore {
	return &BucketStore{bucket: bucket, key: key}
}

func (s *BucketStore) Load(ctx context.Context) (int64, bool, error) {
	data, err := s.bucket.ReadAll(ctx, s.key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("checkpoint: read %s: %w", s.key, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, false, fmt.Errorf("checkpoint: unmarshal %s: %w", s.key, err)
	}
	return rec.LastID, true, nil
}

func (s *BucketStore) Save(ctx context.Context, id int64) error {
	data, err := json.MarshalIndent(record{LastID: id, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, s.key, data, opts); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", s.key, err)
	}
	return nil
}

func (s *BucketStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}
