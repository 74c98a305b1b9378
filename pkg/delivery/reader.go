package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"gocloud.dev/blob"
)

// ErrChecksumMismatch is returned by Reader.Read when a part's content does
// not match the checksum in its record.
var ErrChecksumMismatch = errors.New("delivery: checksum mismatch")

// Options configures reading.
type Options struct {
	VerifyChecksum bool
}

// Option is a functional option for Open.
type Option func(*Options)

// WithVerifyChecksum enables checksum verification while reading. Parts
// without a stored checksum are not verified.
func WithVerifyChecksum(verify bool) Option {
	return func(o *Options) {
		o.VerifyChecksum = verify
	}
}

// Reader streams all parts of a delivered entry in order.
type Reader struct {
	ctx    context.Context
	bucket *blob.Bucket
	record *Record
	opts   Options

	next    int
	current io.ReadCloser
	sum     *checksumReader
	closed  bool
}

// Open reads the record of entry id and returns a Reader over its parts.
// The bucket stays owned by the caller.
func Open(ctx context.Context, bucket *blob.Bucket, prefix string, id int64, options ...Option) (*Reader, error) {
	opts := Options{}
	for _, opt := range options {
		opt(&opts)
	}

	rec, err := ReadRecord(ctx, bucket, prefix, id)
	if err != nil {
		return nil, err
	}
	return &Reader{ctx: ctx, bucket: bucket, record: rec, opts: opts}, nil
}

// Read reads the concatenated content of all parts.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	for {
		if r.current != nil {
			n, err := r.current.Read(p)
			if err == io.EOF {
				if err := r.verify(); err != nil {
					return n, err
				}
				r.current.Close()
				r.current = nil
				r.sum = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		if r.next >= len(r.record.Parts) {
			return 0, io.EOF
		}

		part := r.record.Parts[r.next]
		key := r.record.PartsPrefix + part.Object
		rd, err := r.bucket.NewReader(r.ctx, key, nil)
		if err != nil {
			return 0, fmt.Errorf("delivery: open part %d: %w", part.Sequence, err)
		}
		r.next++
		r.current = rd

		if r.opts.VerifyChecksum && part.Checksum != "" {
			r.sum = &checksumReader{reader: rd, hash: sha256.New()}
			r.current = r.sum
		}
	}
}

func (r *Reader) verify() error {
	if r.sum == nil {
		return nil
	}
	part := r.record.Parts[r.next-1]
	if got := r.sum.Sum(); got != part.Checksum {
		return fmt.Errorf("%w: part %d: expected %s, got %s", ErrChecksumMismatch, part.Sequence, part.Checksum, got)
	}
	return nil
}

// Close releases the part currently open. It does not close the bucket.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}

// Record returns the record being read.
func (r *Reader) Record() *Record {
	return r.record
}

type checksumReader struct {
	reader io.ReadCloser
	hash   hash.Hash
}

func (c *checksumReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.hash.Write(p[:n])
	}
	return n, err
}

func (c *checksumReader) Close() error {
	return c.reader.Close()
}

func (c *checksumReader) Sum() string {
	return hex.EncodeToString(c.hash.Sum(nil))
}
