package delivery

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of validating a delivered entry.
type ValidationResult struct {
	Valid          bool     // true if every part exists with the recorded size
	TotalSize      int64    // total size from the record
	PartCount      int      // number of parts in the record
	MissingParts   int      // number of parts that don't exist
	SizeMismatches int      // number of parts with wrong size
	Errors         []string // detailed error messages
}

// Validate checks that every part listed in the record of entry id exists
// with the recorded size. Only object attributes are read.
//
// A missing record, a malformed record or a storage failure is returned as
// an error. Missing parts and size mismatches are reported in the result
// with Valid=false. A missing thumbnail is reported the same way.
func Validate(ctx context.Context, bucket *blob.Bucket, prefix string, id int64) (*ValidationResult, error) {
	rec, err := ReadRecord(ctx, bucket, prefix, id)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:     true,
		TotalSize: rec.TotalSize,
		PartCount: len(rec.Parts),
		Errors:    make([]string, 0),
	}

	var sum int64
	for _, part := range rec.Parts {
		key := rec.PartsPrefix + part.Object
		sum += part.Size

		attrs, err := bucket.Attributes(ctx, key)
		if err != nil {
			if IsNotExist(err) {
				result.Valid = false
				result.MissingParts++
				result.Errors = append(result.Errors, fmt.Sprintf("part %d missing: %s", part.Sequence, key))
				continue
			}
			return nil, fmt.Errorf("delivery: check part %d: %w", part.Sequence, err)
		}
		if attrs.Size != part.Size {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("part %d size mismatch: expected %d, got %d", part.Sequence, part.Size, attrs.Size))
		}
	}

	if sum != rec.TotalSize {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("total size mismatch: record says %d, parts sum to %d", rec.TotalSize, sum))
	}

	if rec.Thumbnail != "" {
		key := rec.PartsPrefix + rec.Thumbnail
		ok, err := bucket.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("delivery: check thumbnail: %w", err)
		}
		if !ok {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("thumbnail missing: %s", key))
		}
	}

	return result, nil
}
