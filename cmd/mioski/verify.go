package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"gocloud.dev/blob"

	"github.com/pkfsm/mioski/internal/progress"
	"github.com/pkfsm/mioski/pkg/delivery"
)

// runVerify checks that delivered entries are complete. Without -checksum
// only object sizes are compared.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	prefix := fs.String("prefix", "", "Key prefix the sink wrote under")
	id := fs.Int64("id", -1, "Entry ID; all entries when omitted")
	checksum := fs.Bool("checksum", false, "Read every part and compare checksums")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: mioski verify [options]

Verify that delivered entries have every part with the recorded size.
With -checksum each part is also read back and hashed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" {
		fmt.Fprintln(stderr, "Error: -bucket is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	ids := []int64{*id}
	if *id < 0 {
		if ids, err = delivery.List(ctx, bkt, *prefix); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		if len(ids) == 0 {
			fmt.Fprintln(stderr, "[mioski] No delivered entries found")
			return ExitSuccess
		}
	}

	invalid := 0
	for _, entryID := range ids {
		result, err := delivery.Validate(ctx, bkt, *prefix, entryID)
		if err != nil {
			fmt.Fprintf(stderr, "Error: entry %d: %v\n", entryID, err)
			return ExitStorageError
		}

		fmt.Printf("Entry: %d\n", entryID)
		fmt.Printf("Total size: %s\n", progress.FormatBytes(result.TotalSize))
		fmt.Printf("Parts: %d\n", result.PartCount)

		if result.Valid && *checksum {
			if err := readBack(ctx, bkt, *prefix, entryID); err != nil {
				result.Valid = false
				result.Errors = append(result.Errors, err.Error())
			}
		}

		if result.Valid {
			fmt.Println("Status: VALID")
			continue
		}
		invalid++
		fmt.Println("Status: INVALID")
		fmt.Printf("Missing parts: %d\n", result.MissingParts)
		fmt.Printf("Size mismatches: %d\n", result.SizeMismatches)
		if len(result.Errors) > 0 {
			fmt.Println("\nErrors:")
			for _, e := range result.Errors {
				fmt.Printf("  - %s\n", e)
			}
		}
	}

	if invalid > 0 {
		return ExitValidationFailed
	}
	return ExitSuccess
}

func readBack(ctx context.Context, bkt *blob.Bucket, prefix string, id int64) error {
	r, err := delivery.Open(ctx, bkt, prefix, id, delivery.WithVerifyChecksum(true))
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := io.Copy(io.Discard, r); err != nil {
		if errors.Is(err, delivery.ErrChecksumMismatch) {
			return err
		}
		return fmt.Errorf("read back: %w", err)
	}
	return nil
}
