package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"

	"github.com/pkfsm/mioski/pkg/delivery"
)

// runDelete removes a delivered entry and all its objects.
// By default prompts for confirmation unless --force is specified.
func runDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	prefix := fs.String("prefix", "", "Key prefix the sink wrote under")
	id := fs.Int64("id", -1, "Entry ID (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	partial := fs.Bool("partial", false, "Also remove objects of an unfinished delivery")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: mioski delete [options]

Remove a delivered entry, its parts and its thumbnail from object storage.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *id < 0 {
		fmt.Fprintln(stderr, "Error: -bucket and -id are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	if !*force {
		fmt.Fprintf(stderr, "Delete entry %d from %s? [y/N]: ", *id, *bucket)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(stderr, "Cancelled")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	if *partial {
		var n int
		n, err = delivery.DeletePartial(ctx, bkt, *prefix, *id)
		if err == nil {
			fmt.Fprintf(stderr, "[mioski] Removed %d objects\n", n)
		}
	} else {
		err = delivery.Delete(ctx, bkt, *prefix, *id)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stderr, "[mioski] Deleted entry %d from %s\n", *id, *bucket)
	return ExitSuccess
}
