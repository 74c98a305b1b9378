package main

import (
	"flag"
	"fmt"

	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/config"
	"github.com/pkfsm/mioski/internal/progress"
	"github.com/pkfsm/mioski/internal/splitter"
)

// runSplit splits a local file into parts next to it.
func runSplit(args []string) int {
	fs := flag.NewFlagSet("split", flag.ExitOnError)

	file := fs.String("file", "", "File to split (required)")
	size := fs.String("size", "", "Part size (default MAX_FILE_SIZE)")
	plan := fs.Bool("plan", false, "Only print the part layout")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: mioski split [options]

Split a file into name.partNNN.ext parts in the same directory. Parts
written before a failure are removed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *file == "" {
		fmt.Fprintln(stderr, "Error: -file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var chunk int64
	if *size != "" {
		var err error
		if chunk, err = progress.ParseBytes(*size); err != nil || chunk <= 0 {
			fmt.Fprintf(stderr, "Invalid part size: %q\n", *size)
			return ExitInvalidArgs
		}
	} else {
		cfg := config.Default()
		if err := cfg.LoadFromEnv(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		chunk = cfg.SplitThreshold
	}

	osfs := afero.NewOsFs()

	if *plan {
		info, err := osfs.Stat(*file)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		for i, span := range splitter.Plan(info.Size(), chunk) {
			fmt.Printf("%s\t%d\t%d\n", splitter.PartName(info.Name(), i+1), span.Offset, span.Size)
		}
		return ExitSuccess
	}

	ctx, cancel := signalContext()
	defer cancel()

	parts, err := splitter.Split(ctx, osfs, *file, chunk)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	for _, p := range parts {
		fmt.Printf("%s\t%d\n", p.Path, p.Size)
	}
	fmt.Fprintf(stderr, "[mioski] Wrote %d parts of up to %s\n", len(parts), progress.FormatBytes(chunk))
	return ExitSuccess
}
