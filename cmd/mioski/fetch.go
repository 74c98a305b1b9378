package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/downloader"
	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
	"github.com/pkfsm/mioski/internal/manifest"
	"github.com/pkfsm/mioski/internal/progress"
)

// runFetch downloads one URL to a local file.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	cf := addConfigFlags(fs)

	url := fs.String("url", "", "Source URL (required)")
	output := fs.String("output", "", "Output file path (required)")
	size := fs.String("size", "", "Expected size; probed when empty")
	retries := fs.Int("retries", 0, "Attempts before giving up (default from config)")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: mioski fetch [options]

Download a URL with the same resume, retry and size checks used by run.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *url == "" || *output == "" {
		fmt.Fprintln(stderr, "Error: -url and -output are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *retries > 0 {
		cfg.Retry.Attempts = *retries
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := mhttp.NewClient(mhttp.DefaultOptions())
	src := manifest.DirectURL(*url)

	expected := int64(-1)
	if *size != "" {
		if expected, err = progress.ParseBytes(*size); err != nil {
			fmt.Fprintf(stderr, "Invalid size: %v\n", err)
			return ExitInvalidArgs
		}
	} else if n, ok := downloader.NewProber(client, log, cfg.ProbeTimeout).Probe(ctx, src); ok {
		expected = n
	}

	osfs := afero.NewOsFs()
	res, err := downloader.New(osfs, client, log, nil, downloader.OptionsFromConfig(cfg)).Download(ctx, src, expected)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, failure.ErrTooLarge):
			return ExitTooLarge
		case ctx.Err() != nil:
			return ExitGeneralError
		default:
			return ExitSourceNotAccess
		}
	}

	if err := moveFile(osfs, res.Path, *output); err != nil {
		osfs.Remove(res.Path)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	fmt.Fprintf(stderr, "[mioski] Downloaded %s to %s\n", progress.FormatBytes(res.Size), *output)
	return ExitSuccess
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(fs afero.Fs, src, dst string) error {
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}

	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Remove(src)
}
