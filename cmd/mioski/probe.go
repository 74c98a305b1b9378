package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/pkfsm/mioski/internal/downloader"
	mhttp "github.com/pkfsm/mioski/internal/http"
	"github.com/pkfsm/mioski/internal/manifest"
	"github.com/pkfsm/mioski/internal/progress"
)

// runProbe prints the length a server declares for a URL.
func runProbe(args []string) int {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	cf := addConfigFlags(fs)

	url := fs.String("url", "", "Source URL (required)")
	timeout := fs.Duration("timeout", 0, "Probe timeout (default from config)")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: mioski probe [options]

Send a HEAD request and report the declared size. Sharing links are
converted to direct download links first.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *url == "" {
		fmt.Fprintln(stderr, "Error: -url is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *timeout > 0 {
		cfg.ProbeTimeout = *timeout
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	prober := downloader.NewProber(mhttp.NewClient(mhttp.DefaultOptions()), log, cfg.ProbeTimeout)
	start := time.Now()
	size, ok := prober.Probe(ctx, manifest.DirectURL(*url))
	if !ok {
		fmt.Fprintln(stderr, "[mioski] Size unknown")
		return ExitSourceNotAccess
	}

	fmt.Printf("%d\n", size)
	fmt.Fprintf(stderr, "[mioski] %s (%s) in %s\n", progress.FormatBytes(size), *url, time.Since(start).Round(time.Millisecond))
	if size > cfg.Ceiling() {
		fmt.Fprintf(stderr, "[mioski] Exceeds download ceiling of %s\n", progress.FormatBytes(cfg.Ceiling()))
		return ExitTooLarge
	}
	return ExitSuccess
}
