package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/checkpoint"
	"github.com/pkfsm/mioski/internal/config"
	"github.com/pkfsm/mioski/internal/downloader"
	mhttp "github.com/pkfsm/mioski/internal/http"
	"github.com/pkfsm/mioski/internal/manifest"
	"github.com/pkfsm/mioski/internal/metrics"
	"github.com/pkfsm/mioski/internal/pipeline"
	"github.com/pkfsm/mioski/internal/runner"
	"github.com/pkfsm/mioski/internal/sink"
)

// runRun loads the manifest and delivers every selected entry.
func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cf := addConfigFlags(fs)

	manifestURL := fs.String("manifest", "", "Manifest URL: http(s) link or bucket URL with ?key=")
	cache := fs.String("cache", "", "Local manifest cache file")
	sinkURL := fs.String("sink", "", "Delivery bucket URL (?prefix= sets the key prefix)")
	checkpointURL := fs.String("checkpoint", "", "Checkpoint bucket URL or redis:// URL")
	startFrom := fs.Int64("start-from", 0, "Skip entries with a lower ID")
	tempDir := fs.String("temp-dir", "", "Directory for downloads and parts")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	dryRun := fs.Bool("dry-run", false, "Download and split but only log deliveries")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: mioski run [options]

Load the manifest, then for each entry download the media, split it when it
exceeds the split threshold and hand every part to the sink.

Settings come from defaults, the -config file, the environment and these
flags, in that order.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{
		ManifestURL:   *manifestURL,
		ManifestCache: *cache,
		SinkURL:       *sinkURL,
		CheckpointURL: *checkpointURL,
		StartFromID:   *startFrom,
		TempDir:       *tempDir,
		MetricsAddr:   *metricsAddr,
	})
	if *dryRun {
		cfg.SinkURL = "log:"
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
	log = log.With(slog.String("run_id", uuid.NewString()))

	ctx, cancel := signalContext()
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
	}

	osfs := afero.NewOsFs()
	client := mhttp.NewClient(mhttp.DefaultOptions())

	entries, err := manifest.NewLoader(osfs, client, log).Load(ctx, cfg.ManifestURL, cfg.ManifestCache)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return ExitManifestError
	}

	out, err := sink.Open(ctx, cfg.SinkURL, osfs, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening sink: %v\n", err)
		return ExitStorageError
	}
	defer out.Close()

	var store checkpoint.Store
	if cfg.CheckpointURL != "" {
		store, err = checkpoint.Open(ctx, cfg.CheckpointURL)
		if err != nil {
			fmt.Fprintf(stderr, "Error opening checkpoint: %v\n", err)
			return ExitStorageError
		}
		defer store.Close()
	}

	dl := downloader.New(osfs, client, log, m, downloader.OptionsFromConfig(cfg))
	prober := downloader.NewProber(client, log, cfg.ProbeTimeout)
	p := pipeline.New(osfs, prober, dl, client, log, m, pipeline.OptionsFromConfig(cfg))

	sum, err := runner.New(p, out, store, log, m, runner.OptionsFromConfig(cfg)).Run(ctx, entries)
	printSummary(sum)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "[mioski] Run interrupted, restart to continue")
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return ExitGeneralError
	}
	if sum.Failed > 0 {
		return ExitEntriesFailed
	}
	return ExitSuccess
}

func printSummary(sum runner.Summary) {
	fmt.Fprintf(stderr, "[mioski] Entries: %d, delivered: %d, failed: %d\n", sum.Total, sum.Succeeded, sum.Failed)
	for _, f := range sum.Failures {
		fmt.Fprintf(stderr, "  - %d (%s): %v\n", f.ID, f.Kind, f.Err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()
	log.Info("Serving metrics", slog.String("addr", addr))
	return srv
}
