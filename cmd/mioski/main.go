package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/pkfsm/mioski/internal/config"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitManifestError    = 4
	ExitStorageError     = 5
	ExitTooLarge         = 6
	ExitValidationFailed = 7
	ExitEntriesFailed    = 8
)

// stderr is where user-facing messages and logs go.
var stderr io.Writer = os.Stderr

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runRun(cmdArgs)
	case "probe":
		return runProbe(cmdArgs)
	case "fetch":
		return runFetch(cmdArgs)
	case "split":
		return runSplit(cmdArgs)
	case "link":
		return runLink(cmdArgs)
	case "verify":
		return runVerify(cmdArgs)
	case "delete":
		return runDelete(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(stderr, `Usage: mioski <command> [options]

Commands:
  run       Deliver every manifest entry to the configured sink
  probe     Report the size a server declares for a URL
  fetch     Download one URL with resume and retries
  split     Split a local file into numbered parts
  link      Print the direct download URL for a sharing link
  verify    Check delivered entries in a bucket
  delete    Remove a delivered entry from a bucket

Run 'mioski <command> -h' for command-specific help.`)
}

// configFlags are the flags shared by commands that build a Config.
type configFlags struct {
	file     *string
	env      *string
	logLevel *string
}

func addConfigFlags(fs *flag.FlagSet) *configFlags {
	return &configFlags{
		file:     fs.String("config", "", "YAML config file"),
		env:      fs.String("env", ".env", "dotenv file loaded before reading the environment"),
		logLevel: fs.String("log-level", "", "Log level: debug, info, warn, error"),
	}
}

// load builds the configuration: defaults, then the config file, then the
// environment (after the dotenv file), then flags. Validation is left to
// the caller once its own flags are merged.
func (f *configFlags) load() (config.Config, error) {
	if *f.env != "" {
		if err := godotenv.Load(*f.env); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", *f.env, err)
		}
	}

	cfg := config.Default()
	if *f.file != "" {
		var err error
		if cfg, err = config.LoadFromFile(*f.file); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg.Merge(config.Config{LogLevel: *f.logLevel}), nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\n[mioski] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
