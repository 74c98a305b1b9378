// Package config defines configuration for mioski.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (and a .env file loaded by the CLI)
//   - YAML configuration file
//
// The size and retry knobs keep the environment names of the tool mioski
// replaces: MAX_FILE_SIZE, TELEGRAM_LIMIT, DOWNLOAD_TIMEOUT, MAX_RETRIES and
// START_FROM_ID. Everything else uses the MIOSKI_ prefix.
//
// # Structure
//
//	type Config struct {
//	    ManifestURL     string
//	    ManifestCache   string
//	    StartFromID     int64
//	    TempDir         string
//	    SplitThreshold  int64         // MAX_FILE_SIZE
//	    PlatformLimit   int64         // TELEGRAM_LIMIT, ceiling is 10x
//	    DownloadTimeout time.Duration // per attempt
//	    ProbeTimeout    time.Duration
//	    EntryDelay      time.Duration
//	    PartDelay       time.Duration
//	    SinkURL         string
//	    CheckpointURL   string
//	    MetricsAddr     string
//	    LogLevel        string
//	    Retry           RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	    Jitter     bool
//	}
package config
