package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pkfsm/mioski/internal/progress"
)

// CeilingFactor multiplies PlatformLimit to give the hard download ceiling.
const CeilingFactor = 10

// Config defines configuration for mioski.
type Config struct {
	ManifestURL      string        `yaml:"manifest_url"`
	ManifestCache    string        `yaml:"manifest_cache"`
	StartFromID      int64         `yaml:"start_from_id"`
	TempDir          string        `yaml:"temp_dir"`
	SplitThreshold   int64         `yaml:"max_file_size"`
	PlatformLimit    int64         `yaml:"telegram_limit"`
	ThumbnailMaxSize int64         `yaml:"thumbnail_max_size"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	EntryDelay       time.Duration `yaml:"entry_delay"`
	PartDelay        time.Duration `yaml:"part_delay"`
	SinkURL          string        `yaml:"sink_url"`
	CheckpointURL    string        `yaml:"checkpoint_url"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	LogLevel         string        `yaml:"log_level"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior for downloads.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	Jitter     bool          `yaml:"jitter"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ManifestCache:    "media_data.json",
		SplitThreshold:   1_900_000_000,
		PlatformLimit:    2_000_000_000,
		ThumbnailMaxSize: 10 * progress.MiB,
		DownloadTimeout:  time.Hour,
		ProbeTimeout:     30 * time.Second,
		EntryDelay:       5 * time.Second,
		PartDelay:        3 * time.Second,
		LogLevel:         "info",
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// Ceiling returns the largest size that will be downloaded at all. It
// saturates at math.MaxInt64 rather than wrapping.
func (c Config) Ceiling() int64 {
	if c.PlatformLimit > math.MaxInt64/CeilingFactor {
		return math.MaxInt64
	}
	return c.PlatformLimit * CeilingFactor
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	ManifestURL      string          `yaml:"manifest_url"`
	ManifestCache    string          `yaml:"manifest_cache"`
	StartFromID      int64           `yaml:"start_from_id"`
	TempDir          string          `yaml:"temp_dir"`
	SplitThreshold   string          `yaml:"max_file_size"`
	PlatformLimit    string          `yaml:"telegram_limit"`
	ThumbnailMaxSize string          `yaml:"thumbnail_max_size"`
	DownloadTimeout  string          `yaml:"download_timeout"`
	ProbeTimeout     string          `yaml:"probe_timeout"`
	EntryDelay       string          `yaml:"entry_delay"`
	PartDelay        string          `yaml:"part_delay"`
	SinkURL          string          `yaml:"sink_url"`
	CheckpointURL    string          `yaml:"checkpoint_url"`
	MetricsAddr      string          `yaml:"metrics_addr"`
	LogLevel         string          `yaml:"log_level"`
	Retry            yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
	Jitter     bool   `yaml:"jitter"`
}

// LoadFromFile loads configuration from a YAML file on top of Default().
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	setString(&cfg.ManifestURL, yc.ManifestURL)
	setString(&cfg.ManifestCache, yc.ManifestCache)
	setString(&cfg.TempDir, yc.TempDir)
	setString(&cfg.SinkURL, yc.SinkURL)
	setString(&cfg.CheckpointURL, yc.CheckpointURL)
	setString(&cfg.MetricsAddr, yc.MetricsAddr)
	setString(&cfg.LogLevel, yc.LogLevel)
	if yc.StartFromID != 0 {
		cfg.StartFromID = yc.StartFromID
	}

	sizes := []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"max_file_size", yc.SplitThreshold, &cfg.SplitThreshold},
		{"telegram_limit", yc.PlatformLimit, &cfg.PlatformLimit},
		{"thumbnail_max_size", yc.ThumbnailMaxSize, &cfg.ThumbnailMaxSize},
	}
	for _, s := range sizes {
		if s.raw == "" {
			continue
		}
		n, err := progress.ParseBytes(s.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
		}
		*s.dst = n
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"download_timeout", yc.DownloadTimeout, &cfg.DownloadTimeout},
		{"probe_timeout", yc.ProbeTimeout, &cfg.ProbeTimeout},
		{"entry_delay", yc.EntryDelay, &cfg.EntryDelay},
		{"part_delay", yc.PartDelay, &cfg.PartDelay},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	cfg.Retry.Jitter = yc.Retry.Jitter

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MIOSKI_MANIFEST_URL"); v != "" {
		c.ManifestURL = v
	} else if v := os.Getenv("GOOGLE_DRIVE_JSON_URL"); v != "" {
		c.ManifestURL = v
	}
	if v := os.Getenv("MIOSKI_MANIFEST_CACHE"); v != "" {
		c.ManifestCache = v
	}
	if v := os.Getenv("MIOSKI_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("MIOSKI_SINK_URL"); v != "" {
		c.SinkURL = v
	}
	if v := os.Getenv("MIOSKI_CHECKPOINT_URL"); v != "" {
		c.CheckpointURL = v
	}
	if v := os.Getenv("MIOSKI_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("MIOSKI_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("START_FROM_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse START_FROM_ID: %w", err)
		}
		c.StartFromID = n
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse MAX_RETRIES: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("MIOSKI_RETRY_JITTER"); v != "" {
		c.Retry.Jitter = v == "true" || v == "1"
	}

	sizes := []struct {
		env string
		dst *int64
	}{
		{"MAX_FILE_SIZE", &c.SplitThreshold},
		{"TELEGRAM_LIMIT", &c.PlatformLimit},
		{"MIOSKI_THUMBNAIL_MAX_SIZE", &c.ThumbnailMaxSize},
	}
	for _, s := range sizes {
		v := os.Getenv(s.env)
		if v == "" {
			continue
		}
		n, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", s.env, err)
		}
		*s.dst = n
	}

	// DOWNLOAD_TIMEOUT is historically a number of seconds.
	if v := os.Getenv("DOWNLOAD_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("parse DOWNLOAD_TIMEOUT: %w", err)
		}
		c.DownloadTimeout = d
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"MIOSKI_PROBE_TIMEOUT", &c.ProbeTimeout},
		{"MIOSKI_ENTRY_DELAY", &c.EntryDelay},
		{"MIOSKI_PART_DELAY", &c.PartDelay},
		{"MIOSKI_RETRY_BACKOFF", &c.Retry.Backoff},
		{"MIOSKI_RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = dur
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SplitThreshold <= 0 {
		return errors.New("config: max_file_size must be positive")
	}
	if c.PlatformLimit <= 0 {
		return errors.New("config: telegram_limit must be positive")
	}
	if c.PlatformLimit > math.MaxInt64/CeilingFactor {
		return fmt.Errorf("config: telegram_limit must not exceed %d", int64(math.MaxInt64/CeilingFactor))
	}
	if c.SplitThreshold > c.PlatformLimit {
		return errors.New("config: max_file_size must not exceed telegram_limit")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry attempts must be positive")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("config: retry backoff must not be negative")
	}
	if c.DownloadTimeout <= 0 {
		return errors.New("config: download_timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("config: probe_timeout must be positive")
	}
	if c.EntryDelay < 0 || c.PartDelay < 0 {
		return errors.New("config: delays must not be negative")
	}
	if c.StartFromID < 0 {
		return errors.New("config: start_from_id must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	mergeString(&c.ManifestURL, override.ManifestURL)
	mergeString(&c.ManifestCache, override.ManifestCache)
	mergeString(&c.TempDir, override.TempDir)
	mergeString(&c.SinkURL, override.SinkURL)
	mergeString(&c.CheckpointURL, override.CheckpointURL)
	mergeString(&c.MetricsAddr, override.MetricsAddr)
	mergeString(&c.LogLevel, override.LogLevel)

	if override.StartFromID != 0 {
		c.StartFromID = override.StartFromID
	}
	if override.SplitThreshold != 0 {
		c.SplitThreshold = override.SplitThreshold
	}
	if override.PlatformLimit != 0 {
		c.PlatformLimit = override.PlatformLimit
	}
	if override.ThumbnailMaxSize != 0 {
		c.ThumbnailMaxSize = override.ThumbnailMaxSize
	}
	if override.DownloadTimeout != 0 {
		c.DownloadTimeout = override.DownloadTimeout
	}
	if override.ProbeTimeout != 0 {
		c.ProbeTimeout = override.ProbeTimeout
	}
	if override.EntryDelay != 0 {
		c.EntryDelay = override.EntryDelay
	}
	if override.PartDelay != 0 {
		c.PartDelay = override.PartDelay
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Retry.Jitter {
		c.Retry.Jitter = true
	}
	return c
}

func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive: %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeString(dst *string, v string) {
	setString(dst, v)
}
