package config

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(1_900_000_000), cfg.SplitThreshold)
	assert.Equal(t, int64(2_000_000_000), cfg.PlatformLimit)
	assert.Equal(t, int64(20_000_000_000), cfg.Ceiling())
	assert.Equal(t, time.Hour, cfg.DownloadTimeout)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.EntryDelay)
	assert.Equal(t, 3*time.Second, cfg.PartDelay)
	assert.Equal(t, "media_data.json", cfg.ManifestCache)
	assert.NoError(t, cfg.Validate(), "default config should validate")
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
manifest_url: https://example.com/media.json
start_from_id: 42
max_file_size: 1.5GB
telegram_limit: 2GB
download_timeout: 30m
entry_delay: 1s
part_delay: 500ms
sink_url: mem://
log_level: debug
retry:
  attempts: 10
  backoff: 2s
  max_backoff: 60s
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/media.json", cfg.ManifestURL)
	assert.Equal(t, int64(42), cfg.StartFromID)
	assert.Equal(t, int64(1_500_000_000), cfg.SplitThreshold)
	assert.Equal(t, int64(2_000_000_000), cfg.PlatformLimit)
	assert.Equal(t, 30*time.Minute, cfg.DownloadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PartDelay)
	assert.Equal(t, "mem://", cfg.SinkURL)
	assert.Equal(t, 10, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxBackoff)
	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.ProbeTimeout)
}

func TestLoadFromYAMLInvalid(t *testing.T) {
	cases := map[string]string{
		"bad size":     "max_file_size: lots\n",
		"bad duration": "entry_delay: soon\n",
		"bad yaml":     "retry: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadFromFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE", "1000000")
	t.Setenv("TELEGRAM_LIMIT", "2000000")
	t.Setenv("DOWNLOAD_TIMEOUT", "120")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("START_FROM_ID", "15")
	t.Setenv("GOOGLE_DRIVE_JSON_URL", "https://drive.example/legacy.json")
	t.Setenv("MIOSKI_RETRY_BACKOFF", "250ms")
	t.Setenv("MIOSKI_ENTRY_DELAY", "0s")
	t.Setenv("MIOSKI_LOG_LEVEL", "warn")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, int64(1_000_000), cfg.SplitThreshold)
	assert.Equal(t, int64(2_000_000), cfg.PlatformLimit)
	assert.Equal(t, 2*time.Minute, cfg.DownloadTimeout)
	assert.Equal(t, 7, cfg.Retry.Attempts)
	assert.Equal(t, int64(15), cfg.StartFromID)
	assert.Equal(t, "https://drive.example/legacy.json", cfg.ManifestURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Backoff)
	assert.Equal(t, time.Duration(0), cfg.EntryDelay)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}

func TestLoadFromEnvPrefersMioskiManifest(t *testing.T) {
	t.Setenv("GOOGLE_DRIVE_JSON_URL", "https://legacy.example/a.json")
	t.Setenv("MIOSKI_MANIFEST_URL", "s3://bucket?key=a.json")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "s3://bucket?key=a.json", cfg.ManifestURL)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	for _, env := range []string{"MAX_FILE_SIZE", "MAX_RETRIES", "START_FROM_ID", "DOWNLOAD_TIMEOUT", "MIOSKI_PART_DELAY"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, "not-a-number")
			cfg := Default()
			assert.Error(t, cfg.LoadFromEnv())
		})
	}
}

func TestHugeTelegramLimitIsRejected(t *testing.T) {
	t.Setenv("TELEGRAM_LIMIT", "1000000TB")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, int64(1_000_000_000_000_000_000), cfg.PlatformLimit)
	assert.Error(t, cfg.Validate())
	assert.Equal(t, int64(math.MaxInt64), cfg.Ceiling(), "ceiling must saturate, not wrap negative")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"zero max file size", func(c *Config) { c.SplitThreshold = 0 }, true},
		{"zero telegram limit", func(c *Config) { c.PlatformLimit = 0 }, true},
		{"threshold above limit", func(c *Config) { c.SplitThreshold = c.PlatformLimit + 1 }, true},
		{"threshold equals limit", func(c *Config) { c.SplitThreshold = c.PlatformLimit }, false},
		{"zero retry attempts", func(c *Config) { c.Retry.Attempts = 0 }, true},
		{"negative backoff", func(c *Config) { c.Retry.Backoff = -time.Second }, true},
		{"zero download timeout", func(c *Config) { c.DownloadTimeout = 0 }, true},
		{"negative delay", func(c *Config) { c.PartDelay = -time.Second }, true},
		{"zero delays", func(c *Config) { c.EntryDelay, c.PartDelay = 0, 0 }, false},
		{"negative start id", func(c *Config) { c.StartFromID = -1 }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"telegram limit overflows ceiling", func(c *Config) { c.PlatformLimit = 1_000_000_000_000_000_000 }, true},
		{"largest telegram limit", func(c *Config) { c.PlatformLimit = math.MaxInt64 / CeilingFactor }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	override := Config{
		SplitThreshold: 1000,
		SinkURL:        "file:///tmp/out",
		Retry: RetryConfig{
			Attempts: 9,
		},
	}

	merged := base.Merge(override)

	assert.Equal(t, int64(1000), merged.SplitThreshold)
	assert.Equal(t, "file:///tmp/out", merged.SinkURL)
	assert.Equal(t, 9, merged.Retry.Attempts)
	assert.Equal(t, base.PlatformLimit, merged.PlatformLimit)
	assert.Equal(t, base.Retry.Backoff, merged.Retry.Backoff)
}
