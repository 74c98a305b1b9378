// Package sink provides the runner.Uploader implementations: a cloud
// bucket sink that stores parts with a delivery record, and a log-only sink
// for dry runs.
package sink

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/runner"
)

// Sink is an Uploader that holds resources.
type Sink interface {
	runner.Uploader
	Close() error
}

// Open returns the sink for rawURL. An empty URL or "log:" selects the log
// sink; anything else is opened as a bucket URL.
func Open(ctx context.Context, rawURL string, fs afero.Fs, log *slog.Logger) (Sink, error) {
	if rawURL == "" || strings.HasPrefix(rawURL, "log:") {
		return NewLog(fs, log), nil
	}
	return OpenBucket(ctx, rawURL, fs, log)
}
