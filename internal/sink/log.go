package sink

import (
	"context"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/failure"
	"github.com/pkfsm/mioski/internal/progress"
	"github.com/pkfsm/mioski/internal/runner"
)

// Log only logs what would be delivered.
type Log struct {
	fs  afero.Fs
	log *slog.Logger
}

// NewLog returns a dry-run sink.
func NewLog(fs afero.Fs, log *slog.Logger) *Log {
	return &Log{fs: fs, log: log.With(slog.String("component", "sink"))}
}

// Upload checks that the file exists and logs the delivery.
func (l *Log) Upload(ctx context.Context, d runner.Delivery) error {
	if err := ctx.Err(); err != nil {
		return failure.New(failure.UploadFailure, "dry run", d.Path, err)
	}
	info, err := l.fs.Stat(d.Path)
	if err != nil {
		return failure.New(failure.UploadFailure, "dry run", d.Path, err)
	}

	l.log.Info("dry run delivery",
		slog.Int64("id", d.EntryID),
		slog.String("file", d.FileName),
		slog.Int("part", d.Part),
		slog.Int("total", d.Total),
		slog.String("size", progress.FormatBytes(info.Size())),
		slog.String("mime", d.MIMEType),
		slog.Bool("thumbnail", d.Thumbnail != ""),
	)
	l.log.Debug("caption", slog.String("text", d.Caption))
	return nil
}

// Close does nothing.
func (l *Log) Close() error { return nil }
