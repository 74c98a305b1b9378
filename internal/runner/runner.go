package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkfsm/mioski/internal/checkpoint"
	"github.com/pkfsm/mioski/internal/config"
	"github.com/pkfsm/mioski/internal/failure"
	"github.com/pkfsm/mioski/internal/manifest"
	"github.com/pkfsm/mioski/internal/metrics"
	"github.com/pkfsm/mioski/internal/pipeline"
	"github.com/pkfsm/mioski/internal/progress"
)

// Delivery is one file handed to an Uploader.
type Delivery struct {
	EntryID   int64
	Name      string // entry name
	FileName  string // display name of this file or part
	Path      string // local file
	Size      int64
	Caption   string
	Thumbnail string // local path, may be empty
	Part      int    // 1-based
	Total     int
	MIMEType  string
}

// Uploader publishes a delivery.
type Uploader interface {
	Upload(ctx context.Context, d Delivery) error
}

// Acquirer prepares an entry's files.
type Acquirer interface {
	Acquire(ctx context.Context, entry manifest.Entry) (*pipeline.Artifact, error)
}

// Options configures a Runner.
type Options struct {
	StartFromID int64
	EntryDelay  time.Duration
	PartDelay   time.Duration
}

// OptionsFromConfig derives runner options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		StartFromID: cfg.StartFromID,
		EntryDelay:  cfg.EntryDelay,
		PartDelay:   cfg.PartDelay,
	}
}

// EntryFailure records why an entry was not delivered.
type EntryFailure struct {
	ID   int64
	Kind failure.Kind
	Err  error
}

// Summary counts the outcome of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []EntryFailure
}

// Runner processes manifest entries sequentially.
type Runner struct {
	acquirer Acquirer
	uploader Uploader
	store    checkpoint.Store
	log      *slog.Logger
	metrics  *metrics.Metrics
	opts     Options
}

// New returns a Runner. store and m may be nil.
func New(a Acquirer, u Uploader, store checkpoint.Store, log *slog.Logger, m *metrics.Metrics, opts Options) *Runner {
	return &Runner{
		acquirer: a,
		uploader: u,
		store:    store,
		log:      log,
		metrics:  m,
		opts:     opts,
	}
}

// Run delivers entries. It returns early only when ctx is cancelled; the
// summary then covers the entries finished so far.
func (r *Runner) Run(ctx context.Context, entries []manifest.Entry) (Summary, error) {
	var sum Summary

	startID := r.opts.StartFromID
	if r.store != nil {
		last, ok, err := r.store.Load(ctx)
		if err != nil {
			r.log.Warn("Could not load checkpoint", slog.Any("error", err))
		} else if ok && last+1 > startID {
			r.log.Info("Resuming after checkpoint", slog.Int64("last_id", last))
			startID = last + 1
		}
	}

	todo := manifest.Filter(entries, startID)
	sum.Total = len(todo)
	r.log.Info("Entries selected",
		slog.Int("count", len(todo)),
		slog.Int("manifest", len(entries)),
		slog.Int64("start_id", startID),
	)
	if len(todo) == 0 {
		r.log.Info("No entries to process")
		return sum, nil
	}

	for i, entry := range todo {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		r.metrics.EntryStarted()
		err := r.process(ctx, entry)
		r.metrics.EntryFinished(string(failure.KindOf(err)))

		if err != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, EntryFailure{ID: entry.ID, Kind: failure.KindOf(err), Err: err})
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			r.log.Error("Entry failed",
				slog.Int64("id", entry.ID),
				slog.String("kind", string(failure.KindOf(err))),
				slog.Any("error", err),
			)
		} else {
			sum.Succeeded++
			r.log.Info("Entry delivered", slog.Int64("id", entry.ID))
		}

		if r.store != nil {
			if err := r.store.Save(ctx, entry.ID); err != nil {
				r.log.Warn("Could not save checkpoint", slog.Int64("id", entry.ID), slog.Any("error", err))
			}
		}

		if i < len(todo)-1 {
			if err := sleep(ctx, r.opts.EntryDelay); err != nil {
				return sum, err
			}
		}
	}

	r.log.Info("Run completed",
		slog.Int("successful", sum.Succeeded),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// process acquires and delivers one entry.
func (r *Runner) process(ctx context.Context, entry manifest.Entry) error {
	log := r.log.With(slog.Int64("id", entry.ID))
	log.Info("Processing entry", slog.String("name", entry.Name))

	art, err := r.acquirer.Acquire(ctx, entry)
	if err != nil {
		return err
	}
	defer func() {
		if err := art.Release(); err != nil {
			log.Warn("Could not release artifact", slog.Any("error", err))
		}
	}()

	var (
		failed   int
		firstErr error
	)
	for i, part := range art.Parts {
		d := Delivery{
			EntryID:   entry.ID,
			Name:      entry.Name,
			FileName:  part.Name,
			Path:      part.Path,
			Size:      part.Size,
			Caption:   Caption(entry.Name, part.Name, part.Sequence, part.Total),
			Thumbnail: art.Thumbnail,
			Part:      part.Sequence,
			Total:     part.Total,
			MIMEType:  art.MIMEType,
		}

		log.Info("Uploading",
			slog.String("file", part.Name),
			slog.Int("part", part.Sequence),
			slog.Int("total", part.Total),
			slog.String("size", progress.FormatBytes(part.Size)),
		)
		err := r.uploader.Upload(ctx, d)
		r.metrics.PartDelivered(err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return failure.New(failure.UploadFailure, "deliver", entry.Link, ctx.Err())
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			log.Error("Upload failed", slog.Int("part", part.Sequence), slog.Any("error", err))
		}

		if art.Split() {
			if err := art.ReleasePart(part); err != nil {
				log.Warn("Could not remove part", slog.String("path", part.Path), slog.Any("error", err))
			}
		}

		if i < len(art.Parts)-1 {
			if err := sleep(ctx, r.opts.PartDelay); err != nil {
				return failure.New(failure.UploadFailure, "deliver", entry.Link, err)
			}
		}
	}

	if failed > 0 {
		var fe *failure.Error
		if len(art.Parts) == 1 && errors.As(firstErr, &fe) {
			return firstErr
		}
		return failure.New(failure.UploadFailure, "deliver", entry.Link,
			fmt.Errorf("%d of %d parts failed: %w", failed, len(art.Parts), firstErr))
	}
	return nil
}

// Caption builds the message text for a delivery.
func Caption(name, fileName string, part, total int) string {
	caption := fmt.Sprintf("%s\n\nFile: %s", name, fileName)
	if total > 1 {
		caption += fmt.Sprintf("\n\nPart %d/%d", part, total)
	}
	return caption
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
