package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/config"
	"github.com/pkfsm/mioski/internal/downloader"
	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
	"github.com/pkfsm/mioski/internal/manifest"
	"github.com/pkfsm/mioski/internal/metrics"
	"github.com/pkfsm/mioski/internal/progress"
	"github.com/pkfsm/mioski/internal/splitter"
)

// Prober reports the size of a remote resource.
type Prober interface {
	Probe(ctx context.Context, url string) (int64, bool)
}

// Fetcher downloads a remote resource into a local file.
type Fetcher interface {
	Download(ctx context.Context, url string, expected int64) (*downloader.Result, error)
}

// Options configures a Pipeline.
type Options struct {
	// SplitThreshold is the largest file delivered as a single part. Larger
	// files are split into parts of this size.
	SplitThreshold int64

	// Ceiling is the largest probed size that will be downloaded.
	Ceiling int64

	// TempDir is where thumbnails are written.
	TempDir string

	// ThumbnailMaxSize bounds thumbnail downloads.
	ThumbnailMaxSize int64
}

// OptionsFromConfig derives pipeline options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SplitThreshold:   cfg.SplitThreshold,
		Ceiling:          cfg.Ceiling(),
		TempDir:          cfg.TempDir,
		ThumbnailMaxSize: cfg.ThumbnailMaxSize,
	}
}

// Pipeline acquires manifest entries one at a time.
type Pipeline struct {
	fs      afero.Fs
	prober  Prober
	fetcher Fetcher
	client  *mhttp.Client
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options
}

// New returns a Pipeline. client is used for thumbnails; m may be nil.
func New(fs afero.Fs, prober Prober, fetcher Fetcher, client *mhttp.Client, log *slog.Logger, m *metrics.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		fs:      fs,
		prober:  prober,
		fetcher: fetcher,
		client:  client,
		log:     log,
		metrics: m,
		opts:    opts,
	}
}

// Artifact is a successfully acquired entry.
type Artifact struct {
	Entry     manifest.Entry
	FileName  string // cleaned display name of the whole file
	MIMEType  string
	Size      int64
	Parts     []splitter.Part
	Thumbnail string // local path, empty when there is none

	fs       afero.Fs
	leftover []string // owned files that are not part of the delivery
	once     sync.Once
	release  error
}

// NewArtifact returns an artifact whose files live on fs. Size is the sum of
// the part sizes. With a nil fs, Release and ReleasePart delete nothing.
func NewArtifact(fs afero.Fs, entry manifest.Entry, fileName, mimeType string, parts []splitter.Part, thumbnail string) *Artifact {
	var size int64
	for _, p := range parts {
		size += p.Size
	}
	return &Artifact{
		Entry:     entry,
		FileName:  fileName,
		MIMEType:  mimeType,
		Size:      size,
		Parts:     parts,
		Thumbnail: thumbnail,
		fs:        fs,
	}
}

// Split reports whether the artifact was delivered in more than one part.
func (a *Artifact) Split() bool {
	return len(a.Parts) > 1
}

// ReleasePart deletes the file of one part ahead of Release, freeing disk
// space while later parts are still being delivered.
func (a *Artifact) ReleasePart(p splitter.Part) error {
	if a.fs == nil {
		return nil
	}
	return removeAll(a.fs, []string{p.Path})
}

// Release deletes every file owned by the artifact. Files already removed by
// the caller are skipped. Only the first call does any work.
func (a *Artifact) Release() error {
	a.once.Do(func() {
		if a.fs == nil {
			return
		}
		paths := make([]string, 0, len(a.Parts)+len(a.leftover)+1)
		for _, p := range a.Parts {
			paths = append(paths, p.Path)
		}
		if a.Thumbnail != "" {
			paths = append(paths, a.Thumbnail)
		}
		paths = append(paths, a.leftover...)
		a.release = removeAll(a.fs, paths)
	})
	return a.release
}

// Acquire downloads entry and prepares it for delivery.
func (p *Pipeline) Acquire(ctx context.Context, entry manifest.Entry) (*Artifact, error) {
	link := manifest.DirectURL(entry.Link)
	fileName := manifest.CleanFilename(entry.Name, entry.Link)
	log := p.log.With(slog.Int64("id", entry.ID), slog.String("file", fileName))

	size, ok := p.prober.Probe(ctx, link)
	if !ok {
		size = -1
	} else {
		log.Info("File size", slog.String("size", progress.FormatBytes(size)))
	}
	if ok && p.opts.Ceiling > 0 && size > p.opts.Ceiling {
		return nil, failure.Newf(failure.TooLarge, "acquire", link,
			"size %s exceeds ceiling %s", progress.FormatBytes(size), progress.FormatBytes(p.opts.Ceiling))
	}

	log.Info("Starting download")
	res, err := p.fetcher.Download(ctx, link, size)
	if err != nil {
		return nil, err
	}

	var owned []string
	owned = append(owned, res.Path)
	done := false
	defer func() {
		if done {
			return
		}
		if err := removeAll(p.fs, owned); err != nil {
			log.Warn("Cleanup failed", slog.Any("error", err))
		}
	}()

	mime := p.detect(res.Path)

	var parts []splitter.Part
	var leftover []string
	if p.opts.SplitThreshold > 0 && res.Size > p.opts.SplitThreshold {
		log.Info("File exceeds split threshold, splitting",
			slog.String("size", progress.FormatBytes(res.Size)),
			slog.String("threshold", progress.FormatBytes(p.opts.SplitThreshold)),
		)
		parts, err = splitter.Split(ctx, p.fs, res.Path, p.opts.SplitThreshold)
		if err != nil {
			return nil, err
		}
		for i := range parts {
			owned = append(owned, parts[i].Path)
			parts[i].Name = splitter.PartName(fileName, parts[i].Sequence)
		}
		if err := p.fs.Remove(res.Path); err != nil {
			log.Warn("Could not remove split source", slog.String("path", res.Path), slog.Any("error", err))
			leftover = append(leftover, res.Path)
		} else {
			owned = owned[1:]
		}
		log.Info("Split complete", slog.Int("parts", len(parts)))
	} else {
		parts = []splitter.Part{{
			Path:     res.Path,
			Name:     fileName,
			Sequence: 1,
			Total:    1,
			Size:     res.Size,
		}}
	}

	thumb := ""
	if entry.Logo != "" {
		thumb, err = p.fetchThumbnail(ctx, entry.Logo)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failure.New(failure.TransferFailure, "acquire", link, ctx.Err())
			}
			log.Warn("Thumbnail unavailable", slog.String("url", entry.Logo), slog.Any("error", err))
			thumb = ""
		}
	}

	p.metrics.ArtifactSize(res.Size)
	art := NewArtifact(p.fs, entry, fileName, mime, parts, thumb)
	art.leftover = leftover
	done = true
	return art, nil
}

// detect sniffs the MIME type from the start of the file.
func (p *Pipeline) detect(path string) string {
	f, err := p.fs.Open(path)
	if err != nil {
		return mimetype.Detect(nil).String()
	}
	defer f.Close()

	m, err := mimetype.DetectReader(f)
	if err != nil {
		return mimetype.Detect(nil).String()
	}
	return m.String()
}

func removeAll(fs afero.Fs, paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := fs.Remove(path); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
