// Package splitter partitions a local file into ordered parts no larger than
// a chunk size. Parts are written next to the source as
// <base>.part001<ext>, <base>.part002<ext>, and so on.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/pkfsm/mioski/internal/failure"
)

// ReadSize is the increment used when copying into a part.
const ReadSize = 8 * 1024

// Part describes one written part. The caller owns the file at Path.
type Part struct {
	Path     string
	Name     string // base name of Path
	Sequence int    // 1-based
	Total    int
	Size     int64
}

// Span is the byte range of one part within the source.
type Span struct {
	Offset int64
	Size   int64
}

// Plan returns the layout of a file of the given size split into chunks of
// chunkSize. Every span but the last is exactly chunkSize long.
func Plan(size, chunkSize int64) []Span {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	n := (size + chunkSize - 1) / chunkSize
	spans := make([]Span, 0, n)
	for off := int64(0); off < size; off += chunkSize {
		spans = append(spans, Span{Offset: off, Size: min(chunkSize, size-off)})
	}
	return spans
}

// PartName returns the name of part seq for a file called name.
func PartName(name string, seq int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s.part%03d%s", strings.TrimSuffix(name, ext), seq, ext)
}

// Split writes the parts of the file at path. On any error every part
// written so far is removed and a failure.SplitFailure is returned.
func Split(ctx context.Context, fs afero.Fs, path string, chunkSize int64) (parts []Part, err error) {
	if chunkSize <= 0 {
		return nil, failure.Newf(failure.SplitFailure, "split", "", "invalid chunk size %d", chunkSize)
	}

	src, err := fs.Open(path)
	if err != nil {
		return nil, failure.New(failure.SplitFailure, "split", "", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, failure.New(failure.SplitFailure, "split", "", err)
	}

	defer func() {
		if err == nil {
			return
		}
		for _, p := range parts {
			fs.Remove(p.Path)
		}
		parts = nil
	}()

	spans := Plan(info.Size(), chunkSize)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	buf := make([]byte, ReadSize)

	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			return parts, failure.New(failure.SplitFailure, "split", "", err)
		}

		name := PartName(base, i+1)
		part := Part{
			Path:     filepath.Join(dir, name),
			Name:     name,
			Sequence: i + 1,
			Total:    len(spans),
			Size:     span.Size,
		}

		dst, err := fs.Create(part.Path)
		if err != nil {
			return parts, failure.New(failure.SplitFailure, "split", "", err)
		}
		// Track before writing so a failed part is cleaned up too.
		parts = append(parts, part)

		n, err := io.CopyBuffer(onlyWriter{dst}, io.LimitReader(src, span.Size), buf)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return parts, failure.New(failure.SplitFailure, "split", "", fmt.Errorf("part %d: %w", i+1, err))
		}
		if n != span.Size {
			return parts, failure.New(failure.SplitFailure, "split", "",
				fmt.Errorf("part %d: %w: wrote %d of %d bytes", i+1, io.ErrUnexpectedEOF, n, span.Size))
		}
	}

	return parts, nil
}

// Remove deletes every part file, returning the first error.
func Remove(fs afero.Fs, parts []Part) error {
	var errs []error
	for _, p := range parts {
		if err := fs.Remove(p.Path); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onlyWriter hides ReadFrom so CopyBuffer honours the read size.
type onlyWriter struct {
	io.Writer
}
