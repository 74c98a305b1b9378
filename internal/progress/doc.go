// Package progress reports transfer progress and handles human-readable sizes.
//
// A [Tracker] is an io.Writer that counts bytes flowing through it and emits
// a structured log line every [DefaultInterval] bytes:
//
//	tr := progress.NewTracker(log, "movie.mp4", expected, startByte)
//	n, err := io.Copy(io.MultiWriter(file, tr), body)
//	tr.Done()
//
// Log lines look like:
//
//	level=INFO msg="Download progress" name=movie.mp4 written="120 MiB" total="1.4 GiB" percent=8.4
//
// [FormatBytes] and [ParseBytes] convert between byte counts and strings such
// as "256MiB", "1.9GB" or "1_900_000_000".
package progress
