// Package downloader fetches remote media into local temp files.
//
// A Prober asks the server for the size of a resource with a single HEAD
// request. A Downloader then streams the resource into a fresh temp file,
// retrying failed attempts with exponential backoff and resuming each retry
// from the last byte on disk.
//
// # Usage
//
//	prober := downloader.NewProber(client, log, 30*time.Second)
//	size, _ := prober.Probe(ctx, url)
//
//	d := downloader.New(fs, client, log, m, downloader.OptionsFromConfig(cfg))
//	res, err := d.Download(ctx, url, size)
//	if err != nil {
//	    // err is a *failure.Error; no temp file is left behind.
//	}
//	defer fs.Remove(res.Path)
//
// # Resume
//
// Attempt 1 sends a plain GET. Later attempts send Range: bytes=N- where N is
// the current temp file size, plus If-Range with the last strong ETag seen.
// A weak ETag is not a valid If-Range validator, so Last-Modified is sent in
// its place, or no If-Range at all. A 206 must start exactly at N. A 200 means the server ignored the range, so the
// file is truncated and rewritten from byte 0.
//
// # Size verification
//
// When the expected size is known, a finished transfer whose size differs by
// more than SizeTolerance fails the attempt with failure.SizeMismatch. Bodies
// that run past the expected size are cut off.
package downloader
