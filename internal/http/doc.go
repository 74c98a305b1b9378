// Package http provides the HTTP primitives used to acquire media files.
//
// This package handles:
//   - HEAD requests to read a resource's declared length and ETag
//   - GET requests, optionally resuming from a byte offset with a Range header
//   - Status classification into sentinel errors
//   - Content-Range parsing to confirm where a partial body starts
//
// Retrying is the caller's job; every method here makes exactly one request.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	info, err := client.Head(ctx, url)
//	// info.Size (-1 when unknown), info.ETag, info.AcceptsRanges
//
//	ifRange := http.IfRange(info.ETag, info.WeakETag, "")
//	resp, err := client.Get(ctx, url, offset, ifRange)
//	defer resp.Body.Close()
//	// resp.StatusCode is 200 (whole body) or 206 (starts at resp.Start)
package http
