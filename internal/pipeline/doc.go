// Package pipeline turns a manifest entry into local files ready for upload.
//
// Acquire probes the source size, downloads it with retries, splits it when
// it is larger than the split threshold, detects its MIME type and fetches
// the optional thumbnail. The returned Artifact owns every file it lists;
// Release deletes them. When Acquire fails, nothing it created is left on
// disk.
package pipeline
