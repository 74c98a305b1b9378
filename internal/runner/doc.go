// Package runner delivers manifest entries one at a time.
//
// For every entry at or after the start ID, Run acquires the media through
// the pipeline, hands each part to the Uploader with a caption, waits
// PartDelay between parts and EntryDelay between entries, and releases the
// artifact's files. An entry counts as delivered only when every part was
// uploaded. Failures are logged and counted; the run moves on to the next
// entry.
//
// When a checkpoint store is configured, the ID of each processed entry is
// saved and a later run resumes after it.
package runner
