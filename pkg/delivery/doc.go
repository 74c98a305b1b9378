// Package delivery describes how delivered media entries are laid out in
// cloud storage, and provides reading, validation and removal of them.
//
// An entry is delivered as one or more part objects, an optional thumbnail
// and a JSON record written last. A record only exists once every part of
// the entry has been stored, so its presence marks the entry complete.
// Storage access goes through gocloud.dev/blob.
//
// # Writing
//
// Use [Put] to stream a local file into an object while computing its
// SHA256 checksum, then [WriteRecord] once all parts are stored.
//
// # Reading
//
// Use [Open] to stream all parts of an entry in order. With
// [WithVerifyChecksum] each part's checksum is compared with the record
// when the part has been read fully.
//
// # Storage Layout
//
//	{bucket}/{prefix}/{id}/{file}.part001.mp4
//	{bucket}/{prefix}/{id}/{file}.part002.mp4
//	{bucket}/{prefix}/{id}/thumbnail.png
//	{bucket}/{prefix}/{id}.delivery.json
//
// # Record Format
//
//	{
//	  "entry_id": 42,
//	  "name": "Evening News",
//	  "mime_type": "video/mp4",
//	  "total_size": 3194967296,
//	  "parts_prefix": "media/42/",
//	  "parts": [
//	    {"object": "Evening_News.part001.mp4", "sequence": 1, "size": 1900000000, "checksum": "...", "caption": "..."},
//	    ...
//	  ],
//	  "thumbnail": "thumbnail.png",
//	  "completed_at": "2025-01-15T10:30:00Z"
//	}
package delivery
