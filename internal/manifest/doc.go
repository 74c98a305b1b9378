// Package manifest loads the list of media entries to deliver.
//
// A manifest is a JSON array:
//
//	[
//	  {"id": 1, "name": "Some Film", "link": "https://...", "tvg-logo": "https://..."}
//	]
//
// The source may be an http(s) URL or a gocloud bucket URL whose object key
// is given by the key query parameter, for example
// file:///srv/manifests?key=media_data.json or s3://bucket?key=media.json.
// Google Drive sharing links are rewritten to direct download links.
//
// Every successful fetch is written to a local cache file. When the source is
// empty or cannot be fetched, the cache is used instead.
package manifest
