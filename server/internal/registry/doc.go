// Package registry supplies the authoritative list of webcam sources.
//
// File.List(ctx) re-reads the sources file on every call so edits take effect
// on the next ingestion cycle without a restart. The file is a YAML or JSON
// array (yaml.v3 parses both):
//
//	- id: cam-harbour
//	  name: Harbour
//	  latitude: 59.91
//	  longitude: 10.75
//	  fetch_url: https://example.org/harbour.jpg   # or legacy image_url
//	  auth: { mode: basic, username: viewer, password_env: CAM_PASS }
//
// A malformed entry fails the whole call: a half-loaded list would silently
// drop monitoring coverage.
//
// Watch(ctx, path, onChange) uses fsnotify to validate the file as soon as it
// changes and reports the parsed list to onChange.
package registry
