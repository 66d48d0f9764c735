// Package store is the result store: durable-preferred, always-available
// key/value storage for the latest AnalysisResult per source.
//
// A Store starts in fallback mode backed by an in-process ttlcache. Connect
// tries to reach Redis once; on success the durable backend is selected for
// the rest of the Store's life, on any failure the Store stays in fallback and
// Connect still returns normally. There is no runtime failover afterwards.
//
// Values are JSON-encoded on Set and decoded on Get in both modes, so a
// round-trip behaves identically regardless of the active backend. A ttl of
// zero means "no expiry"; positive TTLs are honoured by both backends.
//
// Get reports misses, backend errors and undecodable values uniformly as
// "absent". Readers never see a store error.
package store
