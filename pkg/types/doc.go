// Package types defines the shared Go types that flow through the ingestion
// pipeline: the Source polled each cycle, the AnalysisResult derived from it,
// and the Envelope broadcast to live subscribers. The store, hub, scheduler and
// HTTP API all speak these types; JSON tags match the wire format consumed by
// the map UI.
package types
