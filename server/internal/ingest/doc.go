// Package ingest runs the ingestion loop: every interval it reloads the
// source registry, fetches and scores each source concurrently, writes the
// result to the store and publishes it to the hub.
//
// One source failing (timeout, transport error, non-2xx status, panic) only
// skips that source for the cycle. A registry failure skips the whole cycle;
// the loop keeps running and tries again after the next interval.
//
// Lifecycle:
//
//	Idle --Start--> Running --Stop--> StopRequested --loop exits--> Stopped
//	                   ^                                               |
//	                   +--------------------Start----------------------+
//
// Stop never cancels in-flight fetches. It wakes the inter-cycle wait and
// waits up to StopTimeout for the current cycle to drain.
package ingest
