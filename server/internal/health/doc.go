// Package health serves the standard grpc.health.v1.Health service on the
// gRPC port.
//
// Reported services:
//
//	""        overall: SERVING while the ingestion scheduler runs
//	"ingest"  same as overall
//	"store"   SERVING when the durable backend is active, NOT_SERVING in fallback
//
// Calls pass through the auth package's API-key interceptors.
package health
