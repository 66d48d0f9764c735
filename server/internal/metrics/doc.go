// Package metrics defines the Prometheus collectors exported by the service
// and the small recording helpers the pipeline components call.
//
// Collectors are package-level and always safe to update; Register adds them
// to the service Registry exactly once, and Handler serves that registry in
// the Prometheus text exposition format at /metrics.
package metrics
