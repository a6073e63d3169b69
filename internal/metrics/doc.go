// Package metrics provides lock-free counters and a latency histogram
// for the authentication engine.
//
// Counters live in cache-line padded slots and are incremented with
// atomic adds; the write path never allocates. Export to OpenTelemetry
// lives in metrics/export and reads Snapshot values.
package metrics
