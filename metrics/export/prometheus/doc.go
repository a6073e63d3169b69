// Package prometheus renders authcore metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps an [authcore.Engine] and exposes an
// [http.Handler] for a /metrics route. Counter names are
// authcore_*_total; the single histogram is
// authcore_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
