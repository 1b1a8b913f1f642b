// Package prometheus serves goVerify metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps a [goVerify.Engine]; goverifyd mounts its
// [http.Handler] at /metrics. Verification counters are named
// goverify_*_total (logins, second factors, backup codes, passkey
// ceremonies, replay detections, audit drops). Session validation latency
// is the goverify_validate_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
