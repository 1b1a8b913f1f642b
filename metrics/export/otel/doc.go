// Package otel publishes goVerify's verification counters through an
// OpenTelemetry Meter.
//
// Each entry in the shared counter table becomes an Int64ObservableCounter.
// The session validation latency histogram becomes one
// Int64ObservableGauge per cumulative bucket plus a count gauge. Audit
// drops and sink failures are reported alongside. [NewOTelExporter]
// installs one callback that reads [goVerify.Engine.MetricsSnapshot].
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
