// Package intrusion watches goVerify audit events for repeated failures.
//
// A [Guard] is an audit sink. It counts failed decisions per source IP and
// per identifier in a fixed Redis window, lets the transport refuse work
// from sources over the limit through [Guard.Check], and raises an [Alert]
// when a counter crosses its threshold (severity medium) and again at twice
// the threshold (severity high).
//
// Counting happens on the audit dispatcher goroutine, so a slow Redis never
// delays a login response. Check is the only call made on the request path.
package intrusion
