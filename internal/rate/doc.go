// Package rate provides the Redis fixed-window counter used by the intrusion
// guard.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit in a window. A key
// disappears when its window closes, so the next hit starts a new window.
//
// # What this package must NOT do
//
//   - Decide policy (thresholds, severities). Callers compare counts.
//   - Be imported outside the goVerify module.
package rate
