// Package stores provides Redis-backed, short-lived records for
// authentication ceremonies: WebAuthn challenges and pending second-factor
// logins.
//
// Each record is a versioned binary blob with a TTL. Challenges are consumed
// with GETDEL so at most one caller ever observes a given challenge.
// Pending logins track failed attempts with WATCH/MULTI and retry on
// contention.
//
// This package does not generate challenges or decide outcomes; callers in
// the root package do.
package stores
