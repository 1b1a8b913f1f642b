// Package middleware adapts goVerify session checks to net/http.
//
// # Guards
//
//   - [RequireSession] verifies signature, expiry and revocation state.
//   - [RequireSignedSession] verifies signature and expiry only, with no
//     Redis call.
//
// Both read the realm's session cookie first and fall back to an
// Authorization bearer token, then inject the [goVerify.Identity] into the
// request context.
//
// [ClientInfo] copies the caller's IP and User-Agent into the context so
// they reach audit events.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly. Decisions are delegated to the Realm.
//   - Make authorization decisions beyond pass or reject.
package middleware
