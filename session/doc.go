// Package session tracks revocation state for issued session credentials.
//
// Session credentials are self-contained signed tokens, so the store keeps
// only two kinds of Redis keys per principal realm:
//
//   - a generation counter per principal; bumping it invalidates every
//     credential minted under an older generation (log out everywhere),
//   - a deny-list entry per revoked credential id, kept until that
//     credential's own expiry.
//
// This package does not parse tokens or make policy decisions.
package session
