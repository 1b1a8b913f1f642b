// Package jwt signs and verifies session credentials.
//
// A session credential is a compact JWT carrying the principal id, email,
// role, principal kind and revocation generation. Verification is strict:
// the algorithm is pinned, issuer and audience are checked when configured,
// and an iat too far in the future is rejected. Revocation is not this
// package's concern; see package session.
package jwt
