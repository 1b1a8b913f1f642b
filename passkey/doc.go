// Package passkey runs WebAuthn registration and authentication ceremonies
// on top of github.com/go-webauthn/webauthn.
//
// The package verifies ceremony responses and converts between the library's
// credential type and [credstore.Passkey]. It never stores anything: callers
// persist challenges, credentials and counters. [CheckCounter] carries the
// clone-detection rule applied after a successful assertion.
package passkey
