// Package goVerify verifies that a principal is who they claim to be. It
// supports password login, TOTP and backup-code second factors, and WebAuthn
// passkeys, and issues signed sessions for two independent realms (users and
// admins).
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goVerify is the public surface. It exposes [Engine], [Realm], [Builder],
// [Config] and value types ([Session], [Identity], [Passkey]). Ceremony
// challenges, pending second-factor logins, session records, flow
// orchestration and audit dispatch live under internal/ or in the session,
// jwt, password and passkey packages.
//
// Principals are read from a [CredentialStore] per realm. credstore/redisstore
// and credstore/sqlstore are the bundled implementations.
//
// # What this package must NOT do
//
//   - Create accounts or manage passwords outside of rehash-on-login.
//   - Share principals, sessions or challenges across realms.
//   - Reveal which part of a credential failed, unless
//     Security.RevealDisabledAccounts is set.
package goVerify
