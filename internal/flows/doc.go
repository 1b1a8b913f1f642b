// Package flows contains pure-function orchestrators for realm operations.
//
// Each flow function (RunPasswordLogin, RunCompleteSecondFactor,
// RunConsumeBackupCode) accepts a typed dependency struct and returns results
// without side-effects beyond those dependencies. The realm builds the deps
// once and stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the credential store, password verifier,
// pending-login store, audit dispatcher and metrics. They do NOT own any of
// these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goVerify (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
//   - Issue sessions. The caller does that once a flow reports success.
package flows
