// Package security builds the configuration posture report returned by
// Engine.SecurityReport and printed by goverifyd.
//
// # What this package must NOT do
//
//   - Import goVerify. The root package converts its Config into ReportInput.
package security
