// Package audit implements async event dispatching for verification decisions.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record of one decision with kind, principal, outcome and reason.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does not decide which
// events to emit; the Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goVerify or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
