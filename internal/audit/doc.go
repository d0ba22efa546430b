// Package audit implements async event dispatching for account and session
// lifecycle operations.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, zap, fan-out, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured record with timestamp, type, user, session, connection info and metadata.
//
// The engine also routes fire-and-forget notifications (for example a new
// user being created) through the same dispatcher, so a slow sink never
// blocks the caller.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goAccounts or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
