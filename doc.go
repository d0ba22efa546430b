// Package goAccounts is a credential and session lifecycle engine: it issues
// signed access/refresh pairs for stored sessions, refreshes them without
// rotating the session, invalidates sessions singly or in bulk, and lets
// authorized users impersonate others on a flagged session.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goAccounts is the public surface. It exposes [Engine], [Builder], [Config],
// the domain types and the storage contract [DatabaseInterface]. Credential
// checks live in authentication services such as passwordauth, registered
// with [Engine.RegisterService]. Storage backends live under storage/.
//
// # What this package must NOT do
//
//   - Return users with credential material; every user leaving the engine
//     goes through [Engine.SanitizeUser].
//   - Set a session back to valid. Invalidation is terminal.
//   - Import any sub-package that re-imports goAccounts.
//
// # Error policy
//
// Errors are sentinels compared with errors.Is. [ErrorCode] maps them to
// stable codes for transports. With Security.AmbiguousErrorMessages set,
// operations that would reveal whether an account exists answer the same way
// for known and unknown users.
package goAccounts
