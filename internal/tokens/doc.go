// Package tokens generates the opaque random values used by goAccounts: session
// tokens, email verification tokens, reset/enroll link tokens, and the session
// and user identifiers handed to storage backends.
//
// # What this package must NOT do
//
//   - Sign or parse JWTs (see the jwt package).
//   - Persist anything. Callers store the returned values.
package tokens
