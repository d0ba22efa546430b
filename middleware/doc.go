// Package middleware adapts a goAccounts.Engine to net/http.
//
// # Adapters
//
//   - [ConnectionInfo] records the client IP and user agent in the request
//     context so login, refresh and audit events can read them.
//   - [Guard] resolves the bearer token to a live session and the sanitized
//     user. Every request costs one session and one user lookup.
//   - [RequireJWTOnly] checks the access token signature and expiry only.
//     Invalidated sessions pass until their access token expires.
//
// Rejected requests get a bare 401. Handlers read the results back with
// [goAccounts.UserFromContext], [goAccounts.SessionIDFromContext] and
// [ClaimsFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls and makes no
// decision beyond pass or reject.
package middleware
