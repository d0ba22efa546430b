// Package client is the caller-side session cache for goAccounts.
//
// A [Client] owns the current token pair and, while impersonating, the
// original pair it replaced. It decides when a refresh is needed by reading
// the access token's expiry locally, so most calls to [Client.RefreshSession]
// never reach the server.
//
// State is mirrored into a [TokenStorage] under a key prefix:
//
//	<prefix>:accessToken
//	<prefix>:refreshToken
//	<prefix>:originalAccessToken    (only while impersonating with persistence)
//	<prefix>:originalRefreshToken
//
// A Client guards its fields with a mutex, but a check-expiry, call, store
// sequence is not atomic. Callers sharing one Client across goroutines must
// serialize refresh and impersonation themselves.
package client
