// Package jwt issues and verifies the signed access/refresh token pair bound to
// a session id.
//
// Access tokens carry the session id, the owning user id and an impersonation
// flag so a request can be attributed without a storage round trip. Refresh
// tokens carry the session id and the session's opaque token; they are only
// accepted by the engine's refresh path, which checks the opaque token against
// the stored session.
package jwt
