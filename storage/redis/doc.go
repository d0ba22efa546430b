// Package redis stores goAccounts users and sessions in Redis.
//
// Key layout (prefix defaults to "accounts"):
//
//	<prefix>:user:<id>                       JSON user document
//	<prefix>:user:email:<address>            user id
//	<prefix>:user:username:<username>        user id
//	<prefix>:user:service:<name>:<id>        user id
//	<prefix>:user:verify:<token>             user id
//	<prefix>:user:reset:<token>              user id
//	<prefix>:user:sessions:<id>              set of session ids
//	<prefix>:session:<id>                    session hash
//	<prefix>:session:token:<token>           session id
//
// User writes run under WATCH/MULTI on the document and every index key they
// touch. Session state transitions run as Lua scripts so a session can only
// move from valid to invalid.
package redis
