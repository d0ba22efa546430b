// Package rate provides the Redis-backed failed-login throttle used by the
// password service.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key layout
// under the configured prefix:
//   - <prefix>:al:<identity> counts failures per identity
//   - <prefix>:ali:<ip> counts failures per client IP
//
// # What this package must NOT do
//
//   - Decide which failures count; callers increment only on bad credentials.
//   - Be imported outside the goAccounts module.
package rate
