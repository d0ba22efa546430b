// Package otel publishes goAccounts engine metrics as OpenTelemetry
// asynchronous instruments on a caller-supplied meter. The resume latency
// histogram is exported as one cumulative gauge per bucket.
package otel
