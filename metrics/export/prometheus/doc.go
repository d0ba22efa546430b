// Package prometheus exposes goAccounts engine metrics to Prometheus.
//
// [Collector] implements prometheus.Collector and can be registered on any
// registry. [Handler] is a shortcut that registers one on a private registry
// and returns its promhttp handler. Counter names are goaccounts_*_total and
// the histogram is goaccounts_resume_latency_seconds.
package prometheus
