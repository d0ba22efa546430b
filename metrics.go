package goAccounts

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts sessions opened by LoginWithService or LoginWithUser.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected login attempts.
	MetricLoginFailure
	// MetricRefreshSuccess counts token pairs re-issued by RefreshTokens.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricSessionCreated counts stored sessions.
	MetricSessionCreated
	// MetricSessionInvalidated counts single-session invalidations.
	MetricSessionInvalidated
	// MetricLogout counts Logout calls that invalidated a session.
	MetricLogout
	// MetricLogoutAll counts InvalidateAllSessions calls.
	MetricLogoutAll
	// MetricImpersonationSuccess counts authorized impersonations.
	MetricImpersonationSuccess
	// MetricImpersonationDenied counts impersonations rejected by the authorizer.
	MetricImpersonationDenied
	// MetricCreateUserSuccess counts created users.
	MetricCreateUserSuccess
	// MetricCreateUserDuplicate counts sign-ups rejected for a taken username or email.
	MetricCreateUserDuplicate
	// MetricCreateUserFailure counts sign-ups rejected by validation or storage.
	MetricCreateUserFailure
	// MetricPasswordChangeSuccess counts password changes by the owner.
	MetricPasswordChangeSuccess
	// MetricPasswordResetRequest counts reset and enrollment mails sent.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess counts redeemed reset and enrollment tokens.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure counts rejected reset tokens.
	MetricPasswordResetFailure
	// MetricEmailVerificationRequest counts verification mails sent.
	MetricEmailVerificationRequest
	// MetricEmailVerificationSuccess counts redeemed verification tokens.
	MetricEmailVerificationSuccess
	// MetricEmailVerificationFailure counts rejected verification tokens.
	MetricEmailVerificationFailure
	// MetricMailSendFailure counts Mailer errors.
	MetricMailSendFailure
	// MetricRateLimitHit counts login attempts refused by the throttle.
	MetricRateLimitHit
	// MetricUserDeactivated counts DeactivateUser calls.
	MetricUserDeactivated
	// MetricResumeLatency is the ResumeSession latency histogram.
	MetricResumeLatency
	metricIDCount
)

// MetricNone is accepted wherever a MetricID is and records nothing.
const MetricNone MetricID = math.MaxUint16

// MetricIDCount is the number of defined metric ids.
const MetricIDCount = int(metricIDCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the fixed-bucket latency histogram.
// A nil or disabled Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a [Metrics] configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments counter id. Unknown ids and [MetricNone] are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only histogram ids are accepted.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricResumeLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the histogram when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricResumeLatency].buckets[i])
		}
		s.Histograms[MetricResumeLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
