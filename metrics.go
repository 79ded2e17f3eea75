package authclient

import (
	"time"

	internalmetrics "github.com/MrEthical07/authclient/internal/metrics"
)

// MetricID identifies one Manager counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of all counters and the backend
// latency histogram.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricSignInSuccess               = internalmetrics.MetricSignInSuccess
	MetricSignInFailure               = internalmetrics.MetricSignInFailure
	MetricSignUpSuccess               = internalmetrics.MetricSignUpSuccess
	MetricSignUpFailure               = internalmetrics.MetricSignUpFailure
	MetricSignOut                     = internalmetrics.MetricSignOut
	MetricSignOutCleanupFailure       = internalmetrics.MetricSignOutCleanupFailure
	MetricPasswordResetRequest        = internalmetrics.MetricPasswordResetRequest
	MetricPasswordResetRequestFailure = internalmetrics.MetricPasswordResetRequestFailure
	MetricConfirmationResent          = internalmetrics.MetricConfirmationResent
	MetricRateLimitHit                = internalmetrics.MetricRateLimitHit
	MetricRecoveryEstablished         = internalmetrics.MetricRecoveryEstablished
	MetricRecoveryAutoLogin           = internalmetrics.MetricRecoveryAutoLogin
	MetricRecoveryLinkInvalid         = internalmetrics.MetricRecoveryLinkInvalid
	MetricPasswordUpdated             = internalmetrics.MetricPasswordUpdated
	MetricPasswordPolicyRejected      = internalmetrics.MetricPasswordPolicyRejected
	MetricPasswordReuseRejected       = internalmetrics.MetricPasswordReuseRejected
	MetricSessionEvent                = internalmetrics.MetricSessionEvent
	MetricBackendLatency              = internalmetrics.MetricBackendLatency
	MetricIDCount                     = internalmetrics.MetricIDCount
)

// HistogramBounds are the backend latency bucket upper bounds. The last
// bucket is unbounded.
var HistogramBounds = internalmetrics.BucketBounds

// MetricsSnapshot returns current counter values. It is empty when metrics
// are disabled.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil {
		return internalmetrics.New(internalmetrics.Config{}).Snapshot()
	}
	return m.metrics.Snapshot()
}

func (m *Manager) observeBackend(start time.Time) {
	m.metrics.Observe(MetricBackendLatency, m.now().Sub(start))
}
