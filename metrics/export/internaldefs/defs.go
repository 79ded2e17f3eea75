package internaldefs

import (
	"strconv"
	"strings"

	authclient "github.com/MrEthical07/authclient"
)

// CounterDef names one Manager counter for exporters.
type CounterDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// HistogramDef names one Manager histogram for exporters.
type HistogramDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authclient.MetricSignInSuccess, Name: "authclient_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: authclient.MetricSignInFailure, Name: "authclient_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: authclient.MetricSignUpSuccess, Name: "authclient_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: authclient.MetricSignUpFailure, Name: "authclient_sign_up_failure_total", Help: "Failed sign-ups."},
	{ID: authclient.MetricSignOut, Name: "authclient_sign_out_total", Help: "Sign-outs."},
	{ID: authclient.MetricSignOutCleanupFailure, Name: "authclient_sign_out_cleanup_failure_total", Help: "Sign-outs whose remote cleanup failed."},
	{ID: authclient.MetricPasswordResetRequest, Name: "authclient_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: authclient.MetricPasswordResetRequestFailure, Name: "authclient_password_reset_request_failure_total", Help: "Failed password reset requests."},
	{ID: authclient.MetricConfirmationResent, Name: "authclient_confirmation_resent_total", Help: "Confirmation emails resent."},
	{ID: authclient.MetricRateLimitHit, Name: "authclient_rate_limit_hit_total", Help: "Attempts refused by a rate limit."},
	{ID: authclient.MetricRecoveryEstablished, Name: "authclient_recovery_established_total", Help: "Recovery sessions established from a link."},
	{ID: authclient.MetricRecoveryAutoLogin, Name: "authclient_recovery_auto_login_total", Help: "Recovery sessions established by backend auto-login."},
	{ID: authclient.MetricRecoveryLinkInvalid, Name: "authclient_recovery_link_invalid_total", Help: "Recovery links rejected as invalid or expired."},
	{ID: authclient.MetricPasswordUpdated, Name: "authclient_password_updated_total", Help: "Passwords updated through recovery."},
	{ID: authclient.MetricPasswordPolicyRejected, Name: "authclient_password_policy_rejected_total", Help: "Passwords rejected by the strength policy."},
	{ID: authclient.MetricPasswordReuseRejected, Name: "authclient_password_reuse_rejected_total", Help: "Passwords rejected for matching the current one."},
	{ID: authclient.MetricSessionEvent, Name: "authclient_session_event_total", Help: "Session change notifications received."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authclient.MetricBackendLatency, Name: "authclient_backend_latency_seconds", Help: "Backend call latency."},
}

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(authclient.HistogramBounds) + 1

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(authclient.HistogramBounds))
	for i, b := range authclient.HistogramBounds {
		out[i] = b.Seconds()
	}
	return out
}

// BoundSuffixes returns metric-name-safe bound labels, e.g. "0_005" and "inf".
func BoundSuffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, s := range UpperBounds() {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(s, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// CumulativeBuckets turns per-bucket counts into running totals. Missing
// trailing buckets count as zero.
func CumulativeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
