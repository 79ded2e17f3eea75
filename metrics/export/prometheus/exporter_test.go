package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	authclient "github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot authclient.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authclient.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func collectMetrics(c prometheus.Collector) []prometheus.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func collectCount(c prometheus.Collector) int {
	return len(collectMetrics(c))
}

func countNamed(c prometheus.Collector, name string) int {
	n := 0
	for _, m := range collectMetrics(c) {
		if strings.Contains(m.Desc().String(), `fqName: "`+name+`"`) {
			n++
		}
	}
	return n
}

func TestCollectNothingWhenMetricsDisabled(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: authclient.MetricsSnapshot{
			Counters:   map[authclient.MetricID]uint64{},
			Histograms: map[authclient.MetricID][]uint64{},
		},
	})
	if n := collectCount(c); n != 0 {
		t.Fatalf("expected no series for disabled metrics, got %d", n)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: authclient.MetricsSnapshot{
			Counters: map[authclient.MetricID]uint64{
				authclient.MetricSignInSuccess: 7,
			},
			Histograms: map[authclient.MetricID][]uint64{
				authclient.MetricBackendLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	if n := collectCount(c); n != want {
		t.Fatalf("expected %d series, got %d", want, n)
	}
	if n := countNamed(c, "authclient_sign_in_success_total"); n != 1 {
		t.Fatalf("expected sign-in counter, got %d series", n)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	h := HandlerFromSource(fakeSource{
		snapshot: authclient.MetricsSnapshot{
			Counters: map[authclient.MetricID]uint64{authclient.MetricSignInFailure: 3},
			Histograms: map[authclient.MetricID][]uint64{
				authclient.MetricBackendLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, line := range []string{
		"authclient_sign_in_failure_total 3",
		`authclient_backend_latency_seconds_bucket{le="0.005"} 1`,
		`authclient_backend_latency_seconds_bucket{le="+Inf"} 36`,
		"authclient_backend_latency_seconds_count 36",
		"authclient_audit_dropped_total 2",
	} {
		if !strings.Contains(out, line) {
			t.Fatalf("expected %q in output:\n%s", line, out)
		}
	}
}

type nopBackend struct{}

func (nopBackend) SignIn(context.Context, string, string) (*authclient.BackendSession, error) {
	return nil, errors.New("unsupported")
}
func (nopBackend) SignUp(context.Context, string, string, map[string]string) (*authclient.BackendSession, error) {
	return nil, errors.New("unsupported")
}
func (nopBackend) SignOut(context.Context) error                                   { return nil }
func (nopBackend) GetSession(context.Context) (*authclient.BackendSession, error) { return nil, nil }
func (nopBackend) OnSessionChange(func(authclient.SessionChange)) func()          { return func() {} }
func (nopBackend) SendPasswordResetEmail(context.Context, string, string) error   { return nil }
func (nopBackend) UpdatePassword(context.Context, string) (*authclient.User, error) {
	return nil, errors.New("unsupported")
}
func (nopBackend) ResendConfirmationEmail(context.Context, string, string) error { return nil }
func (nopBackend) SetSession(context.Context, string, string) (*authclient.BackendSession, error) {
	return nil, errors.New("unsupported")
}

func TestCollectorOverManager(t *testing.T) {
	m, err := authclient.New().WithBackend(nopBackend{}).WithMetricsEnabled(true).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer m.Close()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c := NewCollector(m)
	if n := collectCount(c); n != len(internaldefs.CounterDefs)+1 {
		t.Fatalf("expected every counter plus audit drops, got %d", n)
	}
}
