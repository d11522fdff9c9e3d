package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/diary/internal/version"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// counterWith returns the counter value for the sample whose labels include want
func counterWith(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
next:
	for _, m := range f.GetMetric() {
		got := make(map[string]string)
		for _, lp := range m.GetLabel() {
			got[lp.GetName()] = lp.GetValue()
		}
		for k, v := range want {
			if got[k] != v {
				continue next
			}
		}
		return m.GetCounter().GetValue()
	}
	t.Fatalf("metric %q has no sample with labels %v", name, want)
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetGauge().GetValue()
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetHistogram().GetSampleCount()
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"http_inflight_requests", "http_panic_total", "profiling_active", "go_goroutines", "process_"} {
		if !strings.Contains(body, name) {
			t.Errorf("%q missing from scrape", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if gatherMetric(t, b.Registry(), "http_panic_total").GetMetric()[0].GetCounter().GetValue() != 0 {
		t.Fatal("registries should not share state")
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("diary", "server", version.Info{Version: "1.0.0", Commit: "abc", GoVersion: "go1.24", VCSDirty: &dirty})

	f := gatherMetric(t, m.reg, "build_info")
	labels := map[string]string{}
	for _, lp := range f.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["app"] != "diary" || labels["version"] != "1.0.0" || labels["vcs_dirty"] != "true" {
		t.Fatalf("build_info labels = %v", labels)
	}

	m2 := New()
	m2.SetBuildInfoFromVersion("diary", "server", version.Info{})
	if v := gatherMetric(t, m2.reg, "build_info").GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Fatalf("build_info = %v, want 1", v)
	}
}

func TestDomainCounters(t *testing.T) {
	m := New()

	m.IncRateLimitDenied("auth")
	m.IncRateLimitDenied("auth")
	m.IncRateLimitDenied("api")
	m.IncRateLimitStoreError("api")
	m.IncAuthEvent("signin", OutcomeError)
	m.IncWeatherLookup(OutcomeOK)
	m.IncCalendarCall(OutcomeError)
	m.IncMailSent("log", OutcomeOK)

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"http_requests_rate_limited_total", map[string]string{"policy": "auth"}, 2},
		{"http_requests_rate_limited_total", map[string]string{"policy": "api"}, 1},
		{"ratelimit_store_errors_total", map[string]string{"policy": "api"}, 1},
		{"auth_events_total", map[string]string{"event": "signin", "outcome": "error"}, 1},
		{"weather_lookups_total", map[string]string{"outcome": "ok"}, 1},
		{"calendar_requests_total", map[string]string{"outcome": "error"}, 1},
		{"mail_sent_total", map[string]string{"transport": "log"}, 1},
	}
	for _, c := range checks {
		if got := counterWith(t, m.reg, c.name, c.labels); got != c.want {
			t.Errorf("%s%v = %v, want %v", c.name, c.labels, got, c.want)
		}
	}
}

func TestObserveLLM(t *testing.T) {
	m := New()
	m.ObserveLLM("event_questions", OutcomeOK, 2*time.Second)
	m.ObserveLLM("event_questions", OutcomeSkipped, 0)

	if got := counterWith(t, m.reg, "llm_requests_total", map[string]string{"outcome": OutcomeSkipped}); got != 1 {
		t.Fatalf("skipped = %v", got)
	}
	if histogramCount(t, m.reg, "llm_request_duration_seconds") != 1 {
		t.Fatal("skipped calls should not be timed")
	}
}

func TestObserveUpload(t *testing.T) {
	m := New()
	m.ObserveUpload("image", 4096)
	if got := counterWith(t, m.reg, "media_uploads_total", map[string]string{"kind": "image"}); got != 1 {
		t.Fatalf("uploads = %v", got)
	}
	if histogramCount(t, m.reg, "media_upload_size_bytes") != 1 {
		t.Fatal("size not observed")
	}
}

func TestObserveJobRun(t *testing.T) {
	m := New()
	at := time.Unix(1_700_000_000, 0)

	m.ObserveJobRun("purge_reset_tokens", errors.New("db down"), at)
	if gatherMetric(t, m.reg, "job_last_success_timestamp_seconds") != nil {
		t.Fatal("failed run must not set last success")
	}
	m.ObserveJobRun("purge_reset_tokens", nil, at)
	if got := gaugeValue(t, m.reg, "job_last_success_timestamp_seconds"); got != float64(at.Unix()) {
		t.Fatalf("last success = %v", got)
	}
	if got := counterWith(t, m.reg, "job_runs_total", map[string]string{"outcome": OutcomeError}); got != 1 {
		t.Fatalf("error runs = %v", got)
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if gaugeValue(t, m.reg, "profiling_active") != 1 {
		t.Fatal("want 1")
	}
	m.SetProfilingActive(false)
	if gaugeValue(t, m.reg, "profiling_active") != 0 {
		t.Fatal("want 0")
	}
}
