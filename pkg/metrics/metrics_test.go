// Unit tests for the metrics package
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounterBasic(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")

	if v := c.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %d", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("expected 11, got %d", v)
	}
}

func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("requests_total", "Total requests")
	ok := Labels{"endpoint": "query", "result": "ok"}
	bad := Labels{"endpoint": "query", "result": "error"}

	c.Inc(ok)
	c.Inc(ok)
	c.Inc(bad)

	if v := c.Get(ok); v != 2 {
		t.Errorf("expected ok count 2, got %d", v)
	}
	if v := c.Get(Labels{"result": "error", "endpoint": "query"}); v != 1 {
		t.Errorf("expected label order to be irrelevant, got %d", v)
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc(Labels{"k": "v"})
			}
		}()
	}
	wg.Wait()
	if v := c.Get(Labels{"k": "v"}); v != 5000 {
		t.Errorf("expected 5000, got %d", v)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("clients", "")
	g.Inc(nil)
	g.Inc(nil)
	g.Dec(nil)
	if v := g.Get(nil); v != 1 {
		t.Errorf("expected 1, got %v", v)
	}
	g.Set(nil, 4.5)
	if v := g.Get(nil); v != 4.5 {
		t.Errorf("expected 4.5, got %v", v)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("latency", "", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.7, 2} {
		h.Observe(nil, v)
	}
	snap := h.Snapshot(nil)
	if snap.Count != 5 {
		t.Errorf("expected count 5, got %d", snap.Count)
	}
	if snap.Sum < 3.149 || snap.Sum > 3.151 {
		t.Errorf("expected sum 3.15, got %v", snap.Sum)
	}
	want := map[float64]uint64{0.1: 2, 0.5: 3, 1: 4}
	for b, n := range want {
		if snap.Buckets[b] != n {
			t.Errorf("bucket %v: expected %d, got %d", b, n, snap.Buckets[b])
		}
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("a", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("a", "")); err == nil {
		t.Error("expected duplicate registration error")
	}
	if r.Get("a") == nil {
		t.Error("expected Get to find registered metric")
	}
}

func TestRegistryGather(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("cmds_total", "Commands")
	g := NewGauge("tools", "Tools")
	r.MustRegister(c)
	r.MustRegister(g)
	c.Inc(Labels{"kind": "toolchange"})
	c.Inc(Labels{"kind": "calibrate"})
	g.Set(nil, 3)

	out := r.Gather()
	for _, want := range []string{
		"# HELP cmds_total Commands",
		"# TYPE cmds_total counter",
		`cmds_total{kind="calibrate"} 1`,
		`cmds_total{kind="toolchange"} 1`,
		"# TYPE tools gauge",
		"tools 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "cmds_total") > strings.Index(out, "# HELP tools") {
		t.Error("expected registration order")
	}
	if strings.Index(out, `kind="calibrate"`) > strings.Index(out, `kind="toolchange"`) {
		t.Error("expected series sorted by labels")
	}
}

func TestHistogramGather(t *testing.T) {
	h := NewHistogram("req_seconds", "Latency", []float64{0.1, 1})
	h.Observe(Labels{"endpoint": "query"}, 0.5)
	h.Observe(Labels{"endpoint": "query"}, 5)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`req_seconds_bucket{endpoint="query",le="0.1"} 0`,
		`req_seconds_bucket{endpoint="query",le="1"} 1`,
		`req_seconds_bucket{endpoint="query",le="+Inf"} 2`,
		`req_seconds_sum{endpoint="query"} 5.5`,
		`req_seconds_count{endpoint="query"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	l := Labels{"path": "a\"b\\c\nd"}
	if got, want := l.String(), `{path="a\"b\\c\nd"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if Labels(nil).String() != "" {
		t.Error("expected empty string for nil labels")
	}
}

func TestPanelMetrics(t *testing.T) {
	pm := NewPanelMetrics()
	pm.ObserveFirmwareRequest("objects_query", 20*time.Millisecond, nil)
	pm.ObserveFirmwareRequest("objects_query", 20*time.Millisecond, errors.New("boom"))
	pm.RecordCommand("toolchange", nil)
	pm.SetTools(4)
	pm.RefreshDropped.Inc(nil)

	if v := pm.FirmwareRequests.Get(Labels{"endpoint": "objects_query", "result": "error"}); v != 1 {
		t.Errorf("expected 1 failed request, got %d", v)
	}
	if v := pm.Commands.Get(Labels{"kind": "toolchange", "result": "ok"}); v != 1 {
		t.Errorf("expected 1 toolchange, got %d", v)
	}
	out := pm.Gather()
	for _, want := range []string{
		"axiscope_tools 4",
		"axiscope_refresh_dropped_total 1",
		`axiscope_firmware_request_seconds_count{endpoint="objects_query"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestHandler(t *testing.T) {
	pm := NewPanelMetrics()
	pm.SetTools(2)

	rec := httptest.NewRecorder()
	Handler(pm.Registry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "axiscope_tools 2") {
		t.Errorf("unexpected body:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	Handler(pm.Registry()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(time.Now(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	HealthHandler(time.Now(), func() error { return errors.New("printer unreachable") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "printer unreachable") {
		t.Errorf("expected error in body, got %s", rec.Body.String())
	}
}
