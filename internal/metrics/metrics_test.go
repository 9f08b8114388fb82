package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	if regOK.Load() {
		t.Skip("metrics already registered by an earlier test")
	}
	// must not panic or record anything
	IncStart(true)
	IncStop()
	IncTermination(true)
	SetRunning(3)
	IncFailure("start", "NotFound")
	if got := testutil.ToFloat64(processStops); got != 0 {
		t.Fatalf("stops recorded before register: %v", got)
	}
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart(true)
	IncStart(false)
	IncStop()
	IncTermination(false)
	IncTermination(true)
	SetRunning(2)
	IncFailure("stop", "AlreadyStopped")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"minions_process_starts_total":       false,
		"minions_process_stops_total":        false,
		"minions_process_terminations_total": false,
		"minions_process_running":            false,
		"minions_operation_failures_total":   false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if got := testutil.ToFloat64(processTerminations.WithLabelValues("forced")); got < 1 {
		t.Fatalf("forced terminations = %v", got)
	}
	if got := testutil.ToFloat64(processRunning); got != 2 {
		t.Fatalf("running gauge = %v", got)
	}
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "minions_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "minions_test_total 1") {
		t.Fatalf("unexpected body: %s", b)
	}
}
