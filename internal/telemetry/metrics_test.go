package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersEverything(t *testing.T) {
	m := NewMetrics()
	m.CacheHits.Inc()
	m.Transforms.WithLabelValues("inline", "ok").Add(2)

	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Fatalf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(m.Transforms.WithLabelValues("inline", "ok")); got != 2 {
		t.Fatalf("transforms = %v", got)
	}
	n, err := testutil.GatherAndCount(m.Registry)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Fatal("nothing gathered")
	}
}

func TestExpose_ZeroPortIsOff(t *testing.T) {
	if srv := Expose(0, NewMetrics().Registry); srv != nil {
		t.Fatal("expected no server for port 0")
	}
}
