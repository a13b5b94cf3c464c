package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorderWith(reg)

	rec.IncCounter("settle_success", map[string]string{"network": "aptos:2"})
	rec.IncCounter("settle_success", map[string]string{"network": "aptos:2"})
	rec.IncCounter("verify_rejected", map[string]string{"network": "aptos:1"})
	rec.ObserveLatency("verify", 40*time.Millisecond, map[string]string{"network": "aptos:2"})

	prec := rec.(*PrometheusRecorder)
	if got := testutil.ToFloat64(prec.counters.With(prometheus.Labels{"type": "settle_success", "network": "aptos:2"})); got != 2 {
		t.Errorf("settle_success counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(prec.counters.With(prometheus.Labels{"type": "verify_rejected", "network": "aptos:1"})); got != 1 {
		t.Errorf("verify_rejected counter = %v, want 1", got)
	}

	count, err := testutil.GatherAndCount(reg, "x402_events_total", "x402_latency_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count == 0 {
		t.Error("no metrics registered")
	}
}

func TestNoopRecorder(t *testing.T) {
	var rec Recorder = NoopRecorder{}
	rec.IncCounter("anything", nil)
	rec.ObserveLatency("anything", time.Second, nil)
}
