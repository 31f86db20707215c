package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(AttemptEvent{
		MsgID:    "m1",
		DeviceID: "dev-1",
		Attempt:  1,
		Outcome:  "success",
		Elapsed:  40 * time.Millisecond,
	})
	m.Observe(AttemptEvent{
		MsgID:    "m2",
		DeviceID: "dev-1",
		Attempt:  1,
		Outcome:  "timeout",
		Elapsed:  time.Second,
	})

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("dev-1", "success")); got != 1 {
		t.Fatalf("success attempts=%v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("dev-1", "timeout")); got != 1 {
		t.Fatalf("timeout attempts=%v", got)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordQueueDepth("dev-1", 7)
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("dev-1")); got != 7 {
		t.Fatalf("queue depth=%v", got)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sink := MultiSink(NopSink{}, m)

	sink.Observe(AttemptEvent{DeviceID: "dev-2", Outcome: "success"})
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("dev-2", "success")); got != 1 {
		t.Fatalf("fan-out missed metrics sink: %v", got)
	}
}
