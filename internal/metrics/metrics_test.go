package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTrace(TraceOK, 10*time.Millisecond)
	m.ObserveTrace(TraceTimeout, 2*time.Second)
	m.ObserveTrace(TraceSkipped, 0)
	m.ObserveSend("pending", nil)
	m.ObserveSend("pending", errors.New("closed"))
	m.SetSubscribers("block", 3)

	if got := testutil.ToFloat64(m.Traces.WithLabelValues(TraceOK)); got != 1 {
		t.Fatalf("unexpected ok traces %v", got)
	}
	if got := testutil.ToFloat64(m.Sends.WithLabelValues("pending", "error")); got != 1 {
		t.Fatalf("unexpected failed sends %v", got)
	}
	if got := testutil.ToFloat64(m.Subscribers.WithLabelValues("block")); got != 3 {
		t.Fatalf("unexpected subscriber gauge %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("collectors were not registered")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePending("new")
	m.ObserveBlock()
	m.ObserveTrace(TraceOK, time.Millisecond)
	m.ObserveSerialization("none")
	m.ObserveSend("pending", nil)
	m.SetSubscribers("pending", 1)
	m.ObserveInboundError("pending")
}
