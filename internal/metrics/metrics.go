package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trace outcomes.
const (
	TraceOK              = "ok"
	TraceSkipped         = "skipped"
	TraceTimeout         = "timeout"
	TraceFailed          = "failed"
	TraceHeadUnavailable = "head_unavailable"
)

// Metrics groups the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	// PendingObserved counts pending transactions handed to the engine
	PendingObserved *prometheus.CounterVec
	// BlocksObserved counts new blocks handed to the engine
	BlocksObserved prometheus.Counter
	// Traces counts speculative executions by outcome
	Traces *prometheus.CounterVec
	// TraceLatency tracks speculative execution time
	TraceLatency prometheus.Histogram
	// Serializations counts payload encodings by tier
	Serializations *prometheus.CounterVec
	// Sends counts deliveries by endpoint and result
	Sends *prometheus.CounterVec
	// Subscribers tracks connected subscribers per endpoint
	Subscribers *prometheus.GaugeVec
	// InboundErrors counts rejected inbound messages per endpoint
	InboundErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PendingObserved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushd_pending_transactions_total",
				Help: "Total number of pending transactions observed",
			},
			[]string{"result"},
		),
		BlocksObserved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pushd_blocks_total",
				Help: "Total number of new blocks observed",
			},
		),
		Traces: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushd_traces_total",
				Help: "Total number of speculative executions by outcome",
			},
			[]string{"result"},
		),
		TraceLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pushd_trace_latency_seconds",
				Help:    "Speculative execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		Serializations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushd_serializations_total",
				Help: "Total number of payload serializations by tier",
			},
			[]string{"tier"},
		),
		Sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushd_sends_total",
				Help: "Total number of payload deliveries",
			},
			[]string{"endpoint", "result"},
		),
		Subscribers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pushd_subscribers",
				Help: "Connected subscribers",
			},
			[]string{"endpoint"},
		),
		InboundErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushd_inbound_errors_total",
				Help: "Total number of rejected inbound messages",
			},
			[]string{"endpoint"},
		),
	}
}

func (m *Metrics) ObservePending(result string) {
	if m == nil {
		return
	}
	m.PendingObserved.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBlock() {
	if m == nil {
		return
	}
	m.BlocksObserved.Inc()
}

func (m *Metrics) ObserveTrace(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Traces.WithLabelValues(result).Inc()
	if result != TraceSkipped {
		m.TraceLatency.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveSerialization(tier string) {
	if m == nil {
		return
	}
	m.Serializations.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveSend(endpoint string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Sends.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) SetSubscribers(endpoint string, n int) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(endpoint).Set(float64(n))
}

func (m *Metrics) ObserveInboundError(endpoint string) {
	if m == nil {
		return
	}
	m.InboundErrors.WithLabelValues(endpoint).Inc()
}
