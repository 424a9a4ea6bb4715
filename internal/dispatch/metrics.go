// ABOUTME: Prometheus instrumentation for the dispatch core.
// ABOUTME: Counts dispatches by outcome plus the internally-observable frame anomalies.

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatch core's Prometheus collectors. Late results and
// parse errors never surface to callers, so the counters are the only way
// to observe them besides logs.
type Metrics struct {
	Dispatches      *prometheus.CounterVec
	LateResults     prometheus.Counter
	ParseErrors     prometheus.Counter
	UnhandledFrames prometheus.Counter
	Inflight        prometheus.GaugeFunc
}

// NewMetrics registers the dispatch collectors with reg. pendingLen feeds
// the in-flight gauge. A nil registerer keeps the collectors functional but
// unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer, pendingLen func() int) *Metrics {
	m := &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_dispatches_total",
			Help: "Commands dispatched, labeled by terminal outcome.",
		}, []string{"outcome", "source"}),
		LateResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_late_results_total",
			Help: "Result frames discarded because no pending request matched.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_frame_parse_errors_total",
			Help: "Inbound frames dropped because they failed to parse.",
		}),
		UnhandledFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_unhandled_frames_total",
			Help: "Inbound frames of a kind this gateway does not handle.",
		}),
		Inflight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "warden_pending_commands",
			Help: "Commands currently awaiting a result.",
		}, func() float64 { return float64(pendingLen()) }),
	}

	if reg != nil {
		reg.MustRegister(m.Dispatches, m.LateResults, m.ParseErrors, m.UnhandledFrames, m.Inflight)
	}
	return m
}
