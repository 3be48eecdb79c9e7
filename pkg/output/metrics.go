package output

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logship"

// Metrics are the output's prometheus collectors.
type Metrics struct {
	Submitted    prometheus.Counter
	Rejected     prometheus.Counter
	Flushes      *prometheus.CounterVec
	Handshakes   prometheus.Counter
	BytesWritten prometheus.Counter
	Pending      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and embedded users want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "lines_submitted_total",
			Help: "Lines accepted into the pipeline queue.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "lines_rejected_total",
			Help: "Lines popped from the queue after a failed flush and handed back to the caller.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "flushes_total",
			Help: "Pipelined flushes by result (ok or the failure kind).",
		}, []string{"result"}),
		Handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "handshakes_total",
			Help: "Completed AUTH/SELECT handshakes.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "bytes_written_total",
			Help: "Bytes written to the server socket.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "output", Name: "pending_lines",
			Help: "Lines buffered and not yet acknowledged.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Submitted, m.Rejected, m.Flushes, m.Handshakes, m.BytesWritten, m.Pending)
	}
	return m
}

func (m *Metrics) flushed(err error) {
	if err == nil {
		m.Flushes.WithLabelValues("ok").Inc()
		return
	}
	result := "unknown"
	if e, ok := err.(*Error); ok {
		result = e.Kind.String()
	}
	m.Flushes.WithLabelValues(result).Inc()
}
