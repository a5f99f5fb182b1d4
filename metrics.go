package redline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the acceptor and its connections.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	accepted     prometheus.Counter
	acceptErrors *prometheus.CounterVec
	active       prometheus.Gauge
	closed       *prometheus.CounterVec
	bytesRead    prometheus.Counter
	chunks       prometheus.Counter
	wouldBlock   prometheus.Counter
}

// Close reasons used as the "reason" label of connections_closed_total.
const (
	closeReasonPeer     = "peer"
	closeReasonError    = "error"
	closeReasonIdle     = "idle"
	closeReasonCanceled = "canceled"
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener",
		}),
		acceptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "accept_errors_total",
			Help:      "Accept failures by kind (transient, fatal)",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently being served",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "connections_closed_total",
			Help:      "Connections closed by reason (peer, error, idle, canceled)",
		}, []string{"reason"}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "read_bytes_total",
			Help:      "Bytes read from clients",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "chunks_acknowledged_total",
			Help:      "Chunks answered with a reply",
		}),
		wouldBlock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redline",
			Subsystem: "server",
			Name:      "spurious_wakeups_total",
			Help:      "Reads that found no data after a readiness signal",
		}),
	}

	reg.MustRegister(
		m.accepted,
		m.acceptErrors,
		m.active,
		m.closed,
		m.bytesRead,
		m.chunks,
		m.wouldBlock,
	)

	return m
}

func (m *Metrics) connAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

func (m *Metrics) acceptFailed(kind string) {
	if m == nil {
		return
	}
	m.acceptErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) connClosed(reason string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.closed.WithLabelValues(reason).Inc()
}

func (m *Metrics) chunkRead(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) chunkAcked() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

func (m *Metrics) spuriousWakeup() {
	if m == nil {
		return
	}
	m.wouldBlock.Inc()
}
