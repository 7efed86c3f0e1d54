package protocolrunner

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors ProtocolRunnerApi and the
// Connections it hands out report through. All collectors share the
// protocol_runner namespace; per-command collectors are labeled by the
// command's wire kind.
type Metrics struct {
	SpawnAttempts  prometheus.Counter
	SocketWaitTime prometheus.Histogram
	CommandLatency *prometheus.HistogramVec
	CommandErrors  *prometheus.CounterVec
}

// NewMetrics builds a Metrics registered against reg. Passing a nil
// registry is valid and yields collectors that are never registered
// anywhere, useful for tests that don't care about metrics output.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SpawnAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protocol_runner",
			Name:      "spawn_attempts_total",
			Help:      "Number of times the protocol runner child process was spawned.",
		}),
		SocketWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "protocol_runner",
			Name:      "socket_wait_seconds",
			Help:      "Time spent waiting for the protocol runner's socket to appear.",
			Buckets:   prometheus.DefBuckets,
		}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "protocol_runner",
			Name:      "command_latency_seconds",
			Help:      "Round-trip latency of a protocol runner command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protocol_runner",
			Name:      "command_errors_total",
			Help:      "Number of protocol runner commands that returned an error.",
		}, []string{"command"}),
	}
	if reg != nil {
		reg.MustRegister(m.SpawnAttempts, m.SocketWaitTime, m.CommandLatency, m.CommandErrors)
	}
	return m
}
