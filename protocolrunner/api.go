package protocolrunner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ProtocolRunnerApi ties together ChildSupervisor, SocketWaiter, and
// ReadinessWatch: it owns spawning the runner and gating access to a
// Connection until the runner's socket exists. Cloning is cheap and safe:
// copy the struct value, since all fields are reference types or immutable.
type ProtocolRunnerApi struct {
	config     Configuration
	log        *logrus.Entry
	supervisor *ChildSupervisor
	readiness  *ReadinessWatch
	metrics    *Metrics
}

// NewProtocolRunnerApi builds a ProtocolRunnerApi from config. It does not
// spawn the runner; call Start for that.
func NewProtocolRunnerApi(config Configuration, log *logrus.Entry) *ProtocolRunnerApi {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	entry := log.WithField("component", "protocol-runner-api")
	return &ProtocolRunnerApi{
		config:     config,
		log:        entry,
		supervisor: NewChildSupervisor(config, entry),
		readiness:  NewReadinessWatch(),
	}
}

// Start spawns the runner child process and waits for its socket to appear,
// using config.SocketWaitTimeout/SocketPollPeriod. On a socket timeout the
// child process keeps running; the caller decides whether to kill it, so
// the supervisor is returned alongside the error for that purpose.
func (a *ProtocolRunnerApi) Start(ctx context.Context) (*ChildSupervisor, error) {
	if err := a.Spawn(ctx); err != nil {
		return a.supervisor, err
	}
	waitStart := time.Now()
	err := WaitForSocket(ctx, a.config.SocketPath, a.config.SocketWaitTimeout, a.config.SocketPollPeriod)
	if a.metrics != nil {
		a.metrics.SocketWaitTime.Observe(time.Since(waitStart).Seconds())
	}
	if err != nil {
		return a.supervisor, err
	}
	return a.supervisor, nil
}

// Spawn starts the runner child process without waiting for its socket.
func (a *ProtocolRunnerApi) Spawn(ctx context.Context) error {
	if a.metrics != nil {
		a.metrics.SpawnAttempts.Inc()
	}
	return a.supervisor.Spawn(ctx)
}

// SetMetrics attaches m so Start/Spawn report spawn counts and socket-wait
// latency, and so Connections handed out by Connect report per-command
// latency and error counts through it.
func (a *ProtocolRunnerApi) SetMetrics(m *Metrics) {
	a.metrics = m
}

// Readiness returns the shared ReadinessWatch that ReadableConnection waits
// on. Connections never signal it themselves; the caller that initialized
// the context calls Set(true) on it.
func (a *ProtocolRunnerApi) Readiness() *ReadinessWatch {
	return a.readiness
}

// Connect dials the runner's socket directly, without gating on readiness.
// Used internally by ReadableConnection and exposed for callers that manage
// their own readiness sequencing (e.g. the first connection that will itself
// perform InitProtocolContext).
func (a *ProtocolRunnerApi) Connect(ctx context.Context) (*Connection, error) {
	transport, err := Connect(ctx, a.config.SocketPath, a.log)
	if err != nil {
		return nil, err
	}
	conn := newConnection(transport, a.readiness, a.config, a.log)
	if a.metrics != nil {
		conn.WithMetrics(a.metrics)
	}
	return conn, nil
}

// ReadableConnection waits for the context-initialized signal, then
// connects. Use this for connections that only read the context the first
// connection initialized.
func (a *ProtocolRunnerApi) ReadableConnection(ctx context.Context) (*Connection, error) {
	if err := a.readiness.Wait(ctx); err != nil {
		return nil, err
	}
	return a.Connect(ctx)
}

// ReadableConnectionSync is an alias of ReadableConnection for call sites
// that want the blocking nature of the wait spelled out in the name. Both
// methods block the calling goroutine until readiness is signaled or ctx
// is done.
func (a *ProtocolRunnerApi) ReadableConnectionSync(ctx context.Context) (*Connection, error) {
	return a.ReadableConnection(ctx)
}

// Terminate stops the runner child process.
func (a *ProtocolRunnerApi) Terminate(ctx context.Context) error {
	return a.supervisor.Terminate(ctx)
}

// Log returns the component-tagged logger this Api and the components it
// owns log through.
func (a *ProtocolRunnerApi) Log() *logrus.Entry {
	return a.log
}
