package protocolrunner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Connection is a single, exclusive-use request/response session against a
// connected protocol runner. Only one call may be outstanding at a time;
// Connection serializes callers with an internal mutex rather than
// supporting request pipelining.
//
// A Connection that observes a context cancellation after it has already
// written a request's bytes to the transport is poisoned: the runner may
// still reply to the abandoned request, desynchronizing the next call's
// response from its request. Callers that cancel mid-call must discard the
// Connection rather than reuse it. The internal poisoned flag is set only
// when a Send fails; a timeout or cancellation after the request was written
// is not recorded, so later calls on such a Connection are not refused.
type Connection struct {
	transport *Transport
	readiness *ReadinessWatch
	config    Configuration
	log       *logrus.Entry
	metrics   *Metrics

	mu       sync.Mutex
	poisoned bool
}

func newConnection(t *Transport, r *ReadinessWatch, config Configuration, log *logrus.Entry) *Connection {
	return &Connection{transport: t, readiness: r, config: config, log: log}
}

// WithMetrics attaches a Metrics instance commands report latency/error
// counts through.
func (c *Connection) WithMetrics(m *Metrics) *Connection {
	c.metrics = m
	return c
}

// Close closes the underlying transport.
func (c *Connection) Close() error {
	return c.transport.Close()
}

// commandSpec is one row of the command table: the timeout a call gets and
// how a runner-reported failure should be wrapped. Adding a command means
// adding one row here (and one decoder entry in messages.go), never
// touching the dispatch logic in call.
type commandSpec struct {
	timeout time.Duration
	wrapErr func(reason string) error
}

func protocolErrWrap(kind string) func(string) error {
	return func(reason string) error { return &ProtocolError{Kind: kind, Reason: reason} }
}

// ffiJSONEncoderErrWrap tags the shared FfiJsonEncoderError kind with the
// calling operation's name, since both JSON-encode commands report failures
// through the same encoder error on the runner side.
func ffiJSONEncoderErrWrap(caller string) func(string) error {
	return func(reason string) error {
		return &ProtocolError{Kind: "FfiJsonEncoderError", Reason: caller + ": " + reason}
	}
}

const (
	timeoutPing       = 1 * time.Second
	timeoutDefault    = 10 * time.Second
	timeoutLong       = 120 * time.Second
	timeoutVeryLong   = 1800 * time.Second
	timeoutApplyBlock = 4 * time.Hour
	timeoutUnbounded  = 0 // 0 means Receive blocks with no deadline.
)

var commandTable = map[MessageKind]commandSpec{
	KindPing:                       {timeoutPing, nil},
	KindShutdown:                   {timeoutDefault, nil},
	KindChangeRuntimeConfiguration: {timeoutDefault, nil},
	KindInitProtocolContext:        {timeoutLong, protocolErrWrap("OcamlStorageInitError")},
	KindInitContextIPCServer: {timeoutDefault, func(reason string) error {
		return &ContextIPCServerError{Message: reason}
	}},
	KindApplyBlock:                    {timeoutApplyBlock, protocolErrWrap("ApplyBlockError")},
	KindLatestContextHashes:           {timeoutApplyBlock, protocolErrWrap("GetLastContextHashesError")},
	KindAssertEncodingForProtocolData: {timeoutLong, protocolErrWrap("AssertEncodingForProtocolDataError")},
	KindBeginApplication:              {timeoutLong, protocolErrWrap("BeginApplicationError")},
	KindBeginConstruction:             {timeoutLong, protocolErrWrap("BeginConstructionError")},
	KindPreFilterOperation:            {timeoutLong, protocolErrWrap("PreFilterOperationError")},
	KindValidateOperation:             {timeoutLong, protocolErrWrap("ValidateOperationError")},
	KindComputePath:                   {timeoutLong, protocolErrWrap("ComputePathError")},

	KindJSONEncodeApplyBlockResultMetadata:     {timeoutLong, ffiJSONEncoderErrWrap("apply_block_result_metadata")},
	KindJSONEncodeApplyBlockOperationsMetadata: {timeoutLong, ffiJSONEncoderErrWrap("apply_block_operations_metadata")},

	KindCallProtocolRPC:             {timeoutVeryLong, protocolErrWrap("ProtocolRpcError")},
	KindGenesisResultData:           {timeoutDefault, protocolErrWrap("GenesisResultDataError")},
	KindHelpersPreapplyOperations:   {timeoutLong, protocolErrWrap("HelpersPreapplyError")},
	KindHelpersPreapplyBlock:        {timeoutLong, protocolErrWrap("HelpersPreapplyError")},
	KindGetContextKeyFromHistory:    {timeoutDefault, protocolErrWrap("ContextGetKeyFromHistoryError")},
	KindGetContextKeyValuesByPrefix: {timeoutVeryLong, protocolErrWrap("ContextGetKeyValuesByPrefixError")},
	KindGetContextTreeByPrefix:      {timeoutVeryLong, protocolErrWrap("ContextGetKeyValuesByPrefixError")},
	KindDumpContext:                 {timeoutUnbounded, protocolErrWrap("DumpContextError")},
	KindRestoreContext:              {timeoutUnbounded, protocolErrWrap("RestoreContextError")},
}

// call sends req and waits for the matching typed response, driven entirely
// by commandTable: the request's own Kind() selects the row, so no
// per-command method needs to know its own timeout or error-wrapping rule.
func call[TReq Request, TResp Response](ctx context.Context, c *Connection, req TReq) (TResp, error) {
	var zero TResp

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned {
		return zero, &IpcError{Reason: "connection poisoned by a prior failed send"}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	spec, ok := commandTable[req.Kind()]
	if !ok {
		return zero, &IpcError{Reason: "no command table entry for " + string(req.Kind())}
	}

	timeout := effectiveTimeout(ctx, spec.timeout)

	start := time.Now()
	if err := c.transport.Send(req); err != nil {
		c.poisoned = true
		return zero, err
	}

	var resp Response
	var err error
	if timeout > 0 {
		resp, err = c.transport.TryReceive(timeout)
	} else {
		resp, err = c.transport.Receive()
	}

	if c.metrics != nil {
		c.metrics.CommandLatency.WithLabelValues(string(req.Kind())).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.CommandErrors.WithLabelValues(string(req.Kind())).Inc()
		}
		if perr, ok := err.(*protocolErrorEnvelope); ok {
			wrap := spec.wrapErr
			if wrap == nil {
				wrap = protocolErrWrap(string(req.Kind()) + "Error")
			}
			return zero, wrap(perr.reason)
		}
		return zero, err
	}

	typed, ok := resp.(TResp)
	if !ok {
		return zero, &UnexpectedMessageError{ReceivedKind: string(resp.Kind())}
	}
	return typed, nil
}

// effectiveTimeout returns the smaller of the command table's configured
// timeout and the time remaining on ctx's deadline, if any. A zero result
// means "block with no deadline."
func effectiveTimeout(ctx context.Context, tableTimeout time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return tableTimeout
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		// The deadline passed between the caller's ctx.Err() check and
		// here; an immediate receive timeout preserves the error shape
		// instead of falling through to an unbounded Receive.
		return time.Nanosecond
	}
	if tableTimeout == 0 || remaining < tableTimeout {
		return remaining
	}
	return tableTimeout
}
