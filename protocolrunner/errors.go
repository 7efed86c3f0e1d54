package protocolrunner

import (
	"errors"
	"fmt"
)

// ProtocolRunnerError is implemented by the lifecycle-level error variants:
// SpawnError, SocketTimeoutError, TerminateError.
type ProtocolRunnerError interface {
	error
	protocolRunnerError()
}

// SpawnError wraps a failure to exec the runner child process.
type SpawnError struct {
	Reason string
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("protocol runner spawn failed: %s", e.Reason)
}
func (*SpawnError) protocolRunnerError() {}

// SocketTimeoutError is returned by SocketWaiter when the runner's socket
// file does not appear within the configured timeout.
type SocketTimeoutError struct {
	SocketPath string
}

func (e *SocketTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for protocol runner socket %q", e.SocketPath)
}
func (*SocketTimeoutError) protocolRunnerError() {}

// TerminateError wraps a failure to cleanly terminate the runner child
// process.
type TerminateError struct {
	Reason string
}

func (e *TerminateError) Error() string {
	return fmt.Sprintf("protocol runner termination failed: %s", e.Reason)
}
func (*TerminateError) protocolRunnerError() {}

// ProtocolServiceError is implemented by the per-call error variants:
// IpcError, ProtocolError, UnexpectedMessageError, InvalidDataError,
// LockPoisonError, ContextIPCServerError.
type ProtocolServiceError interface {
	error
	protocolServiceError()
}

// IpcError wraps a transport-level failure: a broken connection, a
// malformed frame, or a read/write deadline exceeded.
type IpcError struct {
	Reason  string
	Timeout bool
	Cause   error
}

func (e *IpcError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ipc error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("ipc error: %s", e.Reason)
}
func (e *IpcError) Unwrap() error { return e.Cause }
func (*IpcError) protocolServiceError() {}

// ProtocolError reports a failure the runner itself returned for a given
// command, tagged with the command's error kind (e.g. "ApplyBlockError").
type ProtocolError struct {
	Kind   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}
func (*ProtocolError) protocolServiceError() {}

// IsCacheContextHashMismatch reports whether this error represents a
// context-hash cache mismatch, the one ProtocolError kind callers are
// expected to special-case (e.g. to decide whether to reload from cache).
func (e *ProtocolError) IsCacheContextHashMismatch() bool {
	return e.Kind == "CacheContextHashMismatch"
}

// UnexpectedMessageError is returned when a reply arrives whose kind does
// not match any reply variant expected for the outstanding request. This is
// channel-fatal: the Connection must be discarded, since the framed stream
// is now out of sync with the caller's expectations.
type UnexpectedMessageError struct {
	ReceivedKind string
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected message kind from protocol runner: %s", e.ReceivedKind)
}
func (*UnexpectedMessageError) protocolServiceError() {}

// InvalidDataError reports that locally-held data needed to build a request
// (e.g. deriving genesis result data from environment configuration) was
// invalid or incomplete.
type InvalidDataError struct {
	Message string
}

func (e *InvalidDataError) Error() string { return fmt.Sprintf("invalid data: %s", e.Message) }
func (*InvalidDataError) protocolServiceError() {}

// LockPoisonError reports that an internal mutex was found poisoned by a
// panicking holder. Go's sync.Mutex cannot itself become poisoned, but a
// goroutine-local invariant (e.g. a cached decode buffer) can still be left
// inconsistent after a panic; callers that observe this should discard the
// Connection.
type LockPoisonError struct {
	Message string
}

func (e *LockPoisonError) Error() string { return fmt.Sprintf("lock poisoned: %s", e.Message) }
func (*LockPoisonError) protocolServiceError() {}

// ContextIPCServerError reports a failure initializing or communicating
// with the runner's own context IPC server (used by read-only consumers of
// the context the runner maintains).
type ContextIPCServerError struct {
	Message string
}

func (e *ContextIPCServerError) Error() string {
	return fmt.Sprintf("context ipc server error: %s", e.Message)
}
func (*ContextIPCServerError) protocolServiceError() {}

// HandleProtocolServiceError partitions channel-fatal errors from
// recoverable ones. IpcError and UnexpectedMessageError are propagated
// unchanged, since they indicate the connection itself can no longer be
// trusted. Every other ProtocolServiceError is passed to logFn and
// swallowed, returning nil, matching the runner's own "log and continue"
// policy for per-call protocol/data errors.
func HandleProtocolServiceError(err error, logFn func(error)) error {
	if err == nil {
		return nil
	}
	var ipcErr *IpcError
	var unexpected *UnexpectedMessageError
	if errors.As(err, &ipcErr) || errors.As(err, &unexpected) {
		return err
	}
	var svcErr ProtocolServiceError
	if errors.As(err, &svcErr) {
		logFn(err)
		return nil
	}
	return err
}
