// Package protocolrunnertest provides an in-process fake protocol runner
// for exercising protocolrunner's client-side behavior without an actual
// OCaml child process.
package protocolrunnertest

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tezedge/protocol-runner/protocolrunner"
)

// Handler answers one request with either a response payload or an error
// reason. Returning a nil response and empty reason is invalid; exactly one
// of the two must be set.
type Handler func(req protocolrunner.Request) (resp protocolrunner.Response, errReason string)

// FakeRunner listens on a Unix socket and answers requests through a
// Handler, the runner side of the exact framing protocolrunner.Transport
// implements on the client side.
type FakeRunner struct {
	handler Handler
	log     *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    []*protocolrunner.Transport
}

// NewFakeRunner returns a FakeRunner that answers every request via
// handler.
func NewFakeRunner(handler Handler) *FakeRunner {
	return &FakeRunner{handler: handler, log: logrus.NewEntry(logrus.StandardLogger())}
}

// Listen creates the Unix socket at path. Callers should arrange for path
// to not already exist (protocolrunner.RemoveStaleSocket), mirroring what
// ChildSupervisor.Spawn does before exec'ing a real runner.
func (f *FakeRunner) Listen(path string) error {
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is done or Close is called, handling
// each on its own goroutine.
func (f *FakeRunner) Serve(ctx context.Context) error {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l == nil {
		return nil
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			return nil
		}
		transport := protocolrunner.NewTransportFromConn(conn, f.log)
		f.mu.Lock()
		f.conns = append(f.conns, transport)
		f.mu.Unlock()
		go f.serveConn(transport)
	}
}

func (f *FakeRunner) serveConn(t *protocolrunner.Transport) {
	defer t.Close()
	for {
		req, err := t.ReceiveRequest()
		if err != nil {
			return
		}
		resp, errReason := f.handler(req)
		if errReason != "" {
			if err := t.SendError(responseKindFor(req), errReason); err != nil {
				return
			}
			continue
		}
		if err := t.Send(asRequest(resp)); err != nil {
			return
		}
	}
}

// asRequest exploits the fact that Request and Response share the same
// single-method shape (Kind() MessageKind): any Response value already
// satisfies Request structurally, so Transport.Send (typed to accept a
// Request) can write a Response frame without a second code path.
func asRequest(r protocolrunner.Response) protocolrunner.Request {
	return r.(protocolrunner.Request)
}

// responseKindFor is only used to label an error frame's Kind field for
// logging/debugging; the client matches errors against the request it sent,
// not this field, so an approximate label is sufficient.
func responseKindFor(req protocolrunner.Request) protocolrunner.MessageKind {
	return req.Kind()
}

// Close closes the listener and every connection accepted so far.
func (f *FakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener != nil {
		f.listener.Close()
	}
	for _, c := range f.conns {
		c.Close()
	}
	return nil
}

// RawHandler adapts a function operating on raw JSON payloads into a
// Handler, for tests that want to assert on the wire shape directly rather
// than through typed Request values.
func RawHandler(fn func(kind protocolrunner.MessageKind, payload json.RawMessage) (resp protocolrunner.Response, errReason string)) Handler {
	return func(req protocolrunner.Request) (protocolrunner.Response, string) {
		raw, err := json.Marshal(req)
		if err != nil {
			return nil, err.Error()
		}
		return fn(req.Kind(), raw)
	}
}
