package protocolrunner

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// hdrSize is the fixed-size binary frame header: a 4-byte big-endian length
// prefix covering the JSON-encoded envelope that follows.
const hdrSize = 4

// maxFrameSize bounds a single frame so a corrupted or hostile length
// prefix cannot force an unbounded allocation.
const maxFrameSize = 256 << 20

// wireEnvelope is the on-wire shape of every frame. Error is set instead of
// Payload when the runner reports a command failure; Kind always
// identifies which Request/Response variant the frame carries.
type wireEnvelope struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Transport is a framed, bidirectional binary channel to a connected
// protocol runner. Send and Receive/TryReceive are safe to call from
// different goroutines. Concurrent Sends are serialized by an internal write
// mutex; concurrent Receives are not serialized against each other — the
// single-outstanding-request discipline is enforced by Connection, not
// Transport.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader
	log    *logrus.Entry

	writeMu sync.Mutex
}

// Connect dials the Unix-domain socket at path and returns a Transport
// wrapping it.
func Connect(ctx context.Context, path string, log *logrus.Entry) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, &IpcError{Reason: "connect", Cause: err}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		log:    log.WithField("component", "ipc-transport"),
	}, nil
}

// NewTransportFromConn wraps an already-established connection, e.g. one
// accepted by a listener. Used on the runner side of the socket by the fake
// runner in protocolrunnertest, and available to any caller that manages
// its own net.Listener.
func NewTransportFromConn(conn net.Conn, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		log:    log.WithField("component", "ipc-transport"),
	}
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Send writes req as a single frame. The write is performed as one
// underlying Write call of the fully-assembled frame so a partial write can
// only happen at the OS/socket-buffer level, never because this method
// wrote the header and payload separately.
func (t *Transport) Send(req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return &IpcError{Reason: "marshal request", Cause: err}
	}
	return t.sendEnvelope(wireEnvelope{Kind: req.Kind(), Payload: payload})
}

// Receive blocks until a full frame has been read and decodes it as a
// Response.
func (t *Transport) Receive() (Response, error) {
	env, err := t.receiveEnvelope(0)
	if err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, &protocolErrorEnvelope{kind: env.Kind, reason: env.Error}
	}
	return decodeResponse(env.Kind, env.Payload)
}

// TryReceive behaves like Receive but fails with a timeout IpcError if no
// complete frame arrives within d.
func (t *Transport) TryReceive(d time.Duration) (Response, error) {
	env, err := t.receiveEnvelope(d)
	if err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, &protocolErrorEnvelope{kind: env.Kind, reason: env.Error}
	}
	return decodeResponse(env.Kind, env.Payload)
}

// ReceiveRequest blocks until a full frame has been read and decodes it as
// a Request. Used by the runner side of the socket (see
// protocolrunnertest), never by Connection.
func (t *Transport) ReceiveRequest() (Request, error) {
	env, err := t.receiveEnvelope(0)
	if err != nil {
		return nil, err
	}
	return decodeRequest(env.Kind, env.Payload)
}

// SendError writes a frame reporting that the command identified by kind
// failed with reason, the runner-side counterpart to a successful Send of a
// Response. Used by protocolrunnertest to script failure responses.
func (t *Transport) SendError(kind MessageKind, reason string) error {
	env := wireEnvelope{Kind: kind, Error: reason}
	return t.sendEnvelope(env)
}

func (t *Transport) sendEnvelope(env wireEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return &IpcError{Reason: "marshal envelope", Cause: err}
	}
	frame := make([]byte, hdrSize+len(body))
	binary.BigEndian.PutUint32(frame[:hdrSize], uint32(len(body)))
	copy(frame[hdrSize:], body)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.log.WithFields(logrus.Fields{"kind": env.Kind, "bytes": len(frame)}).Trace("send")
	if _, err := t.conn.Write(frame); err != nil {
		return &IpcError{Reason: "write", Cause: err}
	}
	return nil
}

func (t *Transport) receiveEnvelope(timeout time.Duration) (wireEnvelope, error) {
	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return wireEnvelope{}, &IpcError{Reason: "set read deadline", Cause: err}
		}
		defer t.conn.SetReadDeadline(time.Time{})
	}

	var hdr [hdrSize]byte
	if _, err := io.ReadFull(t.reader, hdr[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return wireEnvelope{}, &IpcError{Reason: "read timed out", Timeout: true, Cause: err}
		}
		return wireEnvelope{}, &IpcError{Reason: "read header", Cause: err}
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return wireEnvelope{}, &IpcError{Reason: fmt.Sprintf("frame too large: %d bytes", size)}
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return wireEnvelope{}, &IpcError{Reason: "read timed out", Timeout: true, Cause: err}
		}
		return wireEnvelope{}, &IpcError{Reason: "read body", Cause: err}
	}

	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return wireEnvelope{}, &IpcError{Reason: "decode envelope", Cause: err}
	}
	t.log.WithFields(logrus.Fields{"kind": env.Kind, "bytes": len(body)}).Trace("receive")
	return env, nil
}

// protocolErrorEnvelope carries a runner-reported failure through Receive;
// Connection.call turns it into a *ProtocolError tagged with the command's
// configured error kind.
type protocolErrorEnvelope struct {
	kind   MessageKind
	reason string
}

func (e *protocolErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.reason)
}
