package protocolrunner_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/tezedge/protocol-runner/protocolrunner"
	"github.com/tezedge/protocol-runner/protocolrunnertest"
)

// newConnectedPair starts a FakeRunner listening on a temp socket and
// returns a Connection already dialed against it, bypassing
// ChildSupervisor/SocketWaiter (exercised separately in their own tests) so
// these tests focus on Transport + Connection + the command table.
func newConnectedPair(t *testing.T, handler protocolrunnertest.Handler, opts ...protocolrunner.Option) (*protocolrunner.Connection, *protocolrunnertest.FakeRunner, func()) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "runner.sock")

	runner := protocolrunnertest.NewFakeRunner(handler)
	assert.NilError(t, runner.Listen(socketPath))

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Serve(ctx)

	opts = append([]protocolrunner.Option{protocolrunner.WithSocketPath(socketPath)}, opts...)
	config := protocolrunner.NewConfiguration("/bin/true", opts...)
	api := protocolrunner.NewProtocolRunnerApi(config, nil)

	conn, err := api.Connect(context.Background())
	assert.NilError(t, err)

	cleanup := func() {
		conn.Close()
		runner.Close()
		cancel()
	}
	return conn, runner, cleanup
}

func TestConnectionPingRoundTrip(t *testing.T) {
	conn, _, cleanup := newConnectedPair(t, protocolrunnertest.DefaultHandler())
	defer cleanup()

	err := conn.Ping(context.Background())
	assert.NilError(t, err)
}

func TestConnectionUnexpectedMessageKind(t *testing.T) {
	handler := protocolrunnertest.RawHandler(func(kind protocolrunner.MessageKind, _ json.RawMessage) (protocolrunner.Response, string) {
		// Always answer with PingResponse regardless of what was asked,
		// so a non-Ping caller observes a kind mismatch.
		return protocolrunner.PingResponse{}, ""
	})
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	_, err := conn.LatestContextHashes(context.Background(), 10)
	assert.Assert(t, err != nil)
	var unexpected *protocolrunner.UnexpectedMessageError
	assert.Assert(t, errors.As(err, &unexpected))
}

func TestConnectionProtocolErrorIsWrappedWithCommandErrorKind(t *testing.T) {
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		if req.Kind() == protocolrunner.KindApplyBlock {
			return nil, "block refused: future timestamp"
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	_, err := conn.ApplyBlock(context.Background(), protocolrunner.ApplyBlockRequest{})
	assert.Assert(t, err != nil)
	var protoErr *protocolrunner.ProtocolError
	assert.Assert(t, errors.As(err, &protoErr))
	assert.Equal(t, protoErr.Kind, "ApplyBlockError")
	assert.Equal(t, protoErr.Reason, "block refused: future timestamp")
}

func TestConnectionPingTimesOutAgainstSlowRunner(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		if req.Kind() == protocolrunner.KindPing {
			<-block
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := conn.Ping(ctx)
	assert.Assert(t, err != nil)
	var ipcErr *protocolrunner.IpcError
	assert.Assert(t, errors.As(err, &ipcErr))
	assert.Assert(t, ipcErr.Timeout)
}

// recordingHandler wraps DefaultHandler, recording the kind of every request
// the fake runner sees in arrival order.
func recordingHandler() (protocolrunnertest.Handler, func() []protocolrunner.MessageKind) {
	var mu sync.Mutex
	var kinds []protocolrunner.MessageKind
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		mu.Lock()
		kinds = append(kinds, req.Kind())
		mu.Unlock()
		return protocolrunnertest.DefaultHandler()(req)
	}
	snapshot := func() []protocolrunner.MessageKind {
		mu.Lock()
		defer mu.Unlock()
		return append([]protocolrunner.MessageKind(nil), kinds...)
	}
	return handler, snapshot
}

func TestInitProtocolForWriteStartsIPCServerWhenConfigured(t *testing.T) {
	handler, seen := recordingHandler()
	ipcPath := "/tmp/context-ipc.sock"
	conn, _, cleanup := newConnectedPair(t, handler,
		protocolrunner.WithStorage(protocolrunner.StorageConfiguration{
			DataDir:       "/tmp/context-data",
			IPCSocketPath: &ipcPath,
		}))
	defer cleanup()

	_, err := conn.InitProtocolForWrite(context.Background(), true, nil)
	assert.NilError(t, err)

	got := seen()
	assert.Equal(t, len(got), 3)
	assert.Equal(t, got[0], protocolrunner.KindChangeRuntimeConfiguration)
	assert.Equal(t, got[1], protocolrunner.KindInitProtocolContext)
	assert.Equal(t, got[2], protocolrunner.KindInitContextIPCServer)
}

func TestInitProtocolForWriteSkipsIPCServerWhenNotConfigured(t *testing.T) {
	handler, seen := recordingHandler()
	conn, _, cleanup := newConnectedPair(t, handler,
		protocolrunner.WithStorage(protocolrunner.StorageConfiguration{DataDir: "/tmp/context-data"}))
	defer cleanup()

	_, err := conn.InitProtocolForWrite(context.Background(), true, nil)
	assert.NilError(t, err)

	got := seen()
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[0], protocolrunner.KindChangeRuntimeConfiguration)
	assert.Equal(t, got[1], protocolrunner.KindInitProtocolContext)
}

func TestInitProtocolForReadInitializesContextReadonly(t *testing.T) {
	var mu sync.Mutex
	var params protocolrunner.InitProtocolContextParams
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		if p, ok := req.(protocolrunner.InitProtocolContextParams); ok {
			mu.Lock()
			params = p
			mu.Unlock()
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	_, err := conn.InitProtocolForRead(context.Background())
	assert.NilError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, params.Readonly, true)
	assert.Equal(t, params.CommitGenesis, false)
	assert.Assert(t, params.PatchContext == nil)
}

func TestConnectionRemainsUsableAfterProtocolError(t *testing.T) {
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		if req.Kind() == protocolrunner.KindApplyBlock {
			return nil, "bad_pred"
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	_, err := conn.ApplyBlock(context.Background(), protocolrunner.ApplyBlockRequest{})
	var protoErr *protocolrunner.ProtocolError
	assert.Assert(t, errors.As(err, &protoErr))
	assert.Equal(t, protoErr.Reason, "bad_pred")

	// A runner-reported failure is a semantic error, not a channel fault;
	// the same connection keeps working.
	assert.NilError(t, conn.Ping(context.Background()))
}

func TestConnectionPingIsRepeatable(t *testing.T) {
	conn, _, cleanup := newConnectedPair(t, protocolrunnertest.DefaultHandler())
	defer cleanup()

	for i := 0; i < 3; i++ {
		assert.NilError(t, conn.Ping(context.Background()))
	}
}

func TestChangeRuntimeConfigurationIsIdempotent(t *testing.T) {
	conn, _, cleanup := newConnectedPair(t, protocolrunnertest.DefaultHandler())
	defer cleanup()

	rc := protocolrunner.RuntimeConfiguration{LogLevel: protocolrunner.LogDebug, LogFormat: "json"}
	assert.NilError(t, conn.ChangeRuntimeConfiguration(context.Background(), rc))
	assert.NilError(t, conn.ChangeRuntimeConfiguration(context.Background(), rc))
}

func TestJSONEncodeFailuresShareTheEncoderErrorKind(t *testing.T) {
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		switch req.Kind() {
		case protocolrunner.KindJSONEncodeApplyBlockResultMetadata,
			protocolrunner.KindJSONEncodeApplyBlockOperationsMetadata:
			return nil, "metadata undecodable"
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	_, err := conn.ApplyBlockResultMetadata(context.Background(), nil, nil, 0, nil, nil)
	var protoErr *protocolrunner.ProtocolError
	assert.Assert(t, errors.As(err, &protoErr))
	assert.Equal(t, protoErr.Kind, "FfiJsonEncoderError")
	assert.Assert(t, strings.Contains(protoErr.Reason, "apply_block_result_metadata"))
}

func TestCallProtocolRPCErrorCarriesRequestPath(t *testing.T) {
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		if req.Kind() == protocolrunner.KindCallProtocolRPC {
			return nil, "no such endpoint"
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler)
	defer cleanup()

	_, err := conn.CallProtocolRPC(context.Background(), protocolrunner.CallProtocolRPCRequest{
		RequestPath: "/chains/main/blocks/head",
	})
	var protoErr *protocolrunner.ProtocolError
	assert.Assert(t, errors.As(err, &protoErr))
	assert.Equal(t, protoErr.Kind, "ProtocolRpcError")
	assert.Assert(t, strings.Contains(protoErr.Reason, "/chains/main/blocks/head"))
}

func TestGenesisResultDataRequiresEnvironment(t *testing.T) {
	conn, _, cleanup := newConnectedPair(t, protocolrunnertest.DefaultHandler())
	defer cleanup()

	_, err := conn.GenesisResultData(context.Background(), protocolrunner.Hash("ctx-hash"))
	var invalid *protocolrunner.InvalidDataError
	assert.Assert(t, errors.As(err, &invalid))
}

func TestGenesisResultDataDerivesParamsFromEnvironment(t *testing.T) {
	var mu sync.Mutex
	var params protocolrunner.GenesisResultDataParams
	handler := func(req protocolrunner.Request) (protocolrunner.Response, string) {
		if p, ok := req.(protocolrunner.GenesisResultDataParams); ok {
			mu.Lock()
			params = p
			mu.Unlock()
		}
		return protocolrunnertest.DefaultHandler()(req)
	}
	conn, _, cleanup := newConnectedPair(t, handler,
		protocolrunner.WithEnvironment(protocolrunner.Environment{
			ChainID:                 "main",
			GenesisProtocol:         "genesis-proto",
			GenesisBlock:            "genesis-block",
			GenesisMaxOperationsTTL: 120,
		}))
	defer cleanup()

	_, err := conn.GenesisResultData(context.Background(), protocolrunner.Hash("ctx-hash"))
	assert.NilError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, string(params.ChainID), "main")
	assert.Equal(t, string(params.GenesisProtocolHash), "genesis-proto")
	assert.Equal(t, params.GenesisMaxOperationsTTL, 120)
}

func TestReadableConnectionWaitsForReadiness(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "runner.sock")

	runner := protocolrunnertest.NewFakeRunner(protocolrunnertest.DefaultHandler())
	assert.NilError(t, runner.Listen(socketPath))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Serve(ctx)
	defer runner.Close()

	config := protocolrunner.NewConfiguration("/bin/true", protocolrunner.WithSocketPath(socketPath))
	api := protocolrunner.NewProtocolRunnerApi(config, nil)

	result := make(chan error, 1)
	go func() {
		conn, err := api.ReadableConnection(context.Background())
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		result <- conn.Ping(context.Background())
	}()

	select {
	case <-result:
		t.Fatal("ReadableConnection returned before readiness was signaled")
	case <-time.After(20 * time.Millisecond):
	}

	api.Readiness().Set(true)

	select {
	case err := <-result:
		assert.NilError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadableConnection did not unblock after readiness was signaled")
	}
}
