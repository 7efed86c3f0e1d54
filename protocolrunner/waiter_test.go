package protocolrunner

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestWaitForSocketCompletesImmediatelyWhenAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.sock")
	l, err := net.Listen("unix", path)
	assert.NilError(t, err)
	defer l.Close()

	start := time.Now()
	err = WaitForSocket(context.Background(), path, time.Second, 100*time.Millisecond)
	assert.NilError(t, err)
	assert.Assert(t, time.Since(start) < 100*time.Millisecond)
}

func TestWaitForSocketTimesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never-appears.sock")

	err := WaitForSocket(context.Background(), path, 50*time.Millisecond, 10*time.Millisecond)
	var timeoutErr *SocketTimeoutError
	assert.Assert(t, errors.As(err, &timeoutErr))
	assert.Equal(t, timeoutErr.SocketPath, path)
}

func TestWaitForSocketAppearsDuringPoll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.sock")

	go func() {
		time.Sleep(30 * time.Millisecond)
		l, err := net.Listen("unix", path)
		if err == nil {
			defer l.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	err := WaitForSocket(context.Background(), path, time.Second, 10*time.Millisecond)
	assert.NilError(t, err)
}

func TestWaitForSocketRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never-appears.sock")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForSocket(ctx, path, time.Second, 10*time.Millisecond)
	assert.Assert(t, errors.Is(err, context.Canceled))
}

func TestRemoveStaleSocketIgnoresMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.sock")
	assert.NilError(t, RemoveStaleSocket(path))
}

func TestRemoveStaleSocketUnlinksExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.sock")
	l, err := net.Listen("unix", path)
	assert.NilError(t, err)
	// Keep the socket file on disk after Close, standing in for a file left
	// behind by a runner that exited without cleaning up.
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	assert.Assert(t, socketExists(path))
	assert.NilError(t, RemoveStaleSocket(path))
	assert.Assert(t, !socketExists(path))
}
