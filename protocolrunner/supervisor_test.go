package protocolrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"gotest.tools/v3/assert"
)

// writeScript writes an executable shell script to dir/name and returns its
// path, standing in for a real protocol runner binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NilError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestChildSupervisorSpawnPassesConfiguredArgs(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "runner.sock")
	argsFile := filepath.Join(dir, "args.txt")
	script := writeScript(t, dir, "runner.sh", `
echo "$@" > `+argsFile+`
exit 0
`)

	config := NewConfiguration(script,
		WithSocketPath(socketPath),
		WithEndpointName("test-endpoint"),
		WithLogLevel(LogDebug))
	s := NewChildSupervisor(config, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NilError(t, s.Spawn(ctx))
	assert.NilError(t, s.Wait())

	out, err := os.ReadFile(argsFile)
	assert.NilError(t, err)
	assert.Equal(t, string(out), "--socket-path "+socketPath+" --endpoint test-endpoint --log-level debug\n")
}

func TestChildSupervisorRemovesStaleSocketBeforeSpawn(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "runner.sock")
	assert.NilError(t, os.WriteFile(socketPath, []byte("stale"), 0o644))

	script := writeScript(t, dir, "runner.sh", "exit 0\n")
	config := NewConfiguration(script, WithSocketPath(socketPath))
	s := NewChildSupervisor(config, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NilError(t, s.Spawn(ctx))
	assert.NilError(t, s.Wait())

	assert.Assert(t, !socketExists(socketPath))
}

func TestChildSupervisorPidAfterSpawn(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", "sleep 1\n")
	config := NewConfiguration(script, WithSocketPath(filepath.Join(dir, "runner.sock")))
	s := NewChildSupervisor(config, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NilError(t, s.Spawn(ctx))
	assert.Assert(t, s.Pid() > 0)
	assert.NilError(t, s.Kill())
}

func TestChildSupervisorTerminateFallsBackToKill(t *testing.T) {
	dir := t.TempDir()
	// Ignores SIGTERM so Terminate must fall back to Kill once ctx expires.
	script := writeScript(t, dir, "runner.sh", `
trap '' TERM
sleep 5
`)
	config := NewConfiguration(script, WithSocketPath(filepath.Join(dir, "runner.sock")))
	s := NewChildSupervisor(config, nil)

	spawnCtx, spawnCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer spawnCancel()
	assert.NilError(t, s.Spawn(spawnCtx))

	termCtx, termCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer termCancel()

	done := make(chan error, 1)
	go func() { done <- s.Terminate(termCtx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Terminate did not return after falling back to Kill")
	}
}

func TestChildSupervisorForwardsStdoutAndStderrTagged(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "runner.sh", `
echo "hello from runner"
echo "trouble from runner" >&2
`)
	config := NewConfiguration(script, WithSocketPath(filepath.Join(dir, "runner.sock")))
	logger, hook := logrustest.NewNullLogger()
	s := NewChildSupervisor(config, logrus.NewEntry(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NilError(t, s.Spawn(ctx))
	assert.NilError(t, s.Wait())

	var sawOut, sawErr bool
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "hello from runner":
			assert.Equal(t, e.Level, logrus.InfoLevel)
			assert.Equal(t, e.Data["stream"], "OCaml-out")
			sawOut = true
		case "trouble from runner":
			assert.Equal(t, e.Level, logrus.InfoLevel)
			assert.Equal(t, e.Data["stream"], "OCaml-err")
			sawErr = true
		}
	}
	assert.Assert(t, sawOut)
	assert.Assert(t, sawErr)
}

func TestChildSupervisorPidBeforeSpawnIsZero(t *testing.T) {
	config := NewConfiguration("/bin/true")
	s := NewChildSupervisor(config, nil)
	assert.Equal(t, s.Pid(), 0)
	assert.NilError(t, s.Kill())
}
