package protocolrunner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/moby/sys/signal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ChildSupervisor owns the lifecycle of the runner child process: spawning
// it with the expected CLI arguments, forwarding its stdout/stderr into the
// log, and terminating it.
type ChildSupervisor struct {
	config Configuration
	log    *logrus.Entry

	mu    sync.Mutex
	cmd   *exec.Cmd
	group *errgroup.Group
}

// NewChildSupervisor returns a ChildSupervisor for the given configuration.
func NewChildSupervisor(config Configuration, log *logrus.Entry) *ChildSupervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ChildSupervisor{config: config, log: log.WithField("component", "child-supervisor")}
}

// Spawn removes any stale socket file left by a previous run, then execs
// the runner with --socket-path/--endpoint/--log-level, forwarding its
// stdout and stderr into the log as tagged lines. The two forwarding
// goroutines are supervised by an errgroup rather than left as bare
// goroutines, so a read failure on either stream surfaces through Wait
// instead of silently vanishing.
func (s *ChildSupervisor) Spawn(ctx context.Context) error {
	if err := RemoveStaleSocket(s.config.SocketPath); err != nil {
		return &SpawnError{Reason: "remove stale socket: " + err.Error()}
	}

	cmd := exec.CommandContext(ctx, s.config.ExecutablePath, s.config.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Reason: "stdout pipe: " + err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Reason: "stderr pipe: " + err.Error()}
	}
	if err := cmd.Start(); err != nil {
		return &SpawnError{Reason: "start: " + err.Error()}
	}

	var group errgroup.Group
	group.Go(func() error { return forwardLines(stdout, s.log.WithField("stream", "OCaml-out"), logrus.InfoLevel) })
	group.Go(func() error { return forwardLines(stderr, s.log.WithField("stream", "OCaml-err"), logrus.InfoLevel) })

	s.mu.Lock()
	s.cmd = cmd
	s.group = &group
	s.mu.Unlock()

	return nil
}

// forwardLines reads lines from r and logs each at level, until EOF (logged
// at info as a clean stream close) or a read error (logged as a warning).
// It never blocks the caller beyond the lifetime of the stream itself.
func forwardLines(r io.ReadCloser, log *logrus.Entry, level logrus.Level) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Log(level, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("subprocess output stream error")
		return err
	}
	log.Info("subprocess output stream closed")
	return nil
}

// Wait blocks until the child process and both forwarding goroutines have
// finished. It returns the child's exit error if there is one, otherwise the
// first error from the forwarding goroutines.
func (s *ChildSupervisor) Wait() error {
	s.mu.Lock()
	cmd, group := s.cmd, s.group
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	groupErr := group.Wait()
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	return groupErr
}

// Pid returns the child process's pid, or 0 if it has not been spawned.
func (s *ChildSupervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Terminate asks the child to exit via SIGTERM, then falls back to Kill if
// the process is still alive once ctx is done.
func (s *ChildSupervisor) Terminate(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	sig := signal.SignalMap["TERM"]
	s.log.WithField("signal", sig.String()).Info("terminating protocol runner")
	if err := cmd.Process.Signal(sig); err != nil {
		return &TerminateError{Reason: err.Error()}
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return s.Kill()
	}
}

// Kill forcibly terminates the child process.
func (s *ChildSupervisor) Kill() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	s.log.Warn("killing protocol runner")
	if err := cmd.Process.Kill(); err != nil {
		return &TerminateError{Reason: err.Error()}
	}
	return nil
}
