package protocolrunner

import (
	"context"
	"os"
	"time"
)

// WaitForSocket polls for the existence of the file at path every period,
// returning nil as soon as it appears. It returns a *SocketTimeoutError if
// path does not appear within timeout, or ctx.Err() if ctx is canceled
// first. Existence alone is the readiness signal; no handshake is
// attempted.
func WaitForSocket(ctx context.Context, path string, timeout, period time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if socketExists(path) {
			return nil
		}
		if time.Now().After(deadline) {
			return &SocketTimeoutError{SocketPath: path}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func socketExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveStaleSocket unlinks any file at path, ignoring a not-exist error.
// ChildSupervisor.Spawn calls this before exec'ing the runner so a leftover
// socket file from a previous run's child is never mistaken for readiness
// by WaitForSocket.
func RemoveStaleSocket(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
