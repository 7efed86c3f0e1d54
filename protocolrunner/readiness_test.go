package protocolrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestReadinessWatchWaitUnblocksOnSet(t *testing.T) {
	w := NewReadinessWatch()
	assert.Equal(t, w.IsReady(), false)

	done := make(chan error, 1)
	go func() {
		done <- w.Wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Set was called")
	case <-time.After(20 * time.Millisecond):
	}

	w.Set(true)

	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Set(true)")
	}
	assert.Equal(t, w.IsReady(), true)
}

func TestReadinessWatchSetIsIdempotentAndOneWay(t *testing.T) {
	w := NewReadinessWatch()
	w.Set(true)
	assert.Equal(t, w.IsReady(), true)

	w.Set(true) // must not panic on double-close of the internal channel
	assert.Equal(t, w.IsReady(), true)

	w.Set(false) // one-way: never un-signals
	assert.Equal(t, w.IsReady(), true)
}

func TestReadinessWatchWaitRespectsContextCancellation(t *testing.T) {
	w := NewReadinessWatch()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := w.Wait(ctx)
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReadinessWatchMultipleWaiters(t *testing.T) {
	w := NewReadinessWatch()
	const n = 5
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_ = w.Wait(context.Background())
			done <- struct{}{}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	w.Set(true)
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all waiters were woken")
		}
	}
}
