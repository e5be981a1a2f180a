package corering

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

// TestReadCancellationDeliversCancellationReason submits a read against a
// pipe that nothing writes to, cancels the fiber mid-flight, and expects the read
// to resolve with the cancellation reason rather than blocking forever or
// surfacing a raw ECANCELED kernel error (SPEC_FULL.md §5).
func TestReadCancellationDeliversCancellationReason(t *testing.T) {
	sched := newTestScheduler(t)

	var fds [2]int
	if err := syscall.Pipe2(fds[:], syscall.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fds[1]) // keep the write end open so the read blocks
	defer syscall.Close(fds[0])

	ctx := newFiberContext()
	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := sched.ReadUpto(ctx, fds[0], buf, 0, false)
		readDone <- err
	}()

	// Drive the loop until the read has been submitted (cancel fn installed).
	for i := 0; i < 1000 && ctx.cancelFn == nil; i++ {
		sched.tick()
	}
	if ctx.cancelFn == nil {
		t.Fatal("read never reached the submitted state")
	}

	ctx.Cancel(ErrShutdownPending)

	var gotErr error
	var completed bool
	for i := 0; i < 1000 && !completed; i++ {
		sched.tick()
		select {
		case gotErr = <-readDone:
			completed = true
		default:
		}
	}
	if !completed {
		t.Fatal("cancelled read never completed")
	}

	if !errors.Is(gotErr, ErrShutdownPending) {
		t.Fatalf("got err = %v, want ErrShutdownPending", gotErr)
	}
}

// TestNoopCompletesQuickly is a minimal smoke test for the non-cancellable
// job path used by Noop/closeOp.
func TestNoopCompletesQuickly(t *testing.T) {
	sched := newTestScheduler(t)
	ctx := newFiberContext()
	done := make(chan error, 1)
	go func() { done <- sched.Noop(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sched.tick()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Noop failed: %v", err)
			}
			return
		default:
		}
	}
	t.Fatal("Noop never completed")
}
