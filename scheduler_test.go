package corering

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

// newTestScheduler builds a real Scheduler backed by an actual io_uring
// instance, skipping the test if the kernel doesn't support io_uring (e.g.
// seccomp-restricted containers or kernels older than 5.1).
func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler(WithQueueDepth(32))
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	t.Cleanup(s.close)
	return s
}

func TestRunReadsFileContent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "corering-read-*")
	if err != nil {
		t.Fatal(err)
	}
	want := "hello from corering"
	if _, err := f.WriteString(want); err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	result, err := Run(func(sched *Scheduler, ctx *FiberContext) (any, error) {
		fd, err := AtFDCWD(sched).Openat2(ctx, sched, nil, path, OpenOptions{Flags: os.O_RDONLY})
		if err != nil {
			return nil, err
		}
		defer fd.Close(ctx)

		buf := make([]byte, len(want))
		n, err := sched.ReadExactly(ctx, fd.Raw(), buf, 0, true)
		if err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.(string) != want {
		t.Fatalf("read content = %q, want %q", result, want)
	}
}

func TestRunReadExactlyReturnsUnexpectedEOFOnShortFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "corering-short-*")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("ab"); err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	_, err = Run(func(sched *Scheduler, ctx *FiberContext) (any, error) {
		fd, err := AtFDCWD(sched).Openat2(ctx, sched, nil, path, OpenOptions{Flags: os.O_RDONLY})
		if err != nil {
			return nil, err
		}
		defer fd.Close(ctx)
		buf := make([]byte, 10)
		_, err = sched.ReadExactly(ctx, fd.Raw(), buf, 0, true)
		return nil, err
	})
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("got err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestRunSleepUntilCancellation(t *testing.T) {
	result, err := Run(func(sched *Scheduler, ctx *FiberContext) (any, error) {
		child := Fork(sched, func(childCtx *FiberContext) (any, error) {
			err := sched.SleepUntil(childCtx, time.Hour)
			return nil, err
		})
		// Give the child a moment to register its sleep entry.
		if err := sched.SleepUntil(ctx, 20*time.Millisecond); err != nil {
			return nil, err
		}
		child.Cancel(ErrShutdownPending)
		_, err := child.Join()
		return err, nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	cancelErr, ok := result.(error)
	if !ok || cancelErr == nil {
		t.Fatal("expected the slept fiber to resume with a cancellation error")
	}
	if !errors.Is(cancelErr, ErrShutdownPending) {
		t.Fatalf("got err = %v, want ErrShutdownPending", cancelErr)
	}
}

func TestRunWriteAllThenReadBack(t *testing.T) {
	path := t.TempDir() + "/roundtrip"
	payload := []byte("the quick brown fox jumps over the lazy dog")

	result, err := Run(func(sched *Scheduler, ctx *FiberContext) (any, error) {
		wfd, err := AtFDCWD(sched).Openat2(ctx, sched, nil, path, OpenOptions{
			Flags: os.O_CREATE | os.O_WRONLY | os.O_TRUNC,
			Mode:  0o644,
		})
		if err != nil {
			return nil, err
		}
		if _, err := sched.WriteAll(ctx, wfd.Raw(), payload, 0, true); err != nil {
			wfd.Close(ctx)
			return nil, err
		}
		if err := wfd.Close(ctx); err != nil {
			return nil, err
		}

		rfd, err := AtFDCWD(sched).Openat2(ctx, sched, nil, path, OpenOptions{Flags: os.O_RDONLY})
		if err != nil {
			return nil, err
		}
		defer rfd.Close(ctx)
		buf := make([]byte, len(payload))
		n, err := sched.ReadExactly(ctx, rfd.Raw(), buf, 0, true)
		if err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.(string) != string(payload) {
		t.Fatalf("round-tripped content = %q, want %q", result, payload)
	}
}

func TestMetricsSnapshotCountsCompletions(t *testing.T) {
	sched := newTestScheduler(t)
	sched.metrics.enabled = true

	top := newFiberContext()
	noopErr := make(chan error, 1)
	go func() { noopErr <- sched.Noop(top) }()

	for i := 0; i < 1000; i++ {
		sched.tick()
		select {
		case err := <-noopErr:
			if err != nil {
				t.Fatalf("Noop failed: %v", err)
			}
			snap := sched.Metrics()
			if snap.Completions == 0 {
				t.Fatal("expected at least one recorded completion")
			}
			return
		default:
		}
	}
	t.Fatal("Noop never completed after 1000 ticks")
}
