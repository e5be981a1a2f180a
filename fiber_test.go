package corering

import (
	"errors"
	"testing"
	"time"
)

func TestFiberContextSetCancelFnPanicsOnDoubleInstall(t *testing.T) {
	ctx := newFiberContext()
	ctx.SetCancelFn(func(error) {})
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("installing a second cancel function should panic")
		}
	}()
	ctx.SetCancelFn(func(error) {})
}

func TestFiberContextCancelInvokesCallbackOnce(t *testing.T) {
	ctx := newFiberContext()
	calls := 0
	var gotReason error
	ctx.SetCancelFn(func(reason error) {
		calls++
		gotReason = reason
	})
	sentinel := errors.New("boom")
	ctx.Cancel(sentinel)
	ctx.Cancel(sentinel) // second cancel must be a no-op
	if calls != 1 {
		t.Fatalf("cancel callback invoked %d times, want 1", calls)
	}
	if gotReason != sentinel {
		t.Fatalf("cancel reason = %v, want %v", gotReason, sentinel)
	}
	if !errors.Is(ctx.Err(), sentinel) {
		t.Fatal("Err() should report the cancellation reason")
	}
}

func TestFiberContextSetCancelFnAfterAlreadyCancelledFiresImmediately(t *testing.T) {
	ctx := newFiberContext()
	ctx.Cancel(nil)
	fired := false
	ctx.SetCancelFn(func(reason error) {
		fired = true
		if !errors.Is(reason, &CancelledError{}) {
			t.Error("reason should be a CancelledError")
		}
	})
	if !fired {
		t.Fatal("SetCancelFn on an already-cancelled context should fire synchronously")
	}
}

func TestFiberContextClearCancelFnIsIdempotent(t *testing.T) {
	ctx := newFiberContext()
	ctx.ClearCancelFn() // no cancel fn installed yet; must not panic
	ctx.SetCancelFn(func(error) {})
	ctx.ClearCancelFn()
	// Now a second SetCancelFn should succeed since the first was cleared.
	ctx.SetCancelFn(func(error) {})
}

func TestForkJoinReturnsFnResult(t *testing.T) {
	sched := newTestScheduler(t)
	f := Fork(sched, func(ctx *FiberContext) (any, error) {
		return 42, nil
	})
	v, err := f.Join()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("joined value = %v, want 42", v)
	}
}

func TestFirstCancelsLoser(t *testing.T) {
	winner := make(chan struct{})
	loserCancelReason := make(chan error, 1)
	loserReturned := make(chan error, 1)
	v, err := First(newFiberContext(),
		func(ctx *FiberContext) (any, error) {
			close(winner)
			return "fast", nil
		},
		func(ctx *FiberContext) (any, error) {
			ctx.SetCancelFn(func(reason error) { loserCancelReason <- reason })
			<-winner
			reason := <-loserCancelReason
			loserReturned <- reason
			return nil, reason
		},
	)
	if err != nil {
		t.Fatalf("unexpected error from First: %v", err)
	}
	if v.(string) != "fast" {
		t.Fatalf("First() = %v, want the fast branch's result", v)
	}
	select {
	case reason := <-loserReturned:
		if !errors.Is(reason, &CancelledError{}) {
			t.Fatalf("loser cancelled with %v, want a CancelledError", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("loser was never cancelled")
	}
}
