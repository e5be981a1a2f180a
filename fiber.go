package corering

import (
	"sync"
	"sync/atomic"
)

var fiberIDSeq atomic.Int64

// FiberContext is the cancellation surface attached to one suspended
// computation. At most one cancel callback may be installed at a time,
// matching the single-owner invariant in SPEC_FULL.md §4.1.
type FiberContext struct {
	id int64

	mu       sync.Mutex
	err      error // non-nil once cancelled
	cancelFn func(reason error)
}

func newFiberContext() *FiberContext {
	return &FiberContext{id: fiberIDSeq.Add(1)}
}

// ID returns a stable, process-unique identifier, useful for log fields.
func (c *FiberContext) ID() int64 { return c.id }

// Err returns the cancellation reason, or nil if not cancelled.
func (c *FiberContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetCancelFn installs f as the callback invoked if this context is
// cancelled before the in-flight operation completes. Panics if a cancel
// function is already installed — that would indicate two operations
// racing on the same fiber, which is a programmer error.
func (c *FiberContext) SetCancelFn(f func(reason error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFn != nil {
		panic("corering: SetCancelFn called with a cancel function already installed")
	}
	c.cancelFn = f
	if c.err != nil {
		reason := c.err
		fn := c.cancelFn
		c.cancelFn = nil
		c.mu.Unlock()
		fn(reason)
		c.mu.Lock()
	}
}

// ClearCancelFn removes any installed cancel callback. Safe to call even
// if none is installed.
func (c *FiberContext) ClearCancelFn() {
	c.mu.Lock()
	c.cancelFn = nil
	c.mu.Unlock()
}

// Cancel marks the context cancelled with reason and, if a cancel callback
// is currently installed, invokes it synchronously and clears it.
func (c *FiberContext) Cancel(reason error) {
	if reason == nil {
		reason = &CancelledError{}
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = reason
	fn := c.cancelFn
	c.cancelFn = nil
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// Destroy clears fiber-local state. Called once a fiber's top-level
// computation returns.
func (c *FiberContext) Destroy() {
	c.ClearCancelFn()
}

// suspension is a parked goroutine waiting on a single-slot buffered
// channel for its resume value — the Go idiom for a one-shot delimited
// continuation (SPEC_FULL.md §9, "thread-per-fiber with park/unpark").
type suspension struct {
	ctx    *FiberContext
	result chan runnable
}

func newSuspension(ctx *FiberContext) *suspension {
	return &suspension{ctx: ctx, result: make(chan runnable, 1)}
}

// await blocks the calling goroutine until the scheduler delivers a
// runnable for this suspension, then returns its value/error.
func (s *suspension) await() (any, error) {
	r := <-s.result
	return r.val, r.err
}

// Fiber is a handle to a running fiber, returned by Fork.
type Fiber struct {
	ctx  *FiberContext
	done chan struct{}
	val  any
	err  error
}

// Cancel requests cancellation of the fiber's current or next suspension
// point.
func (f *Fiber) Cancel(reason error) { f.ctx.Cancel(reason) }

// Join blocks until the fiber's top-level function returns, yielding its
// result.
func (f *Fiber) Join() (any, error) {
	<-f.done
	return f.val, f.err
}

// Fork starts fn as an independent fiber on sched, returning a handle
// usable to cancel or join it. fn receives the new fiber's context so it
// can install cancellable operations.
func Fork(sched *Scheduler, fn func(ctx *FiberContext) (any, error)) *Fiber {
	f := &Fiber{ctx: newFiberContext(), done: make(chan struct{})}
	sched.spawn(func() {
		defer close(f.done)
		defer f.ctx.Destroy()
		f.val, f.err = fn(f.ctx)
	})
	return f
}

// Suspend parks the calling fiber until something resumes its suspension.
// register is posted onto sched's run queue so it executes on the
// scheduler's own goroutine — this is what lets register touch the
// io_uring ring, the sleep queue, or the pending-SQE overflow without any
// additional locking, even though the calling fiber may be an arbitrary
// goroutine running on any OS thread.
func Suspend(sched *Scheduler, ctx *FiberContext, register func(s *suspension)) (any, error) {
	s := newSuspension(ctx)
	sched.runQ.Push(func() { register(s) })
	sched.wake.signal()
	return s.await()
}

// First races two cancellable operations, returning as soon as either
// completes and cancelling the loser. Used for timeout composition per
// SPEC_FULL.md §5.
func First(ctx *FiberContext, a, b func(ctx *FiberContext) (any, error)) (any, error) {
	type outcome struct {
		idx int
		val any
		err error
	}
	done := make(chan outcome, 2)
	childA := newFiberContext()
	childB := newFiberContext()
	go func() {
		v, e := a(childA)
		done <- outcome{0, v, e}
	}()
	go func() {
		v, e := b(childB)
		done <- outcome{1, v, e}
	}()
	first := <-done
	if first.idx == 0 {
		childB.Cancel(&CancelledError{Cause: ErrShutdownPending})
	} else {
		childA.Cancel(&CancelledError{Cause: ErrShutdownPending})
	}
	_ = ctx
	return first.val, first.err
}
