package corering

import "sync/atomic"

// FD is an owned kernel file descriptor. Once Close resolves, further use
// produces ErrClosedFD rather than silently racing a reused descriptor
// number — mirroring the teacher's discipline of clearing pooled state
// before it can be reused (eventloop/ingress.go's chunk recycling).
type FD struct {
	sched  *Scheduler
	raw    int
	closed atomic.Bool
	// seekable is probed with lseek(SEEK_CUR) when Openat2 opens the
	// descriptor; sockets are created non-seekable, and the AT_FDCWD
	// pseudo-FD is marked seekable without a probe.
	seekable bool

	// releaseHook removes this FD's registration from the owning Switch, if
	// any, so an explicit Close doesn't leave a dangling hook that would
	// otherwise try to close an already-closed descriptor a second time.
	releaseHook func()
}

// newFD constructs an FD and, if sw is non-nil, registers it with sw so the
// descriptor is closed when the scope releases — the ownership invariant of
// SPEC_FULL.md §3/§5 ("FD handles are owned by a lifetime scope (Switch);
// its release closes them if still open"). Pass nil for descriptors with no
// owning scope (e.g. the pseudo-FD behind AT_FDCWD).
func newFD(sched *Scheduler, raw int, seekable bool, sw *Switch) *FD {
	f := &FD{sched: sched, raw: raw, seekable: seekable}
	if sw != nil {
		f.releaseHook = sw.OnReleaseCancellable(func() { _ = f.Close(nil) })
	}
	return f
}

// Raw returns the underlying descriptor number. The caller must not use it
// after Close.
func (f *FD) Raw() int { return f.raw }

func (f *FD) checkOpen() error {
	if f.closed.Load() {
		return ErrClosedFD
	}
	return nil
}

// Close submits an asynchronous close SQE and suspends the calling fiber
// until it completes. Close is non-cancellable (design note 9(b)): once
// submitted it always runs to completion.
func (f *FD) Close(ctx *FiberContext) error {
	if f.closed.Swap(true) {
		return nil
	}
	if f.releaseHook != nil {
		f.releaseHook()
	}
	_, err := f.sched.closeOp(f.raw)
	return err
}
