package corering

import (
	"errors"
	"io"
	"syscall"
	"time"
	"unsafe"

	iouring "github.com/behrlich/go-iouring"
	"golang.org/x/sys/unix"
)

const pollIn = uint32(unix.POLLIN)

// handleShortTransfer applies the §4.2 short-transfer policy for a
// jobReadWrite completion. Returns true if the job was resubmitted and
// should remain registered (not yet a terminal outcome). EAGAIN/EINTR/
// ECANCELED are resubmitted only while the fiber is not cancelled; once it
// is, they resolve with the cancellation reason.
func (s *Scheduler) handleShortTransfer(j *job, res int32) bool {
	if res < 0 {
		errno := syscall.Errno(-res)
		switch errno {
		case syscall.EAGAIN, syscall.EINTR, syscall.ECANCELED:
			if j.ctx.Err() == nil {
				s.metrics.incShortRetry()
				s.resubmitReadWrite(j)
				return true
			}
		}
		j.ctx.ClearCancelFn()
		delete(s.jobs, j.userData)
		s.inFlight--
		s.metrics.incComplete()
		if cancelErr := j.ctx.Err(); cancelErr != nil {
			j.task.result <- runnable{err: cancelErr}
			return false
		}
		if errno == syscall.ECONNRESET {
			j.task.result <- runnable{err: &KernelError{Op: "read", Errno: errno}}
			return false
		}
		j.task.result <- runnable{err: &KernelError{Errno: errno}}
		return false
	}

	n := int(res)
	j.curOff += n
	if n == 0 {
		j.ctx.ClearCancelFn()
		delete(s.jobs, j.userData)
		s.inFlight--
		s.metrics.incComplete()
		if cancelErr := j.ctx.Err(); cancelErr != nil {
			j.task.result <- runnable{err: cancelErr}
			return false
		}
		if j.mode == lenExactly && j.curOff > 0 {
			j.task.result <- runnable{val: j.curOff, err: io.ErrUnexpectedEOF}
			return false
		}
		j.task.result <- runnable{val: j.curOff, err: io.EOF}
		return false
	}

	if j.mode == lenUpto || j.curOff >= len(j.buf) {
		// Design note 9(a): a positive transfer result is delivered even if
		// the fiber was cancelled meanwhile, so bytes already moved are not
		// discarded.
		j.ctx.ClearCancelFn()
		delete(s.jobs, j.userData)
		s.inFlight--
		s.metrics.incComplete()
		j.task.result <- runnable{val: j.curOff}
		return false
	}

	// Exactly-mode short transfer: advance the window and resubmit, injected
	// at the run queue's head so it is picked up ahead of anything external
	// producers queued in the meantime (SPEC_FULL.md §3 run-queue head-push
	// invariant) rather than directly recursing into the ring here.
	s.metrics.incShortRetry()
	s.runQ.pushFront(func() { s.resubmitReadWrite(j) })
	return true
}

func (s *Scheduler) resubmitReadWrite(j *job) {
	window := j.buf[j.curOff:]
	off := rwOffset(j)
	var err error
	if j.write {
		if j.useFixed {
			err = s.ring.PrepWriteFixed(j.fd, window, off, uint16(j.fixedIdx), j.userData)
		} else {
			err = s.ring.PrepWrite(j.fd, window, off, j.userData)
		}
	} else {
		if j.useFixed {
			err = s.ring.PrepReadFixed(j.fd, window, off, uint16(j.fixedIdx), j.userData)
		} else {
			err = s.ring.PrepRead(j.fd, window, off, j.userData)
		}
	}
	if err == nil {
		return
	}
	if errors.Is(err, iouring.ErrSQFull) {
		s.pending = append(s.pending, func() { s.resubmitReadWrite(j) })
		return
	}
	delete(s.jobs, j.userData)
	s.inFlight--
	j.task.result <- runnable{err: &KernelError{Op: "resubmit", Errno: err}}
}

func rwOffset(j *job) uint64 {
	if !j.seekable {
		return ^uint64(0)
	}
	return uint64(j.fileOff + int64(j.curOff))
}

// submitReadWrite registers j and attempts to build its first SQE,
// queueing a retry thunk if the ring is momentarily full.
func (s *Scheduler) submitReadWrite(susp *suspension, ctx *FiberContext, j *job) {
	if err := ctx.Err(); err != nil {
		susp.result <- runnable{err: err}
		return
	}
	j.kind = jobReadWrite
	j.task = susp
	j.ctx = ctx
	s.registerJob(j)

	var attempt func()
	attempt = func() {
		window := j.buf[j.curOff:]
		off := rwOffset(j)
		var err error
		if j.write {
			if j.useFixed {
				err = s.ring.PrepWriteFixed(j.fd, window, off, uint16(j.fixedIdx), j.userData)
			} else {
				err = s.ring.PrepWrite(j.fd, window, off, j.userData)
			}
		} else {
			if j.useFixed {
				err = s.ring.PrepReadFixed(j.fd, window, off, uint16(j.fixedIdx), j.userData)
			} else {
				err = s.ring.PrepRead(j.fd, window, off, j.userData)
			}
		}
		if err == nil {
			s.metrics.incSubmit()
			ctx.SetCancelFn(func(reason error) {
				s.runQ.Push(func() { s.cancelJob(j.userData) })
				s.wake.signal()
			})
			return
		}
		if errors.Is(err, iouring.ErrSQFull) {
			s.pending = append(s.pending, attempt)
			return
		}
		delete(s.jobs, j.userData)
		s.inFlight--
		susp.result <- runnable{err: &KernelError{Op: "prep", Errno: err}}
	}
	attempt()
}

// genericSubmit is the shared pattern for cancellable, non-read/write
// operations (connect/accept/send/recv/splice/poll): one SQE, one CQE,
// raw result delivered unless the fiber was cancelled first.
func (s *Scheduler) genericSubmit(susp *suspension, ctx *FiberContext, prep func(ud uint64) error) {
	if err := ctx.Err(); err != nil {
		susp.result <- runnable{err: err}
		return
	}
	j := &job{kind: jobGeneric, task: susp, ctx: ctx}
	s.registerJob(j)

	var attempt func()
	attempt = func() {
		err := prep(j.userData)
		if err == nil {
			s.metrics.incSubmit()
			ctx.SetCancelFn(func(reason error) {
				s.runQ.Push(func() { s.cancelJob(j.userData) })
				s.wake.signal()
			})
			return
		}
		if errors.Is(err, iouring.ErrSQFull) {
			s.pending = append(s.pending, attempt)
			return
		}
		delete(s.jobs, j.userData)
		s.inFlight--
		susp.result <- runnable{err: &KernelError{Op: "prep", Errno: err}}
	}
	attempt()
}

// readWrite submits one read or write, into a fixed buffer block when
// useFixed is set. mode lenExactly keeps resubmitting on short reads until length bytes
// have been read or EOF/error occurs; lenUpto returns the first result.
func (s *Scheduler) readWrite(ctx *FiberContext, fd int, buf []byte, fixedIdx int, useFixed bool, fileOff int64, seekable, write bool, mode lengthMode) (int, error) {
	v, err := Suspend(s, ctx, func(susp *suspension) {
		j := &job{
			buf: buf, fixedIdx: fixedIdx, useFixed: useFixed, fd: fd,
			fileOff: fileOff, seekable: seekable, write: write, mode: mode,
		}
		s.submitReadWrite(susp, ctx, j)
	})
	n, _ := v.(int)
	return n, err
}

// ReadExactly reads exactly len(buf) bytes, resubmitting across short
// transfers until full, EOF, or an error.
func (s *Scheduler) ReadExactly(ctx *FiberContext, fd int, buf []byte, fileOff int64, seekable bool) (int, error) {
	return s.readWrite(ctx, fd, buf, 0, false, fileOff, seekable, false, lenExactly)
}

// ReadUpto reads at most len(buf) bytes, returning whatever the kernel
// produced in a single completion.
func (s *Scheduler) ReadUpto(ctx *FiberContext, fd int, buf []byte, fileOff int64, seekable bool) (int, error) {
	return s.readWrite(ctx, fd, buf, 0, false, fileOff, seekable, false, lenUpto)
}

// WriteAll writes exactly len(buf) bytes, resubmitting across short writes.
func (s *Scheduler) WriteAll(ctx *FiberContext, fd int, buf []byte, fileOff int64, seekable bool) (int, error) {
	return s.readWrite(ctx, fd, buf, 0, false, fileOff, seekable, true, lenExactly)
}

// ReadFixedExactly is ReadExactly using a registered fixed-buffer block.
func (s *Scheduler) ReadFixedExactly(ctx *FiberContext, fd int, idx int, buf []byte, fileOff int64, seekable bool) (int, error) {
	return s.readWrite(ctx, fd, buf, idx, true, fileOff, seekable, false, lenExactly)
}

// WriteFixedAll is WriteAll using a registered fixed-buffer block.
func (s *Scheduler) WriteFixedAll(ctx *FiberContext, fd int, idx int, buf []byte, fileOff int64, seekable bool) (int, error) {
	return s.readWrite(ctx, fd, buf, idx, true, fileOff, seekable, true, lenExactly)
}

// Readv performs a single vectored read and returns that completion's byte
// count; a short read is not resubmitted and the iovecs are not shifted.
func (s *Scheduler) Readv(ctx *FiberContext, fd int, iovecs []syscall.Iovec, fileOff int64, seekable bool) (int, error) {
	return s.vector(ctx, fd, iovecs, fileOff, seekable, false)
}

// Writev performs a single vectored write and returns that completion's
// byte count; a short write is not resubmitted and the iovecs are not
// shifted.
func (s *Scheduler) Writev(ctx *FiberContext, fd int, iovecs []syscall.Iovec, fileOff int64, seekable bool) (int, error) {
	return s.vector(ctx, fd, iovecs, fileOff, seekable, true)
}

func (s *Scheduler) vector(ctx *FiberContext, fd int, iovecs []syscall.Iovec, fileOff int64, seekable, write bool) (int, error) {
	v, err := Suspend(s, ctx, func(susp *suspension) {
		off := uint64(fileOff)
		if !seekable {
			off = ^uint64(0)
		}
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			if write {
				return s.ring.PrepWritev(fd, iovecs, off, ud)
			}
			return s.ring.PrepReadv(fd, iovecs, off, ud)
		})
	})
	n, _ := v.(int)
	return n, err
}

// Connect issues a non-blocking connect through io_uring.
func (s *Scheduler) Connect(ctx *FiberContext, fd int, addr unsafe.Pointer, addrLen uint32) error {
	_, err := Suspend(s, ctx, func(susp *suspension) {
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			return s.ring.PrepConnect(fd, addr, addrLen, ud)
		})
	})
	return err
}

// Accept accepts one connection, returning the new fd.
func (s *Scheduler) Accept(ctx *FiberContext, fd int, addr unsafe.Pointer, addrLen *uint32, flags uint32) (int, error) {
	v, err := Suspend(s, ctx, func(susp *suspension) {
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			return s.ring.PrepAccept(fd, addr, addrLen, flags, ud)
		})
	})
	n, _ := v.(int)
	return n, err
}

// SendMsg sends msg with the given flags.
func (s *Scheduler) SendMsg(ctx *FiberContext, fd int, msg *syscall.Msghdr, flags int) (int, error) {
	v, err := Suspend(s, ctx, func(susp *suspension) {
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			return s.ring.PrepSendmsg(fd, msg, flags, ud)
		})
	})
	n, _ := v.(int)
	return n, err
}

// RecvMsg receives into msg.
func (s *Scheduler) RecvMsg(ctx *FiberContext, fd int, msg *syscall.Msghdr, flags int) (int, error) {
	v, err := Suspend(s, ctx, func(susp *suspension) {
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			return s.ring.PrepRecvmsg(fd, msg, flags, ud)
		})
	})
	n, _ := v.(int)
	return n, err
}

// Splice moves bytes between two descriptors without a userspace copy.
func (s *Scheduler) Splice(ctx *FiberContext, fdIn int, offIn int64, fdOut int, offOut int64, n uint32, flags uint32) (int, error) {
	v, err := Suspend(s, ctx, func(susp *suspension) {
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			return s.ring.PrepSplice(fdIn, offIn, fdOut, offOut, n, flags, ud)
		})
	})
	written, _ := v.(int)
	return written, err
}

// AwaitReadable/AwaitWritable suspend until fd is ready, via POLL_ADD.
func (s *Scheduler) AwaitReadable(ctx *FiberContext, fd int) error { return s.awaitPoll(ctx, fd, pollIn) }
func (s *Scheduler) AwaitWritable(ctx *FiberContext, fd int) error {
	return s.awaitPoll(ctx, fd, uint32(unix.POLLOUT))
}

func (s *Scheduler) awaitPoll(ctx *FiberContext, fd int, mask uint32) error {
	_, err := Suspend(s, ctx, func(susp *suspension) {
		s.genericSubmit(susp, ctx, func(ud uint64) error {
			return s.ring.PrepPollAdd(fd, mask, ud)
		})
	})
	return err
}

// Noop submits a no-op SQE, useful for tests and for waking SQPOLL.
func (s *Scheduler) Noop(ctx *FiberContext) error {
	_, err := Suspend(s, ctx, func(susp *suspension) {
		j := &job{kind: jobNonCancellable, task: susp, ctx: ctx}
		s.registerJob(j)
		if err := s.ring.PrepNop(j.userData); err != nil {
			delete(s.jobs, j.userData)
			s.inFlight--
			susp.result <- runnable{err: err}
		}
	})
	return err
}

// closeOp submits a close SQE and suspends until it completes. Close is
// deliberately non-cancellable (design note 9(b)).
func (s *Scheduler) closeOp(fd int) (int, error) {
	top := newFiberContext()
	v, err := Suspend(s, top, func(susp *suspension) {
		j := &job{kind: jobNonCancellable, task: susp, ctx: top}
		s.registerJob(j)
		if err := s.ring.PrepClose(fd, j.userData); err != nil {
			delete(s.jobs, j.userData)
			s.inFlight--
			susp.result <- runnable{err: err}
		}
	})
	n, _ := v.(int)
	return n, err
}

// SleepUntil suspends the calling fiber until d has elapsed, or until
// cancelled — in which case the sleep entry is removed from the sleep
// queue (SPEC_FULL.md §8 scenario 2).
func (s *Scheduler) SleepUntil(ctx *FiberContext, d time.Duration) error {
	_, err := Suspend(s, ctx, func(susp *suspension) {
		if err := ctx.Err(); err != nil {
			susp.result <- runnable{err: err}
			return
		}
		entry := s.sleepQ.Add(time.Now().Add(d), susp)
		ctx.SetCancelFn(func(reason error) {
			s.runQ.Push(func() {
				if s.sleepQ.Cancel(entry) {
					susp.result <- runnable{err: reason}
				}
			})
			s.wake.signal()
		})
	})
	return err
}
