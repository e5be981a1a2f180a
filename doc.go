// Package corering provides a Linux-specific, single-threaded-per-ring
// asynchronous I/O runtime built on io_uring, multiplexing cooperative
// fibers onto OS threads with non-blocking, cancellable file, socket,
// pipe, splice, and timer operations.
//
// # Architecture
//
// Each [Scheduler] owns exactly one io_uring instance and drives it from a
// single dispatch goroutine via [Run]. Fibers are ordinary goroutines that
// call [Suspend] (directly, or through the higher-level methods on
// [Scheduler] such as [Scheduler.ReadExactly], [Scheduler.Accept], and
// [Scheduler.SleepUntil]) to park themselves until a completion queue entry
// or timer arrives. Every operation that must touch the ring — submitting
// an SQE, issuing an async-cancel, rearming the wakeup poll — is routed
// through a lock-free MPSC [runQueue] so it always executes on the
// scheduler's own goroutine, regardless of which OS thread the calling
// fiber happens to be running on.
//
// # Platform Support
//
// This package only builds on Linux; io_uring is a Linux kernel facility
// and there is no portable fallback.
//
// Importing the package ignores SIGPIPE for the whole process, a
// process-global side effect: writes to a closed socket or pipe then fail
// with EPIPE instead of terminating the program.
//
// # Thread Safety
//
// [Scheduler.ReadExactly], [Scheduler.WriteAll], [Scheduler.Accept],
// [RunRaw], and friends are safe to call concurrently from any fiber
// goroutine — the scheduler serializes ring access internally. A
// [FiberContext] carries at most one active cancel callback at a time;
// installing a second without clearing the first panics.
//
// # Execution Model
//
// [Scheduler.tick] performs, in priority order: one run-queue closure, one
// due timer, one pending-SQE retry, one non-blocking completion peek, and
// finally (if nothing else is ready) a blocking wait bounded by the next
// timer deadline. Read/write completions that transfer fewer bytes than
// requested are resubmitted transparently in Exactly mode; EAGAIN, EINTR,
// and ECANCELED never escape to the caller.
//
// # Usage
//
//	result, err := corering.Run(func(sched *corering.Scheduler, ctx *corering.FiberContext) (any, error) {
//	    fd, err := corering.AtFDCWD(sched).Openat2(ctx, sched, nil, "greeting.txt", corering.OpenOptions{
//	        Flags: syscall.O_RDONLY,
//	    })
//	    if err != nil {
//	        return nil, err
//	    }
//	    defer fd.Close(ctx)
//
//	    buf := make([]byte, 64)
//	    n, err := sched.ReadUpto(ctx, fd.Raw(), buf, 0, true)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return buf[:n], nil
//	})
//
// # Error Types
//
//   - [KernelError]: wraps a negative CQE result as an errno, tagged with
//     the operation name
//   - [CancelledError]: delivered instead of a kernel error when a fiber's
//     context was cancelled before (or, for non-read/write ops, after) the
//     completion arrived
//   - [BufferExhaustedError]: returned by non-blocking fixed-buffer
//     allocation when the pool has no free blocks
//
// All error types implement [error], [errors.Unwrap], and, for
// [CancelledError], errors.Is matching against any cancellation regardless
// of its wrapped cause.
package corering
