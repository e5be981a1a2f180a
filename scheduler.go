package corering

import (
	"os/signal"
	"runtime"
	"syscall"
	"time"

	iouring "github.com/behrlich/go-iouring"
)

// SIGPIPE is ignored process-wide when the package is initialised, so a
// write to a peer-closed socket or pipe fails with EPIPE instead of
// terminating the process.
func init() { signal.Ignore(syscall.SIGPIPE) }

// Scheduler owns one io_uring instance, its run queue, sleep queue, and
// fixed-buffer pool, and drives the single-threaded dispatch loop described
// in SPEC_FULL.md §4.3. All ring access happens exclusively on the
// goroutine running Run — submission functions elsewhere only ever enqueue
// closures via Suspend, mirroring the teacher's lazy-thread-lock strategy
// in eventloop/loop.go's run().
type Scheduler struct {
	ring    *iouring.Ring
	cfg     *config
	state   *fastState
	runQ    *runQueue
	sleepQ  *sleepQueue
	bufPool *bufferPool
	wake    *wakeup
	metrics *metrics
	log     Logger

	jobs         map[uint64]*job
	nextUserData uint64
	wakeUserData uint64
	inFlight     int

	pending []func()

	osThreadLocked bool
}

// NewScheduler constructs a Scheduler without starting its loop. Most
// callers should use Run instead.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg := resolveConfig(opts)

	var ringOpts []iouring.Option
	if cfg.sqPoll {
		ringOpts = append(ringOpts, iouring.WithSQPoll(), iouring.WithSQPollIdle(cfg.sqPollIdleMs))
	}
	ring, err := iouring.New(cfg.queueDepth, ringOpts...)
	if err != nil {
		if cfg.fallback != nil {
			cfg.fallback("io_uring setup failed: " + err.Error())
			return nil, err
		}
		return nil, err
	}

	pool := newBufferPool(cfg.blockSize, cfg.nBlocks)
	if err := ring.RegisterBuffers(splitRegion(pool.region, cfg.blockSize)); err == nil {
		pool.registered = true
	}
	// ENOMEM or unsupported registration just means fixed-buffer fast paths
	// fall back to unregistered memory (SPEC_FULL.md §6); not fatal.

	w, err := newWakeup()
	if err != nil {
		ring.Close()
		return nil, err
	}

	s := &Scheduler{
		ring:    ring,
		cfg:     cfg,
		state:   newFastState(stateIdle),
		runQ:    newRunQueue(),
		sleepQ:  newSleepQueue(),
		bufPool: pool,
		wake:    w,
		metrics: &metrics{enabled: cfg.metrics},
		log:     cfg.logger,
		jobs:    make(map[uint64]*job),
	}
	s.wakeUserData = s.allocUserData()
	if err := ring.PrepPollAdd(w.fd, pollIn, s.wakeUserData); err != nil {
		ring.Close()
		w.close()
		return nil, err
	}
	return s, nil
}

func splitRegion(region []byte, blockSize int) [][]byte {
	n := len(region) / blockSize
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = region[i*blockSize : (i+1)*blockSize]
	}
	return out
}

// allocUserData hands out the next SQE user-data tag. Only ever called
// from the scheduler's own goroutine.
func (s *Scheduler) allocUserData() uint64 {
	s.nextUserData++
	return s.nextUserData
}

func (s *Scheduler) registerJob(j *job) uint64 {
	ud := s.allocUserData()
	j.userData = ud
	s.jobs[ud] = j
	s.inFlight++
	return ud
}

// spawn starts fn as a new goroutine — the Go-idiomatic realisation of a
// fiber (SPEC_FULL.md §9).
func (s *Scheduler) spawn(fn func()) {
	go fn()
}

// Run starts the scheduler's dispatch loop, executes fn as the top-level
// fiber, waits for it to complete, and then drains the loop until there is
// no more work, mirroring eventloop/loop.go's Run/tick structure.
func Run(fn func(sched *Scheduler, ctx *FiberContext) (any, error), opts ...Option) (any, error) {
	s, err := NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	defer s.close()

	var result any
	var resultErr error
	done := make(chan struct{})
	top := newFiberContext()
	s.spawn(func() {
		defer close(done)
		defer top.Destroy()
		result, resultErr = fn(s, top)
	})

	s.state.Store(stateRunning)
	for {
		select {
		case <-done:
			if s.drained() {
				return result, resultErr
			}
		default:
		}
		if s.drained() {
			select {
			case <-done:
			default:
				// Top-level fiber hasn't returned but has nothing left to
				// do on this scheduler — wait for it directly.
				<-done
			}
			return result, resultErr
		}
		s.tick()
	}
}

func (s *Scheduler) drained() bool {
	return s.runQ.Empty() && s.inFlight == 0 && s.sleepQ.Empty() && len(s.pending) == 0 && !s.bufPool.HasWaiters()
}

func (s *Scheduler) close() {
	s.wake.close()
	s.ring.Close()
	s.state.Store(stateClosed)
}

// tick performs one iteration of the dispatch/timer/peek/submit/wait loop
// (SPEC_FULL.md §4.3).
func (s *Scheduler) tick() {
	// 1. Dispatch one runnable from the run queue.
	if fn, ok := s.runQ.Pop(); ok {
		s.runOne(fn)
		return
	}
	// 2. Pop any due timer.
	if e, ok := s.sleepQ.Due(time.Now()); ok {
		s.runOne(func() {
			e.task.ctx.ClearCancelFn()
			e.task.result <- runnable{val: struct{}{}}
		})
		return
	}
	// 3. Drain pending-SQE overflow opportunistically.
	if len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending = s.pending[1:]
		s.runOne(fn)
	}
	// 4. Non-blocking peek.
	if s.dispatchOneCQE(false) {
		return
	}
	// 5/6. Compute timeout and block.
	timeout := s.calculateTimeout()
	s.wake.arm()
	if !s.runQ.Empty() {
		s.wake.disarm()
		return
	}
	s.blockAndDispatch(timeout)
}

func (s *Scheduler) runOne(fn func()) {
	if !s.osThreadLocked {
		runtime.LockOSThread()
		s.osThreadLocked = true
	}
	fn()
}

func (s *Scheduler) calculateTimeout() time.Duration {
	const maxTimeout = 10 * time.Second
	if d, ok := s.sleepQ.NextDeadline(); ok {
		remaining := time.Until(d)
		if remaining <= 0 {
			return 0
		}
		if remaining > maxTimeout {
			return maxTimeout
		}
		return remaining
	}
	if s.inFlight == 0 {
		return -1 // no deadline and nothing in flight: block indefinitely only if truly idle
	}
	return maxTimeout
}

// blockAndDispatch submits pending SQEs, waits for at least one CQE (or
// timeout), and dispatches everything that arrived.
func (s *Scheduler) blockAndDispatch(timeout time.Duration) {
	if !s.osThreadLocked {
		runtime.LockOSThread()
		s.osThreadLocked = true
	}
	if timeout < 0 {
		_, err := s.ring.SubmitAndWait(1)
		s.wake.disarm()
		if err != nil {
			return
		}
	} else {
		_, res, _, err := s.ring.WaitCQETimeout(timeout)
		s.wake.disarm()
		if err != nil {
			return
		}
		_ = res
	}
	for s.dispatchOneCQE(true) {
	}
}

// dispatchOneCQE pops at most one already-available CQE, without blocking,
// and handles it; the blocking argument is not consulted. Returns whether a
// CQE was processed.
func (s *Scheduler) dispatchOneCQE(blocking bool) bool {
	ud, res, flags, ok := s.ring.PeekCQE()
	if !ok {
		return false
	}
	s.ring.SeenCQE()
	s.onCQE(ud, res, flags)
	return true
}

func (s *Scheduler) onCQE(ud uint64, res int32, flags uint32) {
	if ud == s.wakeUserData {
		s.wake.drain()
		s.rearmWakePoll()
		return
	}
	j, ok := s.jobs[ud]
	if !ok {
		return
	}
	switch j.kind {
	case jobReadWrite:
		// handleShortTransfer owns the job's entire lifecycle (resubmit,
		// delete-from-map, and result delivery) for both outcomes.
		s.handleShortTransfer(j, res)
		return
	case jobWithCompletionFn:
		j.ctx.ClearCancelFn()
		delete(s.jobs, ud)
		s.inFlight--
		s.metrics.incComplete()
		j.onComplete(res, 0)
		return
	case jobNonCancellable:
		delete(s.jobs, ud)
		s.inFlight--
		s.metrics.incComplete()
		if j.onComplete != nil {
			j.onComplete(res, 0)
			return
		}
		if j.task != nil {
			if res < 0 {
				j.task.result <- runnable{err: &KernelError{Errno: iouring.ResultError(res)}}
			} else {
				j.task.result <- runnable{val: int(res)}
			}
		}
		return
	}

	delete(s.jobs, ud)
	s.inFlight--
	s.metrics.incComplete()
	j.ctx.ClearCancelFn()

	if j.task == nil {
		return
	}
	if cancelErr := j.ctx.Err(); cancelErr != nil {
		// Generic jobs: a cancellation recorded by the time this completion
		// is dispatched takes precedence over the CQE result (the read/write
		// exception of design note 9(a) does not apply here).
		j.task.result <- runnable{err: cancelErr}
		return
	}
	if res < 0 {
		j.task.result <- runnable{err: &KernelError{Errno: iouring.ResultError(res)}}
		return
	}
	j.task.result <- runnable{val: int(res)}
}

func (s *Scheduler) rearmWakePoll() {
	_ = s.ring.PrepPollAdd(s.wake.fd, pollIn, s.wakeUserData)
}

// Shutdown moves the scheduler's state from running or sleeping to
// draining. The dispatch loop does not read this state, so Shutdown does not
// stop Run: Run returns once the top-level fiber completes and the loop has
// no more work.
func (s *Scheduler) Shutdown() {
	s.state.TryTransition(stateRunning, stateDraining)
	s.state.TryTransition(stateSleeping, stateDraining)
}

// Metrics returns a snapshot of the scheduler's counters.
func (s *Scheduler) Metrics() MetricsSnapshot { return s.metrics.Snapshot() }

// RunRaw spawns fn on a new OS thread and suspends the calling fiber until
// it finishes, delivering fn's return value back through the caller's own
// scheduler (SPEC_FULL.md §4.7).
func RunRaw(sched *Scheduler, ctx *FiberContext, fn func() (any, error)) (any, error) {
	return Suspend(sched, ctx, func(susp *suspension) {
		go func() {
			v, err := fn()
			sched.runQ.Push(func() {
				susp.result <- runnable{val: v, err: err}
			})
			sched.wake.signal()
		}()
	})
}

// RunBridge spawns an independent Scheduler on a new OS thread, runs fn as
// its top-level fiber, and delivers the result back to the calling fiber —
// the cross-domain bridge of SPEC_FULL.md §4.7.
func RunBridge(sched *Scheduler, ctx *FiberContext, fn func(child *Scheduler, childCtx *FiberContext) (any, error), opts ...Option) (any, error) {
	return RunRaw(sched, ctx, func() (any, error) {
		return Run(fn, opts...)
	})
}
