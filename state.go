package corering

import "sync/atomic"

// schedState represents the lifecycle stage of a Scheduler.
//
// State machine:
//
//	Idle (0) -> Running (1)        [Run start, via Store]
//	Running (1) -> Draining (3)    [Shutdown, via TryTransition]
//	Sleeping (2) -> Draining (3)   [Shutdown, via TryTransition]
//	any -> Closed (4)              [ring exited in close(), via Store]
//
// Sleeping is part of the state vocabulary, but the dispatch loop never
// enters it: it blocks on the ring without changing state.
type schedState uint64

const (
	stateIdle schedState = iota
	stateRunning
	stateSleeping
	stateDraining
	stateClosed
)

func (s schedState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateSleeping:
		return "sleeping"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state holder with cache-line padding to avoid
// false sharing between the owning scheduler goroutine and cross-thread
// producers that only ever read it.
type fastState struct { //nolint:unused
	_ [64]byte
	v atomic.Uint64
	_ [56]byte
}

func newFastState(initial schedState) *fastState {
	s := &fastState{}
	s.v.Store(uint64(initial))
	return s
}

func (s *fastState) Load() schedState {
	return schedState(s.v.Load())
}

func (s *fastState) Store(state schedState) {
	s.v.Store(uint64(state))
}

func (s *fastState) TryTransition(from, to schedState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) IsTerminal() bool {
	return s.Load() == stateClosed
}

func (s *fastState) CanAcceptWork() bool {
	switch s.Load() {
	case stateIdle, stateRunning, stateSleeping:
		return true
	default:
		return false
	}
}
