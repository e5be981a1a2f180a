package corering

import "sync"

// releaseHook is a registered cleanup action with a stable identity so it
// can be individually cancelled before it would otherwise fire.
type releaseHook struct {
	fn     func()
	active bool
}

// Switch is a structured-concurrency lifetime scope: it owns FDs and other
// cleanup actions and runs them (in LIFO order), at most once, when Close
// is called — the collaborator contract named by SPEC_FULL.md §6. Nothing
// runs them on panic unless the caller defers Close.
type Switch struct {
	mu     sync.Mutex
	hooks  []*releaseHook
	closed bool
	ctx    *FiberContext
}

// NewSwitch creates a scope bound to ctx, used for cancellation checks via
// Check.
func NewSwitch(ctx *FiberContext) *Switch {
	return &Switch{ctx: ctx}
}

// OnRelease registers fn to run when the scope exits. Cannot be removed.
func (s *Switch) OnRelease(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, &releaseHook{fn: fn, active: true})
}

// OnReleaseCancellable registers fn to run when the scope exits, and
// returns a function that removes the hook if called before the scope
// exits.
func (s *Switch) OnReleaseCancellable(fn func()) (remove func()) {
	s.mu.Lock()
	h := &releaseHook{fn: fn, active: true}
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		h.active = false
		s.mu.Unlock()
	}
}

// Check returns the fiber's cancellation error, if any, allowing callers to
// bail out of a loop promptly.
func (s *Switch) Check() error {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Err()
}

// Close runs all still-active hooks in reverse registration order. Safe to
// call more than once; only the first call has effect.
func (s *Switch) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if hooks[i].active {
			hooks[i].fn()
		}
	}
}
