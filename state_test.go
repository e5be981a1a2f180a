package corering

import "testing"

func TestFastStateTryTransition(t *testing.T) {
	s := newFastState(stateIdle)
	if s.Load() != stateIdle {
		t.Fatalf("initial state = %v, want idle", s.Load())
	}
	if !s.TryTransition(stateIdle, stateRunning) {
		t.Fatal("idle->running should succeed")
	}
	if s.Load() != stateRunning {
		t.Fatalf("state = %v, want running", s.Load())
	}
	if s.TryTransition(stateIdle, stateDraining) {
		t.Fatal("transition from stale 'from' state should fail")
	}
	if s.Load() != stateRunning {
		t.Fatalf("failed TryTransition must not change state, got %v", s.Load())
	}
}

func TestFastStateCanAcceptWork(t *testing.T) {
	cases := []struct {
		state schedState
		want  bool
	}{
		{stateIdle, true},
		{stateRunning, true},
		{stateSleeping, true},
		{stateDraining, false},
		{stateClosed, false},
	}
	for _, c := range cases {
		s := newFastState(c.state)
		if got := s.CanAcceptWork(); got != c.want {
			t.Errorf("CanAcceptWork() for %v = %v, want %v", c.state, got, c.want)
		}
	}
}

func TestFastStateIsTerminal(t *testing.T) {
	s := newFastState(stateDraining)
	if s.IsTerminal() {
		t.Fatal("draining is not terminal")
	}
	s.Store(stateClosed)
	if !s.IsTerminal() {
		t.Fatal("closed should be terminal")
	}
}

func TestSchedStateString(t *testing.T) {
	cases := map[schedState]string{
		stateIdle:      "idle",
		stateRunning:   "running",
		stateSleeping:  "sleeping",
		stateDraining:  "draining",
		stateClosed:    "closed",
		schedState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
