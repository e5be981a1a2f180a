//go:build linux

package corering

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

func TestWakeupSignalOnlyWritesWhenArmed(t *testing.T) {
	w, err := newWakeup()
	if err != nil {
		t.Fatalf("newWakeup: %v", err)
	}
	defer w.close()

	// Not armed: signal should be a no-op.
	w.signal()
	if readable(t, w.fd) {
		t.Fatal("signal before arm should not have written to the eventfd")
	}

	w.arm()
	w.signal()
	if !readable(t, w.fd) {
		t.Fatal("signal after arm should have written to the eventfd")
	}
	w.drain()
	if readable(t, w.fd) {
		t.Fatal("drain should have consumed the pending counter")
	}
}

func TestWakeupSignalCoalescesBursts(t *testing.T) {
	w, err := newWakeup()
	if err != nil {
		t.Fatalf("newWakeup: %v", err)
	}
	defer w.close()

	w.arm()
	w.signal()
	w.signal() // second signal before disarm/drain must not double-write
	w.signal()

	// eventfd adds every write to its counter, so one coalesced write
	// reads back as exactly 1.
	var buf [8]byte
	if _, err := unix.Read(w.fd, buf[:]); err != nil {
		t.Fatalf("read eventfd: %v", err)
	}
	if got := binary.NativeEndian.Uint64(buf[:]); got != 1 {
		t.Fatalf("eventfd counter = %d, want 1 (one coalesced write)", got)
	}
	w.drain()
	if readable(t, w.fd) {
		t.Fatal("exactly one eventfd write should have been coalesced from the burst")
	}
}

func readable(t *testing.T, fd int) bool {
	t.Helper()
	var pfd unix.PollFd
	pfd.Fd = int32(fd)
	pfd.Events = unix.POLLIN
	n, err := unix.Poll([]unix.PollFd{pfd}, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	return n > 0
}
