//go:build linux

package corering

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// wakeup coordinates cross-thread nudges of a sleeping Scheduler using a
// single eventfd. Producers set needWakeup=false and write to the fd only
// when the consumer declared intent to sleep; this coalesces bursts of
// pushes into a single syscall, mirroring the teacher's wakePipe
// discipline in wakeup_linux.go.
type wakeup struct {
	fd         int
	mu         sync.Mutex
	needWakeup atomic.Bool
}

func newWakeup() (*wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeup{fd: fd}, nil
}

func (w *wakeup) close() error {
	if w.fd < 0 {
		return nil
	}
	fd := w.fd
	w.fd = -1
	return unix.Close(fd)
}

// arm is called by the owning goroutine just before it intends to block.
func (w *wakeup) arm() {
	w.needWakeup.Store(true)
}

// disarm is called by the owning goroutine as soon as it wakes.
func (w *wakeup) disarm() {
	w.needWakeup.Store(false)
}

// signal is called by cross-thread producers after pushing work. It only
// performs the write syscall if the consumer had armed itself, and clears
// the flag first so at most one write is issued per sleep cycle.
func (w *wakeup) signal() {
	if !w.needWakeup.CompareAndSwap(true, false) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

// drain consumes all pending eventfd counters without blocking.
func (w *wakeup) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}
