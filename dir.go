package corering

import (
	"io"
	"syscall"
)

// OpenOptions configures Openat2. ResolveFlags is accepted for API
// completeness but is only partially honoured — see the "Known
// limitation" note in DESIGN.md: the underlying io_uring binding exposes
// only the plain openat opcode, so resolve-flags without a direct O_*
// equivalent are dropped.
type OpenOptions struct {
	Flags        int
	Mode         uint32
	ResolveFlags uint32
}

const (
	// ResolveNoSymlinks approximates RESOLVE_NO_SYMLINKS via O_NOFOLLOW.
	ResolveNoSymlinks uint32 = 1 << iota
	// ResolveBeneath has no O_* equivalent and is dropped with a debug log.
	ResolveBeneath
)

func (o OpenOptions) effectiveFlags(log Logger) int {
	flags := o.Flags
	if o.ResolveFlags&ResolveNoSymlinks != 0 {
		flags |= syscall.O_NOFOLLOW
	}
	if o.ResolveFlags&ResolveBeneath != 0 && log != nil {
		log.Log(LogEntry{
			Level:    LevelDebug,
			Category: "io",
			Message:  "openat2 RESOLVE_BENEATH has no openat equivalent in this binding; ignored",
		})
	}
	return flags
}

// Dir is a directory handle supporting relative opens, grounded directly
// on FD (SPEC_FULL.md §4.8).
type Dir struct {
	fd *FD
}

// AtFDCWD wraps the process's current working directory as a Dir. The
// underlying pseudo-FD (AT_FDCWD) is never actually closed, so it is not
// registered with a Switch.
func AtFDCWD(sched *Scheduler) *Dir {
	return &Dir{fd: newFD(sched, unix_AT_FDCWD, true, nil)}
}

const unix_AT_FDCWD = -100

// Openat2 opens path relative to d, returning a new FD. If sw is non-nil,
// the returned FD is registered with sw and is closed automatically when sw
// releases, if the caller hasn't already closed it explicitly.
func (d *Dir) Openat2(ctx *FiberContext, sched *Scheduler, sw *Switch, path string, opts OpenOptions) (*FD, error) {
	if err := d.fd.checkOpen(); err != nil {
		return nil, err
	}
	pathBytes, err := syscall.BytePtrFromString(path)
	if err != nil {
		return nil, err
	}
	flags := opts.effectiveFlags(sched.log)
	v, err := Suspend(sched, ctx, func(susp *suspension) {
		sched.genericSubmit(susp, ctx, func(ud uint64) error {
			return sched.ring.PrepOpenat(d.fd.raw, pathBytes, flags, opts.Mode, ud)
		})
	})
	if err != nil {
		return nil, err
	}
	raw, _ := v.(int)
	// lseek(SEEK_CUR) fails on pipes, FIFOs and sockets.
	_, serr := syscall.Seek(raw, 0, io.SeekCurrent)
	return newFD(sched, raw, serr == nil, sw), nil
}

// Dirat opens a child directory.
func (d *Dir) Dirat(ctx *FiberContext, sched *Scheduler, sw *Switch, path string) (*Dir, error) {
	fd, err := d.Openat2(ctx, sched, sw, path, OpenOptions{Flags: syscall.O_DIRECTORY | syscall.O_RDONLY})
	if err != nil {
		return nil, err
	}
	return &Dir{fd: fd}, nil
}

// Mkdirat creates a directory relative to d. Unlike Openat2, this does not
// go through the ring at all: the underlying io_uring binding has no
// mkdirat opcode preparer, so the call dispatches a blocking syscall via the
// cross-domain bridge (RunRaw) on a spawned OS thread instead — documented
// as a deliberate limitation in DESIGN.md.
func (d *Dir) Mkdirat(ctx *FiberContext, sched *Scheduler, path string, mode uint32) error {
	if err := d.fd.checkOpen(); err != nil {
		return err
	}
	_, err := RunRaw(sched, ctx, func() (any, error) {
		return nil, syscall.Mkdirat(d.fd.raw, path, mode)
	})
	return err
}

// FD exposes the underlying descriptor, e.g. for Dup into a socket op.
func (d *Dir) FD() *FD { return d.fd }
