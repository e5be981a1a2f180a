package corering

import (
	"errors"
	"io"
	"syscall"
)

// Flow is anything Copy can move bytes between. Sockets, pipes and regular
// files all implement it; only descriptors that expose an fd (ok==true) are
// eligible for the zero-copy splice path.
type Flow interface {
	ReadInto(ctx *FiberContext, buf []byte) (int, error)
	WriteFrom(ctx *FiberContext, buf []byte) (int, error)
	spliceFD() (int, bool)
}

func (c *TCPConn) ReadInto(ctx *FiberContext, buf []byte) (int, error) {
	return c.ReadUpto(ctx, buf)
}
func (c *TCPConn) WriteFrom(ctx *FiberContext, buf []byte) (int, error) { return c.Write(ctx, buf) }
func (c *TCPConn) spliceFD() (int, bool)                                { return c.fd.raw, true }

func (c *UnixConn) ReadInto(ctx *FiberContext, buf []byte) (int, error) {
	return c.sched.ReadUpto(ctx, c.fd.raw, buf, 0, false)
}
func (c *UnixConn) WriteFrom(ctx *FiberContext, buf []byte) (int, error) { return c.Write(ctx, buf) }
func (c *UnixConn) spliceFD() (int, bool)                                { return c.fd.raw, true }

const spliceChunk = 64 * 1024

// Copy moves bytes from src to dst until src reports io.EOF, preferring a
// kernel-side splice through a pipe when both ends expose a descriptor, and
// falling back to a fixed-chunk read/write loop if splice is unsupported
// for the underlying fd types (e.g. EINVAL on a non-pipe, non-socket fd).
// Grounded on the teacher's io helpers; SPEC_FULL.md §4.10/§8 scenario 3.
func Copy(ctx *FiberContext, sched *Scheduler, dst, src Flow) (int64, error) {
	srcFD, srcOK := src.spliceFD()
	dstFD, dstOK := dst.spliceFD()
	if srcOK && dstOK {
		n, err := spliceCopy(ctx, sched, dstFD, srcFD)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, syscall.EINVAL) {
			return n, err
		}
		// fall through to the generic loop below
	}
	return genericCopy(ctx, sched, dst, src)
}

// spliceCopy moves data through an intermediate pipe via two Splice calls,
// the classic zero-copy idiom; returns EINVAL unmodified so the caller can
// detect the fallback condition.
func spliceCopy(ctx *FiberContext, sched *Scheduler, dstFD, srcFD int) (int64, error) {
	var pipeFDs [2]int
	if err := syscall.Pipe2(pipeFDs[:], syscall.O_CLOEXEC|syscall.O_NONBLOCK); err != nil {
		return 0, err
	}
	pr, pw := pipeFDs[0], pipeFDs[1]
	defer syscall.Close(pr)
	defer syscall.Close(pw)

	var total int64
	for {
		n, err := sched.Splice(ctx, srcFD, -1, pw, -1, spliceChunk, 0)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		written := 0
		for written < n {
			w, err := sched.Splice(ctx, pr, -1, dstFD, -1, uint32(n-written), 0)
			if err != nil {
				return total, err
			}
			if w == 0 {
				return total, io.ErrUnexpectedEOF
			}
			written += w
		}
		total += int64(n)
	}
}

// genericCopy is the portable fallback: a read-into-fixed-chunk loop (§4.6)
// using the scheduler's registered buffer pool when one is available,
// falling back to a plain heap buffer via WithChunk's own fallback path
// otherwise (e.g. when sched is nil, or buffer registration failed).
func genericCopy(ctx *FiberContext, sched *Scheduler, dst, src Flow) (int64, error) {
	var pool *bufferPool
	if sched != nil {
		pool = sched.bufPool
	}
	fallback := func(buf []byte) (any, error) { return copyOneChunk(ctx, dst, src, buf) }
	pooled := func(_ int, buf []byte) (any, error) { return copyOneChunk(ctx, dst, src, buf) }

	var total int64
	for {
		v, err := WithChunk(ctx, pool, fallback, pooled)
		n, _ := v.(int)
		total += int64(n)
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// copyOneChunk reads whatever src produces into buf and forwards it to dst,
// reporting the number of bytes read and the read/write outcome. A write
// failure after a successful read is reported without counting those bytes
// as copied, matching the Flow.WriteFrom contract of all-or-nothing delivery.
func copyOneChunk(ctx *FiberContext, dst, src Flow, buf []byte) (any, error) {
	n, rerr := src.ReadInto(ctx, buf)
	if n > 0 {
		if _, werr := dst.WriteFrom(ctx, buf[:n]); werr != nil {
			return 0, werr
		}
	}
	return n, rerr
}
