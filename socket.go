package corering

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sockaddrPointer converts a syscall.Sockaddr into the raw pointer/length
// pair io_uring's PrepConnect/PrepAccept expect. The standard library keeps
// this conversion private to package syscall, so it is reimplemented here
// for the two address families the socket surface exposes; no pack example
// wires a userspace sockaddr-marshaling library, so this one corner stays
// on golang.org/x/sys/unix's raw struct definitions rather than stdlib
// syscall internals.
func sockaddrPointer(sa syscall.Sockaddr) (unsafe.Pointer, uint32, error) {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		raw := unix.RawSockaddrInet4{Family: unix.AF_INET, Port: htons(uint16(a.Port))}
		copy(raw.Addr[:], a.Addr[:])
		return unsafe.Pointer(&raw), uint32(unsafe.Sizeof(raw)), nil
	case *syscall.SockaddrUnix:
		raw := unix.RawSockaddrUnix{Family: unix.AF_UNIX}
		n := copy(raw.Path[:len(raw.Path)-1], a.Name)
		return unsafe.Pointer(&raw), uint32(unix.SizeofSockaddrUnix - len(raw.Path) + n + 1), nil
	default:
		return nil, 0, syscall.EAFNOSUPPORT
	}
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// newSocketFD creates a socket of the given domain/type/protocol, blocking the
// calling fiber via the cross-domain bridge since the underlying binding's
// PrepSocket (5.19+ async socket creation) isn't exposed; the ordinary
// synchronous syscall is cheap and non-blocking in practice for AF_INET/
// AF_UNIX. If sw is non-nil, the new FD is registered with it (SPEC_FULL.md
// §3/§5 Switch ownership invariant).
func newSocketFD(ctx *FiberContext, sched *Scheduler, sw *Switch, domain, typ, protocol int) (*FD, error) {
	v, err := RunRaw(sched, ctx, func() (any, error) {
		return syscall.Socket(domain, typ, protocol)
	})
	if err != nil {
		return nil, err
	}
	fd, _ := v.(int)
	return newFD(sched, fd, false, sw), nil
}

// TCPListener accepts TCP connections via the ring's Accept opcode.
type TCPListener struct {
	fd    *FD
	sched *Scheduler
}

// ListenTCP creates, binds, and listens on a TCP socket. If sw is non-nil,
// the listening socket is closed automatically when sw releases.
func ListenTCP(ctx *FiberContext, sched *Scheduler, sw *Switch, addr syscall.SockaddrInet4, backlog int) (*TCPListener, error) {
	fd, err := newSocketFD(ctx, sched, sw, syscall.AF_INET, syscall.SOCK_STREAM|syscall.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if _, err := RunRaw(sched, ctx, func() (any, error) {
		if err := syscall.SetsockoptInt(fd.raw, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			return nil, err
		}
		if err := syscall.Bind(fd.raw, &addr); err != nil {
			return nil, err
		}
		return nil, syscall.Listen(fd.raw, backlog)
	}); err != nil {
		return nil, err
	}
	return &TCPListener{fd: fd, sched: sched}, nil
}

// Accept waits for and accepts the next connection. If sw is non-nil, the
// accepted connection is registered with it.
func (l *TCPListener) Accept(ctx *FiberContext, sw *Switch) (*TCPConn, error) {
	raw, err := l.sched.Accept(ctx, l.fd.raw, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	return &TCPConn{fd: newFD(l.sched, raw, false, sw), sched: l.sched}, nil
}

// Close closes the listening socket.
func (l *TCPListener) Close(ctx *FiberContext) error { return l.fd.Close(ctx) }

// TCPConn is an accepted or dialed TCP connection.
type TCPConn struct {
	fd    *FD
	sched *Scheduler
}

// DialTCP connects to addr. If sw is non-nil, the connection is registered
// with it.
func DialTCP(ctx *FiberContext, sched *Scheduler, sw *Switch, addr syscall.SockaddrInet4) (*TCPConn, error) {
	fd, err := newSocketFD(ctx, sched, sw, syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	ptr, n, err := sockaddrPointer(&addr)
	if err != nil {
		return nil, err
	}
	if err := sched.Connect(ctx, fd.raw, ptr, n); err != nil {
		return nil, err
	}
	return &TCPConn{fd: fd, sched: sched}, nil
}

// ReadExactly reads exactly len(buf) bytes or returns an error/EOF.
func (c *TCPConn) ReadExactly(ctx *FiberContext, buf []byte) (int, error) {
	return c.sched.ReadExactly(ctx, c.fd.raw, buf, 0, false)
}

// ReadUpto reads whatever is available, up to len(buf) bytes.
func (c *TCPConn) ReadUpto(ctx *FiberContext, buf []byte) (int, error) {
	return c.sched.ReadUpto(ctx, c.fd.raw, buf, 0, false)
}

// Write writes all of buf.
func (c *TCPConn) Write(ctx *FiberContext, buf []byte) (int, error) {
	return c.sched.WriteAll(ctx, c.fd.raw, buf, 0, false)
}

// FD exposes the underlying descriptor, e.g. for the copy helper's splice
// fast path.
func (c *TCPConn) FD() *FD { return c.fd }

// Close closes the connection.
func (c *TCPConn) Close(ctx *FiberContext) error { return c.fd.Close(ctx) }

// UnixConn is a connected or accepted Unix-domain stream socket.
type UnixConn struct {
	fd    *FD
	sched *Scheduler
}

// DialUnix connects to a Unix-domain socket path. If sw is non-nil, the
// connection is registered with it.
func DialUnix(ctx *FiberContext, sched *Scheduler, sw *Switch, path string) (*UnixConn, error) {
	fd, err := newSocketFD(ctx, sched, sw, syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	addr := &syscall.SockaddrUnix{Name: path}
	ptr, n, err := sockaddrPointer(addr)
	if err != nil {
		return nil, err
	}
	if err := sched.Connect(ctx, fd.raw, ptr, n); err != nil {
		return nil, err
	}
	return &UnixConn{fd: fd, sched: sched}, nil
}

func (c *UnixConn) ReadExactly(ctx *FiberContext, buf []byte) (int, error) {
	return c.sched.ReadExactly(ctx, c.fd.raw, buf, 0, false)
}

func (c *UnixConn) Write(ctx *FiberContext, buf []byte) (int, error) {
	return c.sched.WriteAll(ctx, c.fd.raw, buf, 0, false)
}

func (c *UnixConn) FD() *FD { return c.fd }

func (c *UnixConn) Close(ctx *FiberContext) error { return c.fd.Close(ctx) }

// UDPConn is a connectionless UDP socket. It exposes SendMsg; it has no
// receive method of its own (Scheduler.RecvMsg works on its FD).
type UDPConn struct {
	fd    *FD
	sched *Scheduler
}

// ListenUDP creates and binds a UDP socket. If sw is non-nil, the socket is
// registered with it.
func ListenUDP(ctx *FiberContext, sched *Scheduler, sw *Switch, addr syscall.SockaddrInet4) (*UDPConn, error) {
	fd, err := newSocketFD(ctx, sched, sw, syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	if _, err := RunRaw(sched, ctx, func() (any, error) {
		return nil, syscall.Bind(fd.raw, &addr)
	}); err != nil {
		return nil, err
	}
	return &UDPConn{fd: fd, sched: sched}, nil
}

// SendMsg sends one datagram to addr.
func (c *UDPConn) SendMsg(ctx *FiberContext, buf []byte, addr syscall.Sockaddr) (int, error) {
	ptr, n, err := sockaddrPointer(addr)
	if err != nil {
		return 0, err
	}
	iov := syscall.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	msg := &syscall.Msghdr{
		Name:    (*byte)(ptr),
		Namelen: n,
		Iov:     &iov,
		Iovlen:  1,
	}
	return c.sched.SendMsg(ctx, c.fd.raw, msg, 0)
}

func (c *UDPConn) FD() *FD { return c.fd }

func (c *UDPConn) Close(ctx *FiberContext) error { return c.fd.Close(ctx) }
