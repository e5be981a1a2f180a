package corering

import (
	"syscall"
	"testing"
)

// TestRunTCPEchoRoundTrip exercises ListenTCP/Accept/DialTCP/Write/ReadExactly
// end-to-end: one fiber runs the listener+echo, another dials in and sends a
// message, and both sides complete inside the same scheduler (SPEC_FULL.md
// §8 scenario 1, at small scale).
func TestRunTCPEchoRoundTrip(t *testing.T) {
	result, err := Run(func(sched *Scheduler, ctx *FiberContext) (any, error) {
		ln, err := ListenTCP(ctx, sched, nil, syscall.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}, Port: 0}, 4)
		if err != nil {
			return nil, err
		}
		defer ln.Close(ctx)

		addr, err := localAddr(ln)
		if err != nil {
			return nil, err
		}

		serverDone := make(chan error, 1)
		Fork(sched, func(serverCtx *FiberContext) (any, error) {
			conn, err := ln.Accept(serverCtx, nil)
			if err != nil {
				serverDone <- err
				return nil, err
			}
			defer conn.Close(serverCtx)
			buf := make([]byte, 5)
			if _, err := conn.ReadExactly(serverCtx, buf); err != nil {
				serverDone <- err
				return nil, err
			}
			_, err = conn.Write(serverCtx, buf)
			serverDone <- err
			return nil, err
		})

		client, err := DialTCP(ctx, sched, nil, addr)
		if err != nil {
			return nil, err
		}
		defer client.Close(ctx)
		if _, err := client.Write(ctx, []byte("hello")); err != nil {
			return nil, err
		}
		buf := make([]byte, 5)
		if _, err := client.ReadExactly(ctx, buf); err != nil {
			return nil, err
		}
		if err := <-serverDone; err != nil {
			return nil, err
		}
		return string(buf), nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.(string) != "hello" {
		t.Fatalf("echoed content = %q, want %q", result, "hello")
	}
}

// localAddr reads back the ephemeral port the kernel assigned to ln so the
// client side can dial it.
func localAddr(ln *TCPListener) (syscall.SockaddrInet4, error) {
	sa, err := syscall.Getsockname(ln.fd.raw)
	if err != nil {
		return syscall.SockaddrInet4{}, err
	}
	in4 := sa.(*syscall.SockaddrInet4)
	return syscall.SockaddrInet4{Addr: in4.Addr, Port: in4.Port}, nil
}
