//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// RFCOMMListener is a listening Bluetooth RFCOMM stream socket.
type RFCOMMListener struct {
	file   *os.File
	raw    syscall.RawConn
	addr   RFCOMMAddr
	closed atomic.Bool
}

// ListenRFCOMM binds an RFCOMM socket on every local adapter. Channel 0 lets
// the kernel pick the first free channel when listening starts.
func ListenRFCOMM(channel int) (*RFCOMMListener, error) {
	if channel < 0 || channel > 30 {
		return nil, fmt.Errorf("rfcomm channel %d out of range", channel)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: uint8(channel)}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm bind channel %d: %w", channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm listen: %w", err)
	}

	addr := RFCOMMAddr{Channel: uint8(channel)}
	if sa, err := unix.Getsockname(fd); err == nil {
		if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
			addr = RFCOMMAddr{BDAddr: rc.Addr, Channel: rc.Channel}
		}
	}

	file := os.NewFile(uintptr(fd), "rfcomm-listener")
	raw, err := file.SyscallConn()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("rfcomm raw conn: %w", err)
	}

	return &RFCOMMListener{file: file, raw: raw, addr: addr}, nil
}

// Accept blocks until a client connects or the listener is closed.
func (l *RFCOMMListener) Accept() (net.Conn, error) {
	var (
		nfd       int
		sa        unix.Sockaddr
		acceptErr error
	)
	err := l.raw.Read(func(fd uintptr) bool {
		nfd, sa, acceptErr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return !errors.Is(acceptErr, unix.EAGAIN)
	})
	if l.closed.Load() {
		if err == nil && acceptErr == nil {
			_ = unix.Close(nfd)
		}
		return nil, net.ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("rfcomm accept: %w", err)
	}
	if acceptErr != nil {
		return nil, fmt.Errorf("rfcomm accept: %w", acceptErr)
	}

	remote := RFCOMMAddr{}
	if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
		remote = RFCOMMAddr{BDAddr: rc.Addr, Channel: rc.Channel}
	}

	return &rfcommConn{
		File:   os.NewFile(uintptr(nfd), "rfcomm-conn"),
		local:  l.addr,
		remote: remote,
	}, nil
}

// Close stops accepting. A blocked Accept returns net.ErrClosed.
func (l *RFCOMMListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.file.Close()
}

func (l *RFCOMMListener) Addr() net.Addr { return l.addr }

type rfcommConn struct {
	*os.File
	local  RFCOMMAddr
	remote RFCOMMAddr
}

func (c *rfcommConn) LocalAddr() net.Addr  { return c.local }
func (c *rfcommConn) RemoteAddr() net.Addr { return c.remote }
