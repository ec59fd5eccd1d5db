//go:build unix

package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// StartError names the listener setup step that failed.
type StartError struct {
	Step string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Errno returns the OS error code, or 0 when the failure was not a system
// call error.
func (e *StartError) Errno() unix.Errno {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}
	return 0
}

// listen opens a non-blocking IPv4 listening socket on port and returns the
// descriptor and the bound address. Nothing is left open on failure.
func listen(port, backlog int) (fd int, addr *net.TCPAddr, err error) {
	laddr, err := net.ResolveTCPAddr("tcp4", ":"+strconv.Itoa(port))
	if err != nil {
		return -1, nil, &StartError{Step: "resolve", Err: err}
	}
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, &StartError{Step: "socket", Err: err}
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
			fd = -1
		}
	}()
	unix.CloseOnExec(fd)
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fd, nil, &StartError{Step: "setsockopt", Err: err}
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		return fd, nil, &StartError{Step: "nonblock", Err: err}
	}
	sa := &unix.SockaddrInet4{Port: laddr.Port}
	if ip4 := laddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fd, nil, &StartError{Step: "bind", Err: err}
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return fd, nil, &StartError{Step: "listen", Err: err}
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fd, nil, &StartError{Step: "getsockname", Err: err}
	}
	in4, ok := bound.(*unix.SockaddrInet4)
	if !ok {
		err = &StartError{Step: "getsockname", Err: fmt.Errorf("unexpected address family %T", bound)}
		return fd, nil, err
	}
	return fd, &net.TCPAddr{IP: net.IP(in4.Addr[:]).To16(), Port: in4.Port}, nil
}

// accept takes one pending connection off fd and wraps it as a net.Conn.
// The raw accepted descriptor is closed before returning.
func accept(fd int) (net.Conn, error) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(nfd)
	f := os.NewFile(uintptr(nfd), "client")
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("wrap connection: %w", err)
	}
	return conn, nil
}

// benignAccept reports accept errors that only mean the pending connection
// went away before we got to it.
func benignAccept(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EINTR)
}
