//go:build unix

// Package shutdown holds the process-wide termination request. Signal delivery
// only sets a flag and pokes a pipe so a poll loop wakes up promptly.
package shutdown

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

var wakeByte = []byte{1}

type Flag struct {
	requested atomic.Bool

	// mu guards the descriptors; Close sets both to -1.
	mu   sync.RWMutex
	r, w int
}

func New() (*Flag, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("wake pipe nonblock: %w", err)
		}
	}
	return &Flag{r: fds[0], w: fds[1]}, nil
}

// Request marks shutdown as requested. It may be called any number of times
// from any goroutine.
func (f *Flag) Request() {
	f.requested.Store(true)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.w < 0 {
		return
	}
	// a full pipe already guarantees a wakeup
	_, _ = unix.Write(f.w, wakeByte)
}

func (f *Flag) Requested() bool {
	return f.requested.Load()
}

// WakeFD is readable once Request has been called. It is -1 after Close.
func (f *Flag) WakeFD() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.r
}

// Drain empties the wake pipe. The flag itself is never cleared.
func (f *Flag) Drain() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.r < 0 {
		return
	}
	var buf [64]byte
	for {
		n, err := unix.Read(f.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (f *Flag) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.r < 0 {
		return nil
	}
	errR := unix.Close(f.r)
	errW := unix.Close(f.w)
	f.r, f.w = -1, -1
	if errR != nil {
		return errR
	}
	return errW
}

// Notify routes SIGINT and SIGTERM to f.Request. The returned function
// unregisters the handler.
func Notify(f *Flag) (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-sigs:
				f.Request()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
