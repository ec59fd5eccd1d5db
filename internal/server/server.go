//go:build unix

// Package server runs the accept loop and hands every connection to its own
// worker goroutine.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/wtnb75/tinyhttpd/internal/config"
	"github.com/wtnb75/tinyhttpd/internal/listing"
	"github.com/wtnb75/tinyhttpd/internal/request"
	"github.com/wtnb75/tinyhttpd/internal/response"
	"github.com/wtnb75/tinyhttpd/internal/shutdown"
	"golang.org/x/sys/unix"
)

// PollInterval bounds every wait of the accept loop so the shutdown flag is
// observed even when the wake pipe is not.
const PollInterval = 1000 * time.Millisecond

// LogSink is the file side of logging, opened by Start and closed by Stop.
type LogSink interface {
	Startup() error
	Shutdown() error
}

type Server struct {
	cfg        config.Config
	log        *slog.Logger
	sink       LogSink
	flag       *shutdown.Flag
	dispatcher *Dispatcher
	listing    *listing.Generator

	mu       sync.Mutex
	state    State
	fd       int
	addr     *net.TCPAddr
	reported bool

	slots  chan struct{}
	wg     sync.WaitGroup
	active *xsync.MapOf[uint64, string]
	nextID atomic.Uint64
}

// New prepares a server for cfg, which must already be validated. sink may
// be nil when file logging is managed elsewhere.
func New(cfg config.Config, log *slog.Logger, sink LogSink, flag *shutdown.Flag) *Server {
	if log == nil {
		log = slog.Default()
	}
	resolver := request.NewResolver(cfg.RootDir, cfg.LandingPage, cfg.Favicon)
	s := &Server{
		cfg:    cfg,
		log:    log,
		sink:   sink,
		flag:   flag,
		fd:     -1,
		slots:  make(chan struct{}, cfg.MaxClients),
		active: xsync.NewMapOf[uint64, string](),
	}
	d := &Dispatcher{
		Resolver: resolver,
		Writer:   &response.Writer{ChunkSize: cfg.BufferSize, Logger: log},
		Logger:   log,
	}
	if cfg.GenerateListing {
		s.listing = listing.New(cfg.RootDir, cfg.LandingPage, log)
		d.Listing = s.listing
	}
	s.dispatcher = d
	return s
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr is the bound address while the server is running.
func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Port() int {
	if addr := s.Addr(); addr != nil {
		return addr.Port
	}
	return 0
}

// Active returns the peers of connections still being handled.
func (s *Server) Active() []string {
	var res []string
	s.active.Range(func(_ uint64, peer string) bool {
		res = append(res, peer)
		return true
	})
	return res
}

// Start opens the log file and the listening socket.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != Uninitialized {
		prev := s.state
		s.state = OutOfOrderCall
		s.mu.Unlock()
		s.log.Error("start called out of order", "state", prev)
		return ErrOutOfOrder
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.Startup(); err != nil {
			s.log.Warn("continuing without log file", "error", err)
		}
	}
	s.log.Info("configuration", "config", s.cfg.String())

	fd, addr, err := listen(s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		s.mu.Lock()
		s.state = Failed
		s.mu.Unlock()
		var se *StartError
		if errors.As(err, &se) {
			s.log.Error("server start failed", "step", se.Step, "errno", int(se.Errno()), "error", se.Err)
		} else {
			s.log.Error("server start failed", "error", err)
		}
		return err
	}
	s.mu.Lock()
	s.fd, s.addr, s.state = fd, addr, Running
	s.mu.Unlock()

	if s.listing != nil {
		if err := s.listing.Watch(); err != nil {
			s.log.Warn("listing watcher unavailable, regenerating on every request", "error", err)
		}
	}
	s.log.Info("server starting", "listen", addr, "root", s.cfg.RootDir, "max_clients", s.cfg.MaxClients)
	return nil
}

// Run accepts connections until shutdown is requested.
func (s *Server) Run() error {
	s.mu.Lock()
	state, fd := s.state, s.fd
	if state == Uninitialized {
		s.state = NonInitCall
	}
	first := !s.reported
	if state == Uninitialized || state == NonInitCall {
		s.reported = true
	}
	s.mu.Unlock()
	switch state {
	case Running:
	case Uninitialized, NonInitCall:
		if first {
			s.log.Error("run called before start")
		}
		return ErrNotStarted
	default:
		return fmt.Errorf("cannot run in state %s", state)
	}

	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(s.flag.WakeFD()), Events: unix.POLLIN},
	}
	for !s.flag.Requested() {
		fds[0].Revents, fds[1].Revents = 0, 0
		n, err := unix.Poll(fds, int(PollInterval/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				if s.flag.Requested() {
					break
				}
				s.log.Debug("poll interrupted")
				continue
			}
			s.log.Error("poll failed", "error", err)
			s.mu.Lock()
			s.state = Failed
			s.mu.Unlock()
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents != 0 {
			s.flag.Drain()
		}
		if fds[0].Revents&unix.POLLIN != 0 && !s.flag.Requested() {
			s.acceptOne(fd)
		}
	}
	s.log.Info("shutdown requested, no longer accepting connections")
	return nil
}

func (s *Server) acquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
	}
	s.log.Debug("all workers busy", "max_clients", s.cfg.MaxClients)
	t := time.NewTimer(PollInterval)
	defer t.Stop()
	select {
	case s.slots <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (s *Server) release() {
	<-s.slots
}

func (s *Server) acceptOne(fd int) {
	if !s.acquire() {
		return
	}
	conn, err := accept(fd)
	if err != nil {
		s.release()
		if benignAccept(err) {
			s.log.Debug("accept raced", "error", err)
			return
		}
		s.log.Error("accept failed", "error", err)
		return
	}
	peer := conn.RemoteAddr().String()
	id := s.nextID.Add(1)
	s.log.Info("accepted connection", "peer", peer, "id", id)
	s.active.Store(id, peer)
	s.wg.Add(1)
	go s.handle(id, conn)
}

// Stop closes the listening socket, waits up to the grace period for
// in-flight workers and closes the log file. Every step runs even when an
// earlier one fails, and even when the server was never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	prev := s.state
	fd := s.fd
	s.fd, s.addr = -1, nil
	if prev == Uninitialized {
		s.state = NonInitCall
	} else {
		s.state = Uninitialized
	}
	s.mu.Unlock()
	if prev == Uninitialized {
		s.log.Error("stop called before start")
	}

	var errs []error
	if fd >= 0 {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	if s.listing != nil {
		if err := s.listing.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listing watcher: %w", err))
		}
	}
	if !s.drain() {
		for _, peer := range s.Active() {
			s.log.Warn("connection still in flight", "peer", peer)
		}
	}
	s.log.Info("server stopped", "previous", prev)
	if s.sink != nil {
		if err := s.sink.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
	}
	switch prev {
	case Running:
	case Uninitialized:
		errs = append(errs, ErrNotStarted)
	default:
		errs = append(errs, ErrNotRunning)
	}
	return errors.Join(errs...)
}

// drain waits for workers for at most the grace period.
func (s *Server) drain() bool {
	if s.cfg.GracePeriod <= 0 {
		return s.active.Size() == 0
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	t := time.NewTimer(s.cfg.GracePeriod)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
