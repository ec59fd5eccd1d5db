//go:build unix

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wtnb75/tinyhttpd/internal/client"
	"github.com/wtnb75/tinyhttpd/internal/config"
	"github.com/wtnb75/tinyhttpd/internal/logging"
	"github.com/wtnb75/tinyhttpd/internal/shutdown"
	"golang.org/x/sys/unix"
	"gopkg.in/loremipsum.v1"
)

type testServer struct {
	*Server
	flag *shutdown.Flag
	root string
	addr string
	done chan error

	once    sync.Once
	runErr  error
	stopErr error
}

func newTestServer(t *testing.T, mod func(*config.Config)) (*Server, *shutdown.Flag, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.RootDir = t.TempDir()
	cfg.LogFile = filepath.Join(t.TempDir(), "server.log")
	cfg.GracePeriod = 3 * time.Second
	if mod != nil {
		mod(&cfg)
	}
	require.NoError(t, cfg.Validate())
	flag, err := shutdown.New()
	require.NoError(t, err)
	t.Cleanup(func() { flag.Close() })
	sink := logging.New(cfg.LogFile, cfg.Level(), logging.WithConsole(io.Discard))
	return New(cfg, sink.Logger(), sink, flag), flag, cfg
}

func startServer(t *testing.T, mod func(*config.Config)) *testServer {
	t.Helper()
	s, flag, cfg := newTestServer(t, mod)
	require.NoError(t, s.Start())
	require.Equal(t, Running, s.State())
	require.NotZero(t, s.Port())
	ts := &testServer{
		Server: s,
		flag:   flag,
		root:   cfg.RootDir,
		addr:   net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())),
		done:   make(chan error, 1),
	}
	go func() { ts.done <- s.Run() }()
	t.Cleanup(func() { ts.shutdown(t) })
	return ts
}

// shutdown requests termination, waits for the loop and stops the server.
func (ts *testServer) shutdown(t *testing.T) error {
	ts.once.Do(func() {
		ts.flag.Request()
		select {
		case ts.runErr = <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("run did not return after shutdown request")
		}
		ts.stopErr = ts.Stop()
	})
	return ts.stopErr
}

func (ts *testServer) put(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(ts.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (ts *testServer) get(t *testing.T, path string) (*client.Response, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := client.Get(ctx, ts.addr, path)
	require.NoError(t, err)
	defer res.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, body
}

// raw sends line as is and returns everything the server wrote.
func (ts *testServer) raw(t *testing.T, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = io.WriteString(conn, line)
	require.NoError(t, err)
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

func lorem(paragraphs int) string {
	gen := loremipsum.New()
	var sb strings.Builder
	for range paragraphs {
		sb.WriteString(gen.Paragraph())
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestRoundTrip(t *testing.T) {
	ts := startServer(t, func(c *config.Config) { c.BufferSize = 100 })
	content := lorem(30)
	ts.put(t, "docs/lorem.txt", content)
	res, body := ts.get(t, "/docs/lorem.txt")
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "text/plain", res.ContentType)
	assert.EqualValues(t, len(content), res.ContentLength)
	assert.Equal(t, content, string(body))
}

func TestExactHeaders(t *testing.T) {
	ts := startServer(t, nil)
	ts.put(t, "index.html", strings.Repeat("a", 42))
	ts.put(t, "page.html", strings.Repeat("b", 42))
	got := ts.raw(t, "GET /page.html HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 42\r\nConnection: close\r\n\r\n"+strings.Repeat("b", 42), got)
}

func TestTraversalForbidden(t *testing.T) {
	ts := startServer(t, nil)
	secret := filepath.Join(filepath.Dir(ts.root), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o644))
	for _, path := range []string{"/../secret.txt", "/../../etc/passwd", "//etc/passwd", "/a/../../secret.txt"} {
		res, body := ts.get(t, path)
		assert.Equal(t, 403, res.Status, path)
		assert.NotContains(t, string(body), "top secret")
		assert.Contains(t, string(body), "Forbidden")
	}
}

func TestNotFoundLength(t *testing.T) {
	ts := startServer(t, nil)
	res, body := ts.get(t, "/missing.txt")
	assert.Equal(t, 404, res.Status)
	assert.Equal(t, "text/html", res.ContentType)
	assert.EqualValues(t, len(body), res.ContentLength)
	assert.NotZero(t, len(body))
}

func TestLandingAnyMethod(t *testing.T) {
	ts := startServer(t, nil)
	ts.put(t, "a.txt", "a")
	ts.put(t, "sub/b.txt", "bb")
	for _, method := range []string{"GET", "POST", "BREW"} {
		out := ts.raw(t, method+" / HTTP/1.0\r\n\r\n")
		assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n"), out)
		assert.Contains(t, out, `href="/a.txt"`)
		assert.Contains(t, out, `href="/sub/b.txt"`)
	}
	// the landing page picks up new files
	ts.put(t, "later.txt", "later")
	assert.Eventually(t, func() bool {
		_, body := ts.get(t, "/")
		return strings.Contains(string(body), "later.txt")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLandingWithoutListing(t *testing.T) {
	ts := startServer(t, func(c *config.Config) { c.GenerateListing = false })
	res, _ := ts.get(t, "/")
	assert.Equal(t, 404, res.Status)
	ts.put(t, "index.html", "<p>static</p>")
	res, body := ts.get(t, "/")
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "<p>static</p>", string(body))
}

func TestIdempotent(t *testing.T) {
	ts := startServer(t, nil)
	ts.put(t, "data.json", `{"a": 1}`)
	first := ts.raw(t, "GET /data.json")
	second := ts.raw(t, "GET /data.json")
	assert.Equal(t, first, second)
	assert.Contains(t, first, "Content-Type: application/json\r\n")
}

func TestConcurrentRequests(t *testing.T) {
	const n = 24
	ts := startServer(t, func(c *config.Config) {
		c.MaxClients = 4
		c.BufferSize = 512
	})
	contents := make([]string, n)
	for i := range n {
		contents[i] = fmt.Sprintf("file %d\n", i) + lorem(i%5+1)
		ts.put(t, fmt.Sprintf("f%02d.txt", i), contents[i])
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			res, err := client.Get(ctx, ts.addr, fmt.Sprintf("/f%02d.txt", i))
			if err != nil {
				errs <- err
				return
			}
			defer res.Close()
			body, err := io.ReadAll(res.Body)
			if err != nil {
				errs <- err
				return
			}
			if res.Status != 200 || string(body) != contents[i] {
				errs <- fmt.Errorf("file %d: status %d, %d bytes", i, res.Status, len(body))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSilentClientsAreIsolated(t *testing.T) {
	ts := startServer(t, func(c *config.Config) { c.ReadTimeout = 300 * time.Millisecond })
	ts.put(t, "x.txt", "x")
	// connects and sends nothing
	idle, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer idle.Close()
	// closes without a request
	empty, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	empty.Close()

	res, body := ts.get(t, "/x.txt")
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "x", string(body))

	idle.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := idle.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMaxClientsBound(t *testing.T) {
	ts := startServer(t, func(c *config.Config) { c.MaxClients = 1 })
	ts.put(t, "x.txt", "x")
	hog, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer hog.Close()
	require.Eventually(t, func() bool { return len(ts.Active()) == 1 }, 5*time.Second, 10*time.Millisecond)

	waiting, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer waiting.Close()
	_, err = io.WriteString(waiting, "GET /x.txt")
	require.NoError(t, err)
	waiting.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	n, err := waiting.Read(make([]byte, 16))
	assert.Zero(t, n)
	var ne net.Error
	assert.True(t, errors.As(err, &ne) && ne.Timeout(), "second client served while first holds the only slot: %v", err)

	_, err = io.WriteString(hog, "GET /x.txt")
	require.NoError(t, err)
	hog.SetReadDeadline(time.Now().Add(5 * time.Second))
	first, err := io.ReadAll(hog)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(first), "\r\n\r\nx"))

	waiting.SetReadDeadline(time.Now().Add(5 * time.Second))
	second, err := io.ReadAll(waiting)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(second), "\r\n\r\nx"))
}

func TestShutdownStopsAccepting(t *testing.T) {
	ts := startServer(t, nil)
	ts.put(t, "x.txt", "x")
	res, _ := ts.get(t, "/x.txt")
	require.Equal(t, 200, res.Status)
	addr := ts.addr
	require.NoError(t, ts.shutdown(t))
	assert.NoError(t, ts.runErr)
	assert.Equal(t, Uninitialized, ts.State())
	assert.Nil(t, ts.Addr())
	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestShutdownLetsInFlightFinish(t *testing.T) {
	ts := startServer(t, nil)
	ts.put(t, "slow.txt", "finished")
	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return len(ts.Active()) == 1 }, 5*time.Second, 10*time.Millisecond)

	ts.flag.Request()
	select {
	case ts.runErr = <-ts.done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	stopped := make(chan error, 1)
	go func() { stopped <- ts.Stop() }()

	_, err = io.WriteString(conn, "GET /slow.txt")
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "finished"))
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
	ts.once.Do(func() {})
}

func TestSignalShutdown(t *testing.T) {
	ts := startServer(t, nil)
	stop := shutdown.Notify(ts.flag)
	defer stop()
	require.NoError(t, unix.Kill(unix.Getpid(), unix.SIGINT))
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after SIGINT")
	}
	assert.NoError(t, ts.Stop())
	ts.once.Do(func() {})
}

func TestLogFileWritten(t *testing.T) {
	ts := startServer(t, nil)
	ts.put(t, "x.txt", "x")
	ts.get(t, "/x.txt")
	require.NoError(t, ts.shutdown(t))
	data, err := os.ReadFile(ts.cfg.LogFile)
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "[INFO] log file stream opened")
	assert.Contains(t, log, "[INFO] accepted connection")
	assert.Contains(t, log, "transfer complete")
	assert.Contains(t, log, "closing log file stream")
}

func TestRunBeforeStart(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	assert.ErrorIs(t, s.Run(), ErrNotStarted)
	assert.Equal(t, NonInitCall, s.State())
	assert.ErrorIs(t, s.Run(), ErrNotStarted)
	assert.Equal(t, NonInitCall, s.State())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.Equal(t, Uninitialized, s.State())
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
	assert.Equal(t, NonInitCall, s.State())
}

func TestStopBeforeStart(t *testing.T) {
	s, _, cfg := newTestServer(t, nil)
	err := s.Stop()
	assert.ErrorIs(t, err, ErrNotStarted)
	// the log sink shutdown still ran and found nothing open
	assert.ErrorIs(t, err, logging.ErrNotOpen)
	assert.Equal(t, NonInitCall, s.State())
	assert.NoFileExists(t, cfg.LogFile)
	assert.ErrorIs(t, s.Start(), ErrOutOfOrder)
	assert.Equal(t, OutOfOrderCall, s.State())
}

func TestStartTwice(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrOutOfOrder)
	assert.Equal(t, OutOfOrderCall, s.State())
	err := s.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, Uninitialized, s.State())
}

func TestStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp4", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if port < config.MinPort {
		t.Skip("ephemeral port below the configurable range")
	}
	s, _, _ := newTestServer(t, func(c *config.Config) { c.Port = port })
	err = s.Start()
	var se *StartError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bind", se.Step)
	assert.Equal(t, unix.EADDRINUSE, se.Errno())
	assert.ErrorIs(t, err, unix.EADDRINUSE)
	assert.Equal(t, Failed, s.State())
	assert.Zero(t, s.Port())
	assert.ErrorIs(t, s.Start(), ErrOutOfOrder)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "OutOfOrderCall", OutOfOrderCall.String())
	assert.Equal(t, "Unknown", State(42).String())
}
