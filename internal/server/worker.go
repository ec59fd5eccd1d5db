//go:build unix

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/wtnb75/tinyhttpd/internal/server")

const lingerTimeout = 100 * time.Millisecond

// handle serves exactly one request on conn. Nothing that goes wrong here
// reaches the accept loop.
func (s *Server) handle(id uint64, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	_, span := tracer.Start(context.Background(), "connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer", peer)))
	log := s.log.With("peer", peer, "id", id)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
		}
		if err := conn.Close(); err != nil {
			log.Debug("close connection", "error", err)
		}
		span.End()
		s.active.Delete(id)
		s.release()
		s.wg.Done()
	}()

	if s.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	buf := make([]byte, s.cfg.BufferSize)
	n, err := conn.Read(buf)
	if n <= 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		log.Warn("no request received", "error", err)
		span.SetStatus(codes.Error, "read failed")
		return
	}
	conn.SetReadDeadline(time.Time{})

	tr, err := s.dispatcher.Dispatch(string(buf[:n]), conn)
	span.SetAttributes(
		attribute.Int64("bytes.sent", tr.Sent),
		attribute.Int("chunks", tr.Chunks),
	)
	var de *DispatchError
	switch {
	case errors.As(err, &de):
		span.SetAttributes(attribute.Int("status", de.Status))
		log.Info("request answered with error page", "status", de.Status, "elapsed", time.Since(start))
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		log.Warn("request failed", "error", err, "sent", humanize.Bytes(uint64(tr.Sent)))
	default:
		span.SetAttributes(attribute.Int("status", 200))
		log.Info("request served", "sent", humanize.Bytes(uint64(tr.Sent)), "elapsed", time.Since(start))
	}
	linger(conn)
}

// linger half-closes the connection and drains unread request bytes briefly,
// so closing with data pending does not reset the response away.
func linger(conn net.Conn) {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok || cw.CloseWrite() != nil {
		return
	}
	conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, 64*1024))
}
