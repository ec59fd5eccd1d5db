// Package client speaks the server's one-request-per-connection protocol.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
)

type Response struct {
	Status        int
	Reason        string
	ContentType   string
	ContentLength int64
	Body          io.Reader
	conn          net.Conn
}

func (r *Response) Close() error {
	return r.conn.Close()
}

// Get sends "GET path" to addr and parses the status line and headers. The
// body is limited to Content-Length when the server sent one.
func Get(ctx context.Context, addr, path string) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.0\r\n\r\n", path); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}
	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read status: %w", err)
	}
	proto, rest, _ := strings.Cut(line, " ")
	code, reason, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || !strings.HasPrefix(proto, "HTTP/") {
		conn.Close()
		return nil, fmt.Errorf("malformed status line %q", line)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read headers: %w", err)
	}
	res := &Response{
		Status:        status,
		Reason:        reason,
		ContentType:   hdr.Get("Content-Type"),
		ContentLength: -1,
		Body:          br,
		conn:          conn,
	}
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			conn.Close()
			return nil, fmt.Errorf("bad content length %q", cl)
		}
		res.ContentLength = n
		res.Body = io.LimitReader(br, n)
	}
	return res, nil
}
