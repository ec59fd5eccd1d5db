// Package request interprets the request line and maps request paths onto
// files under the served root.
package request

import (
	"strings"
)

type Request struct {
	Method string
	Path   string
}

// Parse reads the first line of raw as "METHOD PATH ...". Missing tokens are
// left empty; everything after the path is ignored.
func Parse(raw string) Request {
	line, _, _ := strings.Cut(raw, "\n")
	fields := strings.Fields(line)
	var req Request
	if len(fields) > 0 {
		req.Method = fields[0]
	}
	if len(fields) > 1 {
		req.Path = fields[1]
	}
	return req
}
