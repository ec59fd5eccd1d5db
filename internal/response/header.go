// Package response writes the status line, headers and body of a reply on a
// raw connection. Every response closes the connection.
package response

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Header returns the full header block including the blank line.
func Header(status int, contentType string, length int64) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, http.StatusText(status), contentType, length)
}

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "application/javascript",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".txt":   "text/plain",
	".json":  "application/json",
	".xml":   "application/xml",
	".svg":   "image/svg+xml",
	".pdf":   "application/pdf",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".woff":  "font/woff",
	".woff2": "font/woff",
	".ttf":   "font/ttf",
	".ico":   "image/x-icon",
	".zip":   "application/zip",
	".csv":   "text/csv",
}

// ContentType picks a MIME type from the file extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return defaultContentType
	}
	if ctype, ok := contentTypes[ext]; ok {
		return ctype
	}
	if ctype := mime.TypeByExtension(ext); ctype != "" {
		mtype, _, _ := strings.Cut(ctype, ";")
		return strings.TrimSpace(mtype)
	}
	return defaultContentType
}
