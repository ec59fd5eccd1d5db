package response

import (
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
)

var ErrNotFound = errors.New("file not found")

const DefaultChunkSize = 1024

type Writer struct {
	ChunkSize int
	Logger    *slog.Logger
}

// Transfer counts one file response. Sent includes the header block.
type Transfer struct {
	Read   int64
	Sent   int64
	Chunks int
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// SendFile writes a 200 response with the contents of path. A file that
// cannot be opened, or a directory, yields ErrNotFound before anything is
// written.
func (w *Writer) SendFile(out io.Writer, path string) (Transfer, error) {
	var tr Transfer
	log := w.logger()
	f, err := os.Open(path)
	if err != nil {
		log.Debug("open failed", "path", path, "error", err)
		return tr, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil && st.IsDir() {
		log.Debug("is a directory", "path", path)
		return tr, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return tr, fmt.Errorf("seek end: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return tr, fmt.Errorf("rewind: %w", err)
	}

	hdr := Header(http.StatusOK, ContentType(path), size)
	n, err := writeFull(out, []byte(hdr))
	tr.Sent += int64(n)
	if err != nil {
		log.Error("send header", "path", path, "error", err)
		return tr, fmt.Errorf("send header: %w", err)
	}

	chunk := w.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	buf := make([]byte, chunk)
	for {
		nr, rerr := f.Read(buf)
		if nr > 0 {
			tr.Read += int64(nr)
			tr.Chunks++
			nw, werr := writeFull(out, buf[:nr])
			tr.Sent += int64(nw)
			if werr != nil {
				log.Error("send chunk", "path", path, "chunk", tr.Chunks, "error", werr)
				return tr, fmt.Errorf("send body: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			log.Error("read chunk", "path", path, "chunk", tr.Chunks, "error", rerr)
			return tr, fmt.Errorf("read body: %w", rerr)
		}
	}
	log.Info("transfer complete", "path", path,
		"read", humanize.Bytes(uint64(tr.Read)), "sent", humanize.Bytes(uint64(tr.Sent)),
		"chunks", tr.Chunks)
	return tr, nil
}

// writeFull keeps writing until b is consumed. A writer that accepts
// nothing without an error is reported as a short write.
func writeFull(out io.Writer, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := out.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

const errorPage = `<!DOCTYPE html>
<html>
<head><title>%d %s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`

// SendError writes a generated HTML page for status.
func (w *Writer) SendError(out io.Writer, status int, title, message string) error {
	body := fmt.Sprintf(errorPage, status, html.EscapeString(title),
		html.EscapeString(title), html.EscapeString(message))
	hdr := Header(status, "text/html", int64(len(body)))
	if _, err := writeFull(out, []byte(hdr+body)); err != nil {
		w.logger().Error("send error page", "status", status, "error", err)
		return fmt.Errorf("send error page: %w", err)
	}
	w.logger().Debug("error page sent", "status", status, "title", title)
	return nil
}
