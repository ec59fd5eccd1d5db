package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/wtnb75/tinyhttpd/internal/request"
	"github.com/wtnb75/tinyhttpd/internal/response"
)

// DispatchError is a request that was answered with an error page.
type DispatchError struct {
	Status int
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%d %s: %v", e.Status, http.StatusText(e.Status), e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

var errNoPath = errors.New("request without path")

type errorPage struct {
	title   string
	message string
}

var errorPages = map[int]errorPage{
	http.StatusForbidden:           {"Forbidden", "You don't have permission to access this resource."},
	http.StatusNotFound:            {"Not Found", "The requested resource could not be found."},
	http.StatusInternalServerError: {"Internal Server Error", "The directory listing could not be generated."},
}

// Lister regenerates the landing page when needed.
type Lister interface {
	Ensure() error
}

type Dispatcher struct {
	Resolver *request.Resolver
	Writer   *response.Writer
	Listing  Lister
	Logger   *slog.Logger
}

// Dispatch answers one raw request on out. Every failure has already been
// reported to the client as an error page when it is returned.
func (d *Dispatcher) Dispatch(raw string, out io.Writer) (response.Transfer, error) {
	req := request.Parse(raw)
	log := d.Logger.With("method", req.Method, "path", req.Path)
	if req.Path == "" {
		return response.Transfer{}, d.fail(out, log, http.StatusNotFound, errNoPath)
	}
	res, err := d.Resolver.Resolve(req.Path)
	if err != nil {
		log.Warn("rejected request", "error", err)
		return response.Transfer{}, d.fail(out, log, http.StatusForbidden, err)
	}
	if res.Landing && d.Listing != nil {
		if err := d.Listing.Ensure(); err != nil {
			log.Error("listing generation failed", "error", err)
			return response.Transfer{}, d.fail(out, log, http.StatusInternalServerError, err)
		}
	}
	tr, err := d.Writer.SendFile(out, res.Path)
	if errors.Is(err, response.ErrNotFound) {
		return tr, d.fail(out, log, http.StatusNotFound, err)
	}
	if err != nil {
		return tr, err
	}
	log.Debug("served", "file", res.Path)
	return tr, nil
}

func (d *Dispatcher) fail(out io.Writer, log *slog.Logger, status int, err error) error {
	page := errorPages[status]
	if serr := d.Writer.SendError(out, status, page.title, page.message); serr != nil {
		log.Debug("error page not delivered", "status", status, "error", serr)
	}
	log.Info(http.StatusText(status), "status", status)
	return &DispatchError{Status: status, Err: err}
}
