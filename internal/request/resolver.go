package request

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrTraversal = errors.New("path traversal attempt")

const FaviconPath = "/favicon.ico"

type Resolver struct {
	root    string
	landing string
	favicon string
}

// NewResolver expects root to be a validated directory and landing and
// favicon to be bare file names.
func NewResolver(root, landing, favicon string) *Resolver {
	return &Resolver{
		root:    filepath.Clean(root),
		landing: landing,
		favicon: favicon,
	}
}

type Resolved struct {
	Path    string
	Landing bool
}

func (r *Resolver) Root() string {
	return r.root
}

func (r *Resolver) LandingPath() string {
	return filepath.Join(r.root, r.landing)
}

// Resolve maps a request path to a file under the root. Paths containing
// ".." or "//" are rejected before touching the filesystem.
func (r *Resolver) Resolve(path string) (Resolved, error) {
	if strings.Contains(path, "..") || strings.Contains(path, "//") {
		return Resolved{}, ErrTraversal
	}
	switch path {
	case "/":
		return Resolved{Path: r.LandingPath(), Landing: true}, nil
	case FaviconPath:
		return Resolved{Path: filepath.Join(r.root, r.favicon)}, nil
	}
	joined := filepath.Join(r.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(r.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Resolved{}, ErrTraversal
	}
	if strings.HasSuffix(path, "/") {
		// Join drops it; keep it so "/index.html/" names no regular file
		joined += string(filepath.Separator)
	}
	return Resolved{Path: joined, Landing: joined == r.LandingPath()}, nil
}
