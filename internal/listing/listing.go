// Package listing generates the landing page as an index of every file under
// the served root. The page is rebuilt only after the tree changed.
package listing

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

const tempPrefix = ".listing-"

type Generator struct {
	root   string
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	stale   atomic.Bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New returns a generator writing root/name. The first Ensure always
// generates the page.
func New(root, name string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{root: filepath.Clean(root), name: name, logger: logger}
	g.stale.Store(true)
	return g
}

func (g *Generator) Path() string {
	return filepath.Join(g.root, g.name)
}

// Watch starts tracking changes below the root. Without a watcher every
// Ensure regenerates the page.
func (g *Generator) Watch() error {
	wt, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	err = filepath.WalkDir(g.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return wt.Add(p)
		}
		return nil
	})
	if err != nil {
		wt.Close()
		return fmt.Errorf("watch %s: %w", g.root, err)
	}
	done := make(chan struct{})
	g.mu.Lock()
	if g.watcher != nil {
		g.mu.Unlock()
		wt.Close()
		return errors.New("already watching")
	}
	g.watcher, g.done = wt, done
	g.mu.Unlock()
	go g.loop(wt, done)
	g.logger.Debug("watching root", "root", g.root)
	return nil
}

func (g *Generator) loop(wt *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-wt.Events:
			if !ok {
				return
			}
			if g.ignored(event.Name) {
				continue
			}
			g.logger.Debug("got watcher event", "name", event.Name, "op", event.Op.String())
			if event.Has(fsnotify.Create) {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					if err := wt.Add(event.Name); err != nil {
						g.logger.Warn("watcher add", "name", event.Name, "error", err)
					}
				}
			}
			if event.Op != fsnotify.Chmod {
				g.stale.Store(true)
			}
		case err, ok := <-wt.Errors:
			if !ok {
				return
			}
			g.logger.Warn("got watcher error", "error", err)
			g.stale.Store(true)
		}
	}
}

func (g *Generator) ignored(name string) bool {
	rel, err := filepath.Rel(g.root, name)
	if err != nil {
		return false
	}
	return g.skip(filepath.ToSlash(rel))
}

// Close stops the watcher. Ensure keeps working and regenerates every time.
func (g *Generator) Close() error {
	g.mu.Lock()
	wt, done := g.watcher, g.done
	g.watcher, g.done = nil, nil
	g.mu.Unlock()
	if wt == nil {
		return nil
	}
	err := wt.Close()
	<-done
	g.stale.Store(true)
	return err
}

// Ensure brings the page up to date, regenerating it if the tree changed
// since the last run.
func (g *Generator) Ensure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher != nil && !g.stale.Load() {
		if _, err := os.Stat(g.Path()); err == nil {
			return nil
		}
	}
	g.stale.Store(false)
	if err := g.generate(); err != nil {
		g.stale.Store(true)
		return err
	}
	return nil
}

// Generate writes the page unconditionally.
func (g *Generator) Generate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generate()
}

func (g *Generator) generate() error {
	var c counts
	entries, err := g.scan(g.root, "", &c)
	if err != nil {
		return fmt.Errorf("scan %s: %w", g.root, err)
	}
	tmp, err := os.CreateTemp(g.root, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	defer os.Remove(tmp.Name())
	bw := bufio.NewWriter(tmp)
	err = renderPage(bw, "Index of /", entries, c)
	if err == nil {
		err = bw.Flush()
	}
	err = errors.Join(err, tmp.Chmod(0o644), tmp.Close())
	if err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.Path()); err != nil {
		return fmt.Errorf("install listing: %w", err)
	}
	g.logger.Info("listing generated", "path", g.Path(), "directories", c.dirs, "files", c.files)
	return nil
}

// Stale reports whether the next Ensure will regenerate the page.
func (g *Generator) Stale() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.watcher == nil || g.stale.Load()
}
