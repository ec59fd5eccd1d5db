package listing

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type entry struct {
	name     string
	rel      string
	dir      bool
	size     int64
	children []entry
}

type counts struct {
	dirs  int
	files int
}

// skip reports whether a root-level name is the generated page itself or one
// of its temporary files.
func (g *Generator) skip(rel string) bool {
	return rel == g.name || (!strings.Contains(rel, "/") && strings.HasPrefix(rel, tempPrefix))
}

func (g *Generator) scan(dir, rel string, c *counts) ([]entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(des, func(i, j int) bool { return des[i].Name() < des[j].Name() })
	res := make([]entry, 0, len(des))
	for _, de := range des {
		r := path.Join(rel, de.Name())
		if g.skip(r) {
			continue
		}
		e := entry{name: de.Name(), rel: r, dir: de.IsDir()}
		if e.dir {
			c.dirs++
			children, err := g.scan(filepath.Join(dir, de.Name()), r, c)
			if err != nil {
				g.logger.Warn("unreadable directory", "path", r, "error", err)
			}
			e.children = children
		} else {
			c.files++
			if fi, err := de.Info(); err == nil {
				e.size = fi.Size()
			}
		}
		res = append(res, e)
	}
	return res, nil
}

func elem(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func appendAll(parent *html.Node, children ...*html.Node) *html.Node {
	for _, c := range children {
		parent.AppendChild(c)
	}
	return parent
}

func entryList(entries []entry) *html.Node {
	ul := elem(atom.Ul)
	for _, e := range entries {
		li := elem(atom.Li)
		if e.dir {
			appendAll(li, text(e.name+"/"))
			if len(e.children) > 0 {
				li.AppendChild(entryList(e.children))
			}
		} else {
			href := (&url.URL{Path: "/" + e.rel}).EscapedPath()
			a := appendAll(elem(atom.A, html.Attribute{Key: "href", Val: href}), text(e.name))
			appendAll(li, a, text(" ("+humanize.Bytes(uint64(e.size))+")"))
		}
		ul.AppendChild(li)
	}
	return ul
}

func renderPage(w io.Writer, title string, entries []entry, c counts) error {
	head := appendAll(elem(atom.Head),
		elem(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}),
		appendAll(elem(atom.Title), text(title)),
	)
	body := appendAll(elem(atom.Body),
		appendAll(elem(atom.H1), text(title)),
		entryList(entries),
		elem(atom.Hr),
		appendAll(elem(atom.P), text(fmt.Sprintf("%d directories, %d files", c.dirs, c.files))),
	)
	doc := &html.Node{Type: html.DocumentNode}
	appendAll(doc,
		&html.Node{Type: html.DoctypeNode, Data: "html"},
		appendAll(elem(atom.Html), head, body),
	)
	return html.Render(w, doc)
}
