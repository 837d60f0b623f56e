// Package dom is the live document the remediation pipeline reads and
// writes. It wraps a golang.org/x/net/html tree and reproduces the host
// facilities a page script relies on: mutation observers, event listeners,
// computed style and layout boxes.
//
// All Document methods must be called on the goroutine driving the
// document's event loop.
package dom

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/internal/weakmap"
)

// Journal receives writes made through the Document so they can be replayed
// onto another copy of the page (the live browser tab).
type Journal interface {
	AttrSet(n *html.Node, name, value string)
	AttrRemoved(n *html.Node, name string)
	Wrapped(n, wrapper *html.Node)
	ListenerAdded(n *html.Node, typ, tag string)
}

// Document is a mutable HTML document bound to an event loop.
type Document struct {
	root   *html.Node
	loop   *eventloop.Loop
	logger *slog.Logger

	observers []*MutationObserver
	listeners weakmap.Map[html.Node, []listenerEntry]

	journal Journal
	remote  int

	style  StyleResolver
	layout Layout

	// gen increments on every mutation; caches compare against it.
	gen uint64
}

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the document logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// WithStyleResolver replaces the built-in stylesheet resolver.
func WithStyleResolver(r StyleResolver) Option {
	return func(d *Document) { d.style = r }
}

// WithLayout replaces the built-in static layout.
func WithLayout(l Layout) Option {
	return func(d *Document) { d.layout = l }
}

// Parse reads an HTML document.
func Parse(r io.Reader, loop *eventloop.Loop, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return NewDocument(root, loop, opts...), nil
}

// ParseString is Parse over a string.
func ParseString(s string, loop *eventloop.Loop, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), loop, opts...)
}

// NewDocument wraps an existing tree. root should be an html.DocumentNode.
func NewDocument(root *html.Node, loop *eventloop.Loop, opts ...Option) *Document {
	d := &Document{
		root:   root,
		loop:   loop,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.style == nil {
		d.style = newSheetResolver(d)
	}
	if d.layout == nil {
		d.layout = newStaticLayout(d)
	}
	return d
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Loop returns the event loop the document is bound to.
func (d *Document) Loop() *eventloop.Loop { return d.loop }

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node {
	return findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
}

// Generation returns a counter that changes whenever the tree changes.
func (d *Document) Generation() uint64 { return d.gen }

// SetJournal installs the write journal. nil disables journaling.
func (d *Document) SetJournal(j Journal) { d.journal = j }

// Remote runs fn with journaling suspended. Writes that originate from the
// page itself (the live bridge replaying browser events) go through here so
// they are not echoed back.
func (d *Document) Remote(fn func()) {
	d.remote++
	defer func() { d.remote-- }()
	fn()
}

func (d *Document) journaling() bool {
	return d.journal != nil && d.remote == 0
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document to a string.
func (d *Document) String() string {
	var sb strings.Builder
	if err := d.Render(&sb); err != nil {
		return ""
	}
	return sb.String()
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateText returns a detached text node.
func (d *Document) CreateText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// SetAttr sets an attribute. Setting an attribute to its current value is a
// no-op and emits no record.
func (d *Document) SetAttr(n *html.Node, name, value string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	name = strings.ToLower(name)
	old, had := lookupAttr(n, name)
	if had && old == value {
		return
	}
	if had {
		for i := range n.Attr {
			if n.Attr[i].Namespace == "" && n.Attr[i].Key == name {
				n.Attr[i].Val = value
				break
			}
		}
	} else {
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	}
	d.record(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: old})
	if d.journaling() {
		d.journal.AttrSet(n, name, value)
	}
}

// RemoveAttr deletes an attribute if present.
func (d *Document) RemoveAttr(n *html.Node, name string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	name = strings.ToLower(name)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.record(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: a.Val})
			if d.journaling() {
				d.journal.AttrRemoved(n, name)
			}
			return
		}
	}
}

// AppendChild appends child to parent, detaching it from any previous parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref (append when ref is nil).
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.RemoveChild(child.Parent, child)
	}
	parent.InsertBefore(child, ref)
	d.record(MutationRecord{Type: MutationChildList, Target: parent, AddedNodes: []*html.Node{child}})
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child *html.Node) {
	if child.Parent != parent {
		return
	}
	d.record(MutationRecord{Type: MutationChildList, Target: parent, RemovedNodes: []*html.Node{child}})
	parent.RemoveChild(child)
}

// SetText replaces the data of a text node.
func (d *Document) SetText(n *html.Node, s string) {
	if n == nil || n.Type != html.TextNode || n.Data == s {
		return
	}
	old := n.Data
	n.Data = s
	d.record(MutationRecord{Type: MutationCharacterData, Target: n, OldValue: old})
}

// Wrap moves n inside wrapper, which takes n's place in the tree.
func (d *Document) Wrap(n, wrapper *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	d.InsertBefore(parent, wrapper, n)
	d.RemoveChild(parent, n)
	d.AppendChild(wrapper, n)
	if d.journaling() {
		d.journal.Wrapped(n, wrapper)
	}
}

func (d *Document) record(rec MutationRecord) {
	d.gen++
	for _, o := range d.observers {
		o.enqueue(rec)
	}
}

func (d *Document) addObserver(o *MutationObserver) {
	for _, existing := range d.observers {
		if existing == o {
			return
		}
	}
	d.observers = append(d.observers, o)
}

func (d *Document) removeObserver(o *MutationObserver) {
	for i, existing := range d.observers {
		if existing == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			return
		}
	}
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, pred); f != nil {
			return f
		}
	}
	return nil
}
