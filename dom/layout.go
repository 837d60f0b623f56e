package dom

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rect is an element's border box in CSS pixels, relative to the document.
type Rect struct {
	X, Y, Width, Height float64
}

// Layout reports element geometry.
type Layout interface {
	Rect(n *html.Node) Rect
	PageHeight() float64
}

// Rect returns the layout box of n.
func (d *Document) Rect(n *html.Node) Rect { return d.layout.Rect(n) }

// PageHeight returns the scrollable height of the document.
func (d *Document) PageHeight() float64 { return d.layout.PageHeight() }

// rowHeight is the vertical advance of one element in the static layout.
const rowHeight = 20

// staticLayout estimates geometry without rendering. Sizes come from width
// and height attributes or inline style; vertical position is the element's
// document-order index times rowHeight. Elements that do not render get a
// zero box.
type staticLayout struct {
	doc   *Document
	gen   uint64
	index map[*html.Node]int
	count int
}

func newStaticLayout(d *Document) *staticLayout {
	return &staticLayout{doc: d}
}

func (l *staticLayout) reindex() {
	if l.index != nil && l.gen == l.doc.gen {
		return
	}
	l.gen = l.doc.gen
	l.index = make(map[*html.Node]int)
	l.count = 0
	Walk(l.doc.root, func(n *html.Node) bool {
		l.index[n] = l.count
		l.count++
		return true
	})
}

func (l *staticLayout) Rect(n *html.Node) Rect {
	if !IsElement(n) || !Connected(n) {
		return Rect{}
	}
	st := l.doc.Style(n)
	if st.Hidden() {
		return Rect{}
	}
	l.reindex()

	r := Rect{Y: float64(l.index[n] * rowHeight)}
	if w, ok := ParsePixels(Attr(n, "width")); ok {
		r.Width = w
	}
	if h, ok := ParsePixels(Attr(n, "height")); ok {
		r.Height = h
	}
	if w, ok := ParsePixels(st.Get("width")); ok {
		r.Width = w
	}
	if h, ok := ParsePixels(st.Get("height")); ok {
		r.Height = h
	}
	if r.Height == 0 && n.DataAtom != atom.Img {
		r.Height = rowHeight
	}
	return r
}

func (l *staticLayout) PageHeight() float64 {
	l.reindex()
	return float64(l.count * rowHeight)
}
