package livepage

import (
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
)

// geometry caches browser answers for one document generation.
type geometry struct {
	gen    uint64
	valid  bool
	styles map[*html.Node]dom.Style
	rects  map[*html.Node]dom.Rect
	page   float64
	scroll float64
	paged  bool
}

func (g *geometry) reset() {
	g.valid = false
}

func (t *Tab) cache() *geometry {
	g := &t.geom
	if gen := t.doc.Generation(); !g.valid || g.gen != gen {
		*g = geometry{
			gen:    gen,
			valid:  true,
			styles: make(map[*html.Node]dom.Style),
			rects:  make(map[*html.Node]dom.Rect),
		}
	}
	return g
}

// Resolve returns the browser's computed style for n.
func (t *Tab) Resolve(n *html.Node) dom.Style {
	g := t.cache()
	if st, ok := g.styles[n]; ok {
		return st
	}
	st := dom.Style{}
	if id, ok := t.m.idOf(n); ok {
		page := t.Page.Timeout(opTimeout)
		res, err := proto.CSSGetComputedStyleForNode{NodeID: id}.Call(page)
		page.CancelTimeout()
		if err != nil {
			t.logger.Debug("livepage: computed style", "node", dom.Descriptor(n), "error", err)
		} else {
			for _, p := range res.ComputedStyle {
				st[p.Name] = p.Value
			}
		}
	}
	g.styles[n] = st
	return st
}

// Rect returns the border box of n in document coordinates. Elements
// without a box get a zero Rect.
func (t *Tab) Rect(n *html.Node) dom.Rect {
	g := t.cache()
	if r, ok := g.rects[n]; ok {
		return r
	}
	var r dom.Rect
	if id, ok := t.m.idOf(n); ok && dom.IsElement(n) {
		page := t.Page.Timeout(opTimeout)
		res, err := proto.DOMGetBoxModel{NodeID: id}.Call(page)
		page.CancelTimeout()
		if err == nil && res.Model != nil && len(res.Model.Border) >= 2 {
			t.pageMetrics(g)
			r = dom.Rect{
				X:      res.Model.Border[0],
				Y:      res.Model.Border[1] + g.scroll,
				Width:  float64(res.Model.Width),
				Height: float64(res.Model.Height),
			}
		}
	}
	g.rects[n] = r
	return r
}

// PageHeight returns the document's scroll height.
func (t *Tab) PageHeight() float64 {
	g := t.cache()
	t.pageMetrics(g)
	return g.page
}

func (t *Tab) pageMetrics(g *geometry) {
	if g.paged {
		return
	}
	g.paged = true
	page := t.Page.Timeout(opTimeout)
	res, err := page.Eval(`() => ({h: document.documentElement.scrollHeight, y: window.scrollY})`)
	page.CancelTimeout()
	if err != nil {
		t.logger.Debug("livepage: page metrics", "error", err)
		return
	}
	g.page = res.Value.Get("h").Num()
	g.scroll = res.Value.Get("y").Num()
}
