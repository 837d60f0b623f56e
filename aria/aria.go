// Package aria adds ARIA roles, states and properties inferred from naming
// conventions and native semantics.
//
// Unlike remedy, the enricher does not work from an issue list: it sweeps a
// subtree and applies every heuristic that holds. Each attribute is written
// only when the element does not carry it and the (element, attribute) pair
// was never written before in the session.
package aria

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/session"
)

var attributesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "a11yfix_aria_attributes_total",
	Help: "ARIA attributes added by the enricher.",
}, []string{"attr"})

// Plausibility thresholds.
const (
	minNavLinks      = 2
	minMainText      = 200
	minAsideText     = 30
	minDialogText    = 20
	bannerBand       = 0.25 // top fraction of the page
	contentinfoBand  = 0.75 // bottom starts at this fraction
	maxStatusTextLen = 500
)

// Enricher applies ARIA heuristics within one session.
type Enricher struct {
	sess   *session.Session
	doc    *dom.Document
	logger *slog.Logger
}

// New returns an Enricher bound to sess.
func New(sess *session.Session) *Enricher {
	return &Enricher{sess: sess, doc: sess.Doc, logger: sess.Logger}
}

// sweep is the per-call state.
type sweep struct {
	e     *Enricher
	added int

	hasMain, hasBanner, hasContentinfo bool
}

// Apply enriches the subtree at root and returns the number of attributes
// added.
func (e *Enricher) Apply(root *html.Node) int {
	if root == nil || e.sess.Closed() {
		return 0
	}
	s := &sweep{
		e:              e,
		hasMain:        dom.Query(e.doc.Root(), `main, [role="main"]`) != nil,
		hasBanner:      dom.Query(e.doc.Root(), `[role="banner"]`) != nil,
		hasContentinfo: dom.Query(e.doc.Root(), `[role="contentinfo"]`) != nil,
	}
	dom.Walk(root, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript:
			return false
		}
		if dom.HasAttr(n, session.GeneratedAttr) {
			return false
		}
		s.element(n)
		return true
	})
	if s.added > 0 {
		e.logger.Debug("aria: enriched", "root", dom.Descriptor(root), "added", s.added)
	}
	return s.added
}

func (s *sweep) element(n *html.Node) {
	w := words(n)
	s.landmark(n, w)
	s.dialog(n, w)
	s.expanded(n, w)
	s.states(n, w)
	s.liveRegion(n, w)
}

// set writes attr=value unless n carries attr or it was written before.
func (s *sweep) set(n *html.Node, attr, value string) bool {
	e := s.e
	if dom.HasAttr(n, attr) || e.sess.Processed.HasAttr(n, attr) {
		return false
	}
	e.sess.Markers.Write(n, func() { e.doc.SetAttr(n, attr, value) })
	e.sess.Processed.MarkAttr(n, attr)
	attributesTotal.WithLabelValues(attr).Inc()
	s.added++
	return true
}

var nativeLandmarks = map[atom.Atom]bool{
	atom.Nav: true, atom.Main: true, atom.Header: true, atom.Footer: true,
	atom.Aside: true, atom.Form: true,
}

var landmarkContainers = map[atom.Atom]bool{
	atom.Div: true, atom.Section: true, atom.Ul: true,
}

func (s *sweep) landmark(n *html.Node, w wordSet) {
	if !landmarkContainers[n.DataAtom] || nativeLandmarks[n.DataAtom] || dom.HasAttr(n, "role") {
		return
	}
	switch {
	case w.any("nav", "navbar", "navigation", "menu", "menubar", "breadcrumb", "breadcrumbs"):
		if len(dom.QueryAll(n, "a[href]")) >= minNavLinks && !insideLandmark(n, "navigation") {
			s.set(n, "role", "navigation")
		}
	case w.any("=main", "=content", "=maincontent", "=pagecontent", "=sitecontent", "=primary"):
		if !s.hasMain && textLen(n) >= minMainText {
			if s.set(n, "role", "main") {
				s.hasMain = true
			}
		}
	case w.any("=header", "=siteheader", "=pageheader", "=masthead", "=banner", "=topbar"):
		if !s.hasBanner && s.inBand(n, true) {
			if s.set(n, "role", "banner") {
				s.hasBanner = true
			}
		}
	case w.any("=footer", "=sitefooter", "=pagefooter", "=colophon"):
		if !s.hasContentinfo && s.inBand(n, false) {
			if s.set(n, "role", "contentinfo") {
				s.hasContentinfo = true
			}
		}
	case w.any("sidebar", "aside", "complementary", "secondary"):
		if textLen(n) >= minAsideText {
			s.set(n, "role", "complementary")
		}
	}
}

// inBand checks that n starts in the top band of the page (top) or ends
// in the bottom band.
func (s *sweep) inBand(n *html.Node, top bool) bool {
	page := s.e.doc.PageHeight()
	if page <= 0 {
		return false
	}
	r := s.e.doc.Rect(n)
	if top {
		return r.Y <= page*bannerBand
	}
	return r.Y+r.Height >= page*contentinfoBand
}

func insideLandmark(n *html.Node, role string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if dom.Attr(p, "role") == role || role == "navigation" && p.DataAtom == atom.Nav {
			return true
		}
	}
	return false
}

func (s *sweep) dialog(n *html.Node, w wordSet) {
	if n.DataAtom != atom.Div && n.DataAtom != atom.Section {
		return
	}
	if dom.HasAttr(n, "role") || !w.any("modal", "dialog", "popup", "lightbox", "overlay") {
		return
	}
	st := s.e.doc.Style(n)
	switch st.Get("position") {
	case "fixed", "absolute":
	default:
		return
	}
	if st.Hidden() || textLen(n) < minDialogText {
		return
	}
	s.set(n, "role", "dialog")
	if w.any("modal") && st.Get("position") == "fixed" {
		s.set(n, "aria-modal", "true")
	}
}

var toggleRoles = map[string]bool{"button": true, "tab": true, "menuitem": true, "link": true}

func (s *sweep) expanded(n *html.Node, w wordSet) {
	interactive := n.DataAtom == atom.Button || toggleRoles[dom.Attr(n, "role")] ||
		n.DataAtom == atom.A && dom.HasAttr(n, "href")
	if !interactive {
		return
	}
	toggle := w.any("accordion", "toggle", "dropdown", "collapse", "collapsible", "expander", "disclosure") ||
		dom.HasAttr(n, "data-toggle") || dom.HasAttr(n, "data-bs-toggle")
	if !toggle {
		return
	}
	state := "false"
	if w.any("open", "opened", "active", "show", "shown", "expanded", "in") {
		state = "true"
	}
	s.set(n, "aria-expanded", state)
}

var selectableRoles = map[string]bool{
	"tab": true, "option": true, "treeitem": true, "gridcell": true, "row": true,
}

func (s *sweep) states(n *html.Node, w wordSet) {
	role := dom.Attr(n, "role")
	current := w.any("active", "selected", "current", "isactive", "isselected")

	if selectableRoles[role] {
		v := "false"
		if current {
			v = "true"
		}
		s.set(n, "aria-selected", v)
	}
	if n.DataAtom == atom.A && current && insideLandmark(n, "navigation") {
		s.set(n, "aria-current", "page")
	}

	if w.any("hidden", "invisible", "dnone", "ishidden") && !w.any("sr", "visually") && s.e.doc.Style(n).Hidden() {
		s.set(n, "aria-hidden", "true")
	}

	if !isField(n) {
		return
	}
	if dom.HasAttr(n, "required") || w.any("required", "isrequired") {
		s.set(n, "aria-required", "true")
	}
	if w.any("error", "invalid", "isinvalid", "haserror") || fieldWrapperInvalid(n) {
		s.set(n, "aria-invalid", "true")
	}
}

func isField(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input:
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "hidden", "submit", "button", "reset", "image":
			return false
		}
		return true
	case atom.Select, atom.Textarea:
		return true
	}
	return false
}

// fieldWrapperInvalid follows the has-error convention on the field's
// immediate wrapper.
func fieldWrapperInvalid(n *html.Node) bool {
	p := n.Parent
	if !dom.IsElement(p) {
		return false
	}
	return words(p).any("haserror", "error", "isinvalid")
}

func (s *sweep) liveRegion(n *html.Node, w wordSet) {
	if !dom.IsElement(n) || n.DataAtom == atom.Body || n.DataAtom == atom.Html {
		return
	}
	urgent := w.any("alert", "error", "danger")
	polite := w.any("notification", "notifications", "toast", "snackbar", "flash", "status", "notice")
	if !urgent && !polite {
		return
	}
	if isField(n) || n.DataAtom == atom.Button || n.DataAtom == atom.A || n.DataAtom == atom.Label {
		return
	}
	if textLen(n) > maxStatusTextLen || dom.Query(n, "input, select, textarea") != nil {
		return
	}
	role := dom.Attr(n, "role")
	if role == "" {
		role = "status"
		if urgent {
			role = "alert"
		}
		s.set(n, "role", role)
	}
	switch role {
	case "alert":
		s.set(n, "aria-live", "assertive")
	case "status":
		s.set(n, "aria-live", "polite")
	}
}

func textLen(n *html.Node) int { return utf8.RuneCountInString(dom.Text(n)) }

type wordSet map[string]bool

func (w wordSet) any(keys ...string) bool {
	for _, k := range keys {
		if w[k] {
			return true
		}
	}
	return false
}

// words splits the class names and id of n into lowercase words. Each
// token also contributes its separator-free form and that form prefixed
// with "=", so "is-active" yields "is", "active", "isactive" and
// "=isactive".
func words(n *html.Node) wordSet {
	w := wordSet{}
	tokens := append(dom.ClassList(n), dom.Attr(n, "id"))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		var parts []string
		var cur strings.Builder
		var prev rune
		flush := func() {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		}
		for _, r := range tok {
			switch {
			case r == '-' || r == '_' || r == '.' || r == ':':
				flush()
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
				cur.WriteRune(unicode.ToLower(r))
			default:
				cur.WriteRune(unicode.ToLower(r))
			}
			prev = r
		}
		flush()
		for _, p := range parts {
			w[p] = true
		}
		whole := strings.Join(parts, "")
		w[whole] = true
		w["="+whole] = true
	}
	return w
}
