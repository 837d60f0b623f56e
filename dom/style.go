package dom

import (
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Style is a resolved set of CSS properties.
type Style map[string]string

// Get returns the value of prop, or "".
func (s Style) Get(prop string) string { return s[prop] }

// Bold reports whether the resolved font-weight is bold-equivalent (>=700).
func (s Style) Bold() bool {
	w := strings.ToLower(strings.TrimSpace(s["font-weight"]))
	switch w {
	case "bold", "bolder":
		return true
	}
	v, err := strconv.Atoi(w)
	return err == nil && v >= 700
}

// Italic reports whether the resolved font-style is italic or oblique.
func (s Style) Italic() bool {
	fs := strings.ToLower(s["font-style"])
	return strings.HasPrefix(fs, "italic") || strings.HasPrefix(fs, "oblique")
}

// Hidden reports whether the element does not render.
func (s Style) Hidden() bool {
	return s["display"] == "none" || s["visibility"] == "hidden" || s["visibility"] == "collapse"
}

// StyleResolver computes the style of an element.
type StyleResolver interface {
	Resolve(n *html.Node) Style
}

// Style returns the resolved style of n.
func (d *Document) Style(n *html.Node) Style {
	if !IsElement(n) {
		return Style{}
	}
	return d.style.Resolve(n)
}

// inherited lists the properties that flow from parent to child.
var inherited = []string{"font-weight", "font-style", "cursor", "visibility"}

// uaDefaults is the subset of the user-agent stylesheet the heuristics
// depend on.
var uaDefaults = map[atom.Atom]Style{
	atom.B:        {"font-weight": "bold"},
	atom.Strong:   {"font-weight": "bold"},
	atom.Th:       {"font-weight": "bold"},
	atom.H1:       {"font-weight": "bold"},
	atom.H2:       {"font-weight": "bold"},
	atom.H3:       {"font-weight": "bold"},
	atom.H4:       {"font-weight": "bold"},
	atom.H5:       {"font-weight": "bold"},
	atom.H6:       {"font-weight": "bold"},
	atom.I:        {"font-style": "italic"},
	atom.Em:       {"font-style": "italic"},
	atom.Cite:     {"font-style": "italic"},
	atom.Dfn:      {"font-style": "italic"},
	atom.Var:      {"font-style": "italic"},
	atom.Address:  {"font-style": "italic"},
	atom.Head:     {"display": "none"},
	atom.Script:   {"display": "none"},
	atom.Style:    {"display": "none"},
	atom.Template: {"display": "none"},
	atom.Button:   {"cursor": "default"},
}

type sheetRule struct {
	sel   cascadia.Sel
	spec  cascadia.Specificity
	order int
	decls []*css.Declaration
}

// sheetResolver resolves style from <style> elements, inline style
// attributes and the user-agent defaults. Results are cached per document
// generation.
type sheetResolver struct {
	doc      *Document
	gen      uint64
	built    bool
	rules    []sheetRule
	cache    map[*html.Node]Style
	cacheGen uint64
}

func newSheetResolver(d *Document) *sheetResolver {
	return &sheetResolver{doc: d}
}

func (r *sheetResolver) Resolve(n *html.Node) Style {
	if !r.built || r.gen != r.doc.gen {
		r.rebuild()
	}
	if r.cache == nil || r.cacheGen != r.doc.gen {
		r.cache = make(map[*html.Node]Style)
		r.cacheGen = r.doc.gen
	}
	return r.resolve(n)
}

func (r *sheetResolver) resolve(n *html.Node) Style {
	if s, ok := r.cache[n]; ok {
		return s
	}

	s := Style{}
	if p := n.Parent; IsElement(p) {
		ps := r.resolve(p)
		for _, prop := range inherited {
			if v, ok := ps[prop]; ok {
				s[prop] = v
			}
		}
	}
	for k, v := range uaDefaults[n.DataAtom] {
		s[k] = v
	}
	if n.DataAtom == atom.A && HasAttr(n, "href") {
		s["cursor"] = "pointer"
	}
	if HasAttr(n, "hidden") {
		s["display"] = "none"
	}

	// Rules are kept sorted by (specificity, order), so a later write wins.
	important := map[string]bool{}
	for _, rule := range r.rules {
		if !rule.sel.Match(n) {
			continue
		}
		for _, decl := range rule.decls {
			prop := strings.ToLower(decl.Property)
			if important[prop] && !decl.Important {
				continue
			}
			s[prop] = strings.TrimSpace(decl.Value)
			if decl.Important {
				important[prop] = true
			}
		}
	}

	if inline := strings.TrimSpace(Attr(n, "style")); inline != "" {
		// douceur drops the value of an unterminated last declaration.
		if !strings.HasSuffix(inline, ";") {
			inline += ";"
		}
		if decls, err := parser.ParseDeclarations(inline); err == nil {
			for _, decl := range decls {
				prop := strings.ToLower(decl.Property)
				if important[prop] && !decl.Important {
					continue
				}
				s[prop] = strings.TrimSpace(decl.Value)
			}
		}
	}

	r.cache[n] = s
	return s
}

func (r *sheetResolver) rebuild() {
	r.built = true
	r.gen = r.doc.gen
	r.rules = r.rules[:0]

	order := 0
	Walk(r.doc.root, func(n *html.Node) bool {
		if n.DataAtom != atom.Style {
			return true
		}
		var src strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				src.WriteString(c.Data)
			}
		}
		sheet, err := parser.Parse(src.String())
		if err != nil {
			r.doc.logger.Debug("dom: stylesheet parse failed", "error", err)
			return false
		}
		for _, rule := range sheet.Rules {
			if rule.Kind != css.QualifiedRule {
				continue
			}
			for _, selText := range rule.Selectors {
				sel, err := cascadia.Parse(selText)
				if err != nil {
					continue
				}
				r.rules = append(r.rules, sheetRule{
					sel:   sel,
					spec:  sel.Specificity(),
					order: order,
					decls: rule.Declarations,
				})
				order++
			}
		}
		return false
	})

	sortRules(r.rules)
}

func sortRules(rules []sheetRule) {
	less := func(a, b sheetRule) bool {
		for i := 0; i < 3; i++ {
			if a.spec[i] != b.spec[i] {
				return a.spec[i] < b.spec[i]
			}
		}
		return a.order < b.order
	}
	// Insertion sort: stylesheets on real pages are small enough and the
	// sort must be stable.
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && less(rules[j], rules[j-1]); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// ParsePixels parses a CSS or attribute length such as "200", "200px" or
// "12.5px". Other units return ok=false.
func ParsePixels(v string) (float64, bool) {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimSuffix(v, "px")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
