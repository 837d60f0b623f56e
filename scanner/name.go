package scanner

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
)

// AccessibleName approximates the name assistive technology announces for
// n: aria-labelledby, aria-label, associated label, alt, value for input
// buttons, text content, then title. Glyph-only strings are not names.
func AccessibleName(n *html.Node) string {
	if !dom.IsElement(n) {
		return ""
	}
	if ids := strings.Fields(dom.Attr(n, "aria-labelledby")); len(ids) > 0 {
		root := docRoot(n)
		var parts []string
		for _, id := range ids {
			if ref := dom.ElementByID(root, id); ref != nil {
				if t := dom.Text(ref); t != "" {
					parts = append(parts, t)
				}
			}
		}
		if name := strings.Join(parts, " "); Usable(name) {
			return name
		}
	}
	if v := strings.TrimSpace(dom.Attr(n, "aria-label")); Usable(v) {
		return v
	}
	if IsFormControl(n) {
		if l := LabelFor(n); l != nil {
			if t := dom.Text(l); Usable(t) {
				return t
			}
		}
	}
	switch n.DataAtom {
	case atom.Img, atom.Area:
		if v := strings.TrimSpace(dom.Attr(n, "alt")); Usable(v) {
			return v
		}
	case atom.Input:
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "image":
			if v := strings.TrimSpace(dom.Attr(n, "alt")); Usable(v) {
				return v
			}
		case "button", "submit", "reset":
			if v := strings.TrimSpace(dom.Attr(n, "value")); Usable(v) {
				return v
			}
		}
	}
	if n.DataAtom != atom.Input && n.DataAtom != atom.Select && n.DataAtom != atom.Textarea {
		if t := contentName(n); Usable(t) {
			return t
		}
	}
	if v := strings.TrimSpace(dom.Attr(n, "title")); Usable(v) {
		return v
	}
	return ""
}

// contentName is the text of n with descendant image alts folded in.
func contentName(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			parts = append(parts, c.Data)
			return
		case html.ElementNode:
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				return
			case atom.Img:
				if alt := dom.Attr(c, "alt"); alt != "" {
					parts = append(parts, alt)
				}
				return
			}
			if c != n {
				if v := dom.Attr(c, "aria-label"); v != "" {
					parts = append(parts, v)
					return
				}
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Usable reports whether s contains at least one letter or digit. Strings
// made only of icons, arrows or punctuation are not names.
func Usable(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// IsFormControl reports whether n is a labelable form field.
func IsFormControl(n *html.Node) bool {
	if !dom.IsElement(n) {
		return false
	}
	switch n.DataAtom {
	case atom.Select, atom.Textarea:
		return true
	case atom.Input:
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "hidden", "submit", "button", "reset", "image":
			return false
		}
		return true
	}
	return false
}

// LabelFor returns the label associated with control by for/id or by
// containment, or nil.
func LabelFor(control *html.Node) *html.Node {
	if id := dom.Attr(control, "id"); id != "" {
		var found *html.Node
		dom.Walk(docRoot(control), func(n *html.Node) bool {
			if found != nil {
				return false
			}
			if n.DataAtom == atom.Label && dom.Attr(n, "for") == id {
				found = n
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	for p := control.Parent; p != nil; p = p.Parent {
		if p.DataAtom == atom.Label && p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// Labels reports whether label is wired to control.
func Labels(label, control *html.Node) bool {
	if dom.Contains(label, control) {
		return true
	}
	id := dom.Attr(control, "id")
	return id != "" && dom.Attr(label, "for") == id
}

func docRoot(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}
