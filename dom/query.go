package dom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	shiori "github.com/go-shiori/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attr returns the value of attribute name, or "".
func Attr(n *html.Node, name string) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return shiori.GetAttribute(n, name)
}

// HasAttr reports whether n carries attribute name.
func HasAttr(n *html.Node, name string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return shiori.HasAttribute(n, name)
}

// LookupAttr returns the attribute value and whether it is present.
func LookupAttr(n *html.Node, name string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	return lookupAttr(n, name)
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Tag returns the lower-case tag name of an element, or "".
func Tag(n *html.Node) string {
	if n == nil {
		return ""
	}
	return shiori.TagName(n)
}

// IsElement reports whether n is an element.
func IsElement(n *html.Node) bool { return n != nil && n.Type == html.ElementNode }

// ClassList splits the class attribute.
func ClassList(n *html.Node) []string {
	return strings.Fields(Attr(n, "class"))
}

// Descriptor returns a short human-readable selector such as
// "div#cart.btn.primary".
func Descriptor(n *html.Node) string {
	if !IsElement(n) {
		if n != nil && n.Type == html.TextNode {
			return "#text"
		}
		return ""
	}
	var sb strings.Builder
	sb.WriteString(shiori.TagName(n))
	if id := shiori.ID(n); id != "" {
		sb.WriteString("#" + id)
	}
	for _, c := range strings.Fields(shiori.ClassName(n)) {
		sb.WriteString("." + c)
	}
	return sb.String()
}

// OuterHTML serialises n.
func OuterHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	return shiori.OuterHTML(n)
}

var skipText = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Template: true, atom.Noscript: true,
}

// Text returns the whitespace-normalised text content of n, ignoring
// script and style content.
func Text(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.ElementNode:
		if skipText[n.DataAtom] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// OwnText returns the normalised text of n's direct text children.
func OwnText(n *html.Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			parts = append(parts, c.Data)
		}
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Walk visits every element under root (root included) in document order.
// Returning false from fn skips the element's descendants.
func Walk(root *html.Node, fn func(n *html.Node) bool) {
	if root == nil {
		return
	}
	if root.Type == html.ElementNode {
		if !fn(root) {
			return
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// WalkNodes is Walk over every node type: text, comments and the rest.
func WalkNodes(root *html.Node, fn func(n *html.Node) bool) {
	if root == nil || !fn(root) {
		return
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		WalkNodes(c, fn)
	}
}

// Elements returns every element under root in document order.
func Elements(root *html.Node) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Contains reports whether n is root or a descendant of root.
func Contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Connected reports whether n is attached to a document node.
func Connected(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

// QueryAll returns the elements under root matching a CSS selector. An
// invalid selector matches nothing.
func QueryAll(root *html.Node, selector string) []*html.Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	return sel.MatchAll(root)
}

// Query returns the first element matching selector, or nil.
func Query(root *html.Node, selector string) *html.Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	return sel.MatchFirst(root)
}

// Matches reports whether n matches selector.
func Matches(n *html.Node, selector string) bool {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return false
	}
	return sel.Match(n)
}

// ElementByID returns the element under root whose id equals id.
func ElementByID(root *html.Node, id string) *html.Node {
	if id == "" {
		return nil
	}
	return findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && Attr(n, "id") == id
	})
}

// NextElementSibling returns the next element sibling of n.
func NextElementSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// PreviousElementSibling returns the previous element sibling of n.
func PreviousElementSibling(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// IsBlankText reports whether n is a whitespace-only text node.
func IsBlankText(n *html.Node) bool {
	return n != nil && n.Type == html.TextNode && strings.TrimSpace(n.Data) == ""
}

// IsNativelyFocusable reports whether the element takes focus without a
// tabindex attribute.
func IsNativelyFocusable(n *html.Node) bool {
	if !IsElement(n) {
		return false
	}
	switch n.DataAtom {
	case atom.A, atom.Area:
		return HasAttr(n, "href")
	case atom.Button, atom.Select, atom.Textarea, atom.Iframe, atom.Summary:
		return !HasAttr(n, "disabled")
	case atom.Input:
		return !strings.EqualFold(Attr(n, "type"), "hidden") && !HasAttr(n, "disabled")
	}
	ce := strings.ToLower(Attr(n, "contenteditable"))
	return HasAttr(n, "contenteditable") && ce != "false"
}
