package remedy

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/session"
)

// KeyHandlerTag identifies the activation-key listener installed on custom
// controls.
const KeyHandlerTag = "a11yfix-activate"

// maxNameLength bounds names derived from content.
const maxNameLength = 100

// maxEmphasisText bounds the text of elements marked as emphasis.
const maxEmphasisText = 200

func (e *Engine) reportOnly(context.Context, scanner.Issue) (string, error) { return "", nil }

func isNativeInteractive(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button, atom.Input, atom.Select, atom.Textarea, atom.Summary:
		return true
	case atom.A:
		return dom.HasAttr(n, "href")
	}
	return false
}

// fixButton exposes a clickable element as a button.
func (e *Engine) fixButton(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if isNativeInteractive(n) {
		return "", nil
	}
	var done []string
	if e.setIfAbsent(n, "role", "button") {
		done = append(done, `role="button"`)
	}
	done = append(done, e.keyboard(n)...)
	if scanner.AccessibleName(n) == "" {
		name := truncate(normalize(dom.Text(n)), maxNameLength)
		if !scanner.Usable(name) {
			name = "Button"
		}
		e.doc.SetAttr(n, "aria-label", name)
		done = append(done, fmt.Sprintf("aria-label=%q", name))
	}
	return strings.Join(done, ", "), nil
}

// fixKeyboard makes an element with click behaviour operable by keyboard.
func (e *Engine) fixKeyboard(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if !e.hasClickBehaviour(n) {
		return "", nil
	}
	return strings.Join(e.keyboard(n), ", "), nil
}

func (e *Engine) hasClickBehaviour(n *html.Node) bool {
	return dom.HasAttr(n, "onclick") ||
		e.doc.ListenerCount(n, "click") > 0 ||
		e.doc.Style(n).Get("cursor") == "pointer"
}

// keyboard adds tab order and the activation-key handler when missing.
func (e *Engine) keyboard(n *html.Node) []string {
	var done []string
	if !dom.IsNativelyFocusable(n) && e.setIfAbsent(n, "tabindex", "0") {
		done = append(done, `tabindex="0"`)
	}
	if !e.doc.HasListener(n, "keydown", KeyHandlerTag) {
		e.doc.AddEventListener(n, "keydown", KeyHandlerTag, activate(n))
		done = append(done, "Enter/Space handler")
	}
	return done
}

// activate translates Enter and Space into a click on n.
func activate(n *html.Node) func(*dom.Document, *dom.Event) {
	return func(doc *dom.Document, ev *dom.Event) {
		switch ev.Key {
		case "Enter", " ", "Spacebar":
			ev.PreventDefault()
			doc.Click(n)
		}
	}
}

var emphasisDescendants = map[atom.Atom]bool{
	atom.B: true, atom.Strong: true, atom.I: true, atom.Em: true, atom.Mark: true,
}

// fixEmphasis records the inferred emphasis kind without touching the name.
func (e *Engine) fixEmphasis(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	text := normalize(dom.Text(n))
	if text == "" || utf8.RuneCountInString(text) > maxEmphasisText {
		return "", nil
	}
	found := false
	dom.Walk(n, func(c *html.Node) bool {
		if c != n && emphasisDescendants[c.DataAtom] {
			found = true
		}
		return !found
	})
	if found {
		return "", nil
	}
	kind := is.Hint
	if kind != "italic" {
		kind = "bold"
	}
	if !e.set(n, "data-a11y-emphasis", kind) {
		return "", nil
	}
	return "data-a11y-emphasis=" + kind, nil
}

// fixName gives a native control a name from its title, an inner image or
// icon class, or its link target.
func (e *Engine) fixName(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if scanner.AccessibleName(n) != "" {
		return "", nil
	}
	name := e.inferName(n)
	e.doc.SetAttr(n, "aria-label", name)
	return fmt.Sprintf("aria-label=%q", name), nil
}

func (e *Engine) inferName(n *html.Node) string {
	if v := normalize(dom.Attr(n, "title")); scanner.Usable(v) {
		return v
	}
	var name string
	dom.Walk(n, func(c *html.Node) bool {
		if name != "" {
			return false
		}
		switch {
		case c.DataAtom == atom.Img:
			name = FilenameAlt(dom.Attr(c, "src"))
		case c.DataAtom == atom.Title && c.Parent != nil && c.Parent.DataAtom == atom.Svg:
			name = normalize(dom.Text(c))
		}
		if name == "" {
			name = IconHint(c)
		}
		return name == ""
	})
	if scanner.Usable(name) {
		return capitalize(name)
	}
	if n.DataAtom == atom.A {
		if v := HrefLabel(e.resolve(dom.Attr(n, "href"))); v != "" {
			return v
		}
		return "Link"
	}
	if n.DataAtom == atom.Input {
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "submit":
			return "Submit"
		case "reset":
			return "Reset"
		case "image":
			if v := FilenameAlt(dom.Attr(n, "src")); v != "" {
				return capitalize(v)
			}
		}
	}
	return "Button"
}

const newTabSuffix = " (opens in new tab)"

// fixNewTab appends a new-tab warning to the link name.
func (e *Engine) fixNewTab(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	name := scanner.AccessibleName(n)
	if strings.HasSuffix(name, newTabSuffix) {
		return "", nil
	}
	if name == "" {
		name = "Link"
	}
	label := name + newTabSuffix
	e.doc.SetAttr(n, "aria-label", label)
	return fmt.Sprintf("aria-label=%q", label), nil
}

func (e *Engine) fixDisabled(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if !dom.HasAttr(n, "disabled") || !e.setIfAbsent(n, "aria-disabled", "true") {
		return "", nil
	}
	return `aria-disabled="true"`, nil
}

// fixSplitAnchor names the link with the full phrase and hides the
// adjoining text from assistive technology.
func (e *Engine) fixSplitAnchor(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	parent := n.Parent
	if parent == nil {
		return "", fmt.Errorf("split anchor: detached link")
	}
	var texts []*html.Node
	for s := n.NextSibling; s != nil && s.Type == html.TextNode; s = s.NextSibling {
		texts = append(texts, s)
	}
	rest := scanner.AdjoiningText(n)
	if len(texts) == 0 || !scanner.Usable(rest) {
		return "", fmt.Errorf("split anchor: adjoining text is gone")
	}
	phrase := scanner.JoinPhrase(dom.Text(n), rest)
	if is.Hint != "" && is.Hint != phrase {
		e.logger.Debug("remedy: split anchor phrase changed since scan", "was", is.Hint, "now", phrase)
	}

	e.doc.SetAttr(n, "aria-label", phrase)
	wrapper := e.doc.CreateElement("span")
	wrapper.Attr = append(wrapper.Attr,
		html.Attribute{Key: "aria-hidden", Val: "true"},
		html.Attribute{Key: session.GeneratedAttr, Val: "true"},
	)
	// Both ends of the move emit records: the parent loses the text and the
	// wrapper gains it.
	e.sess.Markers.Write(parent, func() {
		e.sess.Markers.Write(wrapper, func() {
			e.doc.Wrap(texts[0], wrapper)
			for _, t := range texts[1:] {
				e.doc.AppendChild(wrapper, t)
			}
		})
	})
	return fmt.Sprintf("aria-label=%q, adjoining text hidden", phrase), nil
}

// fixHeadingLevel repairs a heading jump with aria-level.
func (e *Engine) fixHeadingLevel(_ context.Context, is scanner.Issue) (string, error) {
	if is.Hint == "" {
		return "", nil
	}
	if !e.set(is.Element, "aria-level", is.Hint) {
		return "", nil
	}
	return fmt.Sprintf("aria-level=%q", is.Hint), nil
}

// fixFormLabel labels a field from the first usable source.
func (e *Engine) fixFormLabel(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if strings.TrimSpace(dom.Attr(n, "aria-label")) != "" || strings.TrimSpace(dom.Attr(n, "aria-labelledby")) != "" {
		return "", nil
	}
	label := FieldLabel(n)
	e.doc.SetAttr(n, "aria-label", label)
	return fmt.Sprintf("aria-label=%q", label), nil
}

// fixDisconnectedLabel wires a label to the control that follows it.
func (e *Engine) fixDisconnectedLabel(_ context.Context, is scanner.Issue) (string, error) {
	label := is.Element
	control := is.Related
	if control == nil {
		control = dom.NextElementSibling(label)
	}
	if !scanner.IsFormControl(control) {
		return "", fmt.Errorf("disconnected label: no control follows %s", dom.Descriptor(label))
	}
	if scanner.Labels(label, control) {
		return "", nil
	}
	id := dom.Attr(control, "id")
	if id == "" {
		id = e.ids()
		e.stamp(control, func() { e.doc.SetAttr(control, "id", id) })
	}
	e.doc.SetAttr(label, "for", id)
	return fmt.Sprintf("for=%q", id), nil
}

// fixFrame names an embedded frame after its source.
func (e *Engine) fixFrame(_ context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if strings.TrimSpace(dom.Attr(n, "title")) != "" || strings.TrimSpace(dom.Attr(n, "aria-label")) != "" {
		return "", nil
	}
	title := FrameLabel(e.resolve(dom.Attr(n, "src")))
	e.doc.SetAttr(n, "title", title)
	return fmt.Sprintf("title=%q", title), nil
}
