// Package scanner detects accessibility defects in a document subtree and
// returns them deduplicated and ordered by priority.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/session"
)

// DefaultMinAltSize is the edge length in pixels above which an image with
// an empty alt is assumed not to be decorative.
const DefaultMinAltSize = 100

// maxSplitAnchorText is the longest anchor text treated as a fragment.
const maxSplitAnchorText = 3

// Validator is an external rule engine whose findings are merged into full
// scans.
type Validator interface {
	Validate(ctx context.Context, doc *dom.Document, root *html.Node) ([]Issue, error)
}

// ScanOptions selects the passes to run.
type ScanOptions struct {
	// Full adds the document structure pass and the validator. Incremental
	// scans run the element and form passes only.
	Full bool
}

// Scanner classifies issues. Its only state is configuration.
type Scanner struct {
	doc        *dom.Document
	sampler    Sampler
	validator  Validator
	logger     *slog.Logger
	minAltSize float64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSampler sets the style-check sampler.
func WithSampler(s Sampler) Option { return func(sc *Scanner) { sc.sampler = s } }

// WithValidator sets the external validator used by full scans.
func WithValidator(v Validator) Option { return func(sc *Scanner) { sc.validator = v } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(sc *Scanner) { sc.logger = l } }

// WithMinAltSize overrides DefaultMinAltSize.
func WithMinAltSize(px float64) Option { return func(sc *Scanner) { sc.minAltSize = px } }

// New creates a scanner for doc.
func New(doc *dom.Document, opts ...Option) *Scanner {
	s := &Scanner{
		doc:        doc,
		logger:     slog.Default(),
		minAltSize: DefaultMinAltSize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sampler == nil {
		s.sampler = NewRateSampler(DefaultSampleRate, 1)
	}
	return s
}

// scan is the per-call accumulator. It is discarded when Scan returns.
type scan struct {
	*Scanner
	issues []Issue
	seen   map[issueKey]struct{}
}

type issueKey struct {
	n   *html.Node
	typ IssueType
}

func (s *scan) add(is Issue) {
	k := issueKey{is.Element, is.Type}
	if _, dup := s.seen[k]; dup {
		return
	}
	s.seen[k] = struct{}{}
	s.issues = append(s.issues, is)
}

// Scan inspects root and returns its issues, lowest priority value first
// and in detection order within a priority.
func (sc *Scanner) Scan(ctx context.Context, root *html.Node, opts ScanOptions) []Issue {
	if root == nil {
		return nil
	}
	s := &scan{Scanner: sc, seen: make(map[issueKey]struct{})}

	s.walk(root, s.checkElement)
	s.walk(root, s.checkForm)

	if opts.Full {
		s.checkStructure()
		if sc.validator != nil {
			found, err := sc.validator.Validate(ctx, sc.doc, root)
			if err != nil {
				sc.logger.Warn("scanner: validator failed", "error", err)
			}
			for _, is := range found {
				if is.Element != nil && !generated(is.Element) {
					s.add(is)
				}
			}
		}
	}

	slices.SortStableFunc(s.issues, func(a, b Issue) int { return int(a.Priority) - int(b.Priority) })
	sc.logger.Debug("scanner: scan done", "root", dom.Descriptor(root), "full", opts.Full, "issues", len(s.issues))
	return s.issues
}

// walk visits the elements under root that belong to page content.
func (s *scan) walk(root *html.Node, fn func(*html.Node)) {
	dom.Walk(root, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript:
			return false
		}
		if dom.HasAttr(n, session.GeneratedAttr) || dom.HasAttr(n, "hidden") || dom.Attr(n, "aria-hidden") == "true" {
			return false
		}
		fn(n)
		return true
	})
}

func generated(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if dom.HasAttr(p, session.GeneratedAttr) {
			return true
		}
	}
	return false
}

// checkElement runs the per-element heuristics.
func (s *scan) checkElement(n *html.Node) {
	if s.clickable(n) {
		if !isNativeControl(n) && !dom.HasAttr(n, "role") {
			s.add(newIssue(n, NonSemanticButton, "clickable element is not exposed as a control"))
		}
		if !dom.IsNativelyFocusable(n) && !dom.HasAttr(n, "tabindex") {
			s.add(newIssue(n, KeyboardAccess, "clickable element cannot be reached with the keyboard"))
		}
	}

	if s.sampler.Sample() {
		if kind := s.emphasis(n); kind != "" {
			is := newIssue(n, CSSEmphasis, kind+" styling without semantic emphasis")
			is.Hint = kind
			s.add(is)
		}
	}

	if n.DataAtom == atom.Img {
		s.checkImage(n)
	}

	if needsName(n) && AccessibleName(n) == "" {
		s.add(newIssue(n, MissingName, "interactive element has no accessible name"))
	}

	if n.DataAtom == atom.A && strings.EqualFold(dom.Attr(n, "target"), "_blank") && !warnsNewTab(n) {
		s.add(newIssue(n, NewTabLink, "link opens a new tab without saying so"))
	}

	if dom.HasAttr(n, "disabled") && !dom.HasAttr(n, "aria-disabled") {
		s.add(newIssue(n, DisabledState, "disabled element does not expose aria-disabled"))
	}

	if phrase, ok := splitAnchor(n); ok {
		is := newIssue(n, SplitAnchor, "link text only makes sense with the adjoining text")
		is.Hint = phrase
		s.add(is)
	}

	if (n.DataAtom == atom.Iframe || n.DataAtom == atom.Frame) && frameName(n) == "" {
		s.add(newIssue(n, FrameMissingName, "embedded frame has no accessible name"))
	}
}

var nativeControls = map[atom.Atom]bool{
	atom.A: true, atom.Button: true, atom.Input: true, atom.Select: true,
	atom.Textarea: true, atom.Summary: true, atom.Label: true, atom.Option: true,
}

func isNativeControl(n *html.Node) bool { return nativeControls[n.DataAtom] }

// genericContainers may be treated as clickable on cursor style alone.
var genericContainers = map[atom.Atom]bool{
	atom.Div: true, atom.Span: true, atom.Li: true, atom.Td: true,
	atom.P: true, atom.Section: true, atom.Article: true,
}

// clickable reports an inline click handler, a registered click listener,
// or a pointer cursor set on a generic container itself (not inherited and
// not inside a link or button).
func (s *scan) clickable(n *html.Node) bool {
	if dom.HasAttr(n, "onclick") || s.doc.ListenerCount(n, "click") > 0 {
		return true
	}
	if !genericContainers[n.DataAtom] {
		return false
	}
	if s.doc.Style(n).Get("cursor") != "pointer" {
		return false
	}
	if p := n.Parent; dom.IsElement(p) && s.doc.Style(p).Get("cursor") == "pointer" {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.DataAtom == atom.A || p.DataAtom == atom.Button {
			return false
		}
	}
	return true
}

var emphasisTags = map[atom.Atom]bool{
	atom.B: true, atom.Strong: true, atom.I: true, atom.Em: true,
	atom.Mark: true, atom.Cite: true, atom.Dfn: true, atom.Var: true,
	atom.Address: true, atom.Th: true, atom.Caption: true, atom.Legend: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// emphasis returns "bold" or "italic" when n is styled that way by CSS
// rather than by markup, or "".
func (s *scan) emphasis(n *html.Node) string {
	if emphasisTags[n.DataAtom] || dom.OwnText(n) == "" {
		return ""
	}
	if dom.HasAttr(n, "data-a11y-emphasis") {
		return ""
	}
	st := s.doc.Style(n)
	// Compare against the nearest ancestor that shows text of its own:
	// wrappers without text emphasise nothing.
	var parent dom.Style
	for p := n.Parent; dom.IsElement(p); p = p.Parent {
		if dom.OwnText(p) != "" {
			parent = s.doc.Style(p)
			break
		}
	}
	switch {
	case st.Bold() && !parent.Bold():
		return "bold"
	case st.Italic() && !parent.Italic():
		return "italic"
	}
	return ""
}

func needsName(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button, atom.Summary:
		return true
	case atom.A:
		return dom.HasAttr(n, "href")
	case atom.Input:
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "button", "submit", "reset", "image":
			return true
		}
	}
	return false
}

var newTabPhrases = []string{"new tab", "new window", "opens in", "external", "nouvel onglet", "nouvelle fenêtre"}

func warnsNewTab(n *html.Node) bool {
	text := strings.ToLower(AccessibleName(n) + " " + dom.Text(n) + " " + dom.Attr(n, "title") + " " + dom.Attr(n, "aria-describedby"))
	for _, p := range newTabPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// splitAnchor detects a short link fragment whose meaning lives in the text
// right after it, as in <li><a href="#s1">1</a>. Overview</li>. It returns
// the combined phrase.
func splitAnchor(n *html.Node) (string, bool) {
	if n.DataAtom != atom.A || !dom.HasAttr(n, "href") || dom.HasAttr(n, "aria-label") {
		return "", false
	}
	text := dom.Text(n)
	if text == "" || utf8.RuneCountInString(text) > maxSplitAnchorText {
		return "", false
	}
	rest := AdjoiningText(n)
	if !Usable(rest) {
		return "", false
	}
	return JoinPhrase(text, rest), true
}

// AdjoiningText returns the normalised text of the text nodes directly
// following n, up to the next element.
func AdjoiningText(n *html.Node) string {
	var parts []string
	for s := n.NextSibling; s != nil && s.Type == html.TextNode; s = s.NextSibling {
		parts = append(parts, s.Data)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// JoinPhrase joins a link fragment with its adjoining text, without a space
// before leading punctuation.
func JoinPhrase(text, rest string) string {
	if rest == "" {
		return text
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if strings.ContainsRune(".,:;)-–", r) {
		return text + rest
	}
	return text + " " + rest
}

func frameName(n *html.Node) string {
	for _, a := range []string{"title", "aria-label"} {
		if v := strings.TrimSpace(dom.Attr(n, a)); v != "" {
			return v
		}
	}
	return AccessibleName(n)
}

// checkForm runs the form heuristics.
func (s *scan) checkForm(n *html.Node) {
	if IsFormControl(n) && !hasFormLabel(n) {
		s.add(newIssue(n, UnlabeledForm, "form field has no label"))
	}
	if n.DataAtom == atom.Label {
		next := dom.NextElementSibling(n)
		if IsFormControl(next) && !Labels(n, next) && !containsControl(n) {
			is := newIssue(n, DisconnectedLabel, "label is not associated with the field after it")
			is.Related = next
			s.add(is)
		}
	}
}

func hasFormLabel(n *html.Node) bool {
	for _, a := range []string{"aria-label", "aria-labelledby", "placeholder"} {
		if strings.TrimSpace(dom.Attr(n, a)) != "" {
			return true
		}
	}
	return LabelFor(n) != nil
}

func containsControl(label *html.Node) bool {
	found := false
	dom.Walk(label, func(c *html.Node) bool {
		if c != label && IsFormControl(c) {
			found = true
		}
		return !found
	})
	return found
}

// checkStructure runs the whole-document pass.
func (s *scan) checkStructure() {
	var headings []*html.Node
	s.walk(s.doc.Root(), func(n *html.Node) {
		if HeadingLevel(n) > 0 {
			headings = append(headings, n)
		}
	})

	if len(headings) == 0 {
		return
	}
	hasH1 := slices.ContainsFunc(headings, func(h *html.Node) bool { return HeadingLevel(h) == 1 })
	if !hasH1 {
		s.add(newIssue(headings[0], MissingH1, "page has headings but no top-level heading"))
	}
	prev := 0
	for _, h := range headings {
		level := HeadingLevel(h)
		if prev > 0 && level > prev+1 {
			is := newIssue(h, HeadingSkip, fmt.Sprintf("heading level jumps from %d to %d", prev, level))
			is.Hint = strconv.Itoa(prev + 1)
			s.add(is)
			level = prev + 1
		}
		prev = level
	}
}

func (s *scan) checkImage(n *html.Node) {
	switch dom.Attr(n, "role") {
	case "presentation", "none":
		return
	}
	alt, ok := dom.LookupAttr(n, "alt")
	if !ok {
		s.add(newIssue(n, MissingAlt, "image has no alt attribute"))
		return
	}
	if strings.TrimSpace(alt) != "" || dom.HasAttr(n, session.MarkerAttr) {
		return
	}
	r := s.doc.Rect(n)
	if r.Width >= s.minAltSize && r.Height >= s.minAltSize {
		s.add(newIssue(n, MissingAlt, "large image has empty alt"))
	}
}

// HeadingLevel returns the effective level of a heading element (aria-level
// overrides the tag), or 0.
func HeadingLevel(n *html.Node) int {
	level := 0
	switch n.DataAtom {
	case atom.H1:
		level = 1
	case atom.H2:
		level = 2
	case atom.H3:
		level = 3
	case atom.H4:
		level = 4
	case atom.H5:
		level = 5
	case atom.H6:
		level = 6
	default:
		if dom.Attr(n, "role") != "heading" {
			return 0
		}
		level = 2
	}
	if v, err := strconv.Atoi(dom.Attr(n, "aria-level")); err == nil && v >= 1 {
		level = v
	}
	return level
}
