package remedy

import (
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/scanner"
)

// maxContextText bounds labels taken from surrounding text.
const maxContextText = 50

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// FilenameAlt derives alt text from the last path segment of an image URL:
// "shoe-01.jpg" gives "shoe 01". Purely numeric names give "", marking the
// image decorative.
func FilenameAlt(src string) string {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
		return ""
	}
	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	if un, err := url.PathUnescape(base); err == nil {
		base = un
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	name := humanize(base)
	if strings.IndexFunc(name, unicode.IsLetter) < 0 {
		return ""
	}
	return name
}

// humanize splits identifiers on separators and camel case:
// "first_name" and "firstName" both give "first name".
func humanize(s string) string {
	var sb strings.Builder
	var prev rune
	for i, r := range s {
		switch {
		case r == '-' || r == '_' || r == '.' || r == '+' || unicode.IsSpace(r):
			sb.WriteByte(' ')
		case i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev):
			sb.WriteByte(' ')
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(unicode.ToLower(r))
		}
		prev = r
	}
	return normalize(sb.String())
}

var iconPrefixes = []string{"fa-", "icon-", "bi-", "glyphicon-", "ti-", "la-", "mdi-"}

var iconModifiers = map[string]bool{
	"solid": true, "regular": true, "light": true, "brands": true, "fw": true,
	"lg": true, "sm": true, "xs": true, "2x": true, "3x": true, "spin": true,
}

var iconNames = map[string]string{
	"times": "close", "x": "close", "xmark": "close", "bars": "menu",
	"hamburger": "menu", "magnifying glass": "search", "cart": "shopping cart",
}

// IconHint guesses a name from icon-font class names such as
// "fa-shopping-cart".
func IconHint(n *html.Node) string {
	for _, c := range dom.ClassList(n) {
		c = strings.ToLower(c)
		for _, p := range iconPrefixes {
			rest, ok := strings.CutPrefix(c, p)
			if !ok || rest == "" || iconModifiers[rest] {
				continue
			}
			name := humanize(rest)
			if alias, ok := iconNames[name]; ok {
				name = alias
			}
			return name
		}
	}
	return ""
}

// HrefLabel derives a link name from its target: the last path segment, or
// the host for bare domains.
func HrefLabel(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || href == "" {
		return ""
	}
	if strings.EqualFold(u.Scheme, "mailto") {
		return "Email " + u.Opaque
	}
	if strings.EqualFold(u.Scheme, "tel") {
		return "Call " + u.Opaque
	}
	if seg := path.Base(strings.TrimSuffix(u.Path, "/")); seg != "." && seg != "/" && seg != "" {
		seg = strings.TrimSuffix(seg, path.Ext(seg))
		if h := humanize(seg); scanner.Usable(h) {
			return capitalize(h)
		}
	}
	if u.Fragment != "" {
		if h := humanize(u.Fragment); scanner.Usable(h) {
			return capitalize(h)
		}
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// FrameLabel names an embedded frame after its source.
func FrameLabel(src string) string {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil || u.Hostname() == "" {
		return "Embedded content"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case strings.Contains(host, "youtube") || host == "youtu.be":
		return "YouTube video"
	case strings.Contains(host, "vimeo"):
		return "Vimeo video"
	case strings.Contains(host, "dailymotion"):
		return "Dailymotion video"
	case strings.HasPrefix(host, "maps.google") ||
		strings.Contains(host, "google.") && strings.HasPrefix(u.Path, "/maps"):
		return "Google Maps"
	case strings.Contains(host, "openstreetmap"):
		return "OpenStreetMap map"
	case strings.Contains(host, "spotify"):
		return "Spotify player"
	}
	return "Embedded content from " + host
}

var typeLabels = map[string]string{
	"text": "Text field", "email": "Email address", "password": "Password",
	"search": "Search", "tel": "Phone number", "url": "Web address",
	"number": "Number", "date": "Date", "time": "Time", "checkbox": "Checkbox",
	"radio": "Option", "file": "File upload", "range": "Slider", "color": "Colour",
}

// FieldLabel picks a label for an unlabeled form control: placeholder,
// title, humanized name, the preceding sibling's text, the parent's own
// text, then a label built from the control type.
func FieldLabel(n *html.Node) string {
	for _, a := range []string{"placeholder", "title"} {
		if v := normalize(dom.Attr(n, a)); scanner.Usable(v) {
			return truncate(v, maxNameLength)
		}
	}
	if v := humanize(dom.Attr(n, "name")); scanner.Usable(v) {
		return capitalize(v)
	}
	if v := precedingText(n); scanner.Usable(v) {
		return v
	}
	if p := n.Parent; p != nil {
		if v := normalize(dom.OwnText(p)); scanner.Usable(v) && utf8.RuneCountInString(v) <= maxContextText {
			return strings.TrimRight(v, ": ")
		}
	}
	switch n.DataAtom {
	case atom.Select:
		return "Select an option"
	case atom.Textarea:
		return "Text area"
	}
	typ := strings.ToLower(dom.Attr(n, "type"))
	if typ == "" {
		typ = "text"
	}
	if v, ok := typeLabels[typ]; ok {
		return v
	}
	return "Input field"
}

func precedingText(n *html.Node) string {
	s := n.PrevSibling
	for s != nil && (dom.IsBlankText(s) || s.Type == html.CommentNode) {
		s = s.PrevSibling
	}
	if s == nil {
		return ""
	}
	var v string
	switch s.Type {
	case html.TextNode:
		v = normalize(s.Data)
	case html.ElementNode:
		if scanner.IsFormControl(s) {
			return ""
		}
		v = normalize(dom.Text(s))
	}
	if utf8.RuneCountInString(v) > maxContextText {
		return ""
	}
	return strings.TrimRight(v, ": ")
}
