package session

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/internal/weakmap"
)

// Processed records handled (element, issue type) and (element, attribute)
// pairs. Entries go away with their element.
type Processed struct {
	issues weakmap.Map[html.Node, map[string]struct{}]
	attrs  weakmap.Map[html.Node, map[string]struct{}]
}

// HasIssue reports whether issue typ was already handled on n.
func (p *Processed) HasIssue(n *html.Node, typ string) bool {
	return has(&p.issues, n, typ)
}

// MarkIssue records typ as handled on n. It reports false when the pair was
// already present.
func (p *Processed) MarkIssue(n *html.Node, typ string) bool {
	return mark(&p.issues, n, typ)
}

// HasAttr reports whether attr was already written on n by the enricher.
func (p *Processed) HasAttr(n *html.Node, attr string) bool {
	return has(&p.attrs, n, attr)
}

// MarkAttr records attr as written on n. It reports false when the pair was
// already present.
func (p *Processed) MarkAttr(n *html.Node, attr string) bool {
	return mark(&p.attrs, n, attr)
}

// Len returns the number of elements with at least one handled pair.
func (p *Processed) Len() int {
	return p.issues.Len() + p.attrs.Len()
}

// Reset forgets everything.
func (p *Processed) Reset() {
	p.issues.Clear()
	p.attrs.Clear()
}

func has(m *weakmap.Map[html.Node, map[string]struct{}], n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	set, ok := m.Load(n)
	if !ok {
		return false
	}
	_, ok = set[key]
	return ok
}

func mark(m *weakmap.Map[html.Node, map[string]struct{}], n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	added := false
	m.Update(n, func(set map[string]struct{}, _ bool) map[string]struct{} {
		if set == nil {
			set = make(map[string]struct{}, 2)
		}
		if _, ok := set[key]; !ok {
			set[key] = struct{}{}
			added = true
		}
		return set
	})
	return added
}
