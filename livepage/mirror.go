package livepage

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/session"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeCDATA    = 4
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// mirror keeps a dom.Document in step with the tab's DOM and maps CDP node
// ids to mirror nodes. Loop goroutine only.
type mirror struct {
	doc    *dom.Document
	byID   map[proto.DOMNodeID]*html.Node
	ids    map[*html.Node]proto.DOMNodeID
	logger *slog.Logger

	// adopted is called when a node written by the pipeline is matched to
	// its browser counterpart, so its children can be requested.
	adopted func(id proto.DOMNodeID)
}

func newMirror(logger *slog.Logger) *mirror {
	return &mirror{
		byID:   make(map[proto.DOMNodeID]*html.Node),
		ids:    make(map[*html.Node]proto.DOMNodeID),
		logger: logger,
	}
}

// reset discards every mapping and converts the DOM.getDocument root.
func (m *mirror) reset(root *proto.DOMNode) *html.Node {
	clear(m.byID)
	clear(m.ids)
	m.doc = nil
	return m.convert(root)
}

func (m *mirror) idOf(n *html.Node) (proto.DOMNodeID, bool) {
	id, ok := m.ids[n]
	return id, ok
}

func (m *mirror) bind(id proto.DOMNodeID, n *html.Node) {
	m.byID[id] = n
	m.ids[n] = id
}

// unbind forgets the ids of n's subtree, text nodes included.
func (m *mirror) unbind(n *html.Node) {
	dom.WalkNodes(n, func(c *html.Node) bool {
		if id, ok := m.ids[c]; ok {
			delete(m.ids, c)
			delete(m.byID, id)
		}
		return true
	})
}

// convert builds a detached subtree from a CDP node. Frames, templates and
// shadow roots are not mirrored.
func (m *mirror) convert(pn *proto.DOMNode) *html.Node {
	if pn == nil {
		return nil
	}
	var n *html.Node
	switch pn.NodeType {
	case nodeElement:
		tag := strings.ToLower(pn.LocalName)
		if tag == "" {
			tag = strings.ToLower(pn.NodeName)
		}
		n = &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
		for i := 0; i+1 < len(pn.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(pn.Attributes[i]), Val: pn.Attributes[i+1]})
		}
	case nodeText, nodeCDATA:
		n = &html.Node{Type: html.TextNode, Data: pn.NodeValue}
	case nodeComment:
		n = &html.Node{Type: html.CommentNode, Data: pn.NodeValue}
	case nodeDocument:
		n = &html.Node{Type: html.DocumentNode}
	case nodeDoctype:
		n = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(pn.NodeName)}
	default:
		return nil
	}
	m.bind(pn.NodeID, n)
	for _, c := range pn.Children {
		if cn := m.convert(c); cn != nil {
			n.AppendChild(cn)
		}
	}
	return n
}

// inserted applies DOM.childNodeInserted. A generated node the pipeline
// already inserted at that position is adopted instead of duplicated.
func (m *mirror) inserted(parentID, prevID proto.DOMNodeID, pn *proto.DOMNode) {
	parent := m.byID[parentID]
	if parent == nil || pn == nil {
		return
	}
	ref := parent.FirstChild
	if prevID != 0 {
		prev := m.byID[prevID]
		if prev == nil || prev.Parent != parent {
			m.logger.Debug("livepage: insert after unknown sibling", "parent", parentID, "prev", prevID)
			return
		}
		ref = prev.NextSibling
	}
	if ref != nil && m.adoptable(ref, pn) {
		m.adopt(ref, pn)
		return
	}
	if old := m.byID[pn.NodeID]; old != nil {
		m.unbind(old)
	}
	n := m.convert(pn)
	if n == nil {
		return
	}
	m.doc.InsertBefore(parent, n, ref)
}

func (m *mirror) adoptable(local *html.Node, pn *proto.DOMNode) bool {
	if _, mapped := m.ids[local]; mapped || !dom.HasAttr(local, session.GeneratedAttr) {
		return false
	}
	return pn.NodeType == nodeElement && strings.EqualFold(pn.LocalName, local.Data)
}

// adopt binds pn to the existing local node and, when the local node has
// children the browser did not send, asks for them.
func (m *mirror) adopt(local *html.Node, pn *proto.DOMNode) {
	m.bind(pn.NodeID, local)
	if len(pn.Children) > 0 {
		m.setChildren(local, pn.Children)
		return
	}
	if local.FirstChild != nil && m.adopted != nil {
		m.adopted(pn.NodeID)
	}
}

// removed applies DOM.childNodeRemoved. A node the pipeline already moved
// elsewhere is only unbound.
func (m *mirror) removed(parentID, id proto.DOMNodeID) {
	n := m.byID[id]
	if n == nil {
		return
	}
	m.unbind(n)
	if p := m.byID[parentID]; p != nil && n.Parent == p {
		m.doc.RemoveChild(p, n)
	}
}

// childrenSet applies DOM.setChildNodes, sent for nodes whose children were
// not part of the original snapshot.
func (m *mirror) childrenSet(parentID proto.DOMNodeID, nodes []*proto.DOMNode) {
	parent := m.byID[parentID]
	if parent == nil {
		return
	}
	m.setChildren(parent, nodes)
}

func (m *mirror) setChildren(parent *html.Node, nodes []*proto.DOMNode) {
	local := significantChildren(parent)
	if m.matches(local, nodes) {
		for i, pn := range nodes {
			m.bind(pn.NodeID, local[i])
			if len(pn.Children) > 0 {
				m.setChildren(local[i], pn.Children)
			}
		}
		return
	}
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		m.unbind(c)
		m.doc.RemoveChild(parent, c)
		c = next
	}
	for _, pn := range nodes {
		if n := m.convert(pn); n != nil {
			m.doc.AppendChild(parent, n)
		}
	}
}

// matches reports whether unmapped local children line up with nodes.
func (m *mirror) matches(local []*html.Node, nodes []*proto.DOMNode) bool {
	if len(local) != len(nodes) {
		return false
	}
	for i, pn := range nodes {
		n := local[i]
		if _, mapped := m.ids[n]; mapped {
			return false
		}
		switch pn.NodeType {
		case nodeElement:
			if n.Type != html.ElementNode || !strings.EqualFold(pn.LocalName, n.Data) {
				return false
			}
		case nodeText:
			if n.Type != html.TextNode {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// significantChildren skips whitespace-only text, which CDP does not report.
func significantChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !dom.IsBlankText(c) {
			out = append(out, c)
		}
	}
	return out
}

func (m *mirror) attrModified(id proto.DOMNodeID, name, value string) {
	if n := m.byID[id]; n != nil {
		m.doc.SetAttr(n, name, value)
	}
}

func (m *mirror) attrRemoved(id proto.DOMNodeID, name string) {
	if n := m.byID[id]; n != nil {
		m.doc.RemoveAttr(n, name)
	}
}

func (m *mirror) textModified(id proto.DOMNodeID, data string) {
	if n := m.byID[id]; n != nil {
		m.doc.SetText(n, data)
	}
}
