package livepage

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/remedy"
	"github.com/hazyhaar/a11yfix/session"
)

func el(id proto.DOMNodeID, tag string, attrs []string, children ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{NodeID: id, NodeType: nodeElement, NodeName: strings.ToUpper(tag), LocalName: tag,
		Attributes: attrs, Children: children}
}

func text(id proto.DOMNodeID, s string) *proto.DOMNode {
	return &proto.DOMNode{NodeID: id, NodeType: nodeText, NodeName: "#text", NodeValue: s}
}

// snapshot is what DOM.getDocument returns for
// <html><head></head><body><p id="p"><a href="#s1">1</a>. Overview</p></body></html>.
func snapshot() *proto.DOMNode {
	return &proto.DOMNode{NodeID: 1, NodeType: nodeDocument, NodeName: "#document", Children: []*proto.DOMNode{
		{NodeID: 2, NodeType: nodeDoctype, NodeName: "html"},
		el(3, "html", nil,
			el(4, "head", nil),
			el(5, "body", nil,
				el(6, "p", []string{"id", "p"},
					el(7, "a", []string{"href", "#s1"}, text(8, "1")),
					text(9, ". Overview"),
				),
			),
		),
	}}
}

func newTestMirror(t *testing.T) (*mirror, *dom.Document, *eventloop.Loop) {
	t.Helper()
	loop := eventloop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := newMirror(slog.Default())
	doc := dom.NewDocument(m.reset(snapshot()), loop)
	m.doc = doc
	return m, doc, loop
}

func TestMirrorBuild(t *testing.T) {
	m, doc, _ := newTestMirror(t)
	if got := dom.OuterHTML(doc.Body()); got != `<body><p id="p"><a href="#s1">1</a>. Overview</p></body>` {
		t.Fatalf("body: got %s", got)
	}
	p := dom.ElementByID(doc.Root(), "p")
	if id, ok := m.idOf(p); !ok || id != 6 {
		t.Fatalf("idOf(p): got %d %v, want 6", id, ok)
	}
}

func TestMirrorAppliesPageEvents(t *testing.T) {
	m, doc, loop := newTestMirror(t)
	var records int
	obs := doc.NewMutationObserver(func(recs []dom.MutationRecord, _ *dom.MutationObserver) { records += len(recs) })
	obs.Observe(doc.Root(), dom.ObserveOptions{ChildList: true, Attributes: true, Subtree: true, CharacterData: true})

	loop.Do(func() {
		doc.Remote(func() {
			m.inserted(6, 9, el(10, "button", []string{"class", "buy"}, text(11, "Buy")))
			m.attrModified(7, "class", "active")
			m.textModified(9, ". Intro")
			m.attrRemoved(7, "href")
		})
	})
	p := dom.ElementByID(doc.Root(), "p")
	if got := dom.OuterHTML(p); got != `<p id="p"><a class="active">1</a>. Intro<button class="buy">Buy</button></p>` {
		t.Fatalf("after events: got %s", got)
	}
	if records != 4 {
		t.Fatalf("records: got %d, want 4", records)
	}

	loop.Do(func() { doc.Remote(func() { m.removed(6, 10) }) })
	if _, ok := m.byID[11]; ok {
		t.Fatal("removed subtree still bound")
	}
	if strings.Contains(dom.OuterHTML(p), "button") {
		t.Fatalf("remove: got %s", dom.OuterHTML(p))
	}
}

func TestMirrorAdoptsWrapEcho(t *testing.T) {
	m, doc, loop := newTestMirror(t)
	var requested []proto.DOMNodeID
	m.adopted = func(id proto.DOMNodeID) { requested = append(requested, id) }

	p := dom.ElementByID(doc.Root(), "p")
	tail := p.LastChild
	wrapper := doc.CreateElement("span")
	wrapper.Attr = []html.Attribute{{Key: "aria-hidden", Val: "true"}, {Key: session.GeneratedAttr, Val: ""}}
	loop.Do(func() { doc.Wrap(tail, wrapper) })
	before := dom.OuterHTML(p)

	// The browser reports the replayed wrap: the span is inserted after the
	// link, the text leaves p, then the span's children arrive on request.
	loop.Do(func() {
		doc.Remote(func() {
			m.inserted(6, 7, el(20, "span", []string{"aria-hidden", "true", session.GeneratedAttr, ""}))
			m.removed(6, 9)
		})
	})
	if len(requested) != 1 || requested[0] != 20 {
		t.Fatalf("requested: got %v, want [20]", requested)
	}
	loop.Do(func() { doc.Remote(func() { m.childrenSet(20, []*proto.DOMNode{text(21, ". Overview")}) }) })

	if got := dom.OuterHTML(p); got != before {
		t.Fatalf("echo changed the mirror:\n got %s\nwant %s", got, before)
	}
	if n := m.byID[21]; n != tail {
		t.Fatal("moved text node not rebound")
	}
	if n := m.byID[20]; n != wrapper {
		t.Fatal("wrapper not adopted")
	}
}

func TestMirrorSameValueEchoIsSilent(t *testing.T) {
	m, doc, loop := newTestMirror(t)
	a := dom.Query(doc.Body(), "a")
	loop.Do(func() { doc.SetAttr(a, "aria-label", "Section 1 Overview") })

	var records int
	obs := doc.NewMutationObserver(func(recs []dom.MutationRecord, _ *dom.MutationObserver) { records += len(recs) })
	obs.Observe(doc.Root(), dom.ObserveOptions{Attributes: true, Subtree: true})
	loop.Do(func() { doc.Remote(func() { m.attrModified(7, "aria-label", "Section 1 Overview") }) })
	if records != 0 {
		t.Fatalf("echo produced %d records", records)
	}
}

func TestJournalQueuesReplay(t *testing.T) {
	loop := eventloop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tab := newTab(nil, "https://shop.test/", loop, Config{})
	doc := dom.NewDocument(tab.m.reset(snapshot()), loop)
	tab.m.doc = doc
	tab.doc = doc
	doc.SetJournal(tab)

	a := dom.Query(doc.Body(), "a")
	loop.Do(func() {
		doc.SetAttr(a, "role", "button")
		doc.AddEventListener(a, "keydown", remedy.KeyHandlerTag, func(*dom.Document, *dom.Event) {})
		doc.AddEventListener(a, "keydown", "other", func(*dom.Document, *dom.Event) {})
		doc.RemoveAttr(a, "role")
		doc.SetAttr(doc.CreateElement("div"), "role", "x")
		doc.Remote(func() { doc.SetAttr(a, "class", "from-page") })
	})

	var got []string
	for len(tab.ops) > 0 {
		got = append(got, (<-tab.ops).desc)
	}
	want := []string{"set role", "listen keydown", "remove role"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ops: got %v, want %v", got, want)
	}
}

func TestWrapScript(t *testing.T) {
	got := wrapScript("span", [][2]string{{"aria-hidden", "true"}, {"data-x", `a"b`}})
	for _, want := range []string{`createElement("span")`, `[["aria-hidden","true"],["data-x","a\"b"]]`, "insertBefore(w, this)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("wrapScript: missing %q in %s", want, got)
		}
	}
}

func TestShouldBlock(t *testing.T) {
	blocked := map[string]bool{"fonts": true, "media": true, "images": true, "stylesheets": true}
	cases := map[string]bool{"Font": true, "Media": true, "Image": false, "Stylesheet": false, "Script": false}
	for typ, want := range cases {
		if got := shouldBlock(blocked, typ); got != want {
			t.Fatalf("shouldBlock(%s): got %v, want %v", typ, got, want)
		}
	}
}
