package dom

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/eventloop"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	d, err := ParseString(src, eventloop.NewManual(epoch))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func TestObserverBatchesPerMicrotask(t *testing.T) {
	d := mustParse(t, `<html><body><div id="root"></div></body></html>`)
	root := ElementByID(d.Root(), "root")

	var calls, total int
	obs := d.NewMutationObserver(func(recs []MutationRecord, _ *MutationObserver) {
		calls++
		total += len(recs)
	})
	obs.Observe(d.Body(), ObserveOptions{ChildList: true, Subtree: true})

	d.Loop().Do(func() {
		for i := 0; i < 5; i++ {
			d.AppendChild(root, d.CreateElement("p"))
		}
	})

	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
	if total != 5 {
		t.Fatalf("records: got %d, want 5", total)
	}
}

func TestObserverAttributeFilterAndOldValue(t *testing.T) {
	d := mustParse(t, `<html><body><div id="x" class="a"></div></body></html>`)
	x := ElementByID(d.Root(), "x")

	var got []MutationRecord
	obs := d.NewMutationObserver(func(recs []MutationRecord, _ *MutationObserver) {
		got = append(got, recs...)
	})
	obs.Observe(d.Body(), ObserveOptions{AttributeFilter: []string{"class"}, AttributeOldValue: true, Subtree: true})

	d.Loop().Do(func() {
		d.SetAttr(x, "class", "b")
		d.SetAttr(x, "title", "ignored")
		d.SetAttr(x, "class", "b") // same value
	})

	if len(got) != 1 {
		t.Fatalf("records: got %d, want 1", len(got))
	}
	if got[0].AttributeName != "class" || got[0].OldValue != "a" {
		t.Fatalf("record: got %+v", got[0])
	}
}

func TestObserverDisconnect(t *testing.T) {
	d := mustParse(t, `<html><body></body></html>`)
	calls := 0
	obs := d.NewMutationObserver(func([]MutationRecord, *MutationObserver) { calls++ })
	obs.Observe(d.Body(), ObserveOptions{ChildList: true})
	obs.Disconnect()

	d.Loop().Do(func() { d.AppendChild(d.Body(), d.CreateElement("p")) })
	if calls != 0 {
		t.Fatalf("calls after disconnect: got %d, want 0", calls)
	}
	if obs.Observing() {
		t.Fatal("Observing: got true after Disconnect")
	}
}

type recordingJournal struct {
	ops []string
}

func (j *recordingJournal) AttrSet(n *html.Node, name, value string) {
	j.ops = append(j.ops, "set "+name+"="+value)
}
func (j *recordingJournal) AttrRemoved(n *html.Node, name string) {
	j.ops = append(j.ops, "rm "+name)
}
func (j *recordingJournal) Wrapped(n, w *html.Node) { j.ops = append(j.ops, "wrap "+Tag(w)) }
func (j *recordingJournal) ListenerAdded(n *html.Node, typ, tag string) {
	j.ops = append(j.ops, "listen "+typ+" "+tag)
}

func TestJournalSkipsRemoteWrites(t *testing.T) {
	d := mustParse(t, `<html><body><span id="s">x</span></body></html>`)
	s := ElementByID(d.Root(), "s")
	j := &recordingJournal{}
	d.SetJournal(j)

	d.Remote(func() { d.SetAttr(s, "class", "remote") })
	d.SetAttr(s, "role", "button")
	d.RemoveAttr(s, "class")
	d.AddEventListener(s, "keydown", "kbd", func(*Document, *Event) {})
	d.Wrap(s, d.CreateElement("a"))

	want := []string{"set role=button", "rm class", "listen keydown kbd", "wrap a"}
	if strings.Join(j.ops, "|") != strings.Join(want, "|") {
		t.Fatalf("journal: got %v, want %v", j.ops, want)
	}
	if Tag(s.Parent) != "a" {
		t.Fatalf("parent after wrap: got %q, want a", Tag(s.Parent))
	}
}

func TestDispatchBubbles(t *testing.T) {
	d := mustParse(t, `<html><body><div id="outer"><span id="inner"></span></div></body></html>`)
	outer := ElementByID(d.Root(), "outer")
	inner := ElementByID(d.Root(), "inner")

	var got []string
	d.AddEventListener(outer, "click", "", func(_ *Document, e *Event) {
		got = append(got, "outer:"+Attr(e.Target, "id"))
	})
	d.AddEventListener(inner, "click", "", func(*Document, *Event) { got = append(got, "inner") })

	d.Click(inner)
	if strings.Join(got, ",") != "inner,outer:inner" {
		t.Fatalf("dispatch: got %v", got)
	}
	if !d.HasListener(inner, "click", "") || d.ListenerCount(outer, "click") != 1 {
		t.Fatal("listener bookkeeping mismatch")
	}
}

func TestStyleCascade(t *testing.T) {
	d := mustParse(t, `<html><head><style>
		.loud { font-weight: 700; cursor: pointer }
		#quiet { font-weight: normal }
		.gone { display: none }
	</style></head><body>
		<span class="loud" id="quiet">a</span>
		<span class="loud"><em id="child">b</em></span>
		<b id="b" style="font-weight: 400">c</b>
		<div class="gone" id="gone"></div>
	</body></html>`)

	if d.Style(ElementByID(d.Root(), "quiet")).Bold() {
		t.Fatal("id selector should override class selector")
	}
	child := d.Style(ElementByID(d.Root(), "child"))
	if !child.Bold() || !child.Italic() {
		t.Fatalf("child style: got %v, want inherited bold and italic", child)
	}
	if child.Get("cursor") != "pointer" {
		t.Fatalf("cursor: got %q, want pointer", child.Get("cursor"))
	}
	if d.Style(ElementByID(d.Root(), "b")).Bold() {
		t.Fatal("inline style should override UA default")
	}
	if !d.Style(ElementByID(d.Root(), "gone")).Hidden() {
		t.Fatal("display:none not resolved")
	}
}

func TestInlineStyleLastDeclaration(t *testing.T) {
	d := mustParse(t, `<html><body>
		<div id="click" style="cursor: pointer">x</div>
		<div id="none" style="display:none">y</div>
		<span id="bold" style="color: red; font-weight:bold">z</span>
	</body></html>`)

	if got := d.Style(ElementByID(d.Root(), "click")).Get("cursor"); got != "pointer" {
		t.Fatalf("cursor: got %q, want pointer", got)
	}
	if !d.Style(ElementByID(d.Root(), "none")).Hidden() {
		t.Fatal("display:none without semicolon not resolved")
	}
	st := d.Style(ElementByID(d.Root(), "bold"))
	if !st.Bold() || st.Get("color") != "red" {
		t.Fatalf("bold span: got %v", st)
	}
}

func TestStaticLayout(t *testing.T) {
	d := mustParse(t, `<html><body>
		<img id="a" src="a.png" width="200" height="120">
		<img id="b" src="b.png" style="width: 40px; height: 30px">
		<img id="c" src="c.png" hidden>
	</body></html>`)

	a := d.Rect(ElementByID(d.Root(), "a"))
	if a.Width != 200 || a.Height != 120 {
		t.Fatalf("a: got %+v", a)
	}
	b := d.Rect(ElementByID(d.Root(), "b"))
	if b.Width != 40 || b.Height != 30 {
		t.Fatalf("b: got %+v", b)
	}
	if b.Y <= a.Y {
		t.Fatalf("document order: b.Y=%v a.Y=%v", b.Y, a.Y)
	}
	if c := d.Rect(ElementByID(d.Root(), "c")); c.Width != 0 || c.Height != 0 {
		t.Fatalf("hidden: got %+v, want zero", c)
	}
	if d.PageHeight() <= b.Y {
		t.Fatalf("page height: got %v", d.PageHeight())
	}
}

func TestQueryHelpers(t *testing.T) {
	d := mustParse(t, `<html><body><div id="w" class="btn primary"> Hi <script>x()</script><b>there</b></div><a href="/x">l</a><input type="hidden"></body></html>`)
	w := ElementByID(d.Root(), "w")

	if got := Descriptor(w); got != "div#w.btn.primary" {
		t.Fatalf("Descriptor: got %q", got)
	}
	if got := Text(w); got != "Hi there" {
		t.Fatalf("Text: got %q", got)
	}
	if got := len(QueryAll(d.Root(), "a[href], b")); got != 2 {
		t.Fatalf("QueryAll: got %d, want 2", got)
	}
	if !IsNativelyFocusable(Query(d.Root(), "a")) {
		t.Fatal("anchor with href should be focusable")
	}
	if IsNativelyFocusable(Query(d.Root(), "input")) {
		t.Fatal("hidden input should not be focusable")
	}
	var texts int
	WalkNodes(d.Body(), func(n *html.Node) bool {
		if n.Type == html.TextNode {
			texts++
		}
		return true
	})
	if texts != 4 {
		t.Fatalf("WalkNodes text nodes: got %d, want 4", texts)
	}
	if v, ok := ParsePixels("12.5px"); !ok || v != 12.5 {
		t.Fatalf("ParsePixels: got %v %v", v, ok)
	}
	if _, ok := ParsePixels("3em"); ok {
		t.Fatal("ParsePixels: em should not parse")
	}
}
