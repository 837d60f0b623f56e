package remedy

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/caption"
	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/session"
)

type harness struct {
	doc   *dom.Document
	loop  *eventloop.Loop
	sess  *session.Session
	e     *Engine
	async []FixLog
}

func newHarness(t *testing.T, body string, opts ...Option) *harness {
	t.Helper()
	loop := eventloop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	doc, err := dom.ParseString("<html><body>"+body+"</body></html>", loop)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	h := &harness{doc: doc, loop: loop, sess: session.New(doc)}
	opts = append([]Option{WithAsyncFix(func(l FixLog) { h.async = append(h.async, l) })}, opts...)
	h.e = New(h.sess, opts...)
	t.Cleanup(h.e.Close)
	return h
}

func (h *harness) byID(id string) *html.Node { return dom.ElementByID(h.doc.Root(), id) }

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (h *harness) scan(full bool) []scanner.Issue {
	sc := scanner.New(h.doc, scanner.WithSampler(scanner.Always()))
	return sc.Scan(context.Background(), h.doc.Body(), scanner.ScanOptions{Full: full})
}

func (h *harness) applyAll(issues []scanner.Issue) []FixLog {
	var logs []FixLog
	h.loop.Do(func() { logs = h.e.ApplyAll(context.Background(), issues) })
	return logs
}

func TestScenarioClickableDiv(t *testing.T) {
	h := newHarness(t, `<div id="buy" onclick="buy()">Buy Now</div>`)
	logs := h.applyAll(h.scan(false))

	n := h.byID("buy")
	if got := dom.Attr(n, "role"); got != "button" {
		t.Fatalf("role: got %q, want button", got)
	}
	if got := dom.Attr(n, "tabindex"); got != "0" {
		t.Fatalf("tabindex: got %q, want 0", got)
	}
	if got := h.doc.ListenerCount(n, "keydown"); got != 1 {
		t.Fatalf("keydown listeners: got %d, want 1", got)
	}
	if got := scanner.AccessibleName(n); got != "Buy Now" {
		t.Fatalf("name: got %q, want %q", got, "Buy Now")
	}
	if !dom.HasAttr(n, session.MarkerAttr) {
		t.Fatal("fixed element must carry the marker attribute")
	}
	if len(logs) != 1 || logs[0].Type != scanner.NonSemanticButton {
		t.Fatalf("logs: got %+v, want one non-semantic-button entry", logs)
	}
}

func TestActivationKeysClick(t *testing.T) {
	h := newHarness(t, `<div id="buy" onclick="buy()">Buy Now</div>`)
	h.applyAll(h.scan(false))
	n := h.byID("buy")

	clicks := 0
	h.doc.AddEventListener(n, "click", "", func(*dom.Document, *dom.Event) { clicks++ })
	for _, key := range []string{"Enter", " ", "a"} {
		h.doc.Dispatch(n, &dom.Event{Type: "keydown", Key: key})
	}
	if clicks != 2 {
		t.Fatalf("clicks: got %d, want 2", clicks)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	h := newHarness(t, `<div id="buy" onclick="buy()">Buy Now</div>`)
	issues := h.scan(false)

	first := h.applyAll(issues)
	before := h.doc.String()
	second := h.applyAll(issues)

	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("logs: first=%d second=%d, want 1 and 0", len(first), len(second))
	}
	if h.doc.String() != before {
		t.Fatal("second application changed the document")
	}
	if got := h.doc.ListenerCount(h.byID("buy"), "keydown"); got != 1 {
		t.Fatalf("keydown listeners after second pass: got %d, want 1", got)
	}
}

func TestPartialPriorApplicationIsCompleted(t *testing.T) {
	h := newHarness(t, `<div id="x" role="button" onclick="go()">Go</div>`)
	n := h.byID("x")
	var log *FixLog
	h.loop.Do(func() {
		log = h.e.Apply(context.Background(), scanner.Issue{Element: n, Type: scanner.KeyboardAccess})
	})
	if log == nil {
		t.Fatal("keyboard fix: got nil log")
	}
	if dom.Attr(n, "tabindex") != "0" || h.doc.ListenerCount(n, "keydown") != 1 {
		t.Fatalf("keyboard fix incomplete: %s", h.doc.String())
	}

	h.loop.Do(func() {
		log = h.e.Apply(context.Background(), scanner.Issue{Element: n, Type: scanner.NonSemanticButton})
	})
	if log != nil {
		t.Fatalf("button fix with nothing left to do: got %+v", log)
	}
	if h.doc.ListenerCount(n, "keydown") != 1 {
		t.Fatal("handler duplicated")
	}
}

func TestKeyboardAccessNeedsClickBehaviour(t *testing.T) {
	h := newHarness(t, `<div id="x">static</div>`)
	var log *FixLog
	h.loop.Do(func() {
		log = h.e.Apply(context.Background(), scanner.Issue{Element: h.byID("x"), Type: scanner.KeyboardAccess})
	})
	if log != nil || dom.HasAttr(h.byID("x"), "tabindex") {
		t.Fatal("element without click behaviour must be left alone")
	}
}

func TestScenarioCaptionedAlt(t *testing.T) {
	var calls atomic.Int32
	d := caption.Func(func(_ context.Context, imageURL string) (string, error) {
		calls.Add(1)
		if imageURL != "https://shop.test/img/shoe.jpg" {
			t.Errorf("url: got %q", imageURL)
		}
		return "Red running shoe", nil
	})
	h := newHarness(t, `<img id="shoe" src="img/shoe.jpg" width="200" height="200">`,
		WithDescriber(d), WithBaseURL(mustURL(t, "https://shop.test/")))

	if logs := h.applyAll(h.scan(true)); len(logs) != 0 {
		t.Fatalf("sync logs: got %d, want 0 while the caption is pending", len(logs))
	}
	if h.e.Inflight() != 1 {
		t.Fatalf("inflight: got %d, want 1", h.e.Inflight())
	}
	h.loop.Settle()

	img := h.byID("shoe")
	if got := dom.Attr(img, "alt"); got != "Red running shoe" {
		t.Fatalf("alt: got %q, want %q", got, "Red running shoe")
	}
	if len(h.async) != 1 {
		t.Fatalf("async logs: got %d, want 1", len(h.async))
	}

	var again *FixLog
	h.loop.Do(func() {
		again = h.e.Apply(context.Background(), scanner.Issue{Element: img, Type: scanner.MissingAlt})
	})
	h.loop.Settle()
	if again != nil || calls.Load() != 1 || len(h.async) != 1 {
		t.Fatalf("second pass: log=%v calls=%d async=%d", again, calls.Load(), len(h.async))
	}
	for _, is := range h.scan(true) {
		if is.Element == img {
			t.Fatalf("rescan flagged the captioned image: %v", is)
		}
	}
}

func TestScenarioCaptionTimeoutsFallBackToFileName(t *testing.T) {
	var calls atomic.Int32
	slow := caption.Func(func(ctx context.Context, _ string) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := caption.NewResilient(slow, caption.WithTimeout(2*time.Millisecond), caption.WithRetries(2, time.Millisecond))
	h := newHarness(t, `<img id="a" src="/media/shoe-01.jpg" width="200" height="200">`+
		`<img id="b" src="/media/12345.jpg" width="200" height="200">`, WithDescriber(r))

	h.applyAll(h.scan(true))
	h.loop.Settle()

	if got := dom.Attr(h.byID("a"), "alt"); got != "shoe 01" {
		t.Fatalf("alt: got %q, want %q", got, "shoe 01")
	}
	b := h.byID("b")
	if alt, ok := dom.LookupAttr(b, "alt"); !ok || alt != "" {
		t.Fatalf("numeric file name: got alt=%q present=%v, want empty and present", alt, ok)
	}
	if calls.Load() != 6 {
		t.Fatalf("attempts: got %d, want 3 per image", calls.Load())
	}
	for _, is := range h.scan(true) {
		if is.Element == b {
			t.Fatal("decorative image must not be flagged again")
		}
	}
}

func TestAltResolutionOrder(t *testing.T) {
	var calls atomic.Int32
	d := caption.Func(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "never", nil
	})
	h := newHarness(t, `<img id="l" src="x.png" aria-label="Logo"><img id="t" src="y.png" title="Team photo">`+
		`<img id="icon" src="search-icon.svg" width="16" height="16"><img id="data" src="data:image/png;base64,AAAA" width="300" height="300">`,
		WithDescriber(d))
	h.applyAll(h.scan(true))
	h.loop.Settle()

	want := map[string]string{"l": "Logo", "t": "Team photo", "icon": "search icon", "data": ""}
	for id, alt := range want {
		if got, ok := dom.LookupAttr(h.byID(id), "alt"); !ok || got != alt {
			t.Fatalf("%s alt: got %q (present=%v), want %q", id, got, ok, alt)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("captioning calls: got %d, want 0", calls.Load())
	}
}

func TestScenarioDisconnectedLabel(t *testing.T) {
	h := newHarness(t, `<label id="lbl">Email</label><input type="email">`, WithIDs(func() string { return "a11y-test0001" }))
	h.applyAll(h.scan(false))

	lbl := h.byID("lbl")
	input := dom.NextElementSibling(lbl)
	if got := dom.Attr(input, "id"); got != "a11y-test0001" {
		t.Fatalf("input id: got %q", got)
	}
	if got := dom.Attr(lbl, "for"); got != "a11y-test0001" {
		t.Fatalf("label for: got %q, want the input id", got)
	}
	if got := scanner.AccessibleName(input); got != "Email" {
		t.Fatalf("input name: got %q, want Email", got)
	}
}

func TestFormLabelFallbacks(t *testing.T) {
	h := newHarness(t, `<input id="a" name="first_name">`+
		`<div><span>Postcode</span><input id="b"></div>`+
		`<div>Phone: <input id="c"></div>`+
		`<div><input id="d" type="password"></div>`)
	h.applyAll(h.scan(false))

	want := map[string]string{"a": "First name", "b": "Postcode", "c": "Phone", "d": "Password"}
	for id, label := range want {
		if got := dom.Attr(h.byID(id), "aria-label"); got != label {
			t.Fatalf("%s aria-label: got %q, want %q", id, got, label)
		}
	}
}

func TestSplitAnchor(t *testing.T) {
	h := newHarness(t, `<li id="li"><a id="a" href="#s1">1</a>. Overview</li>`)
	h.applyAll(h.scan(false))

	a := h.byID("a")
	if got := dom.Attr(a, "aria-label"); got != "1. Overview" {
		t.Fatalf("aria-label: got %q", got)
	}
	wrapper := a.NextSibling
	if dom.Tag(wrapper) != "span" || dom.Attr(wrapper, "aria-hidden") != "true" || !dom.HasAttr(wrapper, session.GeneratedAttr) {
		t.Fatalf("wrapper: got %s", h.doc.String())
	}
	if dom.Text(wrapper) != ". Overview" {
		t.Fatalf("wrapped text: got %q", dom.Text(wrapper))
	}
	if !h.sess.Markers.Recent(wrapper) || !h.sess.Markers.Recent(h.byID("li")) {
		t.Fatal("both ends of the text move should be marked as written")
	}
	for _, is := range h.scan(true) {
		if is.Element == a {
			t.Fatalf("rescan flagged the link again: %v", is)
		}
	}
}

func TestNamesAndStates(t *testing.T) {
	h := newHarness(t, `<button id="close" class="fa fa-times"></button>`+
		`<a id="cart" href="/shop/cart"><i class="icon"></i></a>`+
		`<a id="ext" href="https://example.org" target="_blank">Docs</a>`+
		`<button id="off" disabled>Send</button>`+
		`<iframe id="yt" src="https://www.youtube.com/embed/abc"></iframe>`+
		`<iframe id="other" src="https://widgets.example.net/w"></iframe>`+
		`<h1>T</h1><h2>A</h2><h4 id="deep">B</h4>`)
	h.applyAll(h.scan(true))

	checks := []struct{ id, attr, want string }{
		{"close", "aria-label", "Close"},
		{"cart", "aria-label", "Cart"},
		{"ext", "aria-label", "Docs (opens in new tab)"},
		{"off", "aria-disabled", "true"},
		{"yt", "title", "YouTube video"},
		{"other", "title", "Embedded content from widgets.example.net"},
		{"deep", "aria-level", "3"},
	}
	for _, c := range checks {
		if got := dom.Attr(h.byID(c.id), c.attr); got != c.want {
			t.Fatalf("%s %s: got %q, want %q", c.id, c.attr, got, c.want)
		}
	}
	if issues := h.scan(true); len(issues) != 0 {
		t.Fatalf("rescan: got %v, want none", issues)
	}
}

func TestEmphasisMarker(t *testing.T) {
	h := newHarness(t, `<span id="s">Sale ends today</span>`)
	n := h.byID("s")
	var log *FixLog
	h.loop.Do(func() {
		log = h.e.Apply(context.Background(), scanner.Issue{Element: n, Type: scanner.CSSEmphasis, Hint: "italic"})
	})
	if log == nil || dom.Attr(n, "data-a11y-emphasis") != "italic" {
		t.Fatalf("emphasis: got %s", h.doc.String())
	}
	if dom.HasAttr(n, "aria-label") {
		t.Fatal("emphasis fix must not change the accessible name")
	}
}

func TestFailedFixDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t, `<label id="lbl">Orphan</label><p>no control</p><div id="buy" onclick="x()">Buy</div>`)
	issues := []scanner.Issue{
		{Element: h.byID("lbl"), Type: scanner.DisconnectedLabel},
		{Element: h.byID("buy"), Type: scanner.NonSemanticButton},
	}
	logs := h.applyAll(issues)
	if len(logs) != 1 || logs[0].Type != scanner.NonSemanticButton {
		t.Fatalf("logs: got %+v, want only the button fix", logs)
	}
	if h.sess.Processed.HasIssue(h.byID("lbl"), string(scanner.DisconnectedLabel)) {
		t.Fatal("failed fix must not be marked processed")
	}
}

func TestWritesAreMarked(t *testing.T) {
	h := newHarness(t, `<div id="buy" onclick="buy()">Buy Now</div>`)
	n := h.byID("buy")
	h.applyAll(h.scan(false))
	if !h.sess.Markers.Recent(n) {
		t.Fatal("fixed element must be recently written after the fix")
	}
	h.loop.Advance(h.sess.Markers.Decay())
	if h.sess.Markers.Recent(n) {
		t.Fatal("recent marker must decay")
	}
}

func TestFilenameAlt(t *testing.T) {
	cases := map[string]string{
		"shoe-01.jpg":                          "shoe 01",
		"12345.jpg":                            "",
		"https://cdn.test/a/Red_Shoe.png?w=20": "red shoe",
		"/img/teamPhoto%202024.webp":           "team photo 2024",
		"":                                     "",
	}
	for in, want := range cases {
		if got := FilenameAlt(in); got != want {
			t.Fatalf("FilenameAlt(%q): got %q, want %q", in, got, want)
		}
	}
}
