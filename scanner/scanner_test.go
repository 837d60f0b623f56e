package scanner

import (
	"context"
	"testing"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
)

func parse(t *testing.T, body string) *dom.Document {
	t.Helper()
	loop := eventloop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	doc, err := dom.ParseString("<html><head><style>.card{cursor:pointer}.lead{font-weight:bold}.aside{font-style:italic}</style></head><body>"+body+"</body></html>", loop)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func scanAll(t *testing.T, doc *dom.Document, full bool, opts ...Option) []Issue {
	t.Helper()
	opts = append([]Option{WithSampler(Always())}, opts...)
	return New(doc, opts...).Scan(context.Background(), doc.Body(), ScanOptions{Full: full})
}

func types(issues []Issue, id string) []IssueType {
	var out []IssueType
	for _, is := range issues {
		if dom.Attr(is.Element, "id") == id {
			out = append(out, is.Type)
		}
	}
	return out
}

func has(issues []Issue, id string, typ IssueType) bool {
	for _, got := range types(issues, id) {
		if got == typ {
			return true
		}
	}
	return false
}

func TestClickableDivYieldsButtonAndKeyboardIssues(t *testing.T) {
	doc := parse(t, `<div id="buy" class="card" onclick="buy()">Buy Now</div>`)
	issues := scanAll(t, doc, false)

	got := types(issues, "buy")
	if len(got) != 2 || got[0] != NonSemanticButton || got[1] != KeyboardAccess {
		t.Fatalf("issues: got %v, want one non-semantic-button and one keyboard-access", got)
	}
}

func TestCursorOnlyAppliesToGenericContainers(t *testing.T) {
	doc := parse(t, `<div id="card" class="card"><span id="inner">x</span></div><a id="l" href="/" class="card">l</a>`)
	issues := scanAll(t, doc, false)

	if !has(issues, "card", NonSemanticButton) {
		t.Fatal("pointer-cursor div should be flagged")
	}
	if len(types(issues, "inner")) != 0 {
		t.Fatal("inherited cursor must not flag descendants")
	}
	if has(issues, "l", NonSemanticButton) {
		t.Fatal("links are native controls")
	}
}

func TestRoleButtonWithoutTabindex(t *testing.T) {
	doc := parse(t, `<span id="s" role="button" onclick="go()">Go</span>`)
	got := types(scanAll(t, doc, false), "s")
	if len(got) != 1 || got[0] != KeyboardAccess {
		t.Fatalf("issues: got %v, want [keyboard-access]", got)
	}
}

func TestCSSEmphasisUsesSampler(t *testing.T) {
	doc := parse(t, `<p id="p" class="lead">Important</p><span id="s" class="aside">Note</span><strong id="st">x</strong><p class="lead">Lead <span id="inh">inherited</span></p>`)

	issues := scanAll(t, doc, false)
	if !has(issues, "p", CSSEmphasis) || !has(issues, "s", CSSEmphasis) {
		t.Fatalf("emphasis: got %v", issues)
	}
	for _, is := range issues {
		if is.Type == CSSEmphasis && dom.Attr(is.Element, "id") == "p" && is.Hint != "bold" {
			t.Fatalf("hint: got %q, want bold", is.Hint)
		}
	}
	if has(issues, "st", CSSEmphasis) || has(issues, "inh", CSSEmphasis) {
		t.Fatal("semantic or inherited emphasis must not be flagged")
	}

	none := New(doc, WithSampler(NewRateSampler(0, 1))).Scan(context.Background(), doc.Body(), ScanOptions{})
	for _, is := range none {
		if is.Type == CSSEmphasis {
			t.Fatal("zero-rate sampler still checked style")
		}
	}
}

func TestMissingName(t *testing.T) {
	doc := parse(t, `<button id="icon">×</button><button id="ok">OK</button>`+
		`<a id="img" href="/"><img src="logo.png" alt="Home"></a><a id="empty" href="/x"></a>`+
		`<button id="lab" aria-label="Close"></button>`)
	issues := scanAll(t, doc, false)

	if !has(issues, "icon", MissingName) || !has(issues, "empty", MissingName) {
		t.Fatalf("missing names: got %v", issues)
	}
	for _, id := range []string{"ok", "img", "lab"} {
		if has(issues, id, MissingName) {
			t.Fatalf("%s should have a name", id)
		}
	}
}

func TestNewTabDisabledAndSplitAnchor(t *testing.T) {
	doc := parse(t, `<a id="nt" href="/x" target="_blank">Docs</a>`+
		`<a id="warned" href="/y" target="_blank">Docs (opens in new tab)</a>`+
		`<button id="d" disabled>Send</button>`+
		`<ol><li><a id="toc" href="#s1">1</a>. Overview</li></ol>`)
	issues := scanAll(t, doc, false)

	if !has(issues, "nt", NewTabLink) || has(issues, "warned", NewTabLink) {
		t.Fatal("new-tab detection mismatch")
	}
	if !has(issues, "d", DisabledState) {
		t.Fatal("disabled without aria-disabled not flagged")
	}
	var split Issue
	for _, is := range issues {
		if is.Type == SplitAnchor {
			split = is
		}
	}
	if split.Hint != "1. Overview" {
		t.Fatalf("split anchor phrase: got %q, want %q", split.Hint, "1. Overview")
	}
}

func TestFormPass(t *testing.T) {
	doc := parse(t, `<label>Email</label><input id="email" type="email">`+
		`<input id="ph" placeholder="Search">`+
		`<label for="n">Name</label><input id="n">`+
		`<label>Wrapped <input id="w"></label>`+
		`<input id="sub" type="submit" value="Send">`)
	issues := scanAll(t, doc, false)

	if !has(issues, "email", UnlabeledForm) {
		t.Fatal("email input should be unlabeled")
	}
	for _, id := range []string{"ph", "n", "w", "sub"} {
		if has(issues, id, UnlabeledForm) {
			t.Fatalf("%s should count as labeled", id)
		}
	}
	var dl *Issue
	for i := range issues {
		if issues[i].Type == DisconnectedLabel {
			if dl != nil {
				t.Fatal("only the first label is disconnected")
			}
			dl = &issues[i]
		}
	}
	if dl == nil || dom.Attr(dl.Related, "id") != "email" {
		t.Fatalf("disconnected label: got %v", dl)
	}
}

func TestStructurePassOnlyOnFullScans(t *testing.T) {
	doc := parse(t, `<h2 id="h2">Intro</h2><h4 id="h4">Deep</h4><h5 id="h5">Deeper</h5>`+
		`<img id="noalt" src="a.png"><img id="big" src="b.png" alt="" width="300" height="200">`+
		`<img id="spacer" src="c.gif" alt="" width="1" height="1"><img id="pres" src="d.png" role="presentation">`+
		`<iframe id="f" src="https://www.youtube.com/embed/x"></iframe>`)

	inc := scanAll(t, doc, false)
	if has(inc, "h2", MissingH1) || has(inc, "h4", HeadingSkip) {
		t.Fatal("incremental scan ran the structure pass")
	}
	if !has(inc, "noalt", MissingAlt) {
		t.Fatal("image check belongs to the element pass")
	}
	if !has(inc, "f", FrameMissingName) {
		t.Fatal("frame pass belongs to the element pass")
	}

	full := scanAll(t, doc, true)
	if !has(full, "noalt", MissingAlt) || !has(full, "big", MissingAlt) {
		t.Fatalf("missing alt: got %v", full)
	}
	if has(full, "spacer", MissingAlt) || has(full, "pres", MissingAlt) {
		t.Fatal("decorative images flagged")
	}
	if !has(full, "h2", MissingH1) {
		t.Fatal("missing h1 not reported")
	}
	hints := map[string]string{}
	for _, is := range full {
		if is.Type == HeadingSkip {
			hints[dom.Attr(is.Element, "id")] = is.Hint
		}
	}
	// h4 is corrected to level 3, so h5 now skips one as well
	if hints["h4"] != "3" || hints["h5"] != "4" || len(hints) != 2 {
		t.Fatalf("heading skips: got %v, want h4:3 h5:4", hints)
	}
}

func TestPriorityOrderAndStability(t *testing.T) {
	doc := parse(t, `<p id="e" class="lead">Bold</p><a id="nt" href="/" target="_blank">x</a>`+
		`<div id="c" onclick="f()">Click</div><input id="i">`)
	issues := scanAll(t, doc, true)

	for i := 1; i < len(issues); i++ {
		if issues[i].Priority < issues[i-1].Priority {
			t.Fatalf("order: %v before %v", issues[i-1], issues[i])
		}
	}
	// detection order is kept within a priority: element pass before form pass
	var critical []string
	for _, is := range issues {
		if is.Priority == Critical {
			critical = append(critical, dom.Attr(is.Element, "id")+":"+string(is.Type))
		}
	}
	want := []string{"c:non-semantic-button", "c:keyboard-access", "i:unlabeled-form-element"}
	if len(critical) != len(want) {
		t.Fatalf("critical: got %v, want %v", critical, want)
	}
	for i := range want {
		if critical[i] != want[i] {
			t.Fatalf("critical: got %v, want %v", critical, want)
		}
	}
}

type fakeValidator struct {
	issues []Issue
	calls  int
}

func (f *fakeValidator) Validate(context.Context, *dom.Document, *html.Node) ([]Issue, error) {
	f.calls++
	return f.issues, nil
}

func TestValidatorMergedAndDeduplicated(t *testing.T) {
	doc := parse(t, `<img id="a" src="a.png"><div id="v">x</div>`)
	img := dom.ElementByID(doc.Root(), "a")
	v := dom.ElementByID(doc.Root(), "v")
	fv := &fakeValidator{issues: []Issue{
		{Element: img, Type: MissingAlt, Priority: Critical},
		{Element: v, Type: MissingName, Priority: Cosmetic},
	}}

	full := scanAll(t, doc, true, WithValidator(fv))
	count := 0
	for _, is := range full {
		if is.Element == img && is.Type == MissingAlt {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("missing-alt on img: got %d, want 1", count)
	}
	if !has(full, "v", MissingName) {
		t.Fatal("validator-only issue dropped")
	}

	scanAll(t, doc, false, WithValidator(fv))
	if fv.calls != 1 {
		t.Fatalf("validator calls: got %d, want 1 (incremental scans skip it)", fv.calls)
	}
}

func TestGeneratedSubtreesSkipped(t *testing.T) {
	doc := parse(t, `<span data-a11y-generated="true"><div id="g" onclick="x()">x</div></span>`)
	if got := types(scanAll(t, doc, true), "g"); len(got) != 0 {
		t.Fatalf("generated subtree scanned: %v", got)
	}
}

func TestRateSamplerIsReproducible(t *testing.T) {
	a, b := NewRateSampler(0.2, 42), NewRateSampler(0.2, 42)
	hits := 0
	for i := 0; i < 1000; i++ {
		x, y := a.Sample(), b.Sample()
		if x != y {
			t.Fatal("same seed diverged")
		}
		if x {
			hits++
		}
	}
	if hits < 120 || hits > 280 {
		t.Fatalf("hits: got %d, want about 200", hits)
	}
}

func TestInlineStyles(t *testing.T) {
	doc := parse(t, `<div id="card" style="cursor: pointer">Open</div>`+
		`<p id="bold" style="font-weight:bold">Sale</p>`+
		`<div style="font-weight:bold"><span id="wrapped">Clearance</span></div>`+
		`<p style="font-weight:bold">Intro <span id="nested">more</span></p>`)
	issues := scanAll(t, doc, false)

	if !has(issues, "card", NonSemanticButton) {
		t.Fatal("inline pointer cursor not detected")
	}
	if !has(issues, "bold", CSSEmphasis) {
		t.Fatal("inline bold not detected")
	}
	if !has(issues, "wrapped", CSSEmphasis) {
		t.Fatal("bold from a textless wrapper not detected")
	}
	if has(issues, "nested", CSSEmphasis) {
		t.Fatal("text inside an emphasised paragraph flagged twice")
	}
}

func TestIncrementalScanChecksInsertedImage(t *testing.T) {
	doc := parse(t, `<section id="feed"></section>`)
	feed := dom.ElementByID(doc.Root(), "feed")
	img := &html.Node{Type: html.ElementNode, Data: "img", DataAtom: atom.Img,
		Attr: []html.Attribute{{Key: "id", Val: "new"}, {Key: "src", Val: "team.jpg"}}}
	doc.AppendChild(feed, img)

	issues := New(doc, WithSampler(Always())).Scan(context.Background(), feed, ScanOptions{})
	if !has(issues, "new", MissingAlt) {
		t.Fatalf("inserted image: got %v", issues)
	}
}
