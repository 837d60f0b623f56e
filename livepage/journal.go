package livepage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/remedy"
)

// opTimeout bounds one replayed write.
const opTimeout = 5 * time.Second

// op is one journaled write waiting to be replayed on the tab.
type op struct {
	desc string
	run  func(p *rod.Page) error
}

// listenerScripts installs the browser counterpart of the listeners the
// pipeline adds, keyed by "type/tag".
var listenerScripts = map[string]string{
	"keydown/" + remedy.KeyHandlerTag: `function() {
	if (this.__a11yfixActivate) return;
	this.__a11yfixActivate = true;
	this.addEventListener('keydown', function(e) {
		if (e.key === 'Enter' || e.key === ' ' || e.key === 'Spacebar') {
			e.preventDefault();
			this.click();
		}
	});
}`,
}

func (t *Tab) enqueue(o op) {
	select {
	case t.ops <- o:
	case <-t.ctx.Done():
	}
}

// replay runs journaled writes in order until the tab closes.
func (t *Tab) replay() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case o := <-t.ops:
			page := t.Page.Timeout(opTimeout)
			if err := o.run(page); err != nil {
				t.logger.Warn("livepage: replay failed", "op", o.desc, "error", err)
			}
			page.CancelTimeout()
		}
	}
}

// target resolves n for a journal entry. Nodes the browser has not
// reported yet are skipped.
func (t *Tab) target(n *html.Node, what string) (proto.DOMNodeID, bool) {
	id, ok := t.m.idOf(n)
	if !ok {
		t.logger.Debug("livepage: journal entry for unmapped node", "op", what)
	}
	return id, ok
}

func (t *Tab) AttrSet(n *html.Node, name, value string) {
	id, ok := t.target(n, "set "+name)
	if !ok {
		return
	}
	t.enqueue(op{desc: "set " + name, run: func(p *rod.Page) error {
		return proto.DOMSetAttributeValue{NodeID: id, Name: name, Value: value}.Call(p)
	}})
}

func (t *Tab) AttrRemoved(n *html.Node, name string) {
	id, ok := t.target(n, "remove "+name)
	if !ok {
		return
	}
	t.enqueue(op{desc: "remove " + name, run: func(p *rod.Page) error {
		return proto.DOMRemoveAttribute{NodeID: id, Name: name}.Call(p)
	}})
}

func (t *Tab) Wrapped(n, wrapper *html.Node) {
	id, ok := t.target(n, "wrap")
	if !ok {
		return
	}
	attrs := make([][2]string, 0, len(wrapper.Attr))
	for _, a := range wrapper.Attr {
		attrs = append(attrs, [2]string{a.Key, a.Val})
	}
	fn := wrapScript(wrapper.Data, attrs)
	t.enqueue(op{desc: "wrap", run: func(p *rod.Page) error { return callOn(p, id, fn) }})
}

func (t *Tab) ListenerAdded(n *html.Node, typ, tag string) {
	script, known := listenerScripts[typ+"/"+tag]
	if !known {
		t.logger.Debug("livepage: no browser counterpart for listener", "type", typ, "tag", tag)
		return
	}
	id, ok := t.target(n, "listen "+typ)
	if !ok {
		return
	}
	t.enqueue(op{desc: "listen " + typ, run: func(p *rod.Page) error { return callOn(p, id, script) }})
}

// requestChildren asks the browser for the subtree of an adopted node.
func (t *Tab) requestChildren(id proto.DOMNodeID) {
	depth := -1
	t.enqueue(op{desc: "request children", run: func(p *rod.Page) error {
		return proto.DOMRequestChildNodes{NodeID: id, Depth: &depth}.Call(p)
	}})
}

func wrapScript(tag string, attrs [][2]string) string {
	tagJSON, _ := json.Marshal(tag)
	attrsJSON, _ := json.Marshal(attrs)
	return fmt.Sprintf(`function() {
	const w = document.createElement(%s);
	for (const [k, v] of %s) w.setAttribute(k, v);
	this.parentNode.insertBefore(w, this);
	w.appendChild(this);
}`, tagJSON, attrsJSON)
}

// callOn runs fn with this bound to the node.
func callOn(p *rod.Page, id proto.DOMNodeID, fn string) error {
	res, err := proto.DOMResolveNode{NodeID: id}.Call(p)
	if err != nil {
		return fmt.Errorf("resolve node %d: %w", id, err)
	}
	obj := res.Object.ObjectID
	defer func() { _ = proto.RuntimeReleaseObject{ObjectID: obj}.Call(p) }()

	out, err := proto.RuntimeCallFunctionOn{ObjectID: obj, FunctionDeclaration: fn}.Call(p)
	if err != nil {
		return err
	}
	if out.ExceptionDetails != nil {
		return fmt.Errorf("script exception: %s", out.ExceptionDetails.Text)
	}
	return nil
}
