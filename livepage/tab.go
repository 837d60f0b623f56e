package livepage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
)

// Tab is one browser tab mirrored into a dom.Document.
type Tab struct {
	Page *rod.Page
	URL  string

	loop   *eventloop.Loop
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	m      *mirror
	doc    *dom.Document
	ops    chan op
	resets chan struct{}
	events sync.Once

	geom geometry
}

// Open creates a tab, navigates to pageURL and waits for the load event.
// DOM events are delivered to loop, which must be running.
func Open(ctx context.Context, mgr *Manager, pageURL string, loop *eventloop.Loop) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("livepage: no active browser")
	}
	cfg := mgr.cfg

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("livepage: create tab: %w", err)
	}
	if len(cfg.ResourceBlocking) > 0 {
		blockResources(page, cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("livepage: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("livepage: wait load timeout", "url", pageURL, "error", err)
	}

	t := newTab(page, pageURL, loop, cfg)
	go t.replay()
	return t, nil
}

func newTab(page *rod.Page, pageURL string, loop *eventloop.Loop, cfg Config) *Tab {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tab{
		Page:   page,
		URL:    pageURL,
		loop:   loop,
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		m:      newMirror(cfg.Logger),
		ops:    make(chan op, 1024),
		resets: make(chan struct{}, 1),
	}
	t.m.adopted = t.requestChildren
	return t
}

// Mirror snapshots the tab's DOM into a new Document bound to the loop,
// with browser-backed style and layout, and starts applying DOM events to
// it. Calling Mirror again (after a reload) replaces the document.
func (t *Tab) Mirror(ctx context.Context, opts ...dom.Option) (*dom.Document, error) {
	page := t.Page.Context(ctx)
	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("livepage: DOM.enable: %w", err)
	}
	if err := (proto.CSSEnable{}).Call(page); err != nil {
		t.logger.Warn("livepage: CSS.enable failed, computed style unavailable", "error", err)
	}
	t.events.Do(func() { go t.listen() })

	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("livepage: DOM.getDocument: %w", err)
	}

	built := make(chan *dom.Document, 1)
	t.loop.Post(func() {
		root := t.m.reset(res.Root)
		opts = append(opts, dom.WithStyleResolver(t), dom.WithLayout(t))
		doc := dom.NewDocument(root, t.loop, opts...)
		doc.SetJournal(t)
		t.m.doc = doc
		t.doc = doc
		t.geom.reset()
		built <- doc
	})
	select {
	case doc := <-built:
		t.logger.Info("livepage: mirror built", "url", t.URL, "nodes", len(t.m.byID))
		return doc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// listen forwards CDP DOM events to the loop.
func (t *Tab) listen() {
	apply := func(fn func()) {
		t.loop.Post(func() {
			if t.m.doc == nil {
				return
			}
			t.m.doc.Remote(fn)
		})
	}
	wait := t.Page.Context(t.ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			apply(func() { t.m.inserted(e.ParentNodeID, e.PreviousNodeID, e.Node) })
		},
		func(e *proto.DOMChildNodeRemoved) {
			apply(func() { t.m.removed(e.ParentNodeID, e.NodeID) })
		},
		func(e *proto.DOMSetChildNodes) {
			apply(func() { t.m.childrenSet(e.ParentID, e.Nodes) })
		},
		func(e *proto.DOMAttributeModified) {
			apply(func() { t.m.attrModified(e.NodeID, e.Name, e.Value) })
		},
		func(e *proto.DOMAttributeRemoved) {
			apply(func() { t.m.attrRemoved(e.NodeID, e.Name) })
		},
		func(e *proto.DOMCharacterDataModified) {
			apply(func() { t.m.textModified(e.NodeID, e.CharacterData) })
		},
		func(e *proto.DOMDocumentUpdated) {
			t.loop.Post(func() {
				t.m.doc = nil
				t.logger.Info("livepage: document replaced", "url", t.URL)
			})
			select {
			case t.resets <- struct{}{}:
			default:
			}
		},
	)
	wait()
}

// Resets signals each time the tab's document is replaced (navigation or
// reload). The current mirror is dead once it fires; call Mirror again.
func (t *Tab) Resets() <-chan struct{} { return t.resets }

// Reload reloads the tab and waits for the load event.
func (t *Tab) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, t.cfg.NavTimeout)
	defer cancel()
	page := t.Page.Context(navCtx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("livepage: reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		t.logger.Warn("livepage: wait load timeout", "url", t.URL, "error", err)
	}
	return nil
}

// Close stops event delivery and closes the tab.
func (t *Tab) Close() error {
	t.cancel()
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
