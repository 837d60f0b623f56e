// Package watcher turns the document's raw mutation stream into debounced,
// deduplicated batches of subtrees that need re-scanning, while ignoring
// mutations the pipeline caused itself.
package watcher

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/session"
)

// ObservedAttributes is the attribute allow-list. Attribute changes outside
// it are never delivered.
var ObservedAttributes = []string{
	"class", "style",
	"aria-hidden", "aria-expanded", "aria-disabled",
	"disabled", "hidden",
}

// visibilityKeywords mark a class or style change as visibility-related.
var visibilityKeywords = []string{"display", "hidden", "visible", "opacity", "collapse", "show"}

// Rejection reasons, as reported in Stats and metrics.
const (
	ReasonWriting    = "writing"
	ReasonProcessing = "processing"
	ReasonRecent     = "recent"
	ReasonMarked     = "marked"
	ReasonEcho       = "echo"
	ReasonCosmetic   = "cosmetic"
	ReasonRemoval    = "removal"
	ReasonGenerated  = "generated"
	ReasonText       = "text"
	ReasonDuplicate  = "duplicate"
)

// Config controls batching.
type Config struct {
	// Debounce is the quiet period before a batch is flushed. Default: 100ms.
	Debounce time.Duration
	// MaxBatch caps the records considered per delivery. Default: 100.
	// Records past the cap are dropped and counted before any filtering.
	MaxBatch int
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = session.DefaultDebounce
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 100
	}
}

// Callback receives one flushed batch. Every record in it has a distinct
// target. Errors and panics are logged and counted, never propagated.
type Callback func(batch []dom.MutationRecord) error

// Watcher observes a subtree of the session's document.
type Watcher struct {
	sess   *session.Session
	doc    *dom.Document
	loop   *eventloop.Loop
	logger *slog.Logger
	cfg    Config
	cb     Callback

	obs     *dom.MutationObserver
	root    *html.Node
	paused  bool
	stopped bool

	queue  []dom.MutationRecord
	queued map[*html.Node]struct{}
	timer  *eventloop.Timer

	stats Stats
}

// New creates a watcher. It observes nothing until Start.
// The session's markers are made to outlive at least two debounce windows.
func New(sess *session.Session, cfg Config, cb Callback) *Watcher {
	cfg.defaults()
	if d := 2 * cfg.Debounce; sess.Markers.Decay() < d {
		sess.Markers.SetDecay(d)
	}
	return &Watcher{
		sess:   sess,
		doc:    sess.Doc,
		loop:   sess.Loop,
		logger: sess.Logger,
		cfg:    cfg,
		cb:     cb,
		queued: make(map[*html.Node]struct{}),
		stats:  Stats{Rejected: make(map[string]int)},
	}
}

func (w *Watcher) options() dom.ObserveOptions {
	return dom.ObserveOptions{
		ChildList:             true,
		AttributeFilter:       ObservedAttributes,
		AttributeOldValue:     true,
		CharacterData:         true,
		CharacterDataOldValue: true,
		Subtree:               true,
	}
}

// Start begins observing root.
func (w *Watcher) Start(root *html.Node) error {
	if root == nil {
		return fmt.Errorf("watcher: start: nil root")
	}
	if w.obs != nil {
		return fmt.Errorf("watcher: start: already started")
	}
	w.root = root
	w.obs = w.doc.NewMutationObserver(w.handle)
	w.obs.Observe(root, w.options())
	w.logger.Debug("watcher: started", "root", dom.Descriptor(root), "debounce", w.cfg.Debounce)
	return nil
}

// Pause detaches from the document. Queued work and the debounce timer are
// kept. Records already delivered to the observer are taken and filtered
// first so nothing that happened before the pause is lost.
func (w *Watcher) Pause() {
	if w.obs == nil || w.paused {
		return
	}
	if recs := w.obs.TakeRecords(); len(recs) > 0 {
		w.handle(recs, w.obs)
	}
	w.obs.Disconnect()
	w.paused = true
	w.logger.Debug("watcher: paused")
}

// Resume reattaches with the original configuration.
func (w *Watcher) Resume() {
	if w.obs == nil || !w.paused || w.stopped {
		return
	}
	w.obs.Observe(w.root, w.options())
	w.paused = false
	w.logger.Debug("watcher: resumed")
}

// Paused reports whether the watcher is detached.
func (w *Watcher) Paused() bool { return w.paused }

// Stop detaches permanently and discards queued work.
func (w *Watcher) Stop() {
	if w.obs != nil {
		w.obs.Disconnect()
	}
	w.stopped = true
	w.timer.Stop()
	w.timer = nil
	w.queue = nil
	clear(w.queued)
}

// Flush sends the queued batch now instead of waiting for the debounce
// window. Dispatch still happens on the next animation frame.
func (w *Watcher) Flush() {
	if w.timer.Stop() {
		w.timer = nil
		w.flush()
	}
}

// handle is the observer callback. It must never panic.
func (w *Watcher) handle(records []dom.MutationRecord, _ *dom.MutationObserver) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watcher: mutation handler panicked", "panic", r)
		}
	}()

	if n := len(records); n > w.cfg.MaxBatch {
		dropped := n - w.cfg.MaxBatch
		w.logger.Warn("watcher: mutation batch over cap, dropping excess",
			"received", n, "cap", w.cfg.MaxBatch, "dropped", dropped)
		w.stats.Dropped += dropped
		droppedTotal.Add(float64(dropped))
		records = records[:w.cfg.MaxBatch]
	}

	accepted := 0
	for _, rec := range records {
		if reason := w.reject(rec); reason != "" {
			w.stats.Rejected[reason]++
			recordsTotal.WithLabelValues(reason).Inc()
			continue
		}
		if _, dup := w.queued[rec.Target]; dup {
			w.stats.Rejected[ReasonDuplicate]++
			recordsTotal.WithLabelValues(ReasonDuplicate).Inc()
			continue
		}
		w.queued[rec.Target] = struct{}{}
		w.queue = append(w.queue, rec)
		accepted++
	}
	if accepted == 0 {
		return
	}
	w.stats.Accepted += accepted
	recordsTotal.WithLabelValues("accepted").Add(float64(accepted))

	w.timer.Stop()
	w.timer = w.loop.SetTimeout(w.cfg.Debounce, func() {
		w.timer = nil
		w.flush()
	})
}

// reject applies the filter chain and returns the first failing reason, or
// "" when the record is relevant.
func (w *Watcher) reject(rec dom.MutationRecord) string {
	m := w.sess.Markers
	t := rec.Target
	switch {
	case m.Writing(t):
		return ReasonWriting
	case m.Processing(t):
		return ReasonProcessing
	case m.Recent(t):
		return ReasonRecent
	case dom.HasAttr(t, session.MarkerAttr):
		return ReasonMarked
	case insideGenerated(t):
		return ReasonGenerated
	}

	switch rec.Type {
	case dom.MutationAttributes:
		name := rec.AttributeName
		if selfWritten(name) {
			if rec.OldValue == "" && dom.Attr(t, name) != "" {
				return ReasonEcho
			}
			return ""
		}
		if name == "class" || name == "style" {
			if !mentionsVisibility(rec.OldValue) && !mentionsVisibility(dom.Attr(t, name)) {
				return ReasonCosmetic
			}
		}
		return ""

	case dom.MutationChildList:
		if len(rec.AddedNodes) == 0 {
			return ReasonRemoval
		}
		if slices.IndexFunc(rec.AddedNodes, func(n *html.Node) bool {
			return !dom.HasAttr(n, session.GeneratedAttr)
		}) < 0 {
			return ReasonGenerated
		}
		return ""

	case dom.MutationCharacterData:
		if strings.TrimSpace(rec.OldValue) != "" || strings.TrimSpace(t.Data) == "" {
			return ReasonText
		}
		return ""
	}
	return ""
}

// insideGenerated reports whether n is, or sits inside, an element this
// system created.
func insideGenerated(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if dom.HasAttr(n, session.GeneratedAttr) {
			return true
		}
	}
	return false
}

// selfWritten reports whether the pipeline itself writes attributes named
// name.
func selfWritten(name string) bool {
	return strings.HasPrefix(name, "aria-") || name == "role" || name == "tabindex"
}

func mentionsVisibility(v string) bool {
	v = strings.ToLower(v)
	for _, kw := range visibilityKeywords {
		if strings.Contains(v, kw) {
			return true
		}
	}
	return false
}

// flush moves the queue into a batch, flags every node it covers as
// processing and schedules dispatch on the next frame.
func (w *Watcher) flush() {
	if len(w.queue) == 0 {
		return
	}
	batch := w.queue
	w.queue = nil
	clear(w.queued)

	nodes := Nodes(batch)
	for _, n := range nodes {
		w.sess.Markers.SetProcessing(n)
	}
	w.stats.Batches++
	batchesTotal.Inc()
	batchSize.Observe(float64(len(batch)))
	w.logger.Debug("watcher: batch flushed", "records", len(batch), "nodes", len(nodes))

	w.loop.RequestAnimationFrame(func() { w.dispatch(batch, nodes) })
}

func (w *Watcher) dispatch(batch []dom.MutationRecord, nodes []*html.Node) {
	defer func() {
		if r := recover(); r != nil {
			w.stats.Failures++
			callbackFailures.Inc()
			w.logger.Error("watcher: callback panicked", "panic", r)
		}
		w.sess.Markers.Release(nodes...)
	}()

	if w.stopped || w.sess.Closed() {
		return
	}
	if err := w.cb(batch); err != nil {
		w.stats.Failures++
		callbackFailures.Inc()
		w.logger.Error("watcher: callback failed", "error", err)
	}
}

// Nodes returns the distinct targets of batch followed by the distinct
// element nodes added by its childList records.
func Nodes(batch []dom.MutationRecord) []*html.Node {
	seen := make(map[*html.Node]struct{}, len(batch))
	var out []*html.Node
	add := func(n *html.Node) {
		if n == nil {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, rec := range batch {
		add(rec.Target)
	}
	for _, rec := range batch {
		for _, n := range rec.AddedNodes {
			if dom.IsElement(n) {
				add(n)
			}
		}
	}
	return out
}
