// Package remedy applies attribute-level fixes for detected issues.
//
// Every (element, issue type) pair is fixed at most once per session.
// Writes happen between Markers.BeginWrite and EndWrite and stamp
// session.MarkerAttr on the element, so the watcher never feeds them back
// into a scan. A fix that panics or fails is logged and skipped; it is
// retried on a later pass.
package remedy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/caption"
	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/idgen"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/session"
)

var (
	fixesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a11yfix_remedy_fixes_total",
		Help: "Fixes applied by issue type.",
	}, []string{"type"})
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a11yfix_remedy_failures_total",
		Help: "Fixes that errored or panicked, by issue type.",
	}, []string{"type"})
)

// DefaultCaptionMinSize is the smallest width and height, in pixels, for
// which an image is sent to the captioning service. Smaller images are
// assumed to be icons.
const DefaultCaptionMinSize = 50

// FixLog records one applied fix.
type FixLog struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        scanner.IssueType `json:"type"`
	Description string            `json:"description"`
	Element     string            `json:"element"`
	Before      string            `json:"before"`
	After       string            `json:"after"`
}

// Engine applies fixes within one session.
type Engine struct {
	sess      *session.Session
	doc       *dom.Document
	logger    *slog.Logger
	describer caption.Describer
	onAsync   func(FixLog)
	ids       idgen.Generator
	base      *url.URL
	minSize   float64

	ctx      context.Context
	cancel   context.CancelFunc
	inflight int
	fixers   map[scanner.IssueType]fixer
}

// fixer applies one fix and returns a description of what changed, or ""
// when nothing needed changing.
type fixer func(ctx context.Context, is scanner.Issue) (string, error)

// Option configures an Engine.
type Option func(*Engine)

// WithDescriber enables captioning for images without alternative text.
func WithDescriber(d caption.Describer) Option { return func(e *Engine) { e.describer = d } }

// WithAsyncFix receives fixes that complete after Apply returned, such as
// captioned alt text.
func WithAsyncFix(fn func(FixLog)) Option { return func(e *Engine) { e.onAsync = fn } }

// WithIDs replaces the generator for element ids.
func WithIDs(g idgen.Generator) Option { return func(e *Engine) { e.ids = g } }

// WithBaseURL resolves relative image and frame URLs.
func WithBaseURL(u *url.URL) Option { return func(e *Engine) { e.base = u } }

// WithCaptionMinSize overrides DefaultCaptionMinSize.
func WithCaptionMinSize(px float64) Option { return func(e *Engine) { e.minSize = px } }

// WithLogger sets the logger. Defaults to the session logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New returns an Engine bound to sess.
func New(sess *session.Session, opts ...Option) *Engine {
	e := &Engine{
		sess:    sess,
		doc:     sess.Doc,
		logger:  sess.Logger,
		ids:     idgen.ElementID,
		minSize: DefaultCaptionMinSize,
	}
	for _, o := range opts {
		o(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.fixers = map[scanner.IssueType]fixer{
		scanner.NonSemanticButton: e.fixButton,
		scanner.KeyboardAccess:    e.fixKeyboard,
		scanner.CSSEmphasis:       e.fixEmphasis,
		scanner.MissingName:       e.fixName,
		scanner.NewTabLink:        e.fixNewTab,
		scanner.DisabledState:     e.fixDisabled,
		scanner.SplitAnchor:       e.fixSplitAnchor,
		scanner.MissingAlt:        e.fixAlt,
		scanner.MissingH1:         e.reportOnly,
		scanner.HeadingSkip:       e.fixHeadingLevel,
		scanner.UnlabeledForm:     e.fixFormLabel,
		scanner.DisconnectedLabel: e.fixDisconnectedLabel,
		scanner.FrameMissingName:  e.fixFrame,
	}
	return e
}

// Close cancels in-flight caption requests. Their results are discarded.
func (e *Engine) Close() { e.cancel() }

// Inflight returns the number of caption requests not yet completed.
func (e *Engine) Inflight() int { return e.inflight }

// Apply fixes one issue. It returns nil when the pair was already handled,
// when nothing needed changing, when the fix completes asynchronously, or
// when the fix failed.
func (e *Engine) Apply(ctx context.Context, is scanner.Issue) (entry *FixLog) {
	n := is.Element
	if n == nil || e.sess.Closed() || e.sess.Processed.HasIssue(n, string(is.Type)) {
		return nil
	}
	fix, ok := e.fixers[is.Type]
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			failuresTotal.WithLabelValues(string(is.Type)).Inc()
			e.logger.Error("remedy: fix panicked", "type", is.Type, "element", dom.Descriptor(n), "panic", r)
			entry = nil
		}
	}()

	before := openTag(n)
	m := e.sess.Markers
	m.BeginWrite(n)
	defer m.EndWrite(n)

	desc, err := fix(ctx, is)
	if err != nil {
		failuresTotal.WithLabelValues(string(is.Type)).Inc()
		e.logger.Warn("remedy: fix failed", "type", is.Type, "element", dom.Descriptor(n), "error", err)
		return nil
	}
	e.sess.Processed.MarkIssue(n, string(is.Type))
	if desc == "" {
		return nil
	}
	e.doc.SetAttr(n, session.MarkerAttr, "true")
	fixesTotal.WithLabelValues(string(is.Type)).Inc()
	log := e.newLog(n, is.Type, desc, before)
	e.logger.Debug("remedy: fixed", "type", is.Type, "element", log.Element, "fix", desc)
	return &log
}

// ApplyAll fixes issues in order and returns the logs of applied fixes.
func (e *Engine) ApplyAll(ctx context.Context, issues []scanner.Issue) []FixLog {
	var logs []FixLog
	for _, is := range issues {
		if log := e.Apply(ctx, is); log != nil {
			logs = append(logs, *log)
		}
	}
	return logs
}

func (e *Engine) newLog(n *html.Node, typ scanner.IssueType, desc, before string) FixLog {
	return FixLog{
		ID:          idgen.New(),
		Timestamp:   e.sess.Loop.Now(),
		Type:        typ,
		Description: desc,
		Element:     dom.Descriptor(n),
		Before:      before,
		After:       openTag(n),
	}
}

// set writes an attribute when it differs and reports whether it did.
func (e *Engine) set(n *html.Node, name, value string) bool {
	if v, ok := dom.LookupAttr(n, name); ok && v == value {
		return false
	}
	e.doc.SetAttr(n, name, value)
	return true
}

// setIfAbsent writes an attribute only when n does not carry it.
func (e *Engine) setIfAbsent(n *html.Node, name, value string) bool {
	if dom.HasAttr(n, name) {
		return false
	}
	e.doc.SetAttr(n, name, value)
	return true
}

// stamp writes on another element than the one being fixed, under its own
// write markers.
func (e *Engine) stamp(n *html.Node, fn func()) {
	e.sess.Markers.Write(n, func() {
		fn()
		e.doc.SetAttr(n, session.MarkerAttr, "true")
	})
}

func (e *Engine) resolve(ref string) string {
	if e.base == nil {
		return ref
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return e.base.ResolveReference(u).String()
}

// openTag renders the start tag of n, without children.
func openTag(n *html.Node) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(n.Data)
	for _, a := range n.Attr {
		fmt.Fprintf(&sb, " %s=%q", a.Key, html.EscapeString(a.Val))
	}
	sb.WriteByte('>')
	return sb.String()
}
