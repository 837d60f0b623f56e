// Package session holds the bookkeeping that lives exactly as long as one
// page: which (element, issue) and (element, attribute) pairs have already
// been handled, and which elements were recently written by the pipeline.
//
// A Session is created once when the page is initialised, passed to every
// component, and closed when the page goes away. It is not safe for
// concurrent use; like the document it belongs to the event loop goroutine.
package session

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
)

const (
	// MarkerAttr is stamped on every element the remediation engine touches.
	MarkerAttr = "data-a11y-fixed"

	// GeneratedAttr is stamped on elements this system creates. Scans skip
	// their subtrees.
	GeneratedAttr = "data-a11y-generated"

	// DefaultDebounce is the watcher debounce window. Markers decay after
	// twice this interval.
	DefaultDebounce = 100 * time.Millisecond
)

// Session is the page-lifetime context.
type Session struct {
	Doc       *dom.Document
	Loop      *eventloop.Loop
	Logger    *slog.Logger
	Processed *Processed
	Markers   *Markers

	closed bool
}

// Option configures a Session.
type Option func(*config)

type config struct {
	logger *slog.Logger
	decay  time.Duration
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithDecay overrides the "recently written" decay interval.
func WithDecay(d time.Duration) Option {
	return func(c *config) { c.decay = d }
}

// New creates the context for doc.
func New(doc *dom.Document, opts ...Option) *Session {
	c := config{logger: slog.Default(), decay: 2 * DefaultDebounce}
	for _, o := range opts {
		o(&c)
	}
	return &Session{
		Doc:       doc,
		Loop:      doc.Loop(),
		Logger:    c.logger,
		Processed: &Processed{},
		Markers:   newMarkers(doc.Loop(), c.decay),
	}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed }

// Close drops all bookkeeping. Components must not use the session
// afterwards.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.Markers.reset()
	s.Processed.Reset()
	s.Logger.Debug("session: closed")
}
