package session

import (
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/internal/weakmap"
)

// Markers tracks elements the pipeline itself is writing to, so the watcher
// can tell its own mutations apart from the page's.
//
// There are three flags. "writing" is held while a fix is being applied.
// "processing" is held by the watcher while a flushed batch is in the
// pipeline. "recent" follows both and expires per node, one decay interval
// after that node's latest promotion.
type Markers struct {
	loop  *eventloop.Loop
	decay time.Duration
	gen   int

	writing    weakmap.Map[html.Node, int]
	processing weakmap.Set[html.Node]
	recent     weakmap.Map[html.Node, time.Time]
}

func newMarkers(loop *eventloop.Loop, decay time.Duration) *Markers {
	return &Markers{loop: loop, decay: decay}
}

// Decay returns the "recently written" lifetime.
func (m *Markers) Decay() time.Duration { return m.decay }

// SetDecay changes the lifetime for later promotions.
func (m *Markers) SetDecay(d time.Duration) { m.decay = d }

// BeginWrite flags n as being written. Calls nest.
func (m *Markers) BeginWrite(n *html.Node) {
	m.writing.Update(n, func(depth int, _ bool) int { return depth + 1 })
}

// EndWrite releases one BeginWrite. When the last one is released n becomes
// "recently written".
func (m *Markers) EndWrite(n *html.Node) {
	depth, ok := m.writing.Load(n)
	if !ok {
		return
	}
	if depth > 1 {
		m.writing.Store(n, depth-1)
		return
	}
	m.writing.Delete(n)
	m.Promote(n)
}

// Write runs fn between BeginWrite and EndWrite on n.
func (m *Markers) Write(n *html.Node, fn func()) {
	m.BeginWrite(n)
	defer m.EndWrite(n)
	fn()
}

// Writing reports whether n is being written.
func (m *Markers) Writing(n *html.Node) bool {
	_, ok := m.writing.Load(n)
	return ok
}

// SetProcessing flags n as part of an in-flight batch.
func (m *Markers) SetProcessing(n *html.Node) { m.processing.Add(n) }

// Processing reports whether n is part of an in-flight batch.
func (m *Markers) Processing(n *html.Node) bool { return m.processing.Has(n) }

// Release clears the processing flag on nodes and promotes them.
func (m *Markers) Release(nodes ...*html.Node) {
	for _, n := range nodes {
		m.processing.Remove(n)
	}
	m.Promote(nodes...)
}

// Promote flags nodes as recently written until one decay interval from
// now. Each call schedules the expiry of its own nodes only.
func (m *Markers) Promote(nodes ...*html.Node) {
	cohort := make([]*html.Node, 0, len(nodes))
	deadline := m.loop.Now().Add(m.decay)
	for _, n := range nodes {
		if n != nil {
			m.recent.Store(n, deadline)
			cohort = append(cohort, n)
		}
	}
	if len(cohort) == 0 {
		return
	}
	gen := m.gen
	m.loop.SetTimeout(m.decay, func() {
		if gen != m.gen {
			return
		}
		now := m.loop.Now()
		for _, n := range cohort {
			// A later promotion owns the node now.
			if d, ok := m.recent.Load(n); ok && !now.Before(d) {
				m.recent.Delete(n)
			}
		}
	})
}

// Recent reports whether n was written within the decay interval.
func (m *Markers) Recent(n *html.Node) bool {
	d, ok := m.recent.Load(n)
	return ok && m.loop.Now().Before(d)
}

// RecentLen returns the number of elements still flagged as recently
// written, expired entries awaiting their timer included.
func (m *Markers) RecentLen() int { return m.recent.Len() }

func (m *Markers) reset() {
	m.gen++
	m.writing.Clear()
	m.processing.Clear()
	m.recent.Clear()
}
