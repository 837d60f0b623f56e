package dom

import (
	"golang.org/x/net/html"
)

// Event is a synthetic DOM event.
type Event struct {
	Type   string
	Key    string
	Target *html.Node

	defaultPrevented bool
	stopped          bool
}

// PreventDefault marks the event as handled.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether a listener called PreventDefault.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation prevents the event from bubbling further.
func (e *Event) StopPropagation() { e.stopped = true }

// Listener handles an event.
type Listener func(doc *Document, e *Event)

type listenerEntry struct {
	typ string
	tag string
	fn  Listener
}

// AddEventListener attaches fn for events of typ on n. tag identifies the
// listener so callers can test for its presence; an empty tag is allowed.
func (d *Document) AddEventListener(n *html.Node, typ, tag string, fn Listener) {
	d.listeners.Update(n, func(cur []listenerEntry, _ bool) []listenerEntry {
		return append(cur, listenerEntry{typ: typ, tag: tag, fn: fn})
	})
	if d.journaling() {
		d.journal.ListenerAdded(n, typ, tag)
	}
}

// HasListener reports whether a listener with tag is attached for typ.
func (d *Document) HasListener(n *html.Node, typ, tag string) bool {
	entries, _ := d.listeners.Load(n)
	for _, e := range entries {
		if e.typ == typ && e.tag == tag {
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners for typ on n.
func (d *Document) ListenerCount(n *html.Node, typ string) int {
	entries, _ := d.listeners.Load(n)
	count := 0
	for _, e := range entries {
		if e.typ == typ {
			count++
		}
	}
	return count
}

// Dispatch fires e at target and bubbles it to the ancestors.
func (d *Document) Dispatch(target *html.Node, e *Event) {
	e.Target = target
	for n := target; n != nil && !e.stopped; n = n.Parent {
		entries, _ := d.listeners.Load(n)
		for _, l := range entries {
			if l.typ == e.Type {
				l.fn(d, e)
			}
		}
	}
}

// Click dispatches a synthetic click on n.
func (d *Document) Click(n *html.Node) {
	d.Dispatch(n, &Event{Type: "click"})
}
