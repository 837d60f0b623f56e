package dom

import (
	"slices"

	"golang.org/x/net/html"
)

// MutationType is the kind of change a MutationRecord describes.
type MutationType string

const (
	MutationChildList     MutationType = "childList"
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
)

// MutationRecord describes one change to the tree.
type MutationRecord struct {
	Type          MutationType
	Target        *html.Node
	AddedNodes    []*html.Node
	RemovedNodes  []*html.Node
	AttributeName string
	OldValue      string
}

// ObserveOptions selects which mutations an observer receives.
type ObserveOptions struct {
	ChildList             bool
	Attributes            bool
	AttributeFilter       []string
	AttributeOldValue     bool
	CharacterData         bool
	CharacterDataOldValue bool
	Subtree               bool
}

// MutationCallback receives the records accumulated since the last
// delivery.
type MutationCallback func(records []MutationRecord, o *MutationObserver)

// MutationObserver batches records for its callback and delivers them once
// per microtask checkpoint.
type MutationObserver struct {
	doc       *Document
	callback  MutationCallback
	targets   []observation
	pending   []MutationRecord
	scheduled bool
}

type observation struct {
	root *html.Node
	opts ObserveOptions
}

// NewMutationObserver creates an observer. It receives nothing until
// Observe is called.
func (d *Document) NewMutationObserver(cb MutationCallback) *MutationObserver {
	return &MutationObserver{doc: d, callback: cb}
}

// Observe starts (or reconfigures) observation of root.
func (o *MutationObserver) Observe(root *html.Node, opts ObserveOptions) {
	if len(opts.AttributeFilter) > 0 || opts.AttributeOldValue {
		opts.Attributes = true
	}
	if opts.CharacterDataOldValue {
		opts.CharacterData = true
	}
	for i := range o.targets {
		if o.targets[i].root == root {
			o.targets[i].opts = opts
			o.doc.addObserver(o)
			return
		}
	}
	o.targets = append(o.targets, observation{root: root, opts: opts})
	o.doc.addObserver(o)
}

// Disconnect stops observation and discards undelivered records.
func (o *MutationObserver) Disconnect() {
	o.targets = nil
	o.pending = nil
	o.doc.removeObserver(o)
}

// TakeRecords returns and clears undelivered records.
func (o *MutationObserver) TakeRecords() []MutationRecord {
	recs := o.pending
	o.pending = nil
	return recs
}

// Observing reports whether the observer has at least one target.
func (o *MutationObserver) Observing() bool { return len(o.targets) > 0 }

func (o *MutationObserver) enqueue(rec MutationRecord) {
	opts, ok := o.interested(rec)
	if !ok {
		return
	}
	switch rec.Type {
	case MutationAttributes:
		if !opts.AttributeOldValue {
			rec.OldValue = ""
		}
	case MutationCharacterData:
		if !opts.CharacterDataOldValue {
			rec.OldValue = ""
		}
	}
	o.pending = append(o.pending, rec)
	if !o.scheduled {
		o.scheduled = true
		o.doc.loop.QueueMicrotask(o.deliver)
	}
}

func (o *MutationObserver) interested(rec MutationRecord) (ObserveOptions, bool) {
	for _, t := range o.targets {
		if rec.Target != t.root && !(t.opts.Subtree && Contains(t.root, rec.Target)) {
			continue
		}
		switch rec.Type {
		case MutationChildList:
			if t.opts.ChildList {
				return t.opts, true
			}
		case MutationAttributes:
			if !t.opts.Attributes {
				continue
			}
			if len(t.opts.AttributeFilter) == 0 || slices.Contains(t.opts.AttributeFilter, rec.AttributeName) {
				return t.opts, true
			}
		case MutationCharacterData:
			if t.opts.CharacterData {
				return t.opts, true
			}
		}
	}
	return ObserveOptions{}, false
}

func (o *MutationObserver) deliver() {
	o.scheduled = false
	recs := o.pending
	o.pending = nil
	if len(recs) == 0 || o.callback == nil {
		return
	}
	o.callback(recs, o)
}
