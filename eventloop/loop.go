// Package eventloop is the single-threaded host loop every page component
// runs on. It owns timers, animation frames, microtasks and tasks, and never
// runs two of them at the same time.
//
// Two drivers share the same scheduling code:
//
//	loop := eventloop.New()              // real time, call Run(ctx)
//	loop := eventloop.NewManual(start)   // virtual time, drive with Do/Advance/Settle
//
// Code outside the loop goroutine must only call Post and Go.
package eventloop

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFrameInterval is the animation-frame cadence (60Hz).
const DefaultFrameInterval = 16 * time.Millisecond

// Loop is a cooperative scheduler. Tasks, microtasks, timers and frame
// callbacks all execute on the goroutine that drives the loop.
type Loop struct {
	mu     sync.Mutex
	posted []func()
	wake   chan struct{}

	// Loop-goroutine state; not guarded by mu.
	timers        timerHeap
	seq           uint64
	micro         []func()
	frames        []func()
	frameTimer    *Timer
	frameInterval time.Duration

	manual bool
	vnow   time.Time

	inflight sync.WaitGroup
	logger   *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithFrameInterval overrides the animation-frame cadence.
func WithFrameInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.frameInterval = d
		}
	}
}

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a real-time loop. Call Run to drive it.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:          make(chan struct{}, 1),
		frameInterval: DefaultFrameInterval,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewManual creates a loop on virtual time starting at start. Nothing runs
// until the caller drives it with Do, Advance or Settle.
func NewManual(start time.Time, opts ...Option) *Loop {
	l := New(opts...)
	l.manual = true
	l.vnow = start
	return l
}

// Now returns the loop's notion of the current time.
func (l *Loop) Now() time.Time {
	if l.manual {
		return l.vnow
	}
	return time.Now()
}

// Post enqueues fn as a task. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// QueueMicrotask schedules fn to run after the current task completes and
// before any timer or frame callback. Loop goroutine only.
func (l *Loop) QueueMicrotask(fn func()) {
	l.micro = append(l.micro, fn)
}

// SetTimeout schedules fn to run once after d. Loop goroutine only.
func (l *Loop) SetTimeout(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	l.seq++
	t := &Timer{due: l.Now().Add(d), seq: l.seq, fn: fn, index: -1, loop: l}
	heap.Push(&l.timers, t)
	return t
}

// RequestAnimationFrame queues fn for the next frame. All callbacks queued
// before a frame fires run together, in order. Loop goroutine only.
func (l *Loop) RequestAnimationFrame(fn func()) {
	l.frames = append(l.frames, fn)
	if l.frameTimer == nil {
		l.frameTimer = l.SetTimeout(l.frameInterval, l.runFrame)
	}
}

func (l *Loop) runFrame() {
	l.frameTimer = nil
	frames := l.frames
	l.frames = nil
	for _, fn := range frames {
		l.invoke(fn)
	}
}

// Go runs work on its own goroutine and posts done back to the loop when it
// returns. done may be nil.
func (l *Loop) Go(work func(), done func()) {
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		work()
		if done != nil {
			l.Post(done)
		}
	}()
}

// Run drives a real-time loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	idle := time.NewTimer(time.Hour)
	defer idle.Stop()

	for {
		l.runPosted()
		l.runDueTimers(time.Now())

		wait := time.Hour
		if next := l.timers.peek(); next != nil {
			wait = time.Until(next.due)
			if wait < 0 {
				wait = 0
			}
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-idle.C:
		}
	}
}

// Do runs fn as a task followed by a microtask checkpoint. It is the entry
// point for manual loops and for tests driving a real loop synchronously.
func (l *Loop) Do(fn func()) {
	l.runTask(fn)
}

// Advance moves virtual time forward by d, running every timer and frame
// that falls due, in due order. Manual loops only.
func (l *Loop) Advance(d time.Duration) {
	target := l.vnow.Add(d)
	for {
		l.runPosted()
		next := l.timers.peek()
		if next == nil || next.due.After(target) {
			break
		}
		if next.due.After(l.vnow) {
			l.vnow = next.due
		}
		heap.Pop(&l.timers)
		l.runTask(next.fn)
	}
	l.vnow = target
	l.runPosted()
}

// Settle waits for every Go work function to finish and runs the tasks they
// posted. Manual loops only.
func (l *Loop) Settle() {
	for {
		l.inflight.Wait()
		if l.runPosted() == 0 {
			return
		}
	}
}

// Pending reports the number of scheduled timers. Loop goroutine only.
func (l *Loop) Pending() int {
	return l.timers.Len()
}

func (l *Loop) runPosted() int {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()
	for _, fn := range posted {
		l.runTask(fn)
	}
	return len(posted)
}

func (l *Loop) runDueTimers(now time.Time) {
	for {
		next := l.timers.peek()
		if next == nil || next.due.After(now) {
			return
		}
		heap.Pop(&l.timers)
		l.runTask(next.fn)
	}
}

func (l *Loop) runTask(fn func()) {
	l.invoke(fn)
	l.drainMicrotasks()
}

func (l *Loop) drainMicrotasks() {
	for len(l.micro) > 0 {
		fn := l.micro[0]
		l.micro = l.micro[1:]
		l.invoke(fn)
	}
}

// invoke runs fn, recovering panics so that one faulty callback cannot stop
// the loop.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("eventloop: task panicked", "panic", r)
		}
	}()
	fn()
}

// Timer is a pending SetTimeout callback.
type Timer struct {
	due   time.Time
	seq   uint64
	fn    func()
	index int
	loop  *Loop
}

// Stop cancels the timer. It reports whether the timer was still pending.
// Loop goroutine only.
func (t *Timer) Stop() bool {
	if t == nil || t.index < 0 {
		return false
	}
	heap.Remove(&t.loop.timers, t.index)
	return true
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h timerHeap) peek() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
