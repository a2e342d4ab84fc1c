package canstream

import (
	"log/slog"
	"sync"

	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/logging"
	"github.com/kstaniek/go-canstream/internal/metrics"
)

// Event names the observer channels a Socket emits on.
type Event string

const (
	EventFrame     Event = "frame"
	EventError     Event = "error"
	EventClose     Event = "close"
	EventListening Event = "listening"
	EventStopped   Event = "stopped"
)

// handlerList is an ordered observer registry. Registration order is
// delivery order; removal keeps the order of the survivors.
type handlerList[T any] struct {
	mu      sync.RWMutex
	next    uint64
	entries []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id uint64
	fn T
}

// add registers fn and returns its removal func (safe to call twice).
func (l *handlerList[T]) add(fn T) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.entries = append(l.entries, handlerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
	}
}

func (l *handlerList[T]) snapshot() []T {
	l.mu.RLock()
	fns := make([]T, len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	l.mu.RUnlock()
	return fns
}

func (l *handlerList[T]) empty() bool {
	l.mu.RLock()
	n := len(l.entries)
	l.mu.RUnlock()
	return n == 0
}

// emitter dispatches socket events synchronously, in registration order,
// within the tick that produced them. A panicking observer is recovered and
// logged so the remaining observers still run.
//
// An error event with no registered observer is swallowed and logged rather
// than crashing the process; that policy is part of the public contract.
type emitter struct {
	log       *slog.Logger
	frame     handlerList[func(can.Frame)]
	err       handlerList[func(error)]
	lifecycle map[Event]*handlerList[func()]
}

func newEmitter(log *slog.Logger) *emitter {
	if log == nil {
		log = logging.L()
	}
	return &emitter{
		log: log,
		lifecycle: map[Event]*handlerList[func()]{
			EventClose:     {},
			EventListening: {},
			EventStopped:   {},
		},
	}
}

func (e *emitter) onFrame(fn func(can.Frame)) func() { return e.frame.add(fn) }
func (e *emitter) onError(fn func(error)) func()     { return e.err.add(fn) }

func (e *emitter) onLifecycle(ev Event, fn func()) func() {
	l, ok := e.lifecycle[ev]
	if !ok {
		return func() {}
	}
	return l.add(fn)
}

func (e *emitter) emitFrame(f can.Frame) {
	for _, fn := range e.frame.snapshot() {
		e.invoke(func() { fn(f) })
	}
}

func (e *emitter) emitError(err error) {
	if e.err.empty() {
		metrics.DroppedEvents.Inc()
		e.log.Error("unhandled_error_event", "error", err)
		return
	}
	for _, fn := range e.err.snapshot() {
		e.invoke(func() { fn(err) })
	}
}

func (e *emitter) emitLifecycle(ev Event) {
	l, ok := e.lifecycle[ev]
	if !ok {
		return
	}
	for _, fn := range l.snapshot() {
		e.invoke(fn)
	}
}

func (e *emitter) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("observer_panic", "panic", r)
		}
	}()
	fn()
}
