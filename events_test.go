package canstream

import (
	"errors"
	"testing"

	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/logging"
)

func TestEmitterDispatchOrder(t *testing.T) {
	e := newEmitter(logging.Discard())
	var order []int
	e.onFrame(func(can.Frame) { order = append(order, 1) })
	e.onFrame(func(can.Frame) { order = append(order, 2) })
	e.onFrame(func(can.Frame) { order = append(order, 3) })

	e.emitFrame(can.New(0x1, nil))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("dispatch order = %v", order)
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := newEmitter(logging.Discard())
	var got []string
	e.onFrame(func(can.Frame) { got = append(got, "a") })
	off := e.onFrame(func(can.Frame) { got = append(got, "b") })
	e.onFrame(func(can.Frame) { got = append(got, "c") })

	off()
	off() // removing twice is a no-op

	e.emitFrame(can.New(0x1, nil))
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("got %v, want survivors in original order", got)
	}
}

func TestEmitterPanicDoesNotBlockLaterObservers(t *testing.T) {
	e := newEmitter(logging.Discard())
	ran := false
	e.onFrame(func(can.Frame) { panic("observer bug") })
	e.onFrame(func(can.Frame) { ran = true })

	e.emitFrame(can.New(0x1, nil)) // must not propagate the panic

	if !ran {
		t.Fatal("observer after the panicking one did not run")
	}
}

func TestEmitterUnhandledErrorEventIsSwallowed(t *testing.T) {
	e := newEmitter(logging.Discard())
	e.emitError(errors.New("nobody listening")) // must not panic

	// Once an observer exists the event is delivered normally.
	var seen error
	e.onError(func(err error) { seen = err })
	want := errors.New("bus fault")
	e.emitError(want)
	if !errors.Is(seen, want) {
		t.Fatalf("seen = %v", seen)
	}
}

func TestEmitterLifecycleEvents(t *testing.T) {
	e := newEmitter(logging.Discard())
	var fired []Event
	e.onLifecycle(EventListening, func() { fired = append(fired, EventListening) })
	e.onLifecycle(EventStopped, func() { fired = append(fired, EventStopped) })
	e.onLifecycle(EventClose, func() { fired = append(fired, EventClose) })

	e.emitLifecycle(EventListening)
	e.emitLifecycle(EventStopped)
	e.emitLifecycle(EventClose)
	e.emitLifecycle(Event("bogus")) // unknown events are ignored

	if len(fired) != 3 ||
		fired[0] != EventListening || fired[1] != EventStopped || fired[2] != EventClose {
		t.Fatalf("fired = %v", fired)
	}
}
